package handler

import (
	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/middleware"
	"github.com/labstack/echo/v4"
)

// Handlers groups the API handlers registered by RegisterRoutes
type Handlers struct {
	Settlement *SettlementHandler
	Escrow     *EscrowHandler
	Commission *CommissionHandler
	Payout     *PayoutHandler
	WebSocket  *WebSocketHandler
}

// RegisterRoutes sets up all API routes
func RegisterRoutes(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter, h Handlers) {
	// WebSocket authenticates with a token query parameter
	if h.WebSocket != nil {
		e.GET("/ws", h.WebSocket.HandleWS)
	}

	// API version 1
	api := e.Group("/api/v1")
	api.Use(authMiddleware.Authenticate())
	if rateLimiter != nil {
		api.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	privileged := middleware.RequireRole(domain.RoleAdmin, domain.RoleSystem)

	// Payment confirmation is emitted by the payment service once funds are captured
	settlement := api.Group("/settlement")
	settlement.POST("/payments/confirmed", h.Settlement.PaymentConfirmed, privileged)

	// Escrow routes
	escrow := api.Group("/escrow")
	escrow.POST("/orders/:orderId/release", h.Escrow.Release)
	escrow.POST("/orders/:orderId/refund", h.Escrow.Refund, privileged)
	escrow.GET("/orders/:orderId", h.Escrow.GetByOrder)
	escrow.GET("/orders/:orderId/balance", h.Escrow.GetBalance)
	escrow.GET("/sellers/:sellerId", h.Escrow.GetBySeller)

	// Commission routes
	commissions := api.Group("/commissions")
	commissions.POST("/orders/:orderId/sellers/:sellerId/refund", h.Commission.RecalculatePartialRefund, privileged)
	commissions.GET("/orders/:orderId", h.Commission.GetByOrder, privileged)
	commissions.GET("/sellers/:sellerId", h.Commission.GetBySeller)

	// Payout routes
	payouts := api.Group("/payouts")
	payouts.POST("/schedule", h.Payout.Schedule, privileged)
	payouts.POST("/process", h.Payout.Process, privileged)
	payouts.POST("/retry", h.Payout.Retry, privileged)
	payouts.GET("/batches/:batchId/report", h.Payout.GetBatchReport, privileged)
	payouts.GET("/sellers/:sellerId", h.Payout.GetBySeller)
	payouts.POST("/:id/retry", h.Payout.RetryByID, privileged)
	payouts.GET("/:id", h.Payout.Get)
}
