package handler

import (
	"errors"
	"net/http"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/middleware"
	"github.com/dafibh/marketplace/settlement-backend/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// SettlementHandler handles payment confirmation from the payment service
type SettlementHandler struct {
	escrowService     *service.EscrowService
	commissionService *service.CommissionService
	defaultCurrency   string
}

// NewSettlementHandler creates a new SettlementHandler
func NewSettlementHandler(escrowService *service.EscrowService, commissionService *service.CommissionService, defaultCurrency string) *SettlementHandler {
	return &SettlementHandler{
		escrowService:     escrowService,
		commissionService: commissionService,
		defaultCurrency:   defaultCurrency,
	}
}

// PaymentConfirmedRequest represents a confirmed buyer payment split across sellers
type PaymentConfirmedRequest struct {
	PaymentTransactionID string                    `json:"paymentTransactionId"`
	OrderID              uuid.UUID                 `json:"orderId"`
	Currency             string                    `json:"currency"`
	Allocations          []domain.SellerAllocation `json:"allocations"`
	AuditNote            *string                   `json:"auditNote,omitempty"`
}

// PaymentConfirmedResponse holds the escrow entries and commission records created for a payment
type PaymentConfirmedResponse struct {
	EscrowEntries []*domain.EscrowEntry      `json:"escrowEntries"`
	Commissions   []*domain.CommissionRecord `json:"commissions"`
}

// PaymentConfirmed holds the payment in escrow and calculates commission per seller
// POST /api/v1/settlement/payments/confirmed
func (h *SettlementHandler) PaymentConfirmed(c echo.Context) error {
	actor := middleware.GetActor(c)
	if actor.SubjectID == "" {
		return NewUnauthorizedError(c, "Authentication required")
	}

	var req PaymentConfirmedRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}
	if req.Currency == "" {
		req.Currency = h.defaultCurrency
	}

	ctx := c.Request().Context()
	entries, holdErr := h.escrowService.Hold(ctx, actor, domain.HoldInput{
		OrderID:              req.OrderID,
		PaymentTransactionID: req.PaymentTransactionID,
		Allocations:          req.Allocations,
		Currency:             req.Currency,
		AuditNote:            req.AuditNote,
	})
	if holdErr != nil && !errors.Is(holdErr, domain.ErrEscrowAlreadyHeld) {
		return handleServiceError(c, holdErr, "Failed to hold payment in escrow")
	}

	// Calculation is idempotent per (order, seller), so a repeated confirmation
	// completes any commission records a previous attempt did not store
	commissions, err := h.commissionService.Calculate(ctx, domain.CalculateCommissionInput{
		PaymentTransactionID: req.PaymentTransactionID,
		OrderID:              req.OrderID,
		Currency:             req.Currency,
		Allocations:          req.Allocations,
	})
	if err != nil {
		return handleServiceError(c, err, "Failed to calculate commission")
	}
	if holdErr != nil {
		return handleServiceError(c, holdErr, "Failed to hold payment in escrow")
	}

	log.Info().
		Str("order_id", req.OrderID.String()).
		Str("payment_transaction_id", req.PaymentTransactionID).
		Int("sellers", len(entries)).
		Msg("Payment confirmed into escrow")

	return c.JSON(http.StatusCreated, PaymentConfirmedResponse{
		EscrowEntries: entries,
		Commissions:   commissions,
	})
}
