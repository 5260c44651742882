package handler

import (
	"net/http"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// CommissionHandler handles commission HTTP requests
type CommissionHandler struct {
	commissionService *service.CommissionService
}

// NewCommissionHandler creates a new CommissionHandler
func NewCommissionHandler(commissionService *service.CommissionService) *CommissionHandler {
	return &CommissionHandler{commissionService: commissionService}
}

// PartialRefundRequest carries the cumulative amount refunded to date for
// one seller allocation, not the amount of the latest refund
type PartialRefundRequest struct {
	RefundAmount *decimal.Decimal `json:"refundAmount"`
}

// CommissionsResponse wraps a list of commission records
type CommissionsResponse struct {
	Commissions []*domain.CommissionRecord `json:"commissions"`
}

// RecalculatePartialRefund reduces a seller's net commission after a refund
// POST /api/v1/commissions/orders/:orderId/sellers/:sellerId/refund
func (h *CommissionHandler) RecalculatePartialRefund(c echo.Context) error {
	orderID, err := parseUUIDParam(c, "orderId")
	if err != nil {
		return handleServiceError(c, err, "")
	}
	sellerID, err := parseUUIDParam(c, "sellerId")
	if err != nil {
		return handleServiceError(c, err, "")
	}

	var req PartialRefundRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}
	if req.RefundAmount == nil {
		return NewValidationError(c, "Request validation failed", []ValidationError{
			{Field: "refundAmount", Message: "Refund amount is required"},
		})
	}

	record, err := h.commissionService.RecalculatePartialRefund(c.Request().Context(), orderID, sellerID, *req.RefundAmount)
	if err != nil {
		return handleServiceError(c, err, "Failed to recalculate commission")
	}

	return c.JSON(http.StatusOK, record)
}

// GetByOrder lists the commission records of an order
// GET /api/v1/commissions/orders/:orderId
func (h *CommissionHandler) GetByOrder(c echo.Context) error {
	orderID, err := parseUUIDParam(c, "orderId")
	if err != nil {
		return handleServiceError(c, err, "")
	}

	records, err := h.commissionService.GetByOrderID(c.Request().Context(), orderID)
	if err != nil {
		return handleServiceError(c, err, "Failed to get commissions")
	}
	if len(records) == 0 {
		return NewNotFoundError(c, "Commission record not found")
	}

	return c.JSON(http.StatusOK, CommissionsResponse{Commissions: records})
}

// GetBySeller lists a seller's commission records
// GET /api/v1/commissions/sellers/:sellerId
func (h *CommissionHandler) GetBySeller(c echo.Context) error {
	sellerID, err := parseUUIDParam(c, "sellerId")
	if err != nil {
		return handleServiceError(c, err, "")
	}
	if !canReadSeller(c, sellerID) {
		return NewForbiddenError(c, "You may only view your own commissions")
	}

	records, err := h.commissionService.GetBySellerID(c.Request().Context(), sellerID)
	if err != nil {
		return handleServiceError(c, err, "Failed to get commissions")
	}
	if records == nil {
		records = []*domain.CommissionRecord{}
	}

	return c.JSON(http.StatusOK, CommissionsResponse{Commissions: records})
}
