package handler

import (
	"net/http"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/middleware"
	"github.com/dafibh/marketplace/settlement-backend/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// EscrowHandler handles escrow HTTP requests
type EscrowHandler struct {
	escrowService   *service.EscrowService
	eligibilityDays int
}

// NewEscrowHandler creates a new EscrowHandler. eligibilityDays is the
// minimum time funds stay held before a release.
func NewEscrowHandler(escrowService *service.EscrowService, eligibilityDays int) *EscrowHandler {
	return &EscrowHandler{
		escrowService:   escrowService,
		eligibilityDays: eligibilityDays,
	}
}

// ReleaseRequest represents the JSON request for releasing escrow
type ReleaseRequest struct {
	SellerID  *uuid.UUID `json:"sellerId,omitempty"`
	AuditNote *string    `json:"auditNote,omitempty"`
	// BypassEligibilityPeriod releases before the holding period has elapsed. Admin only.
	BypassEligibilityPeriod bool `json:"bypassEligibilityPeriod,omitempty"`
}

// RefundRequest represents the JSON request for refunding escrow
type RefundRequest struct {
	SellerID  *uuid.UUID `json:"sellerId,omitempty"`
	AuditNote *string    `json:"auditNote,omitempty"`
}

// EscrowEntriesResponse wraps a list of escrow entries
type EscrowEntriesResponse struct {
	Entries []*domain.EscrowEntry `json:"entries"`
}

// Release releases held funds of an order to its sellers
// POST /api/v1/escrow/orders/:orderId/release
func (h *EscrowHandler) Release(c echo.Context) error {
	actor := middleware.GetActor(c)
	if actor.SubjectID == "" {
		return NewUnauthorizedError(c, "Authentication required")
	}

	orderID, err := parseUUIDParam(c, "orderId")
	if err != nil {
		return handleServiceError(c, err, "")
	}

	var req ReleaseRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	ctx := c.Request().Context()
	if err := h.escrowService.AuthorizeOrder(ctx, actor, orderID); err != nil {
		return handleServiceError(c, err, "Failed to authorize release")
	}

	if req.BypassEligibilityPeriod {
		if actor.Role != domain.RoleAdmin {
			return NewForbiddenError(c, "Only admins may bypass the payout eligibility period")
		}
	} else if err := h.escrowService.CheckReleaseDwell(ctx, orderID, req.SellerID, h.eligibilityDays); err != nil {
		return handleServiceError(c, err, "Failed to check escrow eligibility period")
	}

	released, err := h.escrowService.Release(ctx, actor, orderID, req.SellerID, req.AuditNote)
	if err != nil {
		return handleServiceError(c, err, "Failed to release escrow")
	}

	return c.JSON(http.StatusOK, EscrowEntriesResponse{Entries: released})
}

// Refund returns held funds of an order to the buyer
// POST /api/v1/escrow/orders/:orderId/refund
func (h *EscrowHandler) Refund(c echo.Context) error {
	orderID, err := parseUUIDParam(c, "orderId")
	if err != nil {
		return handleServiceError(c, err, "")
	}

	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	refunded, err := h.escrowService.Refund(c.Request().Context(), middleware.GetActor(c), orderID, req.SellerID, req.AuditNote)
	if err != nil {
		return handleServiceError(c, err, "Failed to refund escrow")
	}

	return c.JSON(http.StatusOK, EscrowEntriesResponse{Entries: refunded})
}

// GetByOrder lists the escrow entries of an order
// GET /api/v1/escrow/orders/:orderId
func (h *EscrowHandler) GetByOrder(c echo.Context) error {
	orderID, err := parseUUIDParam(c, "orderId")
	if err != nil {
		return handleServiceError(c, err, "")
	}

	ctx := c.Request().Context()
	if err := h.escrowService.AuthorizeOrder(ctx, middleware.GetActor(c), orderID); err != nil {
		return handleServiceError(c, err, "Failed to authorize escrow lookup")
	}

	entries, err := h.escrowService.GetByOrderID(ctx, orderID)
	if err != nil {
		return handleServiceError(c, err, "Failed to get escrow entries")
	}
	if len(entries) == 0 {
		return NewNotFoundError(c, "Escrow entry not found")
	}

	return c.JSON(http.StatusOK, EscrowEntriesResponse{Entries: entries})
}

// GetBalance totals an order's escrow by status
// GET /api/v1/escrow/orders/:orderId/balance
func (h *EscrowHandler) GetBalance(c echo.Context) error {
	orderID, err := parseUUIDParam(c, "orderId")
	if err != nil {
		return handleServiceError(c, err, "")
	}

	ctx := c.Request().Context()
	if err := h.escrowService.AuthorizeOrder(ctx, middleware.GetActor(c), orderID); err != nil {
		return handleServiceError(c, err, "Failed to authorize escrow lookup")
	}

	balances, err := h.escrowService.Balance(ctx, orderID)
	if err != nil {
		return handleServiceError(c, err, "Failed to get escrow balance")
	}

	return c.JSON(http.StatusOK, balances)
}

// GetBySeller lists a seller's escrow entries, optionally filtered by ?status=
// GET /api/v1/escrow/sellers/:sellerId
func (h *EscrowHandler) GetBySeller(c echo.Context) error {
	sellerID, err := parseUUIDParam(c, "sellerId")
	if err != nil {
		return handleServiceError(c, err, "")
	}
	if !canReadSeller(c, sellerID) {
		return NewForbiddenError(c, "You may only view your own escrow")
	}

	var status *domain.EscrowStatus
	if raw := c.QueryParam("status"); raw != "" {
		s := domain.EscrowStatus(raw)
		status = &s
	}

	entries, err := h.escrowService.GetBySellerID(c.Request().Context(), sellerID, status)
	if err != nil {
		return handleServiceError(c, err, "Failed to get escrow entries")
	}
	if entries == nil {
		entries = []*domain.EscrowEntry{}
	}

	return c.JSON(http.StatusOK, EscrowEntriesResponse{Entries: entries})
}
