package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const batchReportURLExpiry = 15 * time.Minute

// BatchReportLinker issues download links for archived batch reports
type BatchReportLinker interface {
	BatchReportURL(ctx context.Context, batchID uuid.UUID, expiry time.Duration) (string, error)
}

// PayoutHandler handles payout HTTP requests
type PayoutHandler struct {
	scheduler *service.PayoutScheduler
	processor *service.PayoutProcessor
	reports   BatchReportLinker
	now       func() time.Time
}

// NewPayoutHandler creates a new PayoutHandler. reports may be nil when
// batch reports are not archived.
func NewPayoutHandler(scheduler *service.PayoutScheduler, processor *service.PayoutProcessor, reports BatchReportLinker) *PayoutHandler {
	return &PayoutHandler{
		scheduler: scheduler,
		processor: processor,
		reports:   reports,
		now:       time.Now,
	}
}

// ScheduleRequest represents the JSON request for a scheduling run
type ScheduleRequest struct {
	ScheduledAt       *time.Time               `json:"scheduledAt,omitempty"`
	ScheduleFrequency domain.ScheduleFrequency `json:"scheduleFrequency"`
	AuditNote         *string                  `json:"auditNote,omitempty"`
}

// ProcessRequest represents the JSON request for executing due payouts
type ProcessRequest struct {
	ProcessBefore *time.Time `json:"processBefore,omitempty"`
	CreateBatch   *bool      `json:"createBatch,omitempty"`
}

// RetryRequest represents the JSON request for retrying failed payouts.
// Without a payoutId every retryable payout is retried.
type RetryRequest struct {
	PayoutID  *uuid.UUID `json:"payoutId,omitempty"`
	AuditNote *string    `json:"auditNote,omitempty"`
}

// PayoutsResponse wraps a list of payouts
type PayoutsResponse struct {
	Payouts []*domain.Payout `json:"payouts"`
}

// BatchReportResponse holds a temporary download link for a batch report
type BatchReportResponse struct {
	BatchID   uuid.UUID `json:"batchId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Schedule aggregates released escrow into payouts
// POST /api/v1/payouts/schedule
func (h *PayoutHandler) Schedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	scheduledAt := h.now().UTC()
	if req.ScheduledAt != nil {
		scheduledAt = *req.ScheduledAt
	}

	result, err := h.scheduler.Schedule(c.Request().Context(), service.ScheduleInput{
		ScheduledAt: scheduledAt,
		Frequency:   req.ScheduleFrequency,
		AuditNote:   req.AuditNote,
	})
	if err != nil {
		return handleServiceError(c, err, "Failed to schedule payouts")
	}

	return c.JSON(http.StatusCreated, result)
}

// Process executes scheduled payouts that are due
// POST /api/v1/payouts/process
func (h *PayoutHandler) Process(c echo.Context) error {
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	createBatch := true
	if req.CreateBatch != nil {
		createBatch = *req.CreateBatch
	}

	result, err := h.processor.Process(c.Request().Context(), service.ProcessInput{
		ProcessBefore: req.ProcessBefore,
		CreateBatch:   createBatch,
	})
	if err != nil {
		return handleServiceError(c, err, "Failed to process payouts")
	}

	return c.JSON(http.StatusOK, result)
}

// Retry re-executes one failed payout, or all retryable ones
// POST /api/v1/payouts/retry
func (h *PayoutHandler) Retry(c echo.Context) error {
	var req RetryRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	result, err := h.processor.Retry(c.Request().Context(), service.RetryInput{
		PayoutID:  req.PayoutID,
		AuditNote: req.AuditNote,
	})
	if err != nil {
		return handleServiceError(c, err, "Failed to retry payouts")
	}

	return c.JSON(http.StatusOK, result)
}

// RetryByID re-executes one failed payout
// POST /api/v1/payouts/:id/retry
func (h *PayoutHandler) RetryByID(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return handleServiceError(c, err, "")
	}

	var req RetryRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	result, err := h.processor.Retry(c.Request().Context(), service.RetryInput{
		PayoutID:  &id,
		AuditNote: req.AuditNote,
	})
	if err != nil {
		return handleServiceError(c, err, "Failed to retry payout")
	}

	return c.JSON(http.StatusOK, result)
}

// Get returns one payout
// GET /api/v1/payouts/:id
func (h *PayoutHandler) Get(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return handleServiceError(c, err, "")
	}

	payout, err := h.processor.GetByID(c.Request().Context(), id)
	if err != nil {
		return handleServiceError(c, err, "Failed to get payout")
	}
	// Other sellers' payouts are reported as missing
	if !canReadSeller(c, payout.SellerID) {
		return NewNotFoundError(c, "Payout not found")
	}

	if needsRedaction(c) {
		payout = payout.Redacted()
	}
	return c.JSON(http.StatusOK, payout)
}

// GetBySeller lists a seller's payouts
// GET /api/v1/payouts/sellers/:sellerId?status=&from=&to=
func (h *PayoutHandler) GetBySeller(c echo.Context) error {
	sellerID, err := parseUUIDParam(c, "sellerId")
	if err != nil {
		return handleServiceError(c, err, "")
	}
	if !canReadSeller(c, sellerID) {
		return NewForbiddenError(c, "You may only view your own payouts")
	}

	filter := domain.PayoutFilter{SellerID: sellerID}
	verr := &domain.ValidationError{}
	if raw := c.QueryParam("status"); raw != "" {
		status := domain.PayoutStatus(raw)
		filter.Status = &status
	}
	if raw := c.QueryParam("from"); raw != "" {
		from, err := parseDateParam(raw, false)
		if err != nil {
			verr.Add("from", "Must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
		}
		filter.From = &from
	}
	if raw := c.QueryParam("to"); raw != "" {
		to, err := parseDateParam(raw, true)
		if err != nil {
			verr.Add("to", "Must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
		}
		filter.To = &to
	}
	if err := verr.OrNil(); err != nil {
		return handleServiceError(c, err, "")
	}

	payouts, err := h.processor.GetFiltered(c.Request().Context(), filter)
	if err != nil {
		return handleServiceError(c, err, "Failed to get payouts")
	}

	out := make([]*domain.Payout, len(payouts))
	redact := needsRedaction(c)
	for i, p := range payouts {
		if redact {
			p = p.Redacted()
		}
		out[i] = p
	}

	return c.JSON(http.StatusOK, PayoutsResponse{Payouts: out})
}

// GetBatchReport returns a temporary download link for a batch report
// GET /api/v1/payouts/batches/:batchId/report
func (h *PayoutHandler) GetBatchReport(c echo.Context) error {
	batchID, err := parseUUIDParam(c, "batchId")
	if err != nil {
		return handleServiceError(c, err, "")
	}
	if h.reports == nil {
		return NewNotFoundError(c, "Batch reports are not archived")
	}

	url, err := h.reports.BatchReportURL(c.Request().Context(), batchID, batchReportURLExpiry)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batchID.String()).Msg("Failed to sign batch report URL")
		return NewInternalError(c, "Failed to get batch report")
	}

	return c.JSON(http.StatusOK, BatchReportResponse{
		BatchID:   batchID,
		URL:       url,
		ExpiresAt: h.now().UTC().Add(batchReportURLExpiry),
	})
}

// parseDateParam accepts YYYY-MM-DD or RFC 3339. A bare date used as an
// upper bound covers the whole day.
func parseDateParam(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
