package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ProcessInput is the command for executing due payouts
type ProcessInput struct {
	ProcessBefore *time.Time
	CreateBatch   bool
}

// ProcessResult reports the outcome of a processing run
type ProcessResult struct {
	Payouts      []*domain.Payout `json:"payouts"`
	BatchID      *uuid.UUID       `json:"batchId,omitempty"`
	SuccessCount int              `json:"successCount"`
	FailedCount  int              `json:"failedCount"`
}

// RetryInput selects one failed payout, or every retryable one when PayoutID is nil
type RetryInput struct {
	PayoutID  *uuid.UUID
	AuditNote *string
	// FailedBefore limits a bulk retry to payouts that failed strictly before it
	FailedBefore *time.Time
}

// RetryResult reports the outcome of a retry run
type RetryResult struct {
	Payouts      []*domain.Payout `json:"payouts"`
	SuccessCount int              `json:"successCount"`
	FailedCount  int              `json:"failedCount"`
}

// PayoutProcessor executes scheduled payouts against the payout provider and
// retries failed ones
type PayoutProcessor struct {
	tx             domain.Transactor
	payoutRepo     domain.PayoutRepository
	provider       domain.PayoutProvider
	settings       SettlementSettings
	limiter        *rate.Limiter
	sellers        domain.SellerDirectory
	notifier       domain.PayoutNotifier
	reports        domain.BatchReportStore
	eventPublisher websocket.EventPublisher
	logger         zerolog.Logger
	now            func() time.Time
}

// NewPayoutProcessor creates a new PayoutProcessor
func NewPayoutProcessor(
	tx domain.Transactor,
	payoutRepo domain.PayoutRepository,
	provider domain.PayoutProvider,
	settings SettlementSettings,
	logger zerolog.Logger,
) *PayoutProcessor {
	limit, burst := rate.Inf, 1
	if settings.ProviderRatePerSecond > 0 {
		limit = rate.Limit(settings.ProviderRatePerSecond)
		burst = int(math.Max(1, math.Ceil(settings.ProviderRatePerSecond)))
	}

	return &PayoutProcessor{
		tx:         tx,
		payoutRepo: payoutRepo,
		provider:   provider,
		settings:   settings,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With().Str("component", "payout_processor").Logger(),
		now:        time.Now,
	}
}

// SetNotifier enables paid notifications to sellers
func (p *PayoutProcessor) SetNotifier(sellers domain.SellerDirectory, notifier domain.PayoutNotifier) {
	p.sellers = sellers
	p.notifier = notifier
}

// SetReportStore enables archiving of batch reports
func (p *PayoutProcessor) SetReportStore(reports domain.BatchReportStore) {
	p.reports = reports
}

// SetEventPublisher sets the event publisher for real-time updates
func (p *PayoutProcessor) SetEventPublisher(publisher websocket.EventPublisher) {
	p.eventPublisher = publisher
}

// Process executes Scheduled payouts due at or before ProcessBefore (default
// now). Provider failures are recorded on the payout and counted, never
// returned as an error.
func (p *PayoutProcessor) Process(ctx context.Context, input ProcessInput) (*ProcessResult, error) {
	now := p.now().UTC()
	before := now
	if input.ProcessBefore != nil {
		before = *input.ProcessBefore
	}

	limit := 0
	var batchID *uuid.UUID
	if p.settings.EnableBatching && input.CreateBatch {
		limit = p.settings.MaxPayoutsPerBatch
		id := uuid.New()
		batchID = &id
	}

	result := &ProcessResult{Payouts: []*domain.Payout{}}
	p.recoverStale(ctx, now)

	due, err := p.payoutRepo.ListScheduledDue(ctx, before, limit)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return result, nil
	}

	ids := make([]uuid.UUID, len(due))
	for i, d := range due {
		ids[i] = d.ID
	}

	// Rows another run claimed in the meantime are not returned
	claimed, err := p.payoutRepo.ClaimScheduled(ctx, domain.PayoutClaim{IDs: ids, BatchID: batchID, At: now})
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return result, nil
	}

	for _, payout := range claimed {
		outcome := p.execute(ctx, payout)
		payout.ApplyOutcome(outcome, p.now().UTC())
	}

	if err := p.persist(ctx, claimed); err != nil {
		p.logger.Error().Err(err).Int("payouts", len(claimed)).Msg("Failed to persist payout outcomes")
		return nil, err
	}

	result.Payouts = claimed
	result.BatchID = batchID
	result.SuccessCount, result.FailedCount = countOutcomes(claimed)

	p.logger.Info().
		Int("payouts", len(claimed)).
		Int("success", result.SuccessCount).
		Int("failed", result.FailedCount).
		Interface("batch_id", batchID).
		Msg("Processed payouts")

	p.afterOutcomes(ctx, claimed)
	if batchID != nil {
		p.archiveBatch(ctx, *batchID, result)
	}
	return result, nil
}

// recoverStale fails payouts an interrupted run left in processing, so the
// retry path picks them up. Errors are logged and do not stop the run.
func (p *PayoutProcessor) recoverStale(ctx context.Context, now time.Time) {
	cutoff := now.Add(-p.settings.staleProcessingAfter())
	recovered, err := p.payoutRepo.FailStaleProcessing(ctx, cutoff, now)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to recover stale processing payouts")
		return
	}
	if len(recovered) == 0 {
		return
	}
	for _, payout := range recovered {
		p.logger.Warn().
			Str("payout_id", payout.ID.String()).
			Int("retry_count", payout.RetryCount).
			Interface("processing_started_at", payout.ProcessingStartedAt).
			Msg("Recovered stale processing payout")
	}
	p.afterOutcomes(ctx, recovered)
}

// Retry re-executes one failed payout, or every failed payout still under the
// retry limit when input.PayoutID is nil. Each attempt increments retryCount.
func (p *PayoutProcessor) Retry(ctx context.Context, input RetryInput) (*RetryResult, error) {
	if input.PayoutID != nil {
		return p.retryOne(ctx, *input.PayoutID, input.AuditNote)
	}

	result := &RetryResult{Payouts: []*domain.Payout{}}
	candidates, err := p.payoutRepo.ListRetryable(ctx, p.settings.MaxRetryAttempts, input.FailedBefore)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		claimed, err := p.payoutRepo.ClaimForRetry(ctx, c.ID, p.settings.MaxRetryAttempts, p.now().UTC(), input.AuditNote)
		if err != nil {
			p.logger.Warn().Err(err).Str("payout_id", c.ID.String()).Msg("Skipping payout retry")
			continue
		}

		outcome := p.execute(ctx, claimed)
		claimed.ApplyOutcome(outcome, p.now().UTC())
		if err := p.persist(ctx, []*domain.Payout{claimed}); err != nil {
			p.logger.Error().Err(err).Str("payout_id", claimed.ID.String()).Msg("Failed to persist retry outcome")
			continue
		}
		result.Payouts = append(result.Payouts, claimed)
	}

	result.SuccessCount, result.FailedCount = countOutcomes(result.Payouts)
	if len(candidates) > 0 {
		p.logger.Info().
			Int("candidates", len(candidates)).
			Int("success", result.SuccessCount).
			Int("failed", result.FailedCount).
			Msg("Retried failed payouts")
	}

	p.afterOutcomes(ctx, result.Payouts)
	return result, nil
}

func (p *PayoutProcessor) retryOne(ctx context.Context, id uuid.UUID, auditNote *string) (*RetryResult, error) {
	payout, err := p.payoutRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := payout.CanRetry(p.settings.MaxRetryAttempts); err != nil {
		return nil, err
	}

	claimed, err := p.payoutRepo.ClaimForRetry(ctx, id, p.settings.MaxRetryAttempts, p.now().UTC(), auditNote)
	if err != nil {
		return nil, err
	}

	outcome := p.execute(ctx, claimed)
	claimed.ApplyOutcome(outcome, p.now().UTC())
	if err := p.persist(ctx, []*domain.Payout{claimed}); err != nil {
		return nil, err
	}

	result := &RetryResult{Payouts: []*domain.Payout{claimed}}
	result.SuccessCount, result.FailedCount = countOutcomes(result.Payouts)
	p.afterOutcomes(ctx, result.Payouts)
	return result, nil
}

// execute calls the provider once for the payout's current attempt
func (p *PayoutProcessor) execute(ctx context.Context, payout *domain.Payout) domain.ProviderResult {
	log := p.logger.With().Str("payout_id", payout.ID.String()).Logger()

	if err := p.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("Payout provider call not attempted")
		return domain.FailedResult(domain.ErrorReferenceProviderError, err.Error())
	}

	callCtx := ctx
	if p.settings.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.settings.ProviderTimeout)
		defer cancel()
	}

	res, err := p.provider.Execute(callCtx, domain.PayoutInstruction{
		PayoutID: payout.ID,
		Attempt:  payout.RetryCount + 1,
		SellerID: payout.SellerID,
		Amount:   payout.Amount,
		Currency: payout.Currency,
	})
	if err != nil {
		ref := domain.ErrorReferenceProviderError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			ref = domain.ErrorReferenceTimeout
		}
		log.Warn().Err(err).Str("error_reference", ref).Msg("Payout provider call failed")
		return domain.FailedResult(ref, err.Error())
	}

	if !res.Success && res.ErrorReference == nil {
		ref := domain.ErrorReferenceProviderError
		res.ErrorReference = &ref
	}
	return res
}

// persist writes outcomes in one transaction. It is not tied to the caller's
// cancellation since the provider has already been called.
func (p *PayoutProcessor) persist(ctx context.Context, payouts []*domain.Payout) error {
	ctx = context.WithoutCancel(ctx)
	return p.tx.WithinTx(ctx, func(tx any) error {
		return p.payoutRepo.CompleteBatchTx(ctx, tx, payouts)
	})
}

// afterOutcomes notifies paid sellers and pushes status events. Failures here
// are logged and never change a payout.
func (p *PayoutProcessor) afterOutcomes(ctx context.Context, payouts []*domain.Payout) {
	for _, payout := range payouts {
		switch payout.Status {
		case domain.PayoutStatusPaid:
			p.notifyPaid(ctx, payout)
			if p.eventPublisher != nil {
				p.eventPublisher.Publish(payout.SellerID, websocket.PayoutPaid(payout.Redacted()))
			}
		case domain.PayoutStatusFailed:
			if p.eventPublisher != nil {
				p.eventPublisher.Publish(payout.SellerID, websocket.PayoutFailed(payout.Redacted()))
			}
		}
	}
}

func (p *PayoutProcessor) notifyPaid(ctx context.Context, payout *domain.Payout) {
	if p.notifier == nil || p.sellers == nil {
		return
	}
	log := p.logger.With().
		Str("payout_id", payout.ID.String()).
		Str("seller_id", payout.SellerID.String()).
		Logger()

	email, err := p.sellers.GetSellerEmail(ctx, payout.SellerID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to look up seller email")
		return
	}
	if email == nil || *email == "" {
		log.Debug().Msg("Seller has no email, skipping paid notification")
		return
	}
	if err := p.notifier.NotifyPayoutPaid(ctx, payout, *email); err != nil {
		log.Warn().Err(err).Msg("Failed to send payout paid notification")
	}
}

type batchReport struct {
	BatchID      uuid.UUID         `json:"batchId"`
	GeneratedAt  time.Time         `json:"generatedAt"`
	SuccessCount int               `json:"successCount"`
	FailedCount  int               `json:"failedCount"`
	Payouts      []batchReportLine `json:"payouts"`
}

type batchReportLine struct {
	PayoutID       uuid.UUID           `json:"payoutId"`
	SellerID       uuid.UUID           `json:"sellerId"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	Status         domain.PayoutStatus `json:"status"`
	ErrorReference *string             `json:"errorReference,omitempty"`
}

func (p *PayoutProcessor) archiveBatch(ctx context.Context, batchID uuid.UUID, result *ProcessResult) {
	if p.reports == nil {
		return
	}

	report := batchReport{
		BatchID:      batchID,
		GeneratedAt:  p.now().UTC(),
		SuccessCount: result.SuccessCount,
		FailedCount:  result.FailedCount,
		Payouts:      make([]batchReportLine, 0, len(result.Payouts)),
	}
	for _, payout := range result.Payouts {
		report.Payouts = append(report.Payouts, batchReportLine{
			PayoutID:       payout.ID,
			SellerID:       payout.SellerID,
			Amount:         payout.Amount,
			Currency:       payout.Currency,
			Status:         payout.Status,
			ErrorReference: payout.ErrorReference,
		})
	}

	body, err := json.Marshal(report)
	if err != nil {
		p.logger.Error().Err(err).Str("batch_id", batchID.String()).Msg("Failed to encode batch report")
		return
	}
	if err := p.reports.PutBatchReport(ctx, batchID, body); err != nil {
		p.logger.Warn().Err(err).Str("batch_id", batchID.String()).Msg("Failed to archive batch report")
	}
}

// GetByID returns one payout
func (p *PayoutProcessor) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	return p.payoutRepo.GetByID(ctx, id)
}

// GetBySellerID returns a seller's payouts, optionally filtered by status
func (p *PayoutProcessor) GetBySellerID(ctx context.Context, sellerID uuid.UUID, status *domain.PayoutStatus) ([]*domain.Payout, error) {
	if status != nil && !status.IsValid() {
		return nil, domain.NewValidationError("status", "Invalid payout status")
	}
	return p.payoutRepo.GetBySellerID(ctx, sellerID, status)
}

// GetFiltered returns a seller's payouts scheduled within an optional date range
func (p *PayoutProcessor) GetFiltered(ctx context.Context, filter domain.PayoutFilter) ([]*domain.Payout, error) {
	verr := &domain.ValidationError{}
	if filter.Status != nil && !filter.Status.IsValid() {
		verr.Add("status", "Invalid payout status")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		verr.Add("fromDate", "From date must not be after to date")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return p.payoutRepo.GetFiltered(ctx, filter)
}

// OpenPayouts returns the redacted payouts a feed starts from. For a seller
// that is every payout not yet paid; with a nil seller it is the failed
// payouts of all sellers that can still be retried.
func (p *PayoutProcessor) OpenPayouts(ctx context.Context, sellerID *uuid.UUID) ([]*domain.Payout, error) {
	var payouts []*domain.Payout
	var err error
	if sellerID == nil {
		payouts, err = p.payoutRepo.ListRetryable(ctx, p.settings.MaxRetryAttempts, nil)
	} else {
		payouts, err = p.payoutRepo.GetBySellerID(ctx, *sellerID, nil)
	}
	if err != nil {
		return nil, err
	}

	open := make([]*domain.Payout, 0, len(payouts))
	for _, payout := range payouts {
		if payout.Status == domain.PayoutStatusPaid {
			continue
		}
		open = append(open, payout.Redacted())
	}
	return open, nil
}

func countOutcomes(payouts []*domain.Payout) (success, failed int) {
	for _, p := range payouts {
		switch p.Status {
		case domain.PayoutStatusPaid:
			success++
		case domain.PayoutStatusFailed:
			failed++
		}
	}
	return success, failed
}
