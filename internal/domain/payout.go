package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusScheduled  PayoutStatus = "scheduled"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// IsValid reports whether s is a known payout status
func (s PayoutStatus) IsValid() bool {
	switch s {
	case PayoutStatusScheduled, PayoutStatusProcessing, PayoutStatusPaid, PayoutStatusFailed:
		return true
	}
	return false
}

type ScheduleFrequency string

const (
	ScheduleFrequencyDaily    ScheduleFrequency = "daily"
	ScheduleFrequencyWeekly   ScheduleFrequency = "weekly"
	ScheduleFrequencyBiweekly ScheduleFrequency = "biweekly"
	ScheduleFrequencyMonthly  ScheduleFrequency = "monthly"
	ScheduleFrequencyManual   ScheduleFrequency = "manual"
)

// IsValid reports whether f is a known schedule frequency
func (f ScheduleFrequency) IsValid() bool {
	switch f {
	case ScheduleFrequencyDaily, ScheduleFrequencyWeekly, ScheduleFrequencyBiweekly,
		ScheduleFrequencyMonthly, ScheduleFrequencyManual:
		return true
	}
	return false
}

// Payout error references recorded when the provider call itself fails
const (
	ErrorReferenceTimeout         = "timeout"
	ErrorReferenceProviderError   = "provider_error"
	ErrorReferenceStaleProcessing = "stale_processing"
)

// Payout is an aggregated transfer obligation to one seller in one currency.
// Amount equals the sum of the escrow entries consumed to create it.
type Payout struct {
	ID                  uuid.UUID         `json:"id"`
	SellerID            uuid.UUID         `json:"sellerId"`
	Amount              decimal.Decimal   `json:"amount"`
	Currency            string            `json:"currency"`
	Status              PayoutStatus      `json:"status"`
	ScheduleFrequency   ScheduleFrequency `json:"scheduleFrequency"`
	ScheduledAt         time.Time         `json:"scheduledAt"`
	ProcessingStartedAt *time.Time        `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
	BatchID             *uuid.UUID        `json:"batchId,omitempty"`
	RetryCount          int               `json:"retryCount"`
	ErrorReference      *string           `json:"errorReference,omitempty"`
	ErrorMessage        *string           `json:"errorMessage,omitempty"`
	AuditNote           *string           `json:"auditNote,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// CanRetry reports whether a retry may be attempted under maxAttempts
func (p *Payout) CanRetry(maxAttempts int) error {
	if p.Status != PayoutStatusFailed {
		return ErrPayoutNotRetryable
	}
	if p.RetryCount >= maxAttempts {
		return ErrRetryLimitExceeded
	}
	return nil
}

// ApplyOutcome moves a processing payout to Paid or Failed
func (p *Payout) ApplyOutcome(result ProviderResult, at time.Time) {
	p.UpdatedAt = at
	if result.Success {
		p.Status = PayoutStatusPaid
		p.CompletedAt = &at
		p.ErrorReference = nil
		p.ErrorMessage = nil
		return
	}
	p.Status = PayoutStatusFailed
	p.CompletedAt = nil
	p.ErrorReference = result.ErrorReference
	p.ErrorMessage = result.ErrorMessage
}

// PayoutFilter narrows payout queries for one seller
type PayoutFilter struct {
	SellerID uuid.UUID
	Status   *PayoutStatus
	From     *time.Time
	To       *time.Time
}

// PayoutClaim marks a set of scheduled payouts as processing
type PayoutClaim struct {
	IDs     []uuid.UUID
	BatchID *uuid.UUID
	At      time.Time
}

// PayoutRepository persists payouts. Status changes after creation are
// compare-and-swap guarded so only one execution per payout is in flight.
type PayoutRepository interface {
	CreateBatchTx(ctx context.Context, tx any, payouts []*Payout) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payout, error)
	GetBySellerID(ctx context.Context, sellerID uuid.UUID, status *PayoutStatus) ([]*Payout, error)
	GetFiltered(ctx context.Context, filter PayoutFilter) ([]*Payout, error)
	ListScheduledDue(ctx context.Context, before time.Time, limit int) ([]*Payout, error)
	ListRetryable(ctx context.Context, maxAttempts int, failedBefore *time.Time) ([]*Payout, error)
	ClaimScheduled(ctx context.Context, claim PayoutClaim) ([]*Payout, error)
	ClaimForRetry(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time, auditNote *string) (*Payout, error)
	CompleteBatchTx(ctx context.Context, tx any, payouts []*Payout) error
	// FailStaleProcessing moves payouts that started processing before the
	// cutoff and never recorded an outcome to Failed
	FailStaleProcessing(ctx context.Context, startedBefore, at time.Time) ([]*Payout, error)
}

// Redacted returns a copy without provider error detail, for seller-facing output
func (p *Payout) Redacted() *Payout {
	c := *p
	c.ErrorMessage = nil
	return &c
}
