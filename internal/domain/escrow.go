package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// IsValid reports whether s is a known escrow status
func (s EscrowStatus) IsValid() bool {
	switch s {
	case EscrowStatusHeld, EscrowStatusReleased, EscrowStatusRefunded:
		return true
	}
	return false
}

// EscrowEntry holds one seller's share of buyer funds for one order.
// Amount never changes after creation; Held moves to Released or Refunded and
// both are terminal.
type EscrowEntry struct {
	ID                   uuid.UUID       `json:"id"`
	OrderID              uuid.UUID       `json:"orderId"`
	SellerID             uuid.UUID       `json:"sellerId"`
	PaymentTransactionID string          `json:"paymentTransactionId"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Status               EscrowStatus    `json:"status"`
	IsEligibleForPayout  bool            `json:"isEligibleForPayout"`
	PayoutID             *uuid.UUID      `json:"payoutId,omitempty"`
	AuditNote            *string         `json:"auditNote,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	ReleasedAt           *time.Time      `json:"releasedAt,omitempty"`
	RefundedAt           *time.Time      `json:"refundedAt,omitempty"`
}

// DwellElapsed reports whether the entry has been held for at least the given
// number of days. Callers of Release use it to enforce the payout eligibility period.
func (e *EscrowEntry) DwellElapsed(now time.Time, days int) bool {
	if days <= 0 {
		return true
	}
	return !now.Before(e.CreatedAt.AddDate(0, 0, days))
}

// SellerAllocation is one seller's share of a confirmed payment
type SellerAllocation struct {
	SellerID   uuid.UUID       `json:"sellerId"`
	Amount     decimal.Decimal `json:"amount"`
	CategoryID *uuid.UUID      `json:"categoryId,omitempty"`
}

// HoldInput is the command for placing buyer funds in escrow
type HoldInput struct {
	OrderID              uuid.UUID
	PaymentTransactionID string
	Allocations          []SellerAllocation
	Currency             string
	AuditNote            *string
}

// EscrowTransition describes a status change applied to a set of held entries
type EscrowTransition struct {
	IDs       []uuid.UUID
	To        EscrowStatus
	At        time.Time
	AuditNote *string
}

// EscrowBalance summarizes an order's escrow per currency
type EscrowBalance struct {
	OrderID  uuid.UUID       `json:"orderId"`
	Currency string          `json:"currency"`
	Held     decimal.Decimal `json:"held"`
	Released decimal.Decimal `json:"released"`
	Refunded decimal.Decimal `json:"refunded"`
	Total    decimal.Decimal `json:"total"`
}

// EscrowRepository persists escrow entries. Methods suffixed Tx run inside a
// transaction opened by a Transactor.
type EscrowRepository interface {
	CreateBatchTx(ctx context.Context, tx any, entries []*EscrowEntry) error
	ExistsForOrderSellersTx(ctx context.Context, tx any, orderID uuid.UUID, sellerIDs []uuid.UUID) (bool, error)
	GetByOrderIDForUpdateTx(ctx context.Context, tx any, orderID uuid.UUID, sellerID *uuid.UUID) ([]*EscrowEntry, error)
	TransitionTx(ctx context.Context, tx any, transition EscrowTransition) ([]*EscrowEntry, error)
	ListEligibleForPayoutTx(ctx context.Context, tx any) ([]*EscrowEntry, error)
	ConsumeForPayoutTx(ctx context.Context, tx any, entryIDs []uuid.UUID, payoutID uuid.UUID, at time.Time) (int, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*EscrowEntry, error)
	GetBySellerID(ctx context.Context, sellerID uuid.UUID, status *EscrowStatus) ([]*EscrowEntry, error)
}
