package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Actor roles
const (
	RoleAdmin  = "admin"
	RoleSystem = "system"
	RoleSeller = "seller"
	RoleBuyer  = "buyer"
)

// Actor identifies the caller of a settlement operation
type Actor struct {
	SubjectID string
	Role      string
}

// IsPrivileged reports whether the actor may act on any order
func (a Actor) IsPrivileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// Transactor runs fn inside one storage transaction. fn receives the
// transaction handle to pass to repository Tx methods. Any error rolls back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx any) error) error
}

// OrderDirectory resolves order ownership from the order service
type OrderDirectory interface {
	GetOrderBuyerID(ctx context.Context, orderID uuid.UUID) (string, error)
}

// SellerDirectory resolves seller contact data
type SellerDirectory interface {
	// GetSellerEmail returns nil when the seller has no email on file
	GetSellerEmail(ctx context.Context, sellerID uuid.UUID) (*string, error)
}

// PayoutInstruction is one transfer attempt sent to the payout provider
type PayoutInstruction struct {
	PayoutID uuid.UUID       `json:"payoutId"`
	Attempt  int             `json:"attempt"`
	SellerID uuid.UUID       `json:"sellerId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// ProviderResult is the outcome reported by the payout provider
type ProviderResult struct {
	Success        bool    `json:"success"`
	ErrorReference *string `json:"errorReference,omitempty"`
	ErrorMessage   *string `json:"errorMessage,omitempty"`
}

// FailedResult builds a failed provider result
func FailedResult(reference, message string) ProviderResult {
	return ProviderResult{ErrorReference: &reference, ErrorMessage: &message}
}

// PayoutProvider executes transfers. Every call is a new attempt; the provider
// is not assumed to deduplicate.
type PayoutProvider interface {
	Execute(ctx context.Context, instruction PayoutInstruction) (ProviderResult, error)
}

// PayoutNotifier tells sellers their payout was paid
type PayoutNotifier interface {
	NotifyPayoutPaid(ctx context.Context, payout *Payout, email string) error
}

// BatchReportStore archives payout batch reports
type BatchReportStore interface {
	PutBatchReport(ctx context.Context, batchID uuid.UUID, body []byte) error
}
