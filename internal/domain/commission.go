package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CommissionRecord is the platform fee on one seller allocation.
// CommissionRate is frozen at calculation; NetCommissionAmount only decreases.
type CommissionRecord struct {
	ID                   uuid.UUID       `json:"id"`
	OrderID              uuid.UUID       `json:"orderId"`
	SellerID             uuid.UUID       `json:"sellerId"`
	CategoryID           *uuid.UUID      `json:"categoryId,omitempty"`
	PaymentTransactionID string          `json:"paymentTransactionId"`
	Currency             string          `json:"currency"`
	OrderAmount          decimal.Decimal `json:"orderAmount"`
	CommissionRate       decimal.Decimal `json:"commissionRate"`
	CommissionAmount     decimal.Decimal `json:"commissionAmount"`
	NetCommissionAmount  decimal.Decimal `json:"netCommissionAmount"`
	RefundedAmount       decimal.Decimal `json:"refundedAmount"`
	CalculatedAt         time.Time       `json:"calculatedAt"`
	CreatedAt            time.Time       `json:"createdAt"`
	LastUpdatedAt        time.Time       `json:"lastUpdatedAt"`
}

// CalculateCommission returns orderAmount × rate / 100 rounded to the currency precision
func CalculateCommission(orderAmount, rate decimal.Decimal, currency string) decimal.Decimal {
	return RoundToCurrency(orderAmount.Mul(rate).Div(hundred), currency)
}

// NetCommissionAfterRefund returns the commission left after a cumulative refund.
// The refund ratio is capped at 1 and the result is floored at zero.
func NetCommissionAfterRefund(commission, orderAmount, cumulativeRefund decimal.Decimal, currency string) decimal.Decimal {
	if orderAmount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	ratio := decimal.Min(decimal.NewFromInt(1), cumulativeRefund.Div(orderAmount))
	net := RoundToCurrency(commission.Mul(decimal.NewFromInt(1).Sub(ratio)), currency)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// CalculateCommissionInput is the command produced by payment confirmation
type CalculateCommissionInput struct {
	PaymentTransactionID string
	OrderID              uuid.UUID
	Currency             string
	Allocations          []SellerAllocation
}

// CommissionRateResolver resolves the rate (percentage) applying to an allocation
type CommissionRateResolver interface {
	Resolve(sellerID uuid.UUID, categoryID *uuid.UUID) decimal.Decimal
}

// CommissionRepository persists commission records
type CommissionRepository interface {
	CreateBatch(ctx context.Context, records []*CommissionRecord) ([]*CommissionRecord, error)
	GetByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*CommissionRecord, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*CommissionRecord, error)
	GetBySellerID(ctx context.Context, sellerID uuid.UUID) ([]*CommissionRecord, error)
	UpdateNetCommission(ctx context.Context, record *CommissionRecord) (*CommissionRecord, error)
}
