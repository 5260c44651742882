package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementSettings holds the immutable settlement rules shared by the
// escrow, commission and payout services
type SettlementSettings struct {
	MinimumPayoutThreshold      decimal.Decimal
	MaxRetryAttempts            int
	EnableBatching              bool
	MaxPayoutsPerBatch          int
	DefaultCurrency             string
	DefaultCommissionRate       decimal.Decimal
	EscrowPayoutEligibilityDays int
	ProviderTimeout             time.Duration
	ProviderRatePerSecond       float64
	StaleProcessingAfter        time.Duration
}

// DefaultSettlementSettings returns the documented defaults
func DefaultSettlementSettings() SettlementSettings {
	return SettlementSettings{
		MinimumPayoutThreshold:      decimal.RequireFromString("25.00"),
		MaxRetryAttempts:            3,
		EnableBatching:              true,
		MaxPayoutsPerBatch:          100,
		DefaultCurrency:             "USD",
		DefaultCommissionRate:       decimal.RequireFromString("10.0"),
		EscrowPayoutEligibilityDays: 14,
		ProviderTimeout:             30 * time.Second,
		ProviderRatePerSecond:       10,
		StaleProcessingAfter:        time.Hour,
	}
}

// staleProcessingAfter is how long a payout may stay processing before it is
// treated as interrupted. Never shorter than two provider timeouts.
func (s SettlementSettings) staleProcessingAfter() time.Duration {
	d := max(s.StaleProcessingAfter, 2*s.ProviderTimeout)
	if d <= 0 {
		return time.Hour
	}
	return d
}
