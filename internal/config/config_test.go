package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/settlement")
	t.Setenv("AUTH0_DOMAIN", "example.auth0.com")
	t.Setenv("AUTH0_AUDIENCE", "https://api.example.com")
	t.Setenv("ENV", "development")
	t.Setenv("PAYOUT_PROVIDER_URL", "")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.Settlement.PayoutMinimumPayoutThreshold.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, 3, cfg.Settlement.PayoutMaxRetryAttempts)
	assert.True(t, cfg.Settlement.PayoutEnableBatching)
	assert.Equal(t, 100, cfg.Settlement.PayoutMaxPayoutsPerBatch)
	assert.Equal(t, "USD", cfg.Settlement.PayoutDefaultCurrency)
	assert.True(t, cfg.Settlement.CommissionDefaultCommissionRate.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 14, cfg.Settlement.EscrowPayoutEligibilityDays)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, time.Hour, cfg.Provider.StaleProcessingAfter)
	assert.False(t, cfg.Worker.Enabled)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.S3.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYOUT_MINIMUM_PAYOUT_THRESHOLD", "50.00")
	t.Setenv("PAYOUT_MAX_RETRY_ATTEMPTS", "5")
	t.Setenv("PAYOUT_ENABLE_BATCHING", "false")
	t.Setenv("PAYOUT_DEFAULT_CURRENCY", "eur")
	t.Setenv("PAYOUT_PROVIDER_TIMEOUT", "5s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("S3_BUCKET", "settlement-reports")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Settlement.PayoutMinimumPayoutThreshold.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 5, cfg.Settlement.PayoutMaxRetryAttempts)
	assert.False(t, cfg.Settlement.PayoutEnableBatching)
	assert.Equal(t, "EUR", cfg.Settlement.PayoutDefaultCurrency)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.S3.Enabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"unparseable int", "PAYOUT_MAX_RETRY_ATTEMPTS", "three", "invalid PAYOUT_MAX_RETRY_ATTEMPTS"},
		{"unparseable decimal", "PAYOUT_MINIMUM_PAYOUT_THRESHOLD", "lots", "invalid PAYOUT_MINIMUM_PAYOUT_THRESHOLD"},
		{"negative threshold", "PAYOUT_MINIMUM_PAYOUT_THRESHOLD", "-1", "must not be negative"},
		{"zero batch size", "PAYOUT_MAX_PAYOUTS_PER_BATCH", "0", "must be positive"},
		{"bad currency", "PAYOUT_DEFAULT_CURRENCY", "DOLLAR", "3-letter"},
		{"rate out of range", "COMMISSION_DEFAULT_COMMISSION_RATE", "150", "between 0 and 100"},
		{"bad duration", "PAYOUT_WORKER_INTERVAL", "hourly", "invalid PAYOUT_WORKER_INTERVAL"},
		{"production without provider", "ENV", "production", "PAYOUT_PROVIDER_URL is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.EqualError(t, err, "DATABASE_URL is required")
}
