package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string

	// Auth0
	Auth0Domain   string
	Auth0Audience string

	// Server
	Port        string
	CORSOrigins []string
	Env         string

	// S3 batch report storage
	S3 S3Config

	// Redis job lock
	RedisURL string

	// Kafka seller notifications
	Kafka KafkaConfig

	Settlement SettlementConfig
	Provider   ProviderConfig
	Worker     WorkerConfig

	// Optional YAML file with per-seller and per-category commission rates
	CommissionRatesFile string
}

// S3Config holds AWS S3 configuration
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional: for MinIO/LocalStack local dev
}

// Enabled reports whether batch reports should be archived
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// KafkaConfig holds broker settings for payout notifications
type KafkaConfig struct {
	Brokers         []string
	TopicPayoutPaid string
}

// SettlementConfig holds the escrow, commission and payout rules
type SettlementConfig struct {
	PayoutMinimumPayoutThreshold    decimal.Decimal
	PayoutMaxRetryAttempts          int
	PayoutEnableBatching            bool
	PayoutMaxPayoutsPerBatch        int
	PayoutDefaultCurrency           string
	CommissionDefaultCommissionRate decimal.Decimal
	EscrowPayoutEligibilityDays     int
}

// ProviderConfig holds the payout execution provider client settings
type ProviderConfig struct {
	URL           string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	// How long a payout may stay processing before a later run marks it failed
	StaleProcessingAfter time.Duration
}

// WorkerConfig holds the in-process settlement cycle settings
type WorkerConfig struct {
	Enabled   bool
	Interval  time.Duration
	Frequency string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	p := &envParser{}
	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		Auth0Domain:   getEnv("AUTH0_DOMAIN", ""),
		Auth0Audience: getEnv("AUTH0_AUDIENCE", ""),
		Port:          getEnv("PORT", "8080"),
		CORSOrigins:   strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		Env:           getEnv("ENV", "development"),
		S3: S3Config{
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          getEnv("S3_BUCKET", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""), // Empty = use AWS, set for MinIO/LocalStack
		},
		RedisURL: getEnv("REDIS_URL", ""),
		Kafka: KafkaConfig{
			Brokers:         splitList(getEnv("KAFKA_BROKERS", "")),
			TopicPayoutPaid: getEnv("KAFKA_TOPIC_PAYOUT_PAID", "settlement.payout_paid"),
		},
		Settlement: SettlementConfig{
			PayoutMinimumPayoutThreshold:    p.decimal("PAYOUT_MINIMUM_PAYOUT_THRESHOLD", "25.00"),
			PayoutMaxRetryAttempts:          p.int("PAYOUT_MAX_RETRY_ATTEMPTS", 3),
			PayoutEnableBatching:            p.bool("PAYOUT_ENABLE_BATCHING", true),
			PayoutMaxPayoutsPerBatch:        p.int("PAYOUT_MAX_PAYOUTS_PER_BATCH", 100),
			PayoutDefaultCurrency:           strings.ToUpper(getEnv("PAYOUT_DEFAULT_CURRENCY", "USD")),
			CommissionDefaultCommissionRate: p.decimal("COMMISSION_DEFAULT_COMMISSION_RATE", "10.0"),
			EscrowPayoutEligibilityDays:     p.int("ESCROW_PAYOUT_ELIGIBILITY_DAYS", 14),
		},
		Provider: ProviderConfig{
			URL:                  getEnv("PAYOUT_PROVIDER_URL", ""),
			APIKey:               getEnv("PAYOUT_PROVIDER_API_KEY", ""),
			Timeout:              p.duration("PAYOUT_PROVIDER_TIMEOUT", 30*time.Second),
			RatePerSecond:        p.float("PAYOUT_PROVIDER_RATE_PER_SECOND", 10),
			StaleProcessingAfter: p.duration("PAYOUT_STALE_PROCESSING_AFTER", time.Hour),
		},
		Worker: WorkerConfig{
			Enabled:   p.bool("PAYOUT_WORKER_ENABLED", false),
			Interval:  p.duration("PAYOUT_WORKER_INTERVAL", time.Hour),
			Frequency: getEnv("PAYOUT_SCHEDULE_FREQUENCY", "weekly"),
		},
		CommissionRatesFile: getEnv("COMMISSION_RATES_FILE", ""),
	}

	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth0Domain == "" {
		return fmt.Errorf("AUTH0_DOMAIN is required")
	}
	if c.Auth0Audience == "" {
		return fmt.Errorf("AUTH0_AUDIENCE is required")
	}
	if c.Env == "production" && c.Provider.URL == "" {
		return fmt.Errorf("PAYOUT_PROVIDER_URL is required in production")
	}
	return c.Settlement.validate()
}

func (s SettlementConfig) validate() error {
	if s.PayoutMinimumPayoutThreshold.IsNegative() {
		return fmt.Errorf("PAYOUT_MINIMUM_PAYOUT_THRESHOLD must not be negative")
	}
	if s.PayoutMaxRetryAttempts < 0 {
		return fmt.Errorf("PAYOUT_MAX_RETRY_ATTEMPTS must not be negative")
	}
	if s.PayoutMaxPayoutsPerBatch <= 0 {
		return fmt.Errorf("PAYOUT_MAX_PAYOUTS_PER_BATCH must be positive")
	}
	if len(s.PayoutDefaultCurrency) != 3 {
		return fmt.Errorf("PAYOUT_DEFAULT_CURRENCY must be a 3-letter currency code")
	}
	if err := validateRate(s.CommissionDefaultCommissionRate); err != nil {
		return fmt.Errorf("COMMISSION_DEFAULT_COMMISSION_RATE %w", err)
	}
	if s.EscrowPayoutEligibilityDays < 0 {
		return fmt.Errorf("ESCROW_PAYOUT_ELIGIBILITY_DAYS must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envParser reads typed values and keeps the first parse error
type envParser struct {
	err error
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *envParser) int(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return defaultValue
	}
	return v
}

func (p *envParser) float(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return defaultValue
	}
	return v
}

func (p *envParser) bool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return defaultValue
	}
	return v
}

func (p *envParser) duration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return defaultValue
	}
	return v
}

func (p *envParser) decimal(key string, defaultValue string) decimal.Decimal {
	raw := getEnv(key, defaultValue)
	v, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(key, err)
		return decimal.RequireFromString(defaultValue)
	}
	return v
}
