package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// PayoutPaidMessage is the body published when a seller's payout is paid
type PayoutPaidMessage struct {
	PayoutID    uuid.UUID       `json:"payoutId"`
	SellerID    uuid.UUID       `json:"sellerId"`
	Email       string          `json:"email"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// writeBatchTimeout bounds how long a synchronous single-message write waits
// for a batch to fill
const writeBatchTimeout = 10 * time.Millisecond

// KafkaNotifier publishes payout paid messages for the notification service
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier creates a notifier writing to topic on the given brokers
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			BatchTimeout: writeBatchTimeout,
		},
		topic: topic,
	}, nil
}

// NotifyPayoutPaid implements domain.PayoutNotifier. Messages are keyed by
// seller so one seller's notifications stay ordered.
func (n *KafkaNotifier) NotifyPayoutPaid(ctx context.Context, payout *domain.Payout, email string) error {
	body, err := json.Marshal(newPayoutPaidMessage(payout, email))
	if err != nil {
		return fmt.Errorf("encode payout paid message: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Topic: n.topic,
		Key:   []byte(payout.SellerID.String()),
		Value: body,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish payout paid: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier records paid notifications in the log when no broker is configured
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "payout_notifier").Logger()}
}

// NotifyPayoutPaid implements domain.PayoutNotifier
func (n *LogNotifier) NotifyPayoutPaid(ctx context.Context, payout *domain.Payout, email string) error {
	n.logger.Info().
		Str("payout_id", payout.ID.String()).
		Str("seller_id", payout.SellerID.String()).
		Str("email", email).
		Str("amount", payout.Amount.String()).
		Str("currency", payout.Currency).
		Msg("Payout paid")
	return nil
}

func newPayoutPaidMessage(payout *domain.Payout, email string) PayoutPaidMessage {
	return PayoutPaidMessage{
		PayoutID:    payout.ID,
		SellerID:    payout.SellerID,
		Email:       email,
		Amount:      payout.Amount,
		Currency:    payout.Currency,
		CompletedAt: payout.CompletedAt,
	}
}
