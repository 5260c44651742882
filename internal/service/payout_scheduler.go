package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ScheduleInput is the command for a scheduling run
type ScheduleInput struct {
	ScheduledAt time.Time
	Frequency   domain.ScheduleFrequency
	AuditNote   *string
}

// ScheduleResult reports the payouts created by a scheduling run and how many
// (seller, currency) groups stayed below the payout threshold
type ScheduleResult struct {
	Payouts         []*domain.Payout `json:"payouts"`
	RolledOverCount int              `json:"rolledOverCount"`
}

// PayoutScheduler aggregates released escrow into scheduled payouts
type PayoutScheduler struct {
	tx             domain.Transactor
	escrowRepo     domain.EscrowRepository
	payoutRepo     domain.PayoutRepository
	settings       SettlementSettings
	eventPublisher websocket.EventPublisher
	logger         zerolog.Logger
	now            func() time.Time
}

// NewPayoutScheduler creates a new PayoutScheduler
func NewPayoutScheduler(
	tx domain.Transactor,
	escrowRepo domain.EscrowRepository,
	payoutRepo domain.PayoutRepository,
	settings SettlementSettings,
	logger zerolog.Logger,
) *PayoutScheduler {
	return &PayoutScheduler{
		tx:         tx,
		escrowRepo: escrowRepo,
		payoutRepo: payoutRepo,
		settings:   settings,
		logger:     logger.With().Str("component", "payout_scheduler").Logger(),
		now:        time.Now,
	}
}

// SetEventPublisher sets the event publisher for real-time updates
func (s *PayoutScheduler) SetEventPublisher(publisher websocket.EventPublisher) {
	s.eventPublisher = publisher
}

// sellerGroup is the eligible escrow of one seller in one currency
type sellerGroup struct {
	sellerID uuid.UUID
	currency string
	total    decimal.Decimal
	entryIDs []uuid.UUID
}

// Schedule creates one payout per (seller, currency) group whose eligible
// escrow reaches the minimum threshold. Consumed entries lose eligibility in
// the same transaction that inserts the payouts; groups below the threshold
// keep their entries eligible for the next run.
func (s *PayoutScheduler) Schedule(ctx context.Context, input ScheduleInput) (*ScheduleResult, error) {
	verr := &domain.ValidationError{}
	if input.ScheduledAt.IsZero() {
		verr.Add("scheduledAt", "Scheduled time is required")
	}
	if !input.Frequency.IsValid() {
		verr.Add("scheduleFrequency", "Schedule frequency must be one of daily, weekly, biweekly, monthly, manual")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	result := &ScheduleResult{Payouts: []*domain.Payout{}}
	err := s.tx.WithinTx(ctx, func(tx any) error {
		entries, err := s.escrowRepo.ListEligibleForPayoutTx(ctx, tx)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		var payouts []*domain.Payout
		var consumed [][]uuid.UUID
		rolledOver := 0
		for _, g := range groupEligible(entries) {
			if g.total.LessThan(s.settings.MinimumPayoutThreshold) {
				rolledOver++
				continue
			}
			payouts = append(payouts, &domain.Payout{
				ID:                uuid.New(),
				SellerID:          g.sellerID,
				Amount:            g.total,
				Currency:          g.currency,
				Status:            domain.PayoutStatusScheduled,
				ScheduleFrequency: input.Frequency,
				ScheduledAt:       input.ScheduledAt.UTC(),
				AuditNote:         input.AuditNote,
				CreatedAt:         now,
				UpdatedAt:         now,
			})
			consumed = append(consumed, g.entryIDs)
		}

		if len(payouts) > 0 {
			if err := s.payoutRepo.CreateBatchTx(ctx, tx, payouts); err != nil {
				return err
			}
			for i, p := range payouts {
				n, err := s.escrowRepo.ConsumeForPayoutTx(ctx, tx, consumed[i], p.ID, now)
				if err != nil {
					return err
				}
				if n != len(consumed[i]) {
					return fmt.Errorf("escrow changed while scheduling payout %s: consumed %d of %d entries", p.ID, n, len(consumed[i]))
				}
			}
		}

		result.Payouts = append(result.Payouts, payouts...)
		result.RolledOverCount = rolledOver
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("payouts", len(result.Payouts)).
		Int("rolled_over", result.RolledOverCount).
		Str("frequency", string(input.Frequency)).
		Msg("Scheduled payouts")

	if s.eventPublisher != nil {
		for _, p := range result.Payouts {
			s.eventPublisher.Publish(p.SellerID, websocket.PayoutScheduled(p))
		}
	}
	return result, nil
}

// groupEligible sums released, eligible entries per (seller, currency) in a
// stable order
func groupEligible(entries []*domain.EscrowEntry) []*sellerGroup {
	type key struct {
		seller   uuid.UUID
		currency string
	}
	groups := make(map[key]*sellerGroup)
	for _, e := range entries {
		if e.Status != domain.EscrowStatusReleased || !e.IsEligibleForPayout {
			continue
		}
		k := key{seller: e.SellerID, currency: e.Currency}
		g, ok := groups[k]
		if !ok {
			g = &sellerGroup{sellerID: e.SellerID, currency: e.Currency, total: decimal.Zero}
			groups[k] = g
		}
		g.total = g.total.Add(e.Amount)
		g.entryIDs = append(g.entryIDs, e.ID)
	}

	ordered := make([]*sellerGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].sellerID != ordered[j].sellerID {
			return ordered[i].sellerID.String() < ordered[j].sellerID.String()
		}
		return ordered[i].currency < ordered[j].currency
	})
	return ordered
}
