package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionService computes the platform fee per seller allocation and
// adjusts it for partial refunds
type CommissionService struct {
	commissionRepo domain.CommissionRepository
	rates          domain.CommissionRateResolver
	settings       SettlementSettings
	eventPublisher websocket.EventPublisher
	now            func() time.Time
}

// NewCommissionService creates a new CommissionService
func NewCommissionService(commissionRepo domain.CommissionRepository, rates domain.CommissionRateResolver, settings SettlementSettings) *CommissionService {
	return &CommissionService{
		commissionRepo: commissionRepo,
		rates:          rates,
		settings:       settings,
		now:            time.Now,
	}
}

// SetEventPublisher sets the event publisher for real-time updates
func (s *CommissionService) SetEventPublisher(publisher websocket.EventPublisher) {
	s.eventPublisher = publisher
}

func (s *CommissionService) publishEvent(sellerID uuid.UUID, event websocket.Event) {
	if s.eventPublisher != nil {
		s.eventPublisher.Publish(sellerID, event)
	}
}

// Calculate creates one commission record per allocation. Allocations that
// already have a record for the order return the stored record.
func (s *CommissionService) Calculate(ctx context.Context, input domain.CalculateCommissionInput) ([]*domain.CommissionRecord, error) {
	currency := domain.NormalizeCurrency(input.Currency)
	if currency == "" {
		currency = domain.NormalizeCurrency(s.settings.DefaultCurrency)
	}
	if err := validateCommissionInput(input, currency); err != nil {
		return nil, err
	}

	existing, err := s.commissionBySeller(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var fresh []*domain.CommissionRecord
	for _, alloc := range input.Allocations {
		if _, ok := existing[alloc.SellerID]; ok {
			continue
		}
		rate := s.rates.Resolve(alloc.SellerID, alloc.CategoryID)
		amount := domain.CalculateCommission(alloc.Amount, rate, currency)
		fresh = append(fresh, &domain.CommissionRecord{
			ID:                   uuid.New(),
			OrderID:              input.OrderID,
			SellerID:             alloc.SellerID,
			CategoryID:           alloc.CategoryID,
			PaymentTransactionID: input.PaymentTransactionID,
			Currency:             currency,
			OrderAmount:          alloc.Amount,
			CommissionRate:       rate,
			CommissionAmount:     amount,
			NetCommissionAmount:  amount,
			RefundedAmount:       decimal.Zero,
			CalculatedAt:         now,
			CreatedAt:            now,
			LastUpdatedAt:        now,
		})
	}

	if len(fresh) > 0 {
		if _, err := s.commissionRepo.CreateBatch(ctx, fresh); err != nil {
			return nil, err
		}
		// A concurrent calculation for the same order may have won some rows
		existing, err = s.commissionBySeller(ctx, input.OrderID)
		if err != nil {
			return nil, err
		}
	}

	records := make([]*domain.CommissionRecord, 0, len(input.Allocations))
	for _, alloc := range input.Allocations {
		rec, ok := existing[alloc.SellerID]
		if !ok {
			return nil, fmt.Errorf("commission for seller %s was not stored", alloc.SellerID)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *CommissionService) commissionBySeller(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]*domain.CommissionRecord, error) {
	records, err := s.commissionRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	bySeller := make(map[uuid.UUID]*domain.CommissionRecord, len(records))
	for _, r := range records {
		bySeller[r.SellerID] = r
	}
	return bySeller, nil
}

func validateCommissionInput(input domain.CalculateCommissionInput, currency string) error {
	verr := &domain.ValidationError{}
	if input.OrderID == uuid.Nil {
		verr.Add("orderId", "Order ID is required")
	}
	if !domain.IsCurrencyCode(currency) {
		verr.Add("currency", "Currency must be a three-letter code")
	}
	if len(input.Allocations) == 0 {
		verr.Add("allocations", "At least one seller allocation is required")
	}
	seen := make(map[uuid.UUID]bool, len(input.Allocations))
	for i, alloc := range input.Allocations {
		field := fmt.Sprintf("allocations[%d]", i)
		if alloc.SellerID == uuid.Nil {
			verr.Add(field+".sellerId", "Seller ID is required")
		} else if seen[alloc.SellerID] {
			verr.Add(field+".sellerId", "Seller appears more than once")
		}
		seen[alloc.SellerID] = true
		domain.ValidateAmount(verr, field+".amount", alloc.Amount, currency)
	}
	return verr.OrNil()
}

// RecalculatePartialRefund reduces the net commission of one allocation.
// refundAmount is the cumulative amount refunded to date, not the latest
// increment. A call with a total at or below the one already applied changes
// nothing, so the net commission never increases.
func (s *CommissionService) RecalculatePartialRefund(ctx context.Context, orderID, sellerID uuid.UUID, refundAmount decimal.Decimal) (*domain.CommissionRecord, error) {
	if refundAmount.IsNegative() {
		return nil, domain.NewValidationError("refundAmount", "Refund amount cannot be negative")
	}

	record, err := s.commissionRepo.GetByOrderAndSeller(ctx, orderID, sellerID)
	if err != nil {
		return nil, err
	}
	if !domain.FitsCurrency(refundAmount, record.Currency) {
		return nil, domain.NewValidationError("refundAmount", fmt.Sprintf("Refund amount must have at most %d decimal places", domain.CurrencyPrecision(record.Currency)))
	}

	if refundAmount.LessThanOrEqual(record.RefundedAmount) {
		return record, nil
	}

	net := domain.NetCommissionAfterRefund(record.CommissionAmount, record.OrderAmount, refundAmount, record.Currency)
	if net.GreaterThan(record.NetCommissionAmount) {
		net = record.NetCommissionAmount
	}

	updated := *record
	updated.NetCommissionAmount = net
	updated.RefundedAmount = decimal.Min(refundAmount, record.OrderAmount)
	updated.LastUpdatedAt = s.now().UTC()

	saved, err := s.commissionRepo.UpdateNetCommission(ctx, &updated)
	if err != nil {
		return nil, err
	}

	s.publishEvent(saved.SellerID, websocket.CommissionAdjusted(saved))
	return saved, nil
}

// GetByOrderID returns the commission records of an order
func (s *CommissionService) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.CommissionRecord, error) {
	return s.commissionRepo.GetByOrderID(ctx, orderID)
}

// GetBySellerID returns a seller's commission records
func (s *CommissionService) GetBySellerID(ctx context.Context, sellerID uuid.UUID) ([]*domain.CommissionRecord, error) {
	return s.commissionRepo.GetBySellerID(ctx, sellerID)
}
