package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowService holds buyer funds per seller allocation and moves them to
// released or refunded
type EscrowService struct {
	tx             domain.Transactor
	escrowRepo     domain.EscrowRepository
	orders         domain.OrderDirectory
	eventPublisher websocket.EventPublisher
	now            func() time.Time
}

// NewEscrowService creates a new EscrowService
func NewEscrowService(tx domain.Transactor, escrowRepo domain.EscrowRepository, orders domain.OrderDirectory) *EscrowService {
	return &EscrowService{
		tx:         tx,
		escrowRepo: escrowRepo,
		orders:     orders,
		now:        time.Now,
	}
}

// SetEventPublisher sets the event publisher for real-time updates
func (s *EscrowService) SetEventPublisher(publisher websocket.EventPublisher) {
	s.eventPublisher = publisher
}

// publishEvent publishes a WebSocket event if a publisher is configured
func (s *EscrowService) publishEvent(sellerID uuid.UUID, event websocket.Event) {
	if s.eventPublisher != nil {
		s.eventPublisher.Publish(sellerID, event)
	}
}

// AuthorizeOrder checks that the actor may act on the order: admins and the
// system may act on any order, buyers only on their own
func (s *EscrowService) AuthorizeOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) error {
	if actor.SubjectID == "" {
		return domain.ErrNotAuthorized
	}
	if actor.IsPrivileged() {
		return nil
	}
	buyerID, err := s.orders.GetOrderBuyerID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotAuthorized
		}
		return fmt.Errorf("failed to resolve order owner: %w", err)
	}
	if buyerID != actor.SubjectID {
		return domain.ErrNotAuthorized
	}
	return nil
}

// Hold places one Held entry per seller allocation
func (s *EscrowService) Hold(ctx context.Context, actor domain.Actor, input domain.HoldInput) ([]*domain.EscrowEntry, error) {
	currency := domain.NormalizeCurrency(input.Currency)
	if err := validateHold(input, currency); err != nil {
		return nil, err
	}

	if err := s.AuthorizeOrder(ctx, actor, input.OrderID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entries := make([]*domain.EscrowEntry, 0, len(input.Allocations))
	sellerIDs := make([]uuid.UUID, 0, len(input.Allocations))
	for _, alloc := range input.Allocations {
		entries = append(entries, &domain.EscrowEntry{
			ID:                   uuid.New(),
			OrderID:              input.OrderID,
			SellerID:             alloc.SellerID,
			PaymentTransactionID: input.PaymentTransactionID,
			Amount:               alloc.Amount,
			Currency:             currency,
			Status:               domain.EscrowStatusHeld,
			AuditNote:            input.AuditNote,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
		sellerIDs = append(sellerIDs, alloc.SellerID)
	}

	err := s.tx.WithinTx(ctx, func(tx any) error {
		exists, err := s.escrowRepo.ExistsForOrderSellersTx(ctx, tx, input.OrderID, sellerIDs)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrEscrowAlreadyHeld
		}
		return s.escrowRepo.CreateBatchTx(ctx, tx, entries)
	})
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		s.publishEvent(e.SellerID, websocket.EscrowHeld(e))
	}
	return entries, nil
}

func validateHold(input domain.HoldInput, currency string) error {
	verr := &domain.ValidationError{}
	if input.OrderID == uuid.Nil {
		verr.Add("orderId", "Order ID is required")
	}
	if currency == "" {
		verr.Add("currency", "Currency is required")
	} else if !domain.IsCurrencyCode(currency) {
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

// Release moves Held entries of an order (or one seller of it) to Released.
// Only entries that transitioned in this call are returned, so a repeated
// call returns an empty list.
func (s *EscrowService) Release(ctx context.Context, actor domain.Actor, orderID uuid.UUID, sellerID *uuid.UUID, auditNote *string) ([]*domain.EscrowEntry, error) {
	if orderID == uuid.Nil {
		return nil, domain.NewValidationError("orderId", "Order ID is required")
	}
	if err := s.AuthorizeOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}

	var released []*domain.EscrowEntry
	err := s.tx.WithinTx(ctx, func(tx any) error {
		entries, err := s.escrowRepo.GetByOrderIDForUpdateTx(ctx, tx, orderID, sellerID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return domain.ErrEscrowNotFound
		}

		ids := idsWithStatus(entries, domain.EscrowStatusHeld)
		if len(ids) == 0 {
			return nil
		}
		released, err = s.escrowRepo.TransitionTx(ctx, tx, domain.EscrowTransition{
			IDs:       ids,
			To:        domain.EscrowStatusReleased,
			At:        s.now().UTC(),
			AuditNote: auditNote,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if released == nil {
		released = []*domain.EscrowEntry{}
	}
	for _, e := range released {
		s.publishEvent(e.SellerID, websocket.EscrowReleased(e))
	}
	return released, nil
}

// Refund moves Held entries to Refunded. If any targeted entry was already
// released nothing changes.
func (s *EscrowService) Refund(ctx context.Context, actor domain.Actor, orderID uuid.UUID, sellerID *uuid.UUID, auditNote *string) ([]*domain.EscrowEntry, error) {
	if orderID == uuid.Nil {
		return nil, domain.NewValidationError("orderId", "Order ID is required")
	}
	if actor.SubjectID == "" || !actor.IsPrivileged() {
		return nil, domain.ErrNotAuthorized
	}

	var refunded []*domain.EscrowEntry
	err := s.tx.WithinTx(ctx, func(tx any) error {
		entries, err := s.escrowRepo.GetByOrderIDForUpdateTx(ctx, tx, orderID, sellerID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return domain.ErrEscrowNotFound
		}
		if len(idsWithStatus(entries, domain.EscrowStatusReleased)) > 0 {
			return domain.ErrEscrowAlreadyReleased
		}

		ids := idsWithStatus(entries, domain.EscrowStatusHeld)
		if len(ids) == 0 {
			return nil
		}
		refunded, err = s.escrowRepo.TransitionTx(ctx, tx, domain.EscrowTransition{
			IDs:       ids,
			To:        domain.EscrowStatusRefunded,
			At:        s.now().UTC(),
			AuditNote: auditNote,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if refunded == nil {
		refunded = []*domain.EscrowEntry{}
	}
	for _, e := range refunded {
		s.publishEvent(e.SellerID, websocket.EscrowRefunded(e))
	}
	return refunded, nil
}

// CheckReleaseDwell returns ErrEscrowDwellNotElapsed when any Held entry
// targeted by a release is younger than the eligibility period
func (s *EscrowService) CheckReleaseDwell(ctx context.Context, orderID uuid.UUID, sellerID *uuid.UUID, days int) error {
	entries, err := s.escrowRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, e := range entries {
		if sellerID != nil && e.SellerID != *sellerID {
			continue
		}
		if e.Status == domain.EscrowStatusHeld && !e.DwellElapsed(now, days) {
			return domain.ErrEscrowDwellNotElapsed
		}
	}
	return nil
}

// GetByOrderID returns every entry of an order
func (s *EscrowService) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.EscrowEntry, error) {
	return s.escrowRepo.GetByOrderID(ctx, orderID)
}

// GetBySellerID returns a seller's entries, optionally filtered by status
func (s *EscrowService) GetBySellerID(ctx context.Context, sellerID uuid.UUID, status *domain.EscrowStatus) ([]*domain.EscrowEntry, error) {
	if status != nil && !status.IsValid() {
		return nil, domain.NewValidationError("status", "Invalid escrow status")
	}
	return s.escrowRepo.GetBySellerID(ctx, sellerID, status)
}

// Balance totals an order's escrow by status, one line per currency
func (s *EscrowService) Balance(ctx context.Context, orderID uuid.UUID) ([]*domain.EscrowBalance, error) {
	entries, err := s.escrowRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrEscrowNotFound
	}

	byCurrency := make(map[string]*domain.EscrowBalance)
	for _, e := range entries {
		b, ok := byCurrency[e.Currency]
		if !ok {
			b = &domain.EscrowBalance{
				OrderID:  orderID,
				Currency: e.Currency,
				Held:     decimal.Zero,
				Released: decimal.Zero,
				Refunded: decimal.Zero,
				Total:    decimal.Zero,
			}
			byCurrency[e.Currency] = b
		}
		switch e.Status {
		case domain.EscrowStatusHeld:
			b.Held = b.Held.Add(e.Amount)
		case domain.EscrowStatusReleased:
			b.Released = b.Released.Add(e.Amount)
		case domain.EscrowStatusRefunded:
			b.Refunded = b.Refunded.Add(e.Amount)
		}
		b.Total = b.Total.Add(e.Amount)
	}

	balances := make([]*domain.EscrowBalance, 0, len(byCurrency))
	for _, b := range byCurrency {
		balances = append(balances, b)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances, nil
}

func idsWithStatus(entries []*domain.EscrowEntry, status domain.EscrowStatus) []uuid.UUID {
	var ids []uuid.UUID
	for _, e := range entries {
		if e.Status == status {
			ids = append(ids, e.ID)
		}
	}
	return ids
}
