package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fixedNow    = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	adminActor  = domain.Actor{SubjectID: "auth0|admin", Role: domain.RoleAdmin}
	buyerActor  = domain.Actor{SubjectID: "auth0|buyer", Role: domain.RoleBuyer}
	otherBuyer  = domain.Actor{SubjectID: "auth0|someone-else", Role: domain.RoleBuyer}
	sellerActor = domain.Actor{SubjectID: "auth0|seller", Role: domain.RoleSeller}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setupEscrowService() (*EscrowService, *testutil.MockEscrowRepository, *testutil.MockOrderDirectory, *testutil.MockTransactor) {
	escrowRepo := testutil.NewMockEscrowRepository()
	orders := testutil.NewMockOrderDirectory()
	tx := testutil.NewMockTransactor(escrowRepo)

	svc := NewEscrowService(tx, escrowRepo, orders)
	svc.now = func() time.Time { return fixedNow }
	return svc, escrowRepo, orders, tx
}

func holdInput(orderID uuid.UUID, allocs ...domain.SellerAllocation) domain.HoldInput {
	return domain.HoldInput{
		OrderID:              orderID,
		PaymentTransactionID: "pi_123",
		Allocations:          allocs,
		Currency:             "usd",
	}
}

func withCurrency(input domain.HoldInput, currency string) domain.HoldInput {
	input.Currency = currency
	return input
}

func TestEscrowService_Hold_Success(t *testing.T) {
	svc, repo, orders, _ := setupEscrowService()
	orderID, s1, s2 := uuid.New(), uuid.New(), uuid.New()
	orders.Buyers[orderID] = buyerActor.SubjectID
	publisher := &testutil.MockEventPublisher{}
	svc.SetEventPublisher(publisher)

	entries, err := svc.Hold(context.Background(), buyerActor, holdInput(orderID,
		domain.SellerAllocation{SellerID: s1, Amount: dec("100")},
		domain.SellerAllocation{SellerID: s2, Amount: dec("50")},
	))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		assert.Equal(t, domain.EscrowStatusHeld, e.Status)
		assert.Equal(t, "USD", e.Currency)
		assert.Equal(t, "pi_123", e.PaymentTransactionID)
		assert.False(t, e.IsEligibleForPayout)
		assert.Equal(t, fixedNow, e.CreatedAt)
	}
	assert.True(t, entries[0].Amount.Equal(dec("100")))
	assert.True(t, entries[1].Amount.Equal(dec("50")))

	stored, err := repo.GetByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, []string{"escrow.held", "escrow.held"}, publisher.Types())
}

func TestEscrowService_Hold_ValidationErrors(t *testing.T) {
	svc, _, _, _ := setupEscrowService()
	orderID, sellerID := uuid.New(), uuid.New()

	tests := []struct {
		name  string
		input domain.HoldInput
		field string
	}{
		{"no allocations", holdInput(orderID), "allocations"},
		{"zero amount", holdInput(orderID, domain.SellerAllocation{SellerID: sellerID, Amount: decimal.Zero}), "allocations[0].amount"},
		{"negative amount", holdInput(orderID, domain.SellerAllocation{SellerID: sellerID, Amount: dec("-5")}), "allocations[0].amount"},
		{"missing seller", holdInput(orderID, domain.SellerAllocation{Amount: dec("5")}), "allocations[0].sellerId"},
		{"missing order", holdInput(uuid.Nil, domain.SellerAllocation{SellerID: sellerID, Amount: dec("5")}), "orderId"},
		{"duplicate seller", holdInput(orderID,
			domain.SellerAllocation{SellerID: sellerID, Amount: dec("5")},
			domain.SellerAllocation{SellerID: sellerID, Amount: dec("6")},
		), "allocations[1].sellerId"},
		{"finer than currency precision", holdInput(orderID, domain.SellerAllocation{SellerID: sellerID, Amount: dec("10.12345")}), "allocations[0].amount"},
		{"fractional yen", withCurrency(holdInput(orderID, domain.SellerAllocation{SellerID: sellerID, Amount: dec("100.5")}), "JPY"), "allocations[0].amount"},
		{"amount beyond storable range", holdInput(orderID, domain.SellerAllocation{SellerID: sellerID, Amount: dec("10000000000000000")}), "allocations[0].amount"},
		{"four letter currency", withCurrency(holdInput(orderID, domain.SellerAllocation{SellerID: sellerID, Amount: dec("5")}), "EURO"), "currency"},
		{"numeric currency", withCurrency(holdInput(orderID, domain.SellerAllocation{SellerID: sellerID, Amount: dec("5")}), "978"), "currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Hold(context.Background(), adminActor, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)

			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			fields := make([]string, len(verr.Fields))
			for i, f := range verr.Fields {
				fields[i] = f.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	t.Run("missing currency", func(t *testing.T) {
		input := holdInput(orderID, domain.SellerAllocation{SellerID: sellerID, Amount: dec("5")})
		input.Currency = "  "
		_, err := svc.Hold(context.Background(), adminActor, input)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestEscrowService_Hold_NotAuthorized(t *testing.T) {
	svc, repo, orders, _ := setupEscrowService()
	orderID := uuid.New()
	orders.Buyers[orderID] = buyerActor.SubjectID
	input := holdInput(orderID, domain.SellerAllocation{SellerID: uuid.New(), Amount: dec("10")})

	_, err := svc.Hold(context.Background(), otherBuyer, input)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = svc.Hold(context.Background(), sellerActor, input)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = svc.Hold(context.Background(), domain.Actor{Role: domain.RoleAdmin}, input)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	// Unknown orders do not leak their existence
	_, err = svc.Hold(context.Background(), buyerActor, holdInput(uuid.New(), input.Allocations...))
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	assert.Empty(t, repo.Entries)
}

func TestEscrowService_Hold_OrderLookupFailure(t *testing.T) {
	svc, _, orders, _ := setupEscrowService()
	orders.Err = errors.New("connection refused")

	_, err := svc.Hold(context.Background(), buyerActor, holdInput(uuid.New(), domain.SellerAllocation{SellerID: uuid.New(), Amount: dec("10")}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEscrowService_Hold_AlreadyHeld(t *testing.T) {
	svc, repo, _, _ := setupEscrowService()
	orderID, s1, s2 := uuid.New(), uuid.New(), uuid.New()

	_, err := svc.Hold(context.Background(), adminActor, holdInput(orderID, domain.SellerAllocation{SellerID: s1, Amount: dec("100")}))
	require.NoError(t, err)

	// A duplicate payment event must not add escrow for any seller
	_, err = svc.Hold(context.Background(), adminActor, holdInput(orderID,
		domain.SellerAllocation{SellerID: s2, Amount: dec("40")},
		domain.SellerAllocation{SellerID: s1, Amount: dec("100")},
	))
	assert.ErrorIs(t, err, domain.ErrEscrowAlreadyHeld)
	assert.ErrorIs(t, err, domain.ErrBusinessRule)
	assert.Len(t, repo.Entries, 1)
}

func TestEscrowService_Hold_RollsBackOnStorageFailure(t *testing.T) {
	svc, repo, _, tx := setupEscrowService()
	repo.CreateBatchFn = func(entries []*domain.EscrowEntry) error {
		return errors.New("disk full")
	}

	_, err := svc.Hold(context.Background(), adminActor, holdInput(uuid.New(), domain.SellerAllocation{SellerID: uuid.New(), Amount: dec("10")}))
	require.Error(t, err)
	assert.Equal(t, 1, tx.Rollbacks)
	assert.Empty(t, repo.Entries)
}

func TestEscrowService_Conservation(t *testing.T) {
	svc, _, _, _ := setupEscrowService()
	orderID := uuid.New()
	s1, s2, s3 := uuid.New(), uuid.New(), uuid.New()
	allocs := []domain.SellerAllocation{
		{SellerID: s1, Amount: dec("19.99")},
		{SellerID: s2, Amount: dec("0.01")},
		{SellerID: s3, Amount: dec("80.00")},
	}
	want := dec("100.00")

	total := func() decimal.Decimal {
		balances, err := svc.Balance(context.Background(), orderID)
		require.NoError(t, err)
		require.Len(t, balances, 1)
		b := balances[0]
		assert.True(t, b.Held.Add(b.Released).Add(b.Refunded).Equal(b.Total))
		return b.Total
	}

	_, err := svc.Hold(context.Background(), adminActor, holdInput(orderID, allocs...))
	require.NoError(t, err)
	assert.True(t, total().Equal(want))

	_, err = svc.Release(context.Background(), adminActor, orderID, &s1, nil)
	require.NoError(t, err)
	assert.True(t, total().Equal(want))

	_, err = svc.Refund(context.Background(), adminActor, orderID, &s2, nil)
	require.NoError(t, err)
	assert.True(t, total().Equal(want))

	_, err = svc.Release(context.Background(), adminActor, orderID, nil, nil)
	require.NoError(t, err)
	assert.True(t, total().Equal(want))

	balances, err := svc.Balance(context.Background(), orderID)
	require.NoError(t, err)
	assert.True(t, balances[0].Held.IsZero())
	assert.True(t, balances[0].Released.Equal(dec("99.99")))
	assert.True(t, balances[0].Refunded.Equal(dec("0.01")))
}

func TestEscrowService_Release(t *testing.T) {
	svc, repo, orders, _ := setupEscrowService()
	orderID, s1, s2 := uuid.New(), uuid.New(), uuid.New()
	orders.Buyers[orderID] = buyerActor.SubjectID
	note := "delivered"

	_, err := svc.Hold(context.Background(), buyerActor, holdInput(orderID,
		domain.SellerAllocation{SellerID: s1, Amount: dec("100")},
		domain.SellerAllocation{SellerID: s2, Amount: dec("50")},
	))
	require.NoError(t, err)

	t.Run("releases one seller", func(t *testing.T) {
		released, err := svc.Release(context.Background(), buyerActor, orderID, &s1, &note)
		require.NoError(t, err)
		require.Len(t, released, 1)
		assert.Equal(t, s1, released[0].SellerID)
		assert.Equal(t, domain.EscrowStatusReleased, released[0].Status)
		assert.True(t, released[0].IsEligibleForPayout)
		require.NotNil(t, released[0].ReleasedAt)
		assert.Equal(t, fixedNow, *released[0].ReleasedAt)
		assert.Equal(t, &note, released[0].AuditNote)
	})

	t.Run("releases remaining entries of the order", func(t *testing.T) {
		released, err := svc.Release(context.Background(), buyerActor, orderID, nil, nil)
		require.NoError(t, err)
		require.Len(t, released, 1)
		assert.Equal(t, s2, released[0].SellerID)
	})

	t.Run("repeat is a no-op", func(t *testing.T) {
		released, err := svc.Release(context.Background(), buyerActor, orderID, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, released)

		entries, _ := repo.GetByOrderID(context.Background(), orderID)
		for _, e := range entries {
			assert.Equal(t, domain.EscrowStatusReleased, e.Status)
		}
	})

	t.Run("other buyer is rejected", func(t *testing.T) {
		_, err := svc.Release(context.Background(), otherBuyer, orderID, nil, nil)
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	})
}

func TestEscrowService_Release_NotFound(t *testing.T) {
	svc, _, _, _ := setupEscrowService()
	orderID, sellerID := uuid.New(), uuid.New()

	_, err := svc.Release(context.Background(), adminActor, orderID, nil, nil)
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Hold(context.Background(), adminActor, holdInput(orderID, domain.SellerAllocation{SellerID: uuid.New(), Amount: dec("5")}))
	require.NoError(t, err)

	_, err = svc.Release(context.Background(), adminActor, orderID, &sellerID, nil)
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)
}

func TestEscrowService_Release_SkipsRefunded(t *testing.T) {
	svc, _, _, _ := setupEscrowService()
	orderID, s1, s2 := uuid.New(), uuid.New(), uuid.New()
	_, err := svc.Hold(context.Background(), adminActor, holdInput(orderID,
		domain.SellerAllocation{SellerID: s1, Amount: dec("10")},
		domain.SellerAllocation{SellerID: s2, Amount: dec("20")},
	))
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), adminActor, orderID, &s1, nil)
	require.NoError(t, err)

	released, err := svc.Release(context.Background(), adminActor, orderID, nil, nil)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, s2, released[0].SellerID)
}

func TestEscrowService_Refund(t *testing.T) {
	svc, repo, orders, _ := setupEscrowService()
	orderID, s1, s2 := uuid.New(), uuid.New(), uuid.New()
	orders.Buyers[orderID] = buyerActor.SubjectID

	_, err := svc.Hold(context.Background(), adminActor, holdInput(orderID,
		domain.SellerAllocation{SellerID: s1, Amount: dec("100")},
		domain.SellerAllocation{SellerID: s2, Amount: dec("50")},
	))
	require.NoError(t, err)

	t.Run("buyers cannot refund", func(t *testing.T) {
		_, err := svc.Refund(context.Background(), buyerActor, orderID, nil, nil)
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	})

	t.Run("refunds held entry", func(t *testing.T) {
		refunded, err := svc.Refund(context.Background(), adminActor, orderID, &s2, nil)
		require.NoError(t, err)
		require.Len(t, refunded, 1)
		assert.Equal(t, domain.EscrowStatusRefunded, refunded[0].Status)
		assert.False(t, refunded[0].IsEligibleForPayout)
		require.NotNil(t, refunded[0].RefundedAt)
	})

	t.Run("released entry blocks whole refund", func(t *testing.T) {
		_, err := svc.Release(context.Background(), adminActor, orderID, &s1, nil)
		require.NoError(t, err)

		_, err = svc.Refund(context.Background(), adminActor, orderID, nil, nil)
		assert.ErrorIs(t, err, domain.ErrEscrowAlreadyReleased)
		assert.ErrorIs(t, err, domain.ErrBusinessRule)

		entries, _ := repo.GetByOrderID(context.Background(), orderID)
		statuses := map[uuid.UUID]domain.EscrowStatus{}
		for _, e := range entries {
			statuses[e.SellerID] = e.Status
		}
		assert.Equal(t, domain.EscrowStatusReleased, statuses[s1])
		assert.Equal(t, domain.EscrowStatusRefunded, statuses[s2])
	})

	t.Run("already refunded is skipped", func(t *testing.T) {
		refunded, err := svc.Refund(context.Background(), adminActor, orderID, &s2, nil)
		require.NoError(t, err)
		assert.Empty(t, refunded)
	})
}

func TestEscrowService_Refund_MixedHeldAndReleasedChangesNothing(t *testing.T) {
	svc, repo, _, _ := setupEscrowService()
	orderID, s1, s2 := uuid.New(), uuid.New(), uuid.New()
	_, err := svc.Hold(context.Background(), adminActor, holdInput(orderID,
		domain.SellerAllocation{SellerID: s1, Amount: dec("10")},
		domain.SellerAllocation{SellerID: s2, Amount: dec("20")},
	))
	require.NoError(t, err)
	_, err = svc.Release(context.Background(), adminActor, orderID, &s1, nil)
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), adminActor, orderID, nil, nil)
	require.ErrorIs(t, err, domain.ErrEscrowAlreadyReleased)

	held := domain.EscrowStatusHeld
	entries, _ := repo.GetBySellerID(context.Background(), s2, &held)
	assert.Len(t, entries, 1, "held entry must stay held")
}

func TestEscrowService_CheckReleaseDwell(t *testing.T) {
	svc, repo, _, _ := setupEscrowService()
	orderID, young, old := uuid.New(), uuid.New(), uuid.New()

	repo.AddEntry(&domain.EscrowEntry{OrderID: orderID, SellerID: old, Amount: dec("10"), Currency: "USD",
		Status: domain.EscrowStatusHeld, CreatedAt: fixedNow.AddDate(0, 0, -14)})
	repo.AddEntry(&domain.EscrowEntry{OrderID: orderID, SellerID: young, Amount: dec("10"), Currency: "USD",
		Status: domain.EscrowStatusHeld, CreatedAt: fixedNow.AddDate(0, 0, -3)})

	assert.NoError(t, svc.CheckReleaseDwell(context.Background(), orderID, &old, 14))
	assert.ErrorIs(t, svc.CheckReleaseDwell(context.Background(), orderID, &young, 14), domain.ErrEscrowDwellNotElapsed)
	assert.ErrorIs(t, svc.CheckReleaseDwell(context.Background(), orderID, nil, 14), domain.ErrEscrowDwellNotElapsed)
	assert.NoError(t, svc.CheckReleaseDwell(context.Background(), orderID, nil, 0))
}

func TestEscrowService_Balance_PerCurrency(t *testing.T) {
	svc, repo, _, _ := setupEscrowService()
	orderID := uuid.New()
	repo.AddEntry(&domain.EscrowEntry{OrderID: orderID, SellerID: uuid.New(), Amount: dec("1000"), Currency: "JPY", Status: domain.EscrowStatusHeld})
	repo.AddEntry(&domain.EscrowEntry{OrderID: orderID, SellerID: uuid.New(), Amount: dec("12.50"), Currency: "EUR", Status: domain.EscrowStatusReleased})

	balances, err := svc.Balance(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "EUR", balances[0].Currency)
	assert.True(t, balances[0].Released.Equal(dec("12.50")))
	assert.Equal(t, "JPY", balances[1].Currency)
	assert.True(t, balances[1].Held.Equal(dec("1000")))

	_, err = svc.Balance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)
}

func TestEscrowService_GetBySellerID_InvalidStatus(t *testing.T) {
	svc, _, _, _ := setupEscrowService()
	bad := domain.EscrowStatus("frozen")

	_, err := svc.GetBySellerID(context.Background(), uuid.New(), &bad)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
