package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/config"
	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCommissionService() (*CommissionService, *testutil.MockCommissionRepository, *config.CommissionRates) {
	repo := testutil.NewMockCommissionRepository()
	rates := config.NewCommissionRates(dec("10"))
	svc := NewCommissionService(repo, rates, DefaultSettlementSettings())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, rates
}

func commissionInput(orderID uuid.UUID, currency string, allocs ...domain.SellerAllocation) domain.CalculateCommissionInput {
	return domain.CalculateCommissionInput{
		PaymentTransactionID: "pi_456",
		OrderID:              orderID,
		Currency:             currency,
		Allocations:          allocs,
	}
}

func TestCommissionService_Calculate_RateResolution(t *testing.T) {
	svc, _, rates := setupCommissionService()
	orderID := uuid.New()
	plain, overridden, inCategory, both := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	category := uuid.New()

	rates.Sellers[overridden] = dec("5")
	rates.Sellers[both] = dec("7.5")
	rates.Categories[category] = dec("15")

	records, err := svc.Calculate(context.Background(), commissionInput(orderID, "USD",
		domain.SellerAllocation{SellerID: plain, Amount: dec("100")},
		domain.SellerAllocation{SellerID: overridden, Amount: dec("100")},
		domain.SellerAllocation{SellerID: inCategory, Amount: dec("100"), CategoryID: &category},
		domain.SellerAllocation{SellerID: both, Amount: dec("100"), CategoryID: &category},
	))
	require.NoError(t, err)
	require.Len(t, records, 4)

	expected := []string{"10", "5", "15", "7.5"}
	for i, rec := range records {
		assert.True(t, rec.CommissionRate.Equal(dec(expected[i])), "rate %d: got %s", i, rec.CommissionRate)
		assert.True(t, rec.CommissionAmount.Equal(dec(expected[i])), "amount %d: got %s", i, rec.CommissionAmount)
		assert.True(t, rec.NetCommissionAmount.Equal(rec.CommissionAmount))
		assert.True(t, rec.RefundedAmount.IsZero())
		assert.Equal(t, "pi_456", rec.PaymentTransactionID)
	}
	assert.Equal(t, &category, records[2].CategoryID)
}

func TestCommissionService_Calculate_Rounding(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		rate     string
		currency string
		want     string
	}{
		{"half cent rounds away from zero", "0.05", "10", "USD", "0.01"},
		{"two decimals", "33.33", "10", "USD", "3.33"},
		{"zero decimal currency", "1234", "12.5", "JPY", "154"},
		{"three decimal currency", "10.005", "10", "KWD", "1.001"},
		{"default currency", "19.99", "10", "", "2.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, rates := setupCommissionService()
			rates.Default = dec(tt.rate)

			records, err := svc.Calculate(context.Background(), commissionInput(uuid.New(), tt.currency,
				domain.SellerAllocation{SellerID: uuid.New(), Amount: dec(tt.amount)}))
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.True(t, records[0].CommissionAmount.Equal(dec(tt.want)), "got %s", records[0].CommissionAmount)
			if tt.currency == "" {
				assert.Equal(t, "USD", records[0].Currency)
			}
		})
	}
}

func TestCommissionService_Calculate_Validation(t *testing.T) {
	svc, repo, _ := setupCommissionService()

	_, err := svc.Calculate(context.Background(), commissionInput(uuid.New(), "USD"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Calculate(context.Background(), commissionInput(uuid.New(), "USD",
		domain.SellerAllocation{SellerID: uuid.New(), Amount: decimal.Zero}))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Calculate(context.Background(), commissionInput(uuid.Nil, "USD",
		domain.SellerAllocation{SellerID: uuid.New(), Amount: dec("1")}))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	tests := []struct {
		name     string
		currency string
		amount   string
		field    string
	}{
		{"finer than currency precision", "USD", "10.12345", "allocations[0].amount"},
		{"fractional yen", "JPY", "1234.5", "allocations[0].amount"},
		{"four letter currency", "EURO", "10", "currency"},
		{"two letter currency", "US", "10", "currency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Calculate(context.Background(), commissionInput(uuid.New(), tt.currency,
				domain.SellerAllocation{SellerID: uuid.New(), Amount: dec(tt.amount)}))
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}

	assert.Equal(t, 0, repo.CreateCalls)
}

func TestCommissionService_Calculate_Idempotent(t *testing.T) {
	svc, repo, rates := setupCommissionService()
	orderID, s1, s2 := uuid.New(), uuid.New(), uuid.New()

	first, err := svc.Calculate(context.Background(), commissionInput(orderID, "USD",
		domain.SellerAllocation{SellerID: s1, Amount: dec("100")}))
	require.NoError(t, err)

	// Rate changes after the first calculation must not affect stored records
	rates.Default = dec("20")

	second, err := svc.Calculate(context.Background(), commissionInput(orderID, "USD",
		domain.SellerAllocation{SellerID: s1, Amount: dec("100")},
		domain.SellerAllocation{SellerID: s2, Amount: dec("50")}))
	require.NoError(t, err)
	require.Len(t, second, 2)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.True(t, second[0].CommissionRate.Equal(dec("10")))
	assert.True(t, second[1].CommissionRate.Equal(dec("20")))

	all, _ := repo.GetByOrderID(context.Background(), orderID)
	assert.Len(t, all, 2)
}

func TestCommissionService_Calculate_StorageError(t *testing.T) {
	svc, repo, _ := setupCommissionService()
	repo.CreateBatchFn = func(records []*domain.CommissionRecord) ([]*domain.CommissionRecord, error) {
		return nil, errors.New("insert failed")
	}

	_, err := svc.Calculate(context.Background(), commissionInput(uuid.New(), "USD",
		domain.SellerAllocation{SellerID: uuid.New(), Amount: dec("10")}))
	assert.EqualError(t, err, "insert failed")
}

func seedCommission(t *testing.T, svc *CommissionService, orderAmount string) (uuid.UUID, uuid.UUID) {
	t.Helper()
	orderID, sellerID := uuid.New(), uuid.New()
	_, err := svc.Calculate(context.Background(), commissionInput(orderID, "USD",
		domain.SellerAllocation{SellerID: sellerID, Amount: dec(orderAmount)}))
	require.NoError(t, err)
	return orderID, sellerID
}

func TestCommissionService_RecalculatePartialRefund(t *testing.T) {
	svc, _, _ := setupCommissionService()
	orderID, sellerID := seedCommission(t, svc, "200")
	publisher := &testutil.MockEventPublisher{}
	svc.SetEventPublisher(publisher)

	rec, err := svc.RecalculatePartialRefund(context.Background(), orderID, sellerID, dec("50"))
	require.NoError(t, err)
	assert.True(t, rec.CommissionAmount.Equal(dec("20")))
	assert.True(t, rec.NetCommissionAmount.Equal(dec("15")))
	assert.True(t, rec.RefundedAmount.Equal(dec("50")))
	assert.Equal(t, []string{"commission.adjusted"}, publisher.Types())

	// Same cumulative total again is idempotent
	rec, err = svc.RecalculatePartialRefund(context.Background(), orderID, sellerID, dec("50"))
	require.NoError(t, err)
	assert.True(t, rec.NetCommissionAmount.Equal(dec("15")))
	assert.Len(t, publisher.Events, 1)

	// A smaller cumulative total never raises the net commission
	rec, err = svc.RecalculatePartialRefund(context.Background(), orderID, sellerID, dec("10"))
	require.NoError(t, err)
	assert.True(t, rec.NetCommissionAmount.Equal(dec("15")))
}

func TestCommissionService_RecalculatePartialRefund_Monotonic(t *testing.T) {
	svc, _, _ := setupCommissionService()
	orderID, sellerID := seedCommission(t, svc, "99.99")

	previous := dec("10.00")
	for _, refund := range []string{"0", "0.01", "12.34", "12.34", "50", "99.98", "99.99", "150"} {
		rec, err := svc.RecalculatePartialRefund(context.Background(), orderID, sellerID, dec(refund))
		require.NoError(t, err)
		assert.True(t, rec.NetCommissionAmount.LessThanOrEqual(previous),
			"refund %s raised net commission from %s to %s", refund, previous, rec.NetCommissionAmount)
		assert.False(t, rec.NetCommissionAmount.IsNegative())
		previous = rec.NetCommissionAmount
	}
	assert.True(t, previous.IsZero())
}

func TestCommissionService_RecalculatePartialRefund_FullRefundIsZero(t *testing.T) {
	svc, _, _ := setupCommissionService()
	orderID, sellerID := seedCommission(t, svc, "33.33")

	rec, err := svc.RecalculatePartialRefund(context.Background(), orderID, sellerID, dec("33.33"))
	require.NoError(t, err)
	assert.True(t, rec.NetCommissionAmount.Equal(decimal.Zero), "got %s", rec.NetCommissionAmount)
}

func TestCommissionService_RecalculatePartialRefund_Errors(t *testing.T) {
	svc, _, _ := setupCommissionService()
	orderID, sellerID := seedCommission(t, svc, "100")

	_, err := svc.RecalculatePartialRefund(context.Background(), orderID, sellerID, dec("-1"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.RecalculatePartialRefund(context.Background(), orderID, sellerID, dec("1.005"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.RecalculatePartialRefund(context.Background(), orderID, uuid.New(), dec("1"))
	assert.ErrorIs(t, err, domain.ErrCommissionNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
