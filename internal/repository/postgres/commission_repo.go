package postgres

import (
	"context"
	"errors"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const commissionColumns = `id, order_id, seller_id, category_id, payment_transaction_id, currency,
	order_amount, commission_rate, commission_amount, net_commission_amount, refunded_amount,
	calculated_at, created_at, last_updated_at`

// CommissionRepository implements domain.CommissionRepository using PostgreSQL
type CommissionRepository struct {
	pool *pgxpool.Pool
}

// NewCommissionRepository creates a new CommissionRepository
func NewCommissionRepository(pool *pgxpool.Pool) *CommissionRepository {
	return &CommissionRepository{pool: pool}
}

func scanCommissionRecord(row pgx.Row) (*domain.CommissionRecord, error) {
	var c domain.CommissionRecord
	var orderAmount, rate, commission, net, refunded pgtype.Numeric
	if err := row.Scan(
		&c.ID, &c.OrderID, &c.SellerID, &c.CategoryID, &c.PaymentTransactionID, &c.Currency,
		&orderAmount, &rate, &commission, &net, &refunded,
		&c.CalculatedAt, &c.CreatedAt, &c.LastUpdatedAt,
	); err != nil {
		return nil, err
	}
	c.OrderAmount = pgNumericToDecimal(orderAmount)
	c.CommissionRate = pgNumericToDecimal(rate)
	c.CommissionAmount = pgNumericToDecimal(commission)
	c.NetCommissionAmount = pgNumericToDecimal(net)
	c.RefundedAmount = pgNumericToDecimal(refunded)
	return &c, nil
}

func (r *CommissionRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.CommissionRecord, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.CommissionRecord{}
	for rows.Next() {
		c, err := scanCommissionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// CreateBatch inserts records and returns the ones actually written. Records
// for an (order, seller) pair that already exists are skipped.
func (r *CommissionRepository) CreateBatch(ctx context.Context, records []*domain.CommissionRecord) ([]*domain.CommissionRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	inserted := []*domain.CommissionRecord{}
	for _, c := range records {
		nums, err := numerics(c.OrderAmount, c.CommissionRate, c.CommissionAmount, c.NetCommissionAmount, c.RefundedAmount)
		if err != nil {
			return nil, err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO commission_records (
				id, order_id, seller_id, category_id, payment_transaction_id, currency,
				order_amount, commission_rate, commission_amount, net_commission_amount, refunded_amount,
				calculated_at, created_at, last_updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (order_id, seller_id) DO NOTHING
			RETURNING `+commissionColumns,
			c.ID, c.OrderID, c.SellerID, c.CategoryID, c.PaymentTransactionID, c.Currency,
			nums[0], nums[1], nums[2], nums[3], nums[4],
			c.CalculatedAt, c.CreatedAt, c.LastUpdatedAt,
		)
		stored, err := scanCommissionRecord(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, stored)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return inserted, nil
}

// GetByOrderAndSeller returns the record for one allocation
func (r *CommissionRepository) GetByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*domain.CommissionRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+commissionColumns+`
		FROM commission_records
		WHERE order_id = $1 AND seller_id = $2`, orderID, sellerID)
	c, err := scanCommissionRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCommissionNotFound
	}
	return c, err
}

// GetByOrderID returns an order's records
func (r *CommissionRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.CommissionRecord, error) {
	return r.query(ctx, `
		SELECT `+commissionColumns+`
		FROM commission_records
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
}

// GetBySellerID returns a seller's records, newest first
func (r *CommissionRepository) GetBySellerID(ctx context.Context, sellerID uuid.UUID) ([]*domain.CommissionRecord, error) {
	return r.query(ctx, `
		SELECT `+commissionColumns+`
		FROM commission_records
		WHERE seller_id = $1
		ORDER BY created_at DESC, id`, sellerID)
}

// UpdateNetCommission stores a larger cumulative refund. The guard keeps the
// net amount non-increasing under concurrent adjustments; when it does not
// match, the current row is returned unchanged.
func (r *CommissionRepository) UpdateNetCommission(ctx context.Context, record *domain.CommissionRecord) (*domain.CommissionRecord, error) {
	nums, err := numerics(record.NetCommissionAmount, record.RefundedAmount)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE commission_records
		SET net_commission_amount = $2, refunded_amount = $3, last_updated_at = $4
		WHERE id = $1 AND refunded_amount < $3 AND net_commission_amount >= $2
		RETURNING `+commissionColumns,
		record.ID, nums[0], nums[1], record.LastUpdatedAt)
	updated, err := scanCommissionRecord(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	row = r.pool.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commission_records WHERE id = $1`, record.ID)
	current, err := scanCommissionRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCommissionNotFound
	}
	return current, err
}
