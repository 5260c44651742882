package postgres

import (
	"context"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const escrowColumns = `id, order_id, seller_id, payment_transaction_id, amount, currency, status,
	is_eligible_for_payout, payout_id, audit_note, created_at, updated_at, released_at, refunded_at`

// EscrowRepository implements domain.EscrowRepository using PostgreSQL
type EscrowRepository struct {
	pool *pgxpool.Pool
}

// NewEscrowRepository creates a new EscrowRepository
func NewEscrowRepository(pool *pgxpool.Pool) *EscrowRepository {
	return &EscrowRepository{pool: pool}
}

func scanEscrowEntry(row pgx.Row) (*domain.EscrowEntry, error) {
	var e domain.EscrowEntry
	var amount pgtype.Numeric
	var status string
	if err := row.Scan(
		&e.ID, &e.OrderID, &e.SellerID, &e.PaymentTransactionID, &amount, &e.Currency, &status,
		&e.IsEligibleForPayout, &e.PayoutID, &e.AuditNote, &e.CreatedAt, &e.UpdatedAt, &e.ReleasedAt, &e.RefundedAt,
	); err != nil {
		return nil, err
	}
	e.Amount = pgNumericToDecimal(amount)
	e.Status = domain.EscrowStatus(status)
	return &e, nil
}

func collectEscrowEntries(rows pgx.Rows) ([]*domain.EscrowEntry, error) {
	defer rows.Close()
	entries := []*domain.EscrowEntry{}
	for rows.Next() {
		e, err := scanEscrowEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateBatchTx inserts entries. A second entry for the same order and seller
// violates the unique key and is reported as domain.ErrEscrowAlreadyHeld.
func (r *EscrowRepository) CreateBatchTx(ctx context.Context, tx any, entries []*domain.EscrowEntry) error {
	pgxTx, err := asTx(tx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		amount, err := decimalToPgNumeric(e.Amount)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO escrow_entries (
				id, order_id, seller_id, payment_transaction_id, amount, currency, status,
				is_eligible_for_payout, audit_note, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, e.OrderID, e.SellerID, e.PaymentTransactionID, amount, e.Currency, string(e.Status),
			e.IsEligibleForPayout, e.AuditNote, e.CreatedAt, e.UpdatedAt,
		)
	}

	if err := execBatch(ctx, pgxTx, batch); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEscrowAlreadyHeld
		}
		return err
	}
	return nil
}

// ExistsForOrderSellersTx reports whether any of the sellers already has escrow for the order
func (r *EscrowRepository) ExistsForOrderSellersTx(ctx context.Context, tx any, orderID uuid.UUID, sellerIDs []uuid.UUID) (bool, error) {
	pgxTx, err := asTx(tx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = pgxTx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM escrow_entries WHERE order_id = $1 AND seller_id = ANY($2)
		)`, orderID, sellerIDs).Scan(&exists)
	return exists, err
}

// GetByOrderIDForUpdateTx locks and returns an order's entries, optionally for one seller
func (r *EscrowRepository) GetByOrderIDForUpdateTx(ctx context.Context, tx any, orderID uuid.UUID, sellerID *uuid.UUID) ([]*domain.EscrowEntry, error) {
	pgxTx, err := asTx(tx)
	if err != nil {
		return nil, err
	}

	rows, err := pgxTx.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_entries
		WHERE order_id = $1 AND ($2::uuid IS NULL OR seller_id = $2)
		ORDER BY created_at, id
		FOR UPDATE`, orderID, sellerID)
	if err != nil {
		return nil, err
	}
	return collectEscrowEntries(rows)
}

// TransitionTx moves the entries that are still Held to the target status and
// returns only those rows
func (r *EscrowRepository) TransitionTx(ctx context.Context, tx any, t domain.EscrowTransition) ([]*domain.EscrowEntry, error) {
	pgxTx, err := asTx(tx)
	if err != nil {
		return nil, err
	}

	rows, err := pgxTx.Query(ctx, `
		UPDATE escrow_entries SET
			status = $2::text,
			is_eligible_for_payout = ($2::text = 'released'),
			released_at = CASE WHEN $2::text = 'released' THEN $3::timestamptz ELSE released_at END,
			refunded_at = CASE WHEN $2::text = 'refunded' THEN $3::timestamptz ELSE refunded_at END,
			audit_note = COALESCE($4, audit_note),
			updated_at = $3::timestamptz
		WHERE id = ANY($1) AND status = 'held'
		RETURNING `+escrowColumns,
		t.IDs, string(t.To), t.At, t.AuditNote)
	if err != nil {
		return nil, err
	}
	return collectEscrowEntries(rows)
}

// ListEligibleForPayoutTx locks released entries not yet consumed by a payout
func (r *EscrowRepository) ListEligibleForPayoutTx(ctx context.Context, tx any) ([]*domain.EscrowEntry, error) {
	pgxTx, err := asTx(tx)
	if err != nil {
		return nil, err
	}

	rows, err := pgxTx.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_entries
		WHERE status = 'released' AND is_eligible_for_payout AND payout_id IS NULL
		ORDER BY seller_id, currency, released_at, id
		FOR UPDATE SKIP LOCKED`)
	if err != nil {
		return nil, err
	}
	return collectEscrowEntries(rows)
}

// ConsumeForPayoutTx links eligible entries to a payout and returns how many changed
func (r *EscrowRepository) ConsumeForPayoutTx(ctx context.Context, tx any, entryIDs []uuid.UUID, payoutID uuid.UUID, at time.Time) (int, error) {
	pgxTx, err := asTx(tx)
	if err != nil {
		return 0, err
	}

	tag, err := pgxTx.Exec(ctx, `
		UPDATE escrow_entries
		SET is_eligible_for_payout = false, payout_id = $2, updated_at = $3
		WHERE id = ANY($1) AND status = 'released' AND is_eligible_for_payout AND payout_id IS NULL`,
		entryIDs, payoutID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// GetByOrderID returns every entry of an order
func (r *EscrowRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.EscrowEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_entries
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	return collectEscrowEntries(rows)
}

// GetBySellerID returns a seller's entries, newest first, optionally filtered by status
func (r *EscrowRepository) GetBySellerID(ctx context.Context, sellerID uuid.UUID, status *domain.EscrowStatus) ([]*domain.EscrowEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_entries
		WHERE seller_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id`, sellerID, statusPtr(status))
	if err != nil {
		return nil, err
	}
	return collectEscrowEntries(rows)
}
