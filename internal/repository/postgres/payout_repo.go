package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const payoutColumns = `id, seller_id, amount, currency, status, schedule_frequency, scheduled_at,
	processing_started_at, completed_at, batch_id, retry_count, error_reference, error_message,
	audit_note, created_at, updated_at`

// PayoutRepository implements domain.PayoutRepository using PostgreSQL.
// Every status change after creation is guarded on the current status.
type PayoutRepository struct {
	pool *pgxpool.Pool
}

// NewPayoutRepository creates a new PayoutRepository
func NewPayoutRepository(pool *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{pool: pool}
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	var amount pgtype.Numeric
	var status, frequency string
	var retryCount int32
	if err := row.Scan(
		&p.ID, &p.SellerID, &amount, &p.Currency, &status, &frequency, &p.ScheduledAt,
		&p.ProcessingStartedAt, &p.CompletedAt, &p.BatchID, &retryCount, &p.ErrorReference, &p.ErrorMessage,
		&p.AuditNote, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Amount = pgNumericToDecimal(amount)
	p.Status = domain.PayoutStatus(status)
	p.ScheduleFrequency = domain.ScheduleFrequency(frequency)
	p.RetryCount = int(retryCount)
	return &p, nil
}

func collectPayouts(rows pgx.Rows) ([]*domain.Payout, error) {
	defer rows.Close()
	payouts := []*domain.Payout{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// CreateBatchTx inserts new payouts
func (r *PayoutRepository) CreateBatchTx(ctx context.Context, tx any, payouts []*domain.Payout) error {
	pgxTx, err := asTx(tx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range payouts {
		amount, err := decimalToPgNumeric(p.Amount)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO payouts (
				id, seller_id, amount, currency, status, schedule_frequency, scheduled_at,
				retry_count, audit_note, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			p.ID, p.SellerID, amount, p.Currency, string(p.Status), string(p.ScheduleFrequency), p.ScheduledAt,
			p.RetryCount, p.AuditNote, p.CreatedAt, p.UpdatedAt,
		)
	}
	return execBatch(ctx, pgxTx, batch)
}

// GetByID returns one payout
func (r *PayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	p, err := scanPayout(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPayoutNotFound
	}
	return p, err
}

// GetBySellerID returns a seller's payouts, newest first, optionally filtered by status
func (r *PayoutRepository) GetBySellerID(ctx context.Context, sellerID uuid.UUID, status *domain.PayoutStatus) ([]*domain.Payout, error) {
	return r.GetFiltered(ctx, domain.PayoutFilter{SellerID: sellerID, Status: status})
}

// GetFiltered returns a seller's payouts scheduled within the optional range
func (r *PayoutRepository) GetFiltered(ctx context.Context, f domain.PayoutFilter) ([]*domain.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE seller_id = $1
			AND ($2::text IS NULL OR status = $2)
			AND ($3::timestamptz IS NULL OR scheduled_at >= $3)
			AND ($4::timestamptz IS NULL OR scheduled_at <= $4)
		ORDER BY scheduled_at DESC, id`,
		f.SellerID, statusPtr(f.Status), f.From, f.To)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

// ListScheduledDue returns scheduled payouts due at or before the cutoff,
// oldest first. A limit of zero means no limit.
func (r *PayoutRepository) ListScheduledDue(ctx context.Context, before time.Time, limit int) ([]*domain.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at, id
		LIMIT NULLIF($2::int, 0)`, before, limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

// ListRetryable returns failed payouts under the retry limit, least recently
// touched first. A non-nil failedBefore skips payouts that failed at or after it.
func (r *PayoutRepository) ListRetryable(ctx context.Context, maxAttempts int, failedBefore *time.Time) ([]*domain.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status = 'failed' AND retry_count < $1
			AND ($2::timestamptz IS NULL OR updated_at < $2)
		ORDER BY updated_at, id`, maxAttempts, failedBefore)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

// ClaimScheduled moves the payouts among claim.IDs that are still scheduled to
// processing. Rows claimed concurrently by another run are not returned.
func (r *PayoutRepository) ClaimScheduled(ctx context.Context, claim domain.PayoutClaim) ([]*domain.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE payouts
			SET status = 'processing', processing_started_at = $3, batch_id = $2, updated_at = $3
			WHERE id = ANY($1) AND status = 'scheduled'
			RETURNING *
		)
		SELECT `+payoutColumns+` FROM claimed
		ORDER BY scheduled_at, id`,
		claim.IDs, claim.BatchID, claim.At)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

// ClaimForRetry moves a failed payout under the retry limit to processing and
// increments its retry count
func (r *PayoutRepository) ClaimForRetry(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time, auditNote *string) (*domain.Payout, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payouts SET
			status = 'processing',
			retry_count = retry_count + 1,
			error_reference = NULL,
			error_message = NULL,
			processing_started_at = $3,
			completed_at = NULL,
			audit_note = COALESCE($4, audit_note),
			updated_at = $3
		WHERE id = $1 AND status = 'failed' AND retry_count < $2
		RETURNING `+payoutColumns,
		id, maxAttempts, at, auditNote)
	p, err := scanPayout(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payouts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrPayoutNotFound
	}
	return nil, domain.ErrPayoutInFlight
}

// CompleteBatchTx writes the outcome of processing payouts in one round
// trip. A payout that is no longer processing aborts the transaction.
func (r *PayoutRepository) CompleteBatchTx(ctx context.Context, tx any, payouts []*domain.Payout) error {
	pgxTx, err := asTx(tx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range payouts {
		batch.Queue(`
			UPDATE payouts
			SET status = $2, completed_at = $3, error_reference = $4, error_message = $5, updated_at = $6
			WHERE id = $1 AND status = 'processing'`,
			p.ID, string(p.Status), p.CompletedAt, p.ErrorReference, p.ErrorMessage, p.UpdatedAt)
	}

	br := pgxTx.SendBatch(ctx, batch)
	defer br.Close()
	for _, p := range payouts {
		tag, err := br.Exec()
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("payout %s is not processing", p.ID)
		}
	}
	return br.Close()
}

// FailStaleProcessing moves payouts stuck in processing since before the
// cutoff to failed. The attempt outcome is unknown, so it counts as failed.
func (r *PayoutRepository) FailStaleProcessing(ctx context.Context, startedBefore, at time.Time) ([]*domain.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		WITH stale AS (
			UPDATE payouts SET
				status = 'failed',
				completed_at = NULL,
				error_reference = $3,
				error_message = 'Processing did not record an outcome',
				updated_at = $2
			WHERE status = 'processing' AND processing_started_at < $1
			RETURNING *
		)
		SELECT `+payoutColumns+` FROM stale
		ORDER BY processing_started_at, id`,
		startedBefore, at, domain.ErrorReferenceStaleProcessing)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}
