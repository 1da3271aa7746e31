package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/dbx"
	"github.com/villagecompute/posoffline/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, tenant_id, device_id, idempotency_key, local_transaction_id,
	encrypted_payload, encryption_iv, encryption_key_version, transaction_timestamp,
	transaction_amount, staff_user_id, status, checkout_reference, attempt_count,
	next_attempt_at, last_error, processing_started_at, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*models.ReconciliationRecord, error) {
	rec := &models.ReconciliationRecord{}
	var processingStartedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.DeviceID, &rec.IdempotencyKey, &rec.LocalTransactionID,
		&rec.EncryptedPayload, &rec.EncryptionIV, &rec.EncryptionKeyVersion, &rec.TransactionTimestamp,
		&rec.TransactionAmount, &rec.StaffUserID, &rec.Status, &rec.CheckoutReference, &rec.AttemptCount,
		&rec.NextAttemptAt, &rec.LastError, &processingStartedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if processingStartedAt.Valid {
		rec.ProcessingStartedAt = &processingStartedAt.Time
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]models.ReconciliationRecord, error) {
	defer rows.Close()

	var out []models.ReconciliationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) InsertOrGet(ctx context.Context, rec *models.ReconciliationRecord) (*models.ReconciliationRecord, bool, error) {

	insert := `INSERT INTO reconciliation_records
		(tenant_id, device_id, idempotency_key, local_transaction_id,
		 encrypted_payload, encryption_iv, encryption_key_version,
		 transaction_timestamp, transaction_amount, staff_user_id, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', now())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + recordColumns

	inserted, err := scanRecord(r.db.QueryRowContext(ctx, insert,
		rec.TenantID, rec.DeviceID, rec.IdempotencyKey, rec.LocalTransactionID,
		rec.EncryptedPayload, rec.EncryptionIV, rec.EncryptionKeyVersion,
		rec.TransactionTimestamp, rec.TransactionAmount, rec.StaffUserID))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("db error: %w", err)
	}

	// conflict: the key already exists, return the winning row
	existing, err := r.GetByIdempotencyKey(ctx, rec.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.ReconciliationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM reconciliation_records WHERE idempotency_key = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) SelectByIdempotencyKeys(ctx context.Context, tenantID string, keys []string) ([]models.ReconciliationRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := `SELECT ` + recordColumns + `
		FROM reconciliation_records
		WHERE tenant_id = $1 AND idempotency_key = ANY($2)`

	rows, err := r.db.QueryContext(ctx, query, tenantID, keys)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collectRecords(rows)
}

func (r *PostgresRepository) ClaimDue(ctx context.Context, limit int, now time.Time) ([]models.ReconciliationRecord, error) {

	query := `UPDATE reconciliation_records
		SET status = 'processing', processing_started_at = $2, updated_at = now()
		WHERE id IN (
			SELECT id FROM reconciliation_records
			WHERE status = 'pending' AND next_attempt_at <= $2
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + recordColumns

	rows, err := r.db.QueryContext(ctx, query, limit, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collectRecords(rows)
}

func (r *PostgresRepository) MarkApplied(ctx context.Context, id, checkoutReference string) error {
	query := `UPDATE reconciliation_records
		SET status = 'applied', checkout_reference = $2, last_error = '',
		    processing_started_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'`

	return r.execGuarded(ctx, query, id, checkoutReference)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	query := `UPDATE reconciliation_records
		SET status = 'failed', last_error = $2,
		    processing_started_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'`

	return r.execGuarded(ctx, query, id, lastError)
}

func (r *PostgresRepository) Reschedule(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	query := `UPDATE reconciliation_records
		SET status = 'pending', attempt_count = attempt_count + 1,
		    next_attempt_at = $2, last_error = $3,
		    processing_started_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'`

	return r.execGuarded(ctx, query, id, nextAttemptAt, lastError)
}

func (r *PostgresRepository) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE reconciliation_records
		SET status = 'pending', processing_started_at = NULL, updated_at = now()
		WHERE status = 'processing' AND processing_started_at < $1`

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// execGuarded runs a status-guarded UPDATE and maps "no row matched" to
// common.ErrorNotFound, so callers can detect a lost claim.
func (r *PostgresRepository) execGuarded(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
