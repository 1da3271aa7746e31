package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/villagecompute/posoffline/internal/client/models"
	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `id, local_transaction_id, encrypted_payload, encryption_iv, encryption_key_version,
	transaction_timestamp, transaction_amount, idempotency_key, staff_user_id,
	sync_status, sync_error, created_at, synced_at`

// Insert persists a new queue entry. The unique index on idempotency_key is
// the local dedup boundary; a violation maps to ErrDuplicateTransaction.
func (r *SQLiteRepository) Insert(ctx context.Context, e *models.QueueEntry) error {
	query := ` INSERT INTO queue_entries (` + entryColumns + `)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.LocalTransactionID, e.EncryptedPayload, e.EncryptionIV, e.EncryptionKeyVersion,
		e.TransactionTimestamp, e.TransactionAmount, e.IdempotencyKey, e.StaffUserID,
		e.SyncStatus, e.SyncError, e.CreatedAt, e.SyncedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return common.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return nil
}

// GetByID returns a single entry or common.ErrorNotFound.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.QueueEntry, error) {
	query := `select ` + entryColumns + ` from queue_entries where id=?`
	row := r.db.QueryRowContext(ctx, query, id)

	item, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select queue entry: %w", err)
	}
	return item, nil
}

// SelectByStatus lists entries in the given status, oldest first.
func (r *SQLiteRepository) SelectByStatus(ctx context.Context, status models.SyncStatus, limit int) ([]models.QueueEntry, error) {
	query := `select ` + entryColumns + ` from queue_entries where sync_status=? order by created_at asc`
	args := []any{status}
	if limit > 0 {
		query += ` limit ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// SelectAll lists every entry, oldest first.
func (r *SQLiteRepository) SelectAll(ctx context.Context) ([]models.QueueEntry, error) {
	query := `select ` + entryColumns + ` from queue_entries order by created_at asc`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// UpdateStatus performs a guarded status transition. The WHERE clause on the
// current status makes the transition atomic; zero rows affected means the
// entry was missing or not in an allowed source state.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, from []models.SyncStatus, to models.SyncStatus, syncErr string, stampSynced bool) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")

	query := `UPDATE queue_entries SET sync_status=?, sync_error=?`
	args := []any{to, syncErr}
	if stampSynced {
		query += `, synced_at=?`
		args = append(args, time.Now().UTC())
	}
	query += ` WHERE id=? AND sync_status IN (` + placeholders + `)`
	args = append(args, id)
	for _, s := range from {
		args = append(args, s)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue entry status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// CountByStatus returns entry counts grouped by sync status.
func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	query := `select sync_status, count(*) from queue_entries group by sync_status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()

	result := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status models.SyncStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteSyncedBefore purges synced entries older than cutoff.
func (r *SQLiteRepository) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM queue_entries WHERE sync_status=? AND synced_at IS NOT NULL AND synced_at < ?`
	res, err := r.db.ExecContext(ctx, query, models.StatusSynced, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue entries: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(scan func(dest ...any) error) (*models.QueueEntry, error) {
	var item models.QueueEntry
	var syncedAt sql.NullTime
	err := scan(
		&item.ID, &item.LocalTransactionID, &item.EncryptedPayload, &item.EncryptionIV, &item.EncryptionKeyVersion,
		&item.TransactionTimestamp, &item.TransactionAmount, &item.IdempotencyKey, &item.StaffUserID,
		&item.SyncStatus, &item.SyncError, &item.CreatedAt, &syncedAt,
	)
	if err != nil {
		return nil, err
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		item.SyncedAt = &t
	}
	return &item, nil
}

func collectEntries(rows *sql.Rows) ([]models.QueueEntry, error) {
	var result []models.QueueEntry
	for rows.Next() {
		item, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
