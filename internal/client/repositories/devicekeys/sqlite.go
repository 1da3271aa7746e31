package devicekeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// Append demotes the current key and inserts the new version as current.
// The queue manager is the single writer on the local store, so the two
// statements do not race.
func (r *SQLiteRepository) Append(ctx context.Context, k *models.DeviceKey) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE device_keys SET current=0 WHERE current=1`); err != nil {
		return fmt.Errorf("failed to demote current key: %w", err)
	}

	query := ` INSERT INTO device_keys (device_id, key_material, key_version, current, paired_at)
			values (?, ?, ?, 1, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, k.DeviceID, k.KeyMaterial, k.KeyVersion, k.PairedAt); err != nil {
		return fmt.Errorf("failed to insert device key: %w", err)
	}
	return nil
}

// GetCurrent returns the active key version.
func (r *SQLiteRepository) GetCurrent(ctx context.Context) (*models.DeviceKey, error) {
	query := `select device_id, key_material, key_version, current, paired_at from device_keys where current=1`
	row := r.db.QueryRowContext(ctx, query)

	var item models.DeviceKey
	err := row.Scan(&item.DeviceID, &item.KeyMaterial, &item.KeyVersion, &item.Current, &item.PairedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select device key: %w", err)
	}
	return &item, nil
}

// List returns every key version, oldest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]models.DeviceKey, error) {
	query := `select device_id, key_material, key_version, current, paired_at from device_keys order by key_version asc`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select device keys: %w", err)
	}
	defer rows.Close()

	var result []models.DeviceKey
	for rows.Next() {
		var item models.DeviceKey
		if err := rows.Scan(&item.DeviceID, &item.KeyMaterial, &item.KeyVersion, &item.Current, &item.PairedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
