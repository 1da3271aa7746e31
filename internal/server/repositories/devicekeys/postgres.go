package devicekeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Append(ctx context.Context, key *models.DeviceKey) error {
	query := `INSERT INTO device_keys (device_id, key_version, wrapped_key)
		VALUES ($1, $2, $3)`

	_, err := r.db.ExecContext(ctx, query, key.DeviceID, key.KeyVersion, key.WrappedKey)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, deviceID string, keyVersion int) (*models.DeviceKey, error) {
	query := `SELECT device_id, key_version, wrapped_key, created_at
		FROM device_keys
		WHERE device_id = $1 AND key_version = $2`

	key := &models.DeviceKey{}
	err := r.db.QueryRowContext(ctx, query, deviceID, keyVersion).Scan(
		&key.DeviceID, &key.KeyVersion, &key.WrappedKey, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return key, nil
}
