package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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

const deviceColumns = `id, tenant_id, device_identifier, name, location_name, hardware_model,
	status, pairing_code_hash, pairing_code_salt, pairing_expires_at, key_version,
	key_fingerprint, last_seen_at, last_synced_at, firmware_version, created_at, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (*models.Device, error) {
	d := &models.Device{}
	var pairingExpiresAt, lastSeenAt, lastSyncedAt sql.NullTime
	err := row.Scan(
		&d.ID, &d.TenantID, &d.DeviceIdentifier, &d.Name, &d.LocationName, &d.HardwareModel,
		&d.Status, &d.PairingCodeHash, &d.PairingCodeSalt, &pairingExpiresAt, &d.KeyVersion,
		&d.KeyFingerprint, &lastSeenAt, &lastSyncedAt, &d.FirmwareVersion, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pairingExpiresAt.Valid {
		d.PairingExpiresAt = &pairingExpiresAt.Time
	}
	if lastSeenAt.Valid {
		d.LastSeenAt = &lastSeenAt.Time
	}
	if lastSyncedAt.Valid {
		d.LastSyncedAt = &lastSyncedAt.Time
	}
	return d, nil
}

func (r *PostgresRepository) Create(ctx context.Context, device *models.Device) (*models.Device, error) {
	query := `INSERT INTO devices
		(tenant_id, device_identifier, name, location_name, hardware_model, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING ` + deviceColumns

	created, err := scanDevice(r.db.QueryRowContext(ctx, query,
		device.TenantID, device.DeviceIdentifier, device.Name, device.LocationName, device.HardwareModel))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetByIdentifier(ctx context.Context, tenantID, deviceIdentifier string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE tenant_id = $1 AND device_identifier = $2`
	return r.getOne(ctx, query, tenantID, deviceIdentifier)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE tenant_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) SetPairingCode(ctx context.Context, id, codeHash string, salt []byte, expiresAt time.Time) error {
	query := `UPDATE devices
		SET pairing_code_hash = $2, pairing_code_salt = $3, pairing_expires_at = $4, updated_at = now()
		WHERE id = $1 AND status <> 'retired'`

	return r.execGuarded(ctx, query, id, codeHash, salt, expiresAt)
}

func (r *PostgresRepository) Activate(ctx context.Context, id string, keyVersion int, keyFingerprint string) error {
	query := `UPDATE devices
		SET status = 'active', key_version = $2, key_fingerprint = $3,
		    pairing_code_hash = '', pairing_code_salt = NULL, pairing_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	return r.execGuarded(ctx, query, id, keyVersion, keyFingerprint)
}

func (r *PostgresRepository) RotateKey(ctx context.Context, id string, keyVersion int, keyFingerprint string) error {
	query := `UPDATE devices
		SET key_version = $2, key_fingerprint = $3, updated_at = now()
		WHERE id = $1 AND status = 'active'`

	return r.execGuarded(ctx, query, id, keyVersion, keyFingerprint)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from []models.DeviceStatus, to models.DeviceStatus) error {
	placeholders := make([]string, len(from))
	args := []any{id, to}
	for i, s := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, s)
	}

	query := fmt.Sprintf(`UPDATE devices SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN (%s)`, strings.Join(placeholders, ", "))

	return r.execGuarded(ctx, query, args...)
}

func (r *PostgresRepository) Heartbeat(ctx context.Context, id, firmwareVersion string, at time.Time) error {
	query := `UPDATE devices
		SET last_seen_at = $2,
		    firmware_version = CASE WHEN $3 = '' THEN firmware_version ELSE $3 END,
		    updated_at = now()
		WHERE id = $1 AND status = 'active'`

	return r.execGuarded(ctx, query, id, at, firmwareVersion)
}

func (r *PostgresRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE devices SET last_synced_at = $2, last_seen_at = $2, updated_at = now()
		WHERE id = $1`

	return r.execGuarded(ctx, query, id, at)
}

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
