package audit

import (
	"context"
	"fmt"

	"github.com/villagecompute/posoffline/internal/dbx"
	"github.com/villagecompute/posoffline/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	query := `INSERT INTO pos_offline_audit
		(tenant_id, device_id, idempotency_key, outcome, checkout_reference, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		entry.TenantID, entry.DeviceID, entry.IdempotencyKey,
		entry.Outcome, entry.CheckoutReference, entry.Detail)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByIdempotencyKey(ctx context.Context, key string) ([]models.AuditEntry, error) {
	query := `SELECT id, tenant_id, device_id, idempotency_key, outcome, checkout_reference, detail, occurred_at
		FROM pos_offline_audit
		WHERE idempotency_key = $1
		ORDER BY occurred_at`

	rows, err := r.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.DeviceID, &e.IdempotencyKey,
			&e.Outcome, &e.CheckoutReference, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
