// Package audit persists the append-only reconciliation audit trail.
package audit

import (
	"context"

	"github.com/villagecompute/posoffline/internal/server/models"
)

type Repository interface {
	// Insert appends one outcome entry.
	Insert(ctx context.Context, entry *models.AuditEntry) error

	// ListByIdempotencyKey returns the trail for one offline transaction,
	// oldest first.
	ListByIdempotencyKey(ctx context.Context, key string) ([]models.AuditEntry, error)
}
