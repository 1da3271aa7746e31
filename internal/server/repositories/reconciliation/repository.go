// Package reconciliation persists uploaded offline transactions and drives
// their status transitions. The idempotency key's UNIQUE constraint is the
// dedup boundary for the whole pipeline.
package reconciliation

import (
	"context"
	"time"

	"github.com/villagecompute/posoffline/internal/server/models"
)

type Repository interface {
	// InsertOrGet atomically inserts the record or, when a row with the same
	// idempotency key already exists, returns that row untouched. The bool
	// reports whether an insert happened. This is the only write path for new
	// uploads, so two concurrent uploads of the same sale converge on one row.
	InsertOrGet(ctx context.Context, rec *models.ReconciliationRecord) (*models.ReconciliationRecord, bool, error)

	// GetByIdempotencyKey returns the record or common.ErrorNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (*models.ReconciliationRecord, error)

	// SelectByIdempotencyKeys returns the records that exist among keys,
	// scoped to the given tenant. Missing keys are simply absent.
	SelectByIdempotencyKeys(ctx context.Context, tenantID string, keys []string) ([]models.ReconciliationRecord, error)

	// ClaimDue moves up to limit due pending records to processing and
	// returns them. Rows are locked with FOR UPDATE SKIP LOCKED so concurrent
	// workers never claim the same record.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]models.ReconciliationRecord, error)

	// MarkApplied finalizes a processing record as applied with the checkout
	// reference. Guarded by current status; returns common.ErrorNotFound when
	// the record is not processing.
	MarkApplied(ctx context.Context, id, checkoutReference string) error

	// MarkFailed finalizes a processing record as failed with the error text.
	MarkFailed(ctx context.Context, id, lastError string) error

	// Reschedule returns a processing record to pending for a later attempt,
	// incrementing attempt_count and recording the transient error.
	Reschedule(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error

	// RequeueStale returns processing records whose claim started before
	// cutoff back to pending, and reports how many were recovered.
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}
