// Package queue provides the sqlite-backed repository for local queue
// entries. Only the queue manager mutates entries through it.
package queue

import (
	"context"
	"time"

	"github.com/villagecompute/posoffline/internal/client/models"
)

// Repository is the persistence surface for queue entries.
type Repository interface {
	Insert(ctx context.Context, e *models.QueueEntry) error
	GetByID(ctx context.Context, id string) (*models.QueueEntry, error)

	// SelectByStatus returns entries in the given status ordered by creation
	// time, limited to limit (0 means no limit).
	SelectByStatus(ctx context.Context, status models.SyncStatus, limit int) ([]models.QueueEntry, error)

	// SelectAll returns every entry, for export.
	SelectAll(ctx context.Context) ([]models.QueueEntry, error)

	// UpdateStatus moves entry id to status "to" iff its current status is
	// one of "from". syncErr replaces the stored sync error; stampSynced sets
	// synced_at to now. Returns common.ErrorNotFound when no row matched,
	// which the manager reports as an invalid transition.
	UpdateStatus(ctx context.Context, id string, from []models.SyncStatus, to models.SyncStatus, syncErr string, stampSynced bool) error

	CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error)

	// DeleteSyncedBefore removes synced entries whose synced_at is older than
	// cutoff and returns the number deleted.
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
