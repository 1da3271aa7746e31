// Package devicekeys stores the device's symmetric key versions. The table is
// append-only: re-pairing adds a new version and flips the current flag, it
// never rewrites key material in place.
package devicekeys

import (
	"context"

	"github.com/villagecompute/posoffline/internal/client/models"
)

// Repository is the persistence surface for device key versions.
type Repository interface {
	// Append inserts a new key version and marks it current, demoting any
	// previous current version.
	Append(ctx context.Context, k *models.DeviceKey) error

	// GetCurrent returns the active key or common.ErrorNotFound when the
	// device has never been paired.
	GetCurrent(ctx context.Context) (*models.DeviceKey, error)

	// List returns all versions, oldest first. Retained versions exist for
	// audit/debug only.
	List(ctx context.Context) ([]models.DeviceKey, error)
}
