// Package devicekeys is the append-only registry of wrapped device
// encryption keys. Old versions are never deleted so queue entries sealed
// before a rotation stay decryptable.
package devicekeys

import (
	"context"

	"github.com/villagecompute/posoffline/internal/server/models"
)

type Repository interface {
	// Append stores a new wrapped key version for a device.
	Append(ctx context.Context, key *models.DeviceKey) error

	// Get returns the wrapped key for a device and version, or
	// common.ErrorNotFound.
	Get(ctx context.Context, deviceID string, keyVersion int) (*models.DeviceKey, error)
}
