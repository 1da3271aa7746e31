// Package devices persists registered POS terminals and their pairing state.
package devices

import (
	"context"
	"time"

	"github.com/villagecompute/posoffline/internal/server/models"
)

type Repository interface {
	// Create inserts a pending device and returns it with the generated id.
	Create(ctx context.Context, device *models.Device) (*models.Device, error)

	// GetByID returns the device or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.Device, error)

	// GetByIdentifier looks a device up by tenant and hardware identifier.
	GetByIdentifier(ctx context.Context, tenantID, deviceIdentifier string) (*models.Device, error)

	// ListByTenant returns all devices of a tenant, newest first.
	ListByTenant(ctx context.Context, tenantID string) ([]models.Device, error)

	// SetPairingCode stores a fresh pairing code hash and expiry on a device
	// that is not yet retired.
	SetPairingCode(ctx context.Context, id, codeHash string, salt []byte, expiresAt time.Time) error

	// Activate flips a pending device to active and records its current key
	// version and fingerprint. Guarded: only pending devices activate.
	Activate(ctx context.Context, id string, keyVersion int, keyFingerprint string) error

	// RotateKey bumps the current key version and fingerprint on an active
	// device.
	RotateKey(ctx context.Context, id string, keyVersion int, keyFingerprint string) error

	// UpdateStatus transitions a device between lifecycle statuses; the
	// transition applies only when the current status is in from.
	UpdateStatus(ctx context.Context, id string, from []models.DeviceStatus, to models.DeviceStatus) error

	// Heartbeat records liveness and optionally firmware version.
	Heartbeat(ctx context.Context, id, firmwareVersion string, at time.Time) error

	// MarkSynced records a successful upload from the device.
	MarkSynced(ctx context.Context, id string, at time.Time) error
}
