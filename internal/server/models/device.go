package models

import "time"

// Device lifecycle statuses.
type DeviceStatus string

const (
	DevicePending   DeviceStatus = "pending"
	DeviceActive    DeviceStatus = "active"
	DeviceSuspended DeviceStatus = "suspended"
	DeviceRetired   DeviceStatus = "retired"
)

// Device is a registered POS terminal. A device starts pending after the
// pairing request and becomes active once the staff-entered code is verified.
type Device struct {
	ID               string
	TenantID         string
	DeviceIdentifier string
	Name             string
	LocationName     string
	HardwareModel    string
	Status           DeviceStatus
	PairingCodeHash  string
	PairingCodeSalt  []byte
	PairingExpiresAt *time.Time
	KeyVersion       int
	KeyFingerprint   string
	LastSeenAt       *time.Time
	LastSyncedAt     *time.Time
	FirmwareVersion  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DeviceKey is one version of a device's encryption key, stored wrapped
// under the server master key. The registry is append-only: rotation adds a
// version, it never deletes one, so old queue entries stay decryptable.
type DeviceKey struct {
	DeviceID   string
	KeyVersion int
	WrappedKey []byte
	CreatedAt  time.Time
}
