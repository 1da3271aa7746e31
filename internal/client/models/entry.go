// Package models defines client-side data models for the POS offline queue.
package models

import "time"

// SyncStatus is the client-side lifecycle state of a queue entry.
//
// Transitions: queued → syncing → {synced | failed}; failed → syncing on
// retry. synced is terminal until purged.
type SyncStatus string

const (
	StatusQueued  SyncStatus = "queued"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// QueueEntry is one attempted sale, sealed and persisted the instant checkout
// completes while offline. The payload is immutable once sealed; only the
// sync metadata changes afterwards.
type QueueEntry struct {
	// ID is a client-generated UUID.
	ID string

	// LocalTransactionID is the terminal-local identifier for the sale.
	LocalTransactionID string

	// EncryptedPayload is the AEAD-sealed transaction (cart, payment method
	// reference, customer reference).
	EncryptedPayload []byte
	// EncryptionIV is the AEAD nonce used to seal the payload.
	EncryptionIV []byte
	// EncryptionKeyVersion records which device-key version sealed the
	// payload. Old entries keep their version forever.
	EncryptionKeyVersion int

	// TransactionTimestamp is the local wall-clock time of the sale.
	TransactionTimestamp time.Time
	// TransactionAmount is kept in cleartext for client-side metrics and
	// ordering only. It must never be enough to reconstruct cart contents.
	TransactionAmount string

	// IdempotencyKey is {deviceId}:{localTransactionId} — the single source
	// of truth preventing a double charge. Unique in the local store.
	IdempotencyKey string

	// StaffUserID identifies the staff member, if known.
	StaffUserID string

	SyncStatus SyncStatus
	// SyncError is set only when SyncStatus is failed.
	SyncError string

	CreatedAt time.Time
	SyncedAt  *time.Time
}

// DeviceKey is one version of the device's symmetric key. Created on pairing,
// superseded on re-pairing. Old versions are retained for audit/debug only;
// the client never decrypts with them.
type DeviceKey struct {
	DeviceID    string
	KeyMaterial []byte
	KeyVersion  int
	Current     bool
	PairedAt    time.Time
}

// QueueStats summarizes queue depth by status for UI badges and capacity
// alerts.
type QueueStats struct {
	Queued  int
	Syncing int
	Synced  int
	Failed  int

	// Depth counts entries still owed to the server (everything not synced).
	Depth int

	// SoftLimitReached signals the UI warning threshold.
	SoftLimitReached bool
	// Full signals the hard threshold; new enqueues are rejected.
	Full bool
}
