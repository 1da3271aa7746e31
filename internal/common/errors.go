// Package common defines shared constants and sentinel errors used across
// client and server layers of the POS offline subsystem. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Client-local queue errors. These are permanent: they are surfaced to the
	// operator and never retried automatically.
	ErrDeviceNotPaired      = errors.New("device not paired")
	ErrQueueFull            = errors.New("offline queue full")
	ErrDuplicateTransaction = errors.New("transaction already queued")

	// Crypto errors. ErrDecryptionFailed covers any tag mismatch or malformed
	// ciphertext; no partial plaintext is ever returned alongside it.
	ErrDecryptionFailed = errors.New("decryption failed")

	// Sync/state-machine errors.
	ErrInvalidTransition = errors.New("invalid sync status transition")

	// Server-side errors.
	ErrForeignDevice     = errors.New("device does not belong to tenant")
	ErrDeviceNotActive   = errors.New("device not active")
	ErrKeyVersionUnknown = errors.New("unknown encryption key version")

	// Pairing errors.
	ErrInvalidPairingCode = errors.New("invalid pairing code")
	ErrPairingCodeExpired = errors.New("pairing code expired")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
