package models

import "time"

// Reconciliation record statuses. A record enters as pending, is claimed as
// processing, and finishes in applied, duplicate, or failed. Applied and
// duplicate are terminal; failed is terminal on the server (the terminal may
// re-upload, which dedups against the same row).
type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordProcessing RecordStatus = "processing"
	RecordApplied    RecordStatus = "applied"
	RecordDuplicate  RecordStatus = "duplicate"
	RecordFailed     RecordStatus = "failed"
)

// ReconciliationRecord is one uploaded offline transaction awaiting (or past)
// reconciliation. The idempotency key is unique: concurrent uploads of the
// same sale land on the same row.
type ReconciliationRecord struct {
	ID                   string
	TenantID             string
	DeviceID             string
	IdempotencyKey       string
	LocalTransactionID   string
	EncryptedPayload     []byte
	EncryptionIV         []byte
	EncryptionKeyVersion int
	TransactionTimestamp time.Time
	TransactionAmount    string
	StaffUserID          string
	Status               RecordStatus
	CheckoutReference    string
	AttemptCount         int
	NextAttemptAt        time.Time
	LastError            string
	ProcessingStartedAt  *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
