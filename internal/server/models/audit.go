package models

import "time"

// AuditEntry records one reconciliation outcome for an offline transaction.
// Append-only; the trail is the operator-facing answer to "what happened to
// this sale".
type AuditEntry struct {
	ID                string
	TenantID          string
	DeviceID          string
	IdempotencyKey    string
	Outcome           string
	CheckoutReference string
	Detail            string
	OccurredAt        time.Time
}
