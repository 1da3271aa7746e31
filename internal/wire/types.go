// Package wire defines the JSON types exchanged between the POS terminal and
// the server. Both sides import this package so the contract lives in one
// place.
package wire

import "time"

// Entry statuses returned by the upload endpoint.
const (
	UploadAccepted  = "accepted"
	UploadDuplicate = "duplicate"
	UploadRejected  = "rejected"
)

// Reconciliation statuses returned by the status poll.
const (
	RecordPending    = "pending"
	RecordProcessing = "processing"
	RecordApplied    = "applied"
	RecordDuplicate  = "duplicate"
	RecordFailed     = "failed"
)

// UploadItem is one encrypted queue entry in an upload batch. Payload and IV
// travel base64-encoded by encoding/json.
type UploadItem struct {
	ID                   string    `json:"id"`
	IdempotencyKey       string    `json:"idempotencyKey"`
	LocalTransactionID   string    `json:"localTransactionId"`
	EncryptedPayload     []byte    `json:"encryptedPayload"`
	EncryptionIV         []byte    `json:"encryptionIv"`
	EncryptionKeyVersion int       `json:"encryptionKeyVersion"`
	TransactionTimestamp time.Time `json:"transactionTimestamp"`
	TransactionAmount    string    `json:"transactionAmount"`
	StaffUserID          string    `json:"staffUserId,omitempty"`
}

// UploadRequest is the body of POST /pos/offline/upload.
type UploadRequest struct {
	Transactions []UploadItem `json:"transactions"`
}

// UploadResult is the per-entry outcome of an upload.
type UploadResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// UploadResponse is the body returned by the upload endpoint.
type UploadResponse struct {
	Results []UploadResult `json:"results"`
}

// StatusItem is the reconciliation status for one idempotency key.
type StatusItem struct {
	IdempotencyKey    string `json:"idempotencyKey"`
	Status            string `json:"status"`
	CheckoutReference string `json:"checkoutReference,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}

// StatusResponse is the body of GET /pos/offline/status.
type StatusResponse struct {
	Statuses []StatusItem `json:"statuses"`
}

// PairDeviceRequest initiates pairing for a terminal. TenantID is the
// merchant the terminal was provisioned for.
type PairDeviceRequest struct {
	TenantID         string `json:"tenantId"`
	DeviceIdentifier string `json:"deviceIdentifier"`
	DeviceName       string `json:"deviceName"`
	LocationName     string `json:"locationName,omitempty"`
	HardwareModel    string `json:"hardwareModel,omitempty"`
}

// PairDeviceResponse carries the short-lived pairing code.
type PairDeviceResponse struct {
	DeviceID         string `json:"deviceId"`
	DeviceName       string `json:"deviceName"`
	PairingCode      string `json:"pairingCode"`
	PairingExpiresAt string `json:"pairingExpiresAt"`
}

// CompletePairingRequest activates a device with the staff-entered code.
type CompletePairingRequest struct {
	TenantID         string `json:"tenantId"`
	DeviceIdentifier string `json:"deviceIdentifier"`
	PairingCode      string `json:"pairingCode"`
}

// CompletePairingResponse returns the key material the terminal must store.
// This response is the queue manager's only source of encryption keys.
type CompletePairingResponse struct {
	DeviceID             string `json:"deviceId"`
	EncryptionKey        []byte `json:"encryptionKey"`
	EncryptionKeyVersion int    `json:"encryptionKeyVersion"`
	DeviceToken          string `json:"deviceToken"`
}

// RotateKeyResponse returns the fresh key material after a device-initiated
// rotation. Entries sealed under older versions still reconcile server-side.
type RotateKeyResponse struct {
	DeviceID             string `json:"deviceId"`
	EncryptionKey        []byte `json:"encryptionKey"`
	EncryptionKeyVersion int    `json:"encryptionKeyVersion"`
}

// HeartbeatRequest updates device liveness metadata.
type HeartbeatRequest struct {
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

// ExportURLResponse carries a presigned PUT URL for a support artifact.
type ExportURLResponse struct {
	StorageKey string `json:"storageKey"`
	URL        string `json:"url"`
}
