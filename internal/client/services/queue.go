// Package services implements the client-side behavior of the offline queue:
// the queue manager (single writer over local storage), the sync trigger, and
// the sync orchestrator.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/villagecompute/posoffline/internal/client/models"
	"github.com/villagecompute/posoffline/internal/client/repositories/devicekeys"
	"github.com/villagecompute/posoffline/internal/client/repositories/queue"
	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/cryptox"
	"github.com/villagecompute/posoffline/internal/logging"
)

// QueueService is the offline queue manager. It is the only component that
// mutates queue entries; the sync orchestrator goes through its transition
// methods and never touches storage directly.
type QueueService interface {
	// Enqueue seals the transaction with the current device key and persists
	// a queued entry. Entirely offline: no network call. Fails with
	// common.ErrDeviceNotPaired when no active key exists and with
	// common.ErrQueueFull past the hard capacity threshold.
	Enqueue(ctx context.Context, tx models.SaleTransaction, staffUserID string) (*models.QueueEntry, error)

	// Stats returns counts per status plus capacity flags.
	Stats(ctx context.Context) (*models.QueueStats, error)

	// SelectForSync returns up to limit entries eligible for upload: queued
	// first, oldest first.
	SelectForSync(ctx context.Context, limit int) ([]models.QueueEntry, error)

	// SelectForStatusPoll returns entries awaiting an asynchronous server
	// outcome (status syncing).
	SelectForStatusPoll(ctx context.Context) ([]models.QueueEntry, error)

	// Status transitions. Illegal transitions return common.ErrInvalidTransition.
	MarkSyncing(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error

	// RollbackSyncing returns in-flight entries to queued after a
	// transport-level failure, so nothing stays stuck without a retry path.
	RollbackSyncing(ctx context.Context, ids []string) error

	// RetryFailed requeues a failed entry for another sync attempt.
	RetryFailed(ctx context.Context, id string) error
	// RetryAllFailed requeues every failed entry and returns how many.
	RetryAllFailed(ctx context.Context) (int, error)

	// PurgeSynced deletes entries synced longer than olderThan ago.
	PurgeSynced(ctx context.Context, olderThan time.Duration) (int64, error)

	// Export serializes all entries (still encrypted, no key material) into a
	// single JSON artifact for support.
	Export(ctx context.Context) ([]byte, error)

	// DeviceID returns the paired device id or common.ErrDeviceNotPaired.
	DeviceID(ctx context.Context) (string, error)

	// StoreDeviceKey records key material received from the pairing callback
	// as the new current version.
	StoreDeviceKey(ctx context.Context, deviceID string, keyMaterial []byte, keyVersion int) error
}

type queueService struct {
	entries   queue.Repository
	keys      devicekeys.Repository
	softLimit int
	hardLimit int
	logger    logging.Logger
}

// NewQueueService wires the queue manager over its repositories. softLimit
// and hardLimit are the capacity policy thresholds in entries.
func NewQueueService(entries queue.Repository, keys devicekeys.Repository, softLimit, hardLimit int, logger logging.Logger) QueueService {
	return &queueService{
		entries:   entries,
		keys:      keys,
		softLimit: softLimit,
		hardLimit: hardLimit,
		logger:    logger.With("module", "queue_manager"),
	}
}

// MakeIdempotencyKey derives the dedup token for a sale. Deterministic:
// the same device and local transaction always map to the same key.
func MakeIdempotencyKey(deviceID, localTransactionID string) string {
	return fmt.Sprintf("%s:%s", deviceID, localTransactionID)
}

func (s *queueService) Enqueue(ctx context.Context, tx models.SaleTransaction, staffUserID string) (*models.QueueEntry, error) {

	key, err := s.keys.GetCurrent(ctx)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrDeviceNotPaired
		}
		return nil, fmt.Errorf("loading device key: %w", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Full {
		return nil, common.ErrQueueFull
	}

	plaintext, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("serializing transaction: %w", err)
	}

	ciphertext, iv, err := cryptox.Seal(plaintext, key.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("encryption error: %w", err)
	}

	e := &models.QueueEntry{
		ID:                   uuid.NewString(),
		LocalTransactionID:   tx.LocalTransactionID,
		EncryptedPayload:     ciphertext,
		EncryptionIV:         iv,
		EncryptionKeyVersion: key.KeyVersion,
		TransactionTimestamp: time.Now().UTC(),
		TransactionAmount:    tx.TotalAmount,
		IdempotencyKey:       MakeIdempotencyKey(key.DeviceID, tx.LocalTransactionID),
		StaffUserID:          staffUserID,
		SyncStatus:           models.StatusQueued,
		CreatedAt:            time.Now().UTC(),
	}

	if err := s.entries.Insert(ctx, e); err != nil {
		if errors.Is(err, common.ErrDuplicateTransaction) {
			return nil, common.ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("saving error: %w", err)
	}

	if stats.SoftLimitReached {
		s.logger.Warn(ctx, "offline queue above soft capacity threshold", "depth", stats.Depth+1, "soft_limit", s.softLimit)
	}

	return e, nil
}

func (s *queueService) Stats(ctx context.Context) (*models.QueueStats, error) {
	counts, err := s.entries.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("error counting entries: %w", err)
	}

	stats := &models.QueueStats{
		Queued:  counts[models.StatusQueued],
		Syncing: counts[models.StatusSyncing],
		Synced:  counts[models.StatusSynced],
		Failed:  counts[models.StatusFailed],
	}
	stats.Depth = stats.Queued + stats.Syncing + stats.Failed
	stats.SoftLimitReached = stats.Depth >= s.softLimit
	stats.Full = stats.Depth >= s.hardLimit
	return stats, nil
}

func (s *queueService) SelectForSync(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	rows, err := s.entries.SelectByStatus(ctx, models.StatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("error retrieving entries: %w", err)
	}
	return rows, nil
}

func (s *queueService) SelectForStatusPoll(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := s.entries.SelectByStatus(ctx, models.StatusSyncing, 0)
	if err != nil {
		return nil, fmt.Errorf("error retrieving entries: %w", err)
	}
	return rows, nil
}

func (s *queueService) MarkSyncing(ctx context.Context, id string) error {
	return s.transition(ctx, id, []models.SyncStatus{models.StatusQueued, models.StatusFailed}, models.StatusSyncing, "", false)
}

func (s *queueService) MarkSynced(ctx context.Context, id string) error {
	return s.transition(ctx, id, []models.SyncStatus{models.StatusSyncing}, models.StatusSynced, "", true)
}

func (s *queueService) MarkFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, []models.SyncStatus{models.StatusSyncing}, models.StatusFailed, reason, false)
}

func (s *queueService) RollbackSyncing(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := s.transition(ctx, id, []models.SyncStatus{models.StatusSyncing}, models.StatusQueued, "", false)
		if err != nil && !errors.Is(err, common.ErrInvalidTransition) {
			return err
		}
	}
	return nil
}

func (s *queueService) RetryFailed(ctx context.Context, id string) error {
	return s.transition(ctx, id, []models.SyncStatus{models.StatusFailed}, models.StatusQueued, "", false)
}

func (s *queueService) RetryAllFailed(ctx context.Context) (int, error) {
	rows, err := s.entries.SelectByStatus(ctx, models.StatusFailed, 0)
	if err != nil {
		return 0, fmt.Errorf("error retrieving entries: %w", err)
	}

	retried := 0
	for _, e := range rows {
		if err := s.RetryFailed(ctx, e.ID); err != nil {
			return retried, err
		}
		retried++
	}
	return retried, nil
}

func (s *queueService) PurgeSynced(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	n, err := s.entries.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info(ctx, "purged synced entries", "count", n)
	}
	return n, nil
}

// exportEntry mirrors QueueEntry for the support artifact. Payloads stay
// encrypted; key material is never included.
type exportEntry struct {
	ID                   string     `json:"id"`
	LocalTransactionID   string     `json:"localTransactionId"`
	EncryptedPayload     []byte     `json:"encryptedPayload"`
	EncryptionIV         []byte     `json:"encryptionIv"`
	EncryptionKeyVersion int        `json:"encryptionKeyVersion"`
	TransactionTimestamp time.Time  `json:"transactionTimestamp"`
	TransactionAmount    string     `json:"transactionAmount"`
	IdempotencyKey       string     `json:"idempotencyKey"`
	SyncStatus           string     `json:"syncStatus"`
	SyncError            string     `json:"syncError,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	SyncedAt             *time.Time `json:"syncedAt,omitempty"`
}

type exportArtifact struct {
	DeviceID   string        `json:"deviceId,omitempty"`
	ExportedAt time.Time     `json:"exportedAt"`
	Entries    []exportEntry `json:"entries"`
}

func (s *queueService) Export(ctx context.Context) ([]byte, error) {
	rows, err := s.entries.SelectAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error retrieving entries: %w", err)
	}

	artifact := exportArtifact{ExportedAt: time.Now().UTC(), Entries: make([]exportEntry, 0, len(rows))}
	if deviceID, err := s.DeviceID(ctx); err == nil {
		artifact.DeviceID = deviceID
	}

	for _, e := range rows {
		artifact.Entries = append(artifact.Entries, exportEntry{
			ID:                   e.ID,
			LocalTransactionID:   e.LocalTransactionID,
			EncryptedPayload:     e.EncryptedPayload,
			EncryptionIV:         e.EncryptionIV,
			EncryptionKeyVersion: e.EncryptionKeyVersion,
			TransactionTimestamp: e.TransactionTimestamp,
			TransactionAmount:    e.TransactionAmount,
			IdempotencyKey:       e.IdempotencyKey,
			SyncStatus:           string(e.SyncStatus),
			SyncError:            e.SyncError,
			CreatedAt:            e.CreatedAt,
			SyncedAt:             e.SyncedAt,
		})
	}

	return json.MarshalIndent(artifact, "", "  ")
}

func (s *queueService) DeviceID(ctx context.Context) (string, error) {
	key, err := s.keys.GetCurrent(ctx)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrDeviceNotPaired
		}
		return "", err
	}
	return key.DeviceID, nil
}

func (s *queueService) StoreDeviceKey(ctx context.Context, deviceID string, keyMaterial []byte, keyVersion int) error {
	k := &models.DeviceKey{
		DeviceID:    deviceID,
		KeyMaterial: keyMaterial,
		KeyVersion:  keyVersion,
		PairedAt:    time.Now().UTC(),
	}
	if err := s.keys.Append(ctx, k); err != nil {
		return fmt.Errorf("storing device key: %w", err)
	}
	s.logger.Info(ctx, "device key stored", "device_id", deviceID, "key_version", keyVersion)
	return nil
}

func (s *queueService) transition(ctx context.Context, id string, from []models.SyncStatus, to models.SyncStatus, syncErr string, stampSynced bool) error {
	err := s.entries.UpdateStatus(ctx, id, from, to, syncErr, stampSynced)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: entry %s to %s", common.ErrInvalidTransition, id, to)
		}
		return err
	}
	return nil
}
