package offline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/logging"
	"github.com/villagecompute/posoffline/internal/server/models"
	"github.com/villagecompute/posoffline/internal/server/repositories/repotest"
	"github.com/villagecompute/posoffline/internal/wire"
)

type recordingNotifier struct {
	mu   sync.Mutex
	keys []string
}

func (n *recordingNotifier) NotifyUploaded(_ context.Context, key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, key)
}

func setupService(t *testing.T) (*Service, *repotest.FakeManager, *recordingNotifier, *models.Device) {
	t.Helper()

	rm := repotest.NewFakeManager()
	notifier := &recordingNotifier{}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	device := rm.AddDevice(&models.Device{
		TenantID:         "tenant1",
		DeviceIdentifier: "till-01",
		Status:           models.DeviceActive,
		KeyVersion:       1,
	})

	return NewService(nil, rm, notifier, logger), rm, notifier, device
}

func validItem(deviceID string) wire.UploadItem {
	localTxID := uuid.NewString()
	return wire.UploadItem{
		ID:                   uuid.NewString(),
		IdempotencyKey:       deviceID + ":" + localTxID,
		LocalTransactionID:   localTxID,
		EncryptedPayload:     []byte("ciphertext"),
		EncryptionIV:         []byte("123456789012"),
		EncryptionKeyVersion: 1,
		TransactionTimestamp: time.Now(),
		TransactionAmount:    "12.50",
	}
}

func TestUploadAcceptsNewEntry(t *testing.T) {
	s, rm, notifier, device := setupService(t)
	ctx := context.Background()

	item := validItem(device.ID)
	results, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, wire.UploadAccepted, results[0].Status)
	assert.Equal(t, item.ID, results[0].ID)

	rec := rm.Record(item.IdempotencyKey)
	require.NotNil(t, rec)
	assert.Equal(t, models.RecordPending, rec.Status)
	assert.Equal(t, "tenant1", rec.TenantID)
	assert.Equal(t, device.ID, rec.DeviceID)

	assert.Equal(t, []string{item.IdempotencyKey}, notifier.keys)
	assert.NotNil(t, rm.DevicesByID[device.ID].LastSyncedAt)
}

func TestUploadInactiveDevice(t *testing.T) {
	s, rm, _, device := setupService(t)
	rm.DevicesByID[device.ID].Status = models.DeviceSuspended

	_, err := s.Upload(context.Background(), "tenant1", device.ID, []wire.UploadItem{validItem(device.ID)})
	assert.Error(t, err)
}

func TestUploadDeviceOwnedByOtherTenant(t *testing.T) {
	s, rm, notifier, device := setupService(t)

	_, err := s.Upload(context.Background(), "tenant2", device.ID, []wire.UploadItem{validItem(device.ID)})
	assert.ErrorIs(t, err, common.ErrForeignDevice)

	// nothing was queued or announced on behalf of the wrong tenant
	assert.Empty(t, rm.RecordsByKey)
	assert.Empty(t, notifier.keys)
}

func TestUploadReuploadBeforeReconciliation(t *testing.T) {
	s, _, notifier, device := setupService(t)
	ctx := context.Background()

	item := validItem(device.ID)
	_, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
	require.NoError(t, err)

	// still pending server-side, so the re-upload is accepted, not duplicate
	results, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
	require.NoError(t, err)
	assert.Equal(t, wire.UploadAccepted, results[0].Status)

	// the wake-up fires only for the actual insert
	assert.Len(t, notifier.keys, 1)
}

func TestUploadDuplicateAfterApplied(t *testing.T) {
	s, rm, _, device := setupService(t)
	ctx := context.Background()

	item := validItem(device.ID)
	_, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
	require.NoError(t, err)

	rm.RecordsByKey[item.IdempotencyKey].Status = models.RecordApplied

	results, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
	require.NoError(t, err)
	assert.Equal(t, wire.UploadDuplicate, results[0].Status)
}

func TestUploadForeignKeyRejected(t *testing.T) {
	s, rm, _, device := setupService(t)
	ctx := context.Background()

	other := rm.AddDevice(&models.Device{
		TenantID:         "tenant1",
		DeviceIdentifier: "till-02",
		Status:           models.DeviceActive,
	})

	item := validItem(other.ID)
	_, err := s.Upload(ctx, "tenant1", other.ID, []wire.UploadItem{item})
	require.NoError(t, err)

	// same idempotency key uploaded from a different device
	results, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
	require.NoError(t, err)
	assert.Equal(t, wire.UploadRejected, results[0].Status)
	assert.Contains(t, results[0].Reason, "another device")
}

func TestUploadValidation(t *testing.T) {
	s, _, _, device := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*wire.UploadItem)
		reason string
	}{
		{"missing key", func(i *wire.UploadItem) { i.IdempotencyKey = "" }, "idempotency key"},
		{"missing local tx id", func(i *wire.UploadItem) { i.LocalTransactionID = "" }, "local transaction id"},
		{"missing payload", func(i *wire.UploadItem) { i.EncryptedPayload = nil }, "payload"},
		{"missing iv", func(i *wire.UploadItem) { i.EncryptionIV = nil }, "iv"},
		{"missing key version", func(i *wire.UploadItem) { i.EncryptionKeyVersion = 0 }, "key version"},
		{"missing timestamp", func(i *wire.UploadItem) { i.TransactionTimestamp = time.Time{} }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := validItem(device.ID)
			tt.mutate(&item)

			results, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
			require.NoError(t, err)
			assert.Equal(t, wire.UploadRejected, results[0].Status)
			assert.Contains(t, results[0].Reason, tt.reason)
		})
	}
}

func TestUploadMixedBatch(t *testing.T) {
	s, _, _, device := setupService(t)
	ctx := context.Background()

	good := validItem(device.ID)
	bad := validItem(device.ID)
	bad.EncryptedPayload = nil

	results, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{good, bad})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, wire.UploadAccepted, results[0].Status)
	assert.Equal(t, wire.UploadRejected, results[1].Status)
}

func TestStatusReporting(t *testing.T) {
	s, rm, _, device := setupService(t)
	ctx := context.Background()

	applied := validItem(device.ID)
	failed := validItem(device.ID)
	_, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{applied, failed})
	require.NoError(t, err)

	rm.RecordsByKey[applied.IdempotencyKey].Status = models.RecordApplied
	rm.RecordsByKey[applied.IdempotencyKey].CheckoutReference = "order-42"
	rm.RecordsByKey[failed.IdempotencyKey].Status = models.RecordFailed
	rm.RecordsByKey[failed.IdempotencyKey].LastError = "decryption failed"

	statuses, err := s.Status(ctx, "tenant1", []string{
		applied.IdempotencyKey, failed.IdempotencyKey, "never-seen",
	})
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, wire.RecordApplied, statuses[0].Status)
	assert.Equal(t, "order-42", statuses[0].CheckoutReference)
	assert.Equal(t, wire.RecordFailed, statuses[1].Status)
	assert.Equal(t, "decryption failed", statuses[1].LastError)

	// unknown keys read as pending so the terminal keeps waiting
	assert.Equal(t, wire.RecordPending, statuses[2].Status)
}

func TestUploadConcurrentSameKey(t *testing.T) {
	s, rm, notifier, device := setupService(t)
	ctx := context.Background()

	item := validItem(device.ID)

	const uploads = 16
	var wg sync.WaitGroup
	wg.Add(uploads)
	for i := 0; i < uploads; i++ {
		go func() {
			defer wg.Done()
			results, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
			assert.NoError(t, err)
			assert.Equal(t, wire.UploadAccepted, results[0].Status)
		}()
	}
	wg.Wait()

	// every upload converged on one record and one wake-up
	assert.Len(t, rm.RecordsByKey, 1)
	assert.Equal(t, []string{item.IdempotencyKey}, notifier.keys)
	assert.Equal(t, models.RecordPending, rm.Record(item.IdempotencyKey).Status)
}

func TestStatusTenantScoped(t *testing.T) {
	s, _, _, device := setupService(t)
	ctx := context.Background()

	item := validItem(device.ID)
	_, err := s.Upload(ctx, "tenant1", device.ID, []wire.UploadItem{item})
	require.NoError(t, err)

	statuses, err := s.Status(ctx, "tenant2", []string{item.IdempotencyKey})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, wire.RecordPending, statuses[0].Status)
}
