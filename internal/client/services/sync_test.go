package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/villagecompute/posoffline/internal/client/models"
	"github.com/villagecompute/posoffline/internal/client/transport"
	"github.com/villagecompute/posoffline/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI scripts upload and status responses per idempotency key.
type fakeAPI struct {
	uploadStatus map[string]string // idempotency key -> upload status
	uploadReason map[string]string
	pollStatus   map[string]wire.StatusItem
	uploadErr    error
	uploads      int
	uploadedKeys []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		uploadStatus: map[string]string{},
		uploadReason: map[string]string{},
		pollStatus:   map[string]wire.StatusItem{},
	}
}

func (f *fakeAPI) Ping(ctx context.Context) error { return nil }

func (f *fakeAPI) UploadBatch(ctx context.Context, items []wire.UploadItem) ([]wire.UploadResult, error) {
	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	results := make([]wire.UploadResult, 0, len(items))
	for _, item := range items {
		f.uploadedKeys = append(f.uploadedKeys, item.IdempotencyKey)
		status, ok := f.uploadStatus[item.IdempotencyKey]
		if !ok {
			status = wire.UploadAccepted
		}
		results = append(results, wire.UploadResult{ID: item.ID, Status: status, Reason: f.uploadReason[item.IdempotencyKey]})
	}
	return results, nil
}

func (f *fakeAPI) Status(ctx context.Context, keys []string) ([]wire.StatusItem, error) {
	var out []wire.StatusItem
	for _, k := range keys {
		if st, ok := f.pollStatus[k]; ok {
			out = append(out, st)
		} else {
			out = append(out, wire.StatusItem{IdempotencyKey: k, Status: wire.RecordPending})
		}
	}
	return out, nil
}

func (f *fakeAPI) PairDevice(ctx context.Context, req wire.PairDeviceRequest) (*wire.PairDeviceResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAPI) CompletePairing(ctx context.Context, req wire.CompletePairingRequest) (*wire.CompletePairingResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAPI) Heartbeat(ctx context.Context, firmwareVersion string) error { return nil }

func (f *fakeAPI) RotateKey(ctx context.Context) (*wire.RotateKeyResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAPI) ExportURL(ctx context.Context) (*wire.ExportURLResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAPI) SetDeviceToken(token string) {}

func setupSync(t *testing.T, api transport.Client, batchSize int) (QueueService, *SyncOrchestrator) {
	t.Helper()
	s := newTestQueueService(t, setupDB(t), 100, 200)
	pair(t, s, "dev-7", 1)
	return s, NewSyncOrchestrator(s, api, batchSize, testLogger())
}

func statusOf(t *testing.T, s QueueService, id string) models.SyncStatus {
	t.Helper()
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	_ = stats
	entries, err := s.SelectForStatusPoll(context.Background())
	require.NoError(t, err)
	for _, e := range entries {
		if e.ID == id {
			return models.StatusSyncing
		}
	}
	queued, err := s.SelectForSync(context.Background(), 0)
	require.NoError(t, err)
	for _, e := range queued {
		if e.ID == id {
			return models.StatusQueued
		}
	}
	return ""
}

func TestSyncOnce_AcceptedStaysSyncing(t *testing.T) {
	api := newFakeAPI()
	s, o := setupSync(t, api, 10)
	ctx := context.Background()

	e, err := s.Enqueue(ctx, saleTx("tx-1", "42.00"), "")
	require.NoError(t, err)

	result, err := o.SyncOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, models.StatusSyncing, statusOf(t, s, e.ID))
}

func TestSyncOnce_DuplicateBecomesSynced(t *testing.T) {
	api := newFakeAPI()
	api.uploadStatus["dev-7:tx-1"] = wire.UploadDuplicate
	s, o := setupSync(t, api, 10)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, saleTx("tx-1", "42.00"), "")
	require.NoError(t, err)

	result, err := o.SyncOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Duplicates)
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 0, stats.Syncing)
}

func TestSyncOnce_RejectedBecomesFailed(t *testing.T) {
	api := newFakeAPI()
	api.uploadStatus["dev-7:tx-1"] = wire.UploadRejected
	api.uploadReason["dev-7:tx-1"] = "device does not belong to tenant"
	s, o := setupSync(t, api, 10)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, saleTx("tx-1", "42.00"), "")
	require.NoError(t, err)

	result, err := o.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rejected)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestSyncOnce_TransportFailureRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.uploadErr = transport.ErrUnavailable
	s, o := setupSync(t, api, 10)
	ctx := context.Background()

	e, err := s.Enqueue(ctx, saleTx("tx-1", "42.00"), "")
	require.NoError(t, err)

	_, err = o.SyncOnce(ctx)
	require.Error(t, err)

	// entry rolled back to queued, ready for the next trigger
	assert.Equal(t, models.StatusQueued, statusOf(t, s, e.ID))

	// next attempt succeeds
	api.uploadErr = nil
	result, err := o.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
}

func TestSyncOnce_BatchesBounded(t *testing.T) {
	api := newFakeAPI()
	s, o := setupSync(t, api, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Enqueue(ctx, saleTx(fmt.Sprintf("tx-%d", i), "1.00"), "")
		require.NoError(t, err)
	}

	result, err := o.SyncOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Uploaded)
	// 2 + 2 + 1
	assert.Equal(t, 3, api.uploads)
	assert.Len(t, api.uploadedKeys, 5)
}

func TestSyncOnce_PollResolvesPending(t *testing.T) {
	api := newFakeAPI()
	s, o := setupSync(t, api, 10)
	ctx := context.Background()

	eA, err := s.Enqueue(ctx, saleTx("tx-a", "1.00"), "")
	require.NoError(t, err)
	eB, err := s.Enqueue(ctx, saleTx("tx-b", "2.00"), "")
	require.NoError(t, err)

	// first sync: both accepted, both stay syncing
	_, err = o.SyncOnce(ctx)
	require.NoError(t, err)

	// server finished reconciling: a applied, b failed permanently
	api.pollStatus["dev-7:tx-a"] = wire.StatusItem{IdempotencyKey: "dev-7:tx-a", Status: wire.RecordApplied, CheckoutReference: "ord-99"}
	api.pollStatus["dev-7:tx-b"] = wire.StatusItem{IdempotencyKey: "dev-7:tx-b", Status: wire.RecordFailed, LastError: "decryption failed"}

	result, err := o.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Resolved)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 1, stats.Failed)
	_ = eA
	_ = eB
}

func TestTrigger_CoalescesRequests(t *testing.T) {
	api := newFakeAPI()
	trigger := NewSyncTrigger(api, testLogger())

	trigger.RequestSync()
	trigger.RequestSync()
	trigger.RequestSync()

	<-trigger.Requests()
	select {
	case <-trigger.Requests():
		t.Fatal("expected coalesced requests, got a second one")
	default:
	}
}
