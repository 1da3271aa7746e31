package reconciliation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/cryptox"
	"github.com/villagecompute/posoffline/internal/logging"
	"github.com/villagecompute/posoffline/internal/server/checkout"
	sc "github.com/villagecompute/posoffline/internal/server/config"
	"github.com/villagecompute/posoffline/internal/server/models"
	"github.com/villagecompute/posoffline/internal/server/repositories/repotest"
)

type fakeKeyProvider struct {
	keys map[string]map[int][]byte
}

func (f *fakeKeyProvider) UnwrapDeviceKey(_ context.Context, deviceID string, keyVersion int) ([]byte, error) {
	key, ok := f.keys[deviceID][keyVersion]
	if !ok {
		return nil, common.ErrKeyVersionUnknown
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

type fakeCheckout struct {
	mu        sync.Mutex
	calls     map[string]int
	reference string
	err       error
}

func (f *fakeCheckout) Execute(_ context.Context, idempotencyKey string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[idempotencyKey]++
	if f.err != nil {
		return "", f.err
	}
	return f.reference, nil
}

func (f *fakeCheckout) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func testConfig() *sc.Config {
	return &sc.Config{
		WorkerConcurrency:   2,
		WorkerBatchSize:     10,
		WorkerPollInterval:  time.Second,
		MaxAttempts:         3,
		BackoffBase:         time.Second,
		BackoffCap:          time.Minute,
		StaleClaimThreshold: 5 * time.Minute,
	}
}

func setupWorker(t *testing.T) (*Worker, *repotest.FakeManager, *fakeKeyProvider, *fakeCheckout, []byte) {
	t.Helper()

	rm := repotest.NewFakeManager()
	key := common.GenerateRandByteArray(cryptox.KeySize)
	keys := &fakeKeyProvider{keys: map[string]map[int][]byte{
		"device1": {1: key},
	}}
	co := &fakeCheckout{reference: "order-1"}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	w := NewWorker(nil, rm, keys, co, nil, testConfig(), logger)
	return w, rm, keys, co, key
}

// enqueue seals a payload under key and inserts a pending record for it.
func enqueue(t *testing.T, rm *repotest.FakeManager, key []byte, mutate func(*models.ReconciliationRecord)) string {
	t.Helper()

	ciphertext, iv, err := cryptox.Seal([]byte(`{"amount":"12.50"}`), key)
	require.NoError(t, err)

	idempotencyKey := "device1:" + uuid.NewString()
	rec := &models.ReconciliationRecord{
		TenantID:             "tenant1",
		DeviceID:             "device1",
		IdempotencyKey:       idempotencyKey,
		LocalTransactionID:   uuid.NewString(),
		EncryptedPayload:     ciphertext,
		EncryptionIV:         iv,
		EncryptionKeyVersion: 1,
		TransactionTimestamp: time.Now(),
		TransactionAmount:    "12.50",
	}
	if mutate != nil {
		mutate(rec)
	}

	_, inserted, err := rm.Reconciliation(nil).InsertOrGet(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)

	return idempotencyKey
}

func TestRunOnceAppliesRecord(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)
	idempotencyKey := enqueue(t, rm, key, nil)

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := rm.Record(idempotencyKey)
	assert.Equal(t, models.RecordApplied, rec.Status)
	assert.Equal(t, "order-1", rec.CheckoutReference)
	assert.Equal(t, 1, co.callCount(idempotencyKey))

	entries, err := rm.Audit(nil).ListByIdempotencyKey(context.Background(), idempotencyKey)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(models.RecordApplied), entries[0].Outcome)
	assert.Equal(t, "order-1", entries[0].CheckoutReference)
}

func TestRunOnceEmptyQueue(t *testing.T) {
	w, _, _, _, _ := setupWorker(t)

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAppliedRecordNotReprocessed(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)
	idempotencyKey := enqueue(t, rm, key, nil)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	// the checkout call happened exactly once
	assert.Equal(t, 1, co.callCount(idempotencyKey))
}

func TestPermanentCheckoutErrorFailsRecord(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)
	co.err = &checkout.PermanentError{Reason: "unknown product"}
	idempotencyKey := enqueue(t, rm, key, nil)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	rec := rm.Record(idempotencyKey)
	assert.Equal(t, models.RecordFailed, rec.Status)
	assert.Equal(t, "unknown product", rec.LastError)
	assert.Equal(t, 1, co.callCount(idempotencyKey))

	entries, err := rm.Audit(nil).ListByIdempotencyKey(context.Background(), idempotencyKey)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(models.RecordFailed), entries[0].Outcome)
}

func TestTransientCheckoutErrorReschedules(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)
	co.err = &checkout.TransientError{Err: errors.New("connection refused")}
	idempotencyKey := enqueue(t, rm, key, nil)

	before := time.Now()
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	rec := rm.Record(idempotencyKey)
	assert.Equal(t, models.RecordPending, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.True(t, rec.NextAttemptAt.After(before))

	// not due yet, so the next pass skips it
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, co.callCount(idempotencyKey))
}

func TestRetriesExhaustedFailsRecord(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)
	co.err = &checkout.TransientError{Err: errors.New("connection refused")}
	idempotencyKey := enqueue(t, rm, key, nil)

	rm.RecordsByKey[idempotencyKey].AttemptCount = w.config.MaxAttempts - 1

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	rec := rm.Record(idempotencyKey)
	assert.Equal(t, models.RecordFailed, rec.Status)
	assert.Contains(t, rec.LastError, "retries exhausted")
}

func TestUnknownKeyVersionFailsRecord(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)
	idempotencyKey := enqueue(t, rm, key, func(rec *models.ReconciliationRecord) {
		rec.EncryptionKeyVersion = 99
	})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	rec := rm.Record(idempotencyKey)
	assert.Equal(t, models.RecordFailed, rec.Status)
	assert.Contains(t, rec.LastError, "unknown encryption key version")
	assert.Equal(t, 0, co.callCount(idempotencyKey))
}

func TestTamperedPayloadFailsRecord(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)
	idempotencyKey := enqueue(t, rm, key, func(rec *models.ReconciliationRecord) {
		rec.EncryptedPayload[0] ^= 0xff
	})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	rec := rm.Record(idempotencyKey)
	assert.Equal(t, models.RecordFailed, rec.Status)
	assert.Equal(t, "decryption failed", rec.LastError)
	assert.Equal(t, 0, co.callCount(idempotencyKey))
}

func TestKeyRegistryOutageLeavesClaim(t *testing.T) {
	w, rm, keys, co, key := setupWorker(t)
	idempotencyKey := enqueue(t, rm, key, nil)

	// simulate the registry being unreachable rather than the version missing
	keys.keys = nil
	w.keys = &erroringKeyProvider{}

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	// the record stays claimed; the recovery sweep will requeue it later
	rec := rm.Record(idempotencyKey)
	assert.Equal(t, models.RecordProcessing, rec.Status)
	assert.Equal(t, 0, co.callCount(idempotencyKey))
}

type erroringKeyProvider struct{}

func (erroringKeyProvider) UnwrapDeviceKey(context.Context, string, int) ([]byte, error) {
	return nil, errors.New("registry unavailable")
}

func TestConcurrentPassesInvokeCheckoutOnce(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)
	idempotencyKey := enqueue(t, rm, key, nil)

	const passes = 8
	var wg sync.WaitGroup
	wg.Add(passes)
	for i := 0; i < passes; i++ {
		go func() {
			defer wg.Done()
			_, err := w.RunOnce(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// exactly one pass claimed the record; the claim is the invocation gate
	assert.Equal(t, 1, co.callCount(idempotencyKey))
	assert.Equal(t, models.RecordApplied, rm.Record(idempotencyKey).Status)
}

func TestConcurrentUploadsReconcileOnce(t *testing.T) {
	w, rm, _, co, key := setupWorker(t)

	ciphertext, iv, err := cryptox.Seal([]byte(`{"amount":"9.99"}`), key)
	require.NoError(t, err)

	idempotencyKey := "device1:" + uuid.NewString()
	rec := models.ReconciliationRecord{
		TenantID:             "tenant1",
		DeviceID:             "device1",
		IdempotencyKey:       idempotencyKey,
		LocalTransactionID:   uuid.NewString(),
		EncryptedPayload:     ciphertext,
		EncryptionIV:         iv,
		EncryptionKeyVersion: 1,
		TransactionTimestamp: time.Now(),
		TransactionAmount:    "9.99",
	}

	// a flaky terminal re-uploading the same sale from several goroutines
	const uploads = 8
	insertedCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(uploads)
	for i := 0; i < uploads; i++ {
		go func() {
			defer wg.Done()
			r := rec
			_, inserted, err := rm.Reconciliation(nil).InsertOrGet(context.Background(), &r)
			assert.NoError(t, err)
			if inserted {
				mu.Lock()
				insertedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, insertedCount)

	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, co.callCount(idempotencyKey))
	assert.Equal(t, models.RecordApplied, rm.Record(idempotencyKey).Status)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	w, _, _, _, _ := setupWorker(t)

	d1 := w.backoffDelay(1)
	d2 := w.backoffDelay(2)
	assert.Greater(t, d2, d1)

	capped := w.backoffDelay(20)
	assert.LessOrEqual(t, capped, w.config.BackoffCap)
}

func TestRecoverySweepRequeuesStaleClaims(t *testing.T) {
	_, rm, _, _, key := setupWorker(t)
	ctx := context.Background()
	idempotencyKey := enqueue(t, rm, key, nil)

	claimed, err := rm.Reconciliation(nil).ClaimDue(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	stale := time.Now().Add(-time.Hour)
	rm.RecordsByKey[idempotencyKey].ProcessingStartedAt = &stale

	n, err := rm.Reconciliation(nil).RequeueStale(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, models.RecordPending, rm.Record(idempotencyKey).Status)
}
