package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/villagecompute/posoffline/internal/client/models"
	"github.com/villagecompute/posoffline/internal/client/transport"
	"github.com/villagecompute/posoffline/internal/logging"
	"github.com/villagecompute/posoffline/internal/wire"
)

// SyncResult summarizes one sync attempt.
type SyncResult struct {
	Uploaded   int // entries sent in this attempt
	Accepted   int // accepted by the server, awaiting async outcome
	Duplicates int // already applied server-side, marked synced immediately
	Rejected   int // permanently rejected, marked failed
	Resolved   int // syncing entries resolved via the status poll
}

// SyncOrchestrator drains the local queue in batches and applies per-entry
// server responses through the queue manager. It never touches storage
// directly.
type SyncOrchestrator struct {
	queue     QueueService
	api       transport.Client
	batchSize int
	logger    logging.Logger

	// mu serializes attempts: a later trigger waits for the in-flight
	// batch's network call to finish rather than aborting it, so no entry is
	// left straddling syncing with an unknown server outcome.
	mu sync.Mutex
}

// NewSyncOrchestrator builds an orchestrator with a bounded upload batch size.
func NewSyncOrchestrator(queue QueueService, api transport.Client, batchSize int, logger logging.Logger) *SyncOrchestrator {
	return &SyncOrchestrator{
		queue:     queue,
		api:       api,
		batchSize: batchSize,
		logger:    logger.With("module", "sync_orchestrator"),
	}
}

// SyncOnce runs a full sync attempt: requeue retryable failures, upload all
// queued entries batch by batch, then poll the server for entries still in
// flight. A transport-level failure rolls in-flight entries back to queued
// and stops the attempt; they are retried on the next trigger.
func (o *SyncOrchestrator) SyncOnce(ctx context.Context) (*SyncResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := &SyncResult{}

	for {
		entries, err := o.queue.SelectForSync(ctx, o.batchSize)
		if err != nil {
			return result, err
		}
		if len(entries) == 0 {
			break
		}

		if err := o.uploadBatch(ctx, entries, result); err != nil {
			return result, err
		}

		if len(entries) < o.batchSize {
			break
		}
	}

	if err := o.resolvePending(ctx, result); err != nil {
		return result, err
	}

	return result, nil
}

func (o *SyncOrchestrator) uploadBatch(ctx context.Context, entries []models.QueueEntry, result *SyncResult) error {

	items := make([]wire.UploadItem, 0, len(entries))
	ids := make([]string, 0, len(entries))
	byID := make(map[string]models.QueueEntry, len(entries))

	for _, e := range entries {
		if err := o.queue.MarkSyncing(ctx, e.ID); err != nil {
			// entry changed state under us (e.g. purged); skip it
			o.logger.Warn(ctx, "skipping entry during sync", "id", e.ID, "error", err.Error())
			continue
		}
		items = append(items, wire.UploadItem{
			ID:                   e.ID,
			IdempotencyKey:       e.IdempotencyKey,
			LocalTransactionID:   e.LocalTransactionID,
			EncryptedPayload:     e.EncryptedPayload,
			EncryptionIV:         e.EncryptionIV,
			EncryptionKeyVersion: e.EncryptionKeyVersion,
			TransactionTimestamp: e.TransactionTimestamp,
			TransactionAmount:    e.TransactionAmount,
			StaffUserID:          e.StaffUserID,
		})
		ids = append(ids, e.ID)
		byID[e.ID] = e
	}
	if len(items) == 0 {
		return nil
	}

	results, err := o.api.UploadBatch(ctx, items)
	if err != nil {
		// no usable response: outcome unknown, roll everything back so the
		// next trigger retries
		if rbErr := o.queue.RollbackSyncing(ctx, ids); rbErr != nil {
			o.logger.Error(ctx, "rollback after failed upload", "error", rbErr.Error())
		}
		return fmt.Errorf("upload failed: %w", err)
	}

	result.Uploaded += len(items)

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if _, ok := byID[r.ID]; !ok {
			continue
		}
		seen[r.ID] = true

		switch r.Status {
		case wire.UploadAccepted:
			// leave syncing; the async outcome arrives via the status poll
			result.Accepted++
		case wire.UploadDuplicate:
			result.Duplicates++
			if err := o.queue.MarkSynced(ctx, r.ID); err != nil {
				return err
			}
		case wire.UploadRejected:
			result.Rejected++
			if err := o.queue.MarkFailed(ctx, r.ID, r.Reason); err != nil {
				return err
			}
		default:
			o.logger.Warn(ctx, "unknown upload status", "id", r.ID, "status", r.Status)
		}
	}

	// entries the server did not answer for go back to queued
	for _, id := range ids {
		if !seen[id] {
			if err := o.queue.RollbackSyncing(ctx, []string{id}); err != nil {
				return err
			}
		}
	}

	return nil
}

// resolvePending reconciles entries stuck in syncing against server truth.
// The local syncing state is a placeholder pending the server's asynchronous
// outcome, not a guess.
func (o *SyncOrchestrator) resolvePending(ctx context.Context, result *SyncResult) error {

	pending, err := o.queue.SelectForStatusPoll(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	keys := make([]string, 0, len(pending))
	byKey := make(map[string]models.QueueEntry, len(pending))
	for _, e := range pending {
		keys = append(keys, e.IdempotencyKey)
		byKey[e.IdempotencyKey] = e
	}

	statuses, err := o.api.Status(ctx, keys)
	if err != nil {
		if errors.Is(err, transport.ErrUnavailable) {
			// poll is best-effort; entries stay syncing until the next attempt
			return nil
		}
		return err
	}

	for _, st := range statuses {
		e, ok := byKey[st.IdempotencyKey]
		if !ok {
			continue
		}
		switch st.Status {
		case wire.RecordApplied, wire.RecordDuplicate:
			if err := o.queue.MarkSynced(ctx, e.ID); err != nil {
				return err
			}
			result.Resolved++
		case wire.RecordFailed:
			reason := st.LastError
			if reason == "" {
				reason = "reconciliation failed"
			}
			if err := o.queue.MarkFailed(ctx, e.ID, reason); err != nil {
				return err
			}
			result.Resolved++
		case wire.RecordPending, wire.RecordProcessing:
			// still in flight server-side
		}
	}

	return nil
}
