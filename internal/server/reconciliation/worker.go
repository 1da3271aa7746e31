// Package reconciliation drains pending offline transactions and applies
// them through the Checkout Service, at most one invocation per idempotency
// key.
package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/cryptox"
	"github.com/villagecompute/posoffline/internal/logging"
	"github.com/villagecompute/posoffline/internal/server/checkout"
	sc "github.com/villagecompute/posoffline/internal/server/config"
	"github.com/villagecompute/posoffline/internal/server/models"
	"github.com/villagecompute/posoffline/internal/server/repositories/repomanager"
)

// KeyProvider unwraps a device key version for decryption.
type KeyProvider interface {
	UnwrapDeviceKey(ctx context.Context, deviceID string, keyVersion int) ([]byte, error)
}

// WakeupSource blocks until an upload wake-up arrives or the block window
// elapses. The poll loop does not depend on it for correctness.
type WakeupSource interface {
	EnsureGroup(ctx context.Context)
	Wait(ctx context.Context, blockMillis int64) bool
}

// Worker claims due records and reconciles them with bounded parallelism.
type Worker struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	keys        KeyProvider
	checkout    checkout.Service
	wakeup      WakeupSource
	config      *sc.Config
	logger      logging.Logger
}

func NewWorker(db *sql.DB, rm repomanager.RepositoryManager, keys KeyProvider, co checkout.Service, wakeup WakeupSource, config *sc.Config, logger logging.Logger) *Worker {
	return &Worker{
		db:          db,
		repomanager: rm,
		keys:        keys,
		checkout:    co,
		wakeup:      wakeup,
		config:      config,
		logger:      logger.With("module", "reconciliation"),
	}
}

// Run blocks until ctx is cancelled. Each pass claims up to WorkerBatchSize
// due records and processes them concurrently; between passes the worker
// waits for a wake-up or the poll interval, whichever comes first. A
// background sweep requeues stale claims left by crashed workers.
func (w *Worker) Run(ctx context.Context) error {

	if w.wakeup != nil {
		w.wakeup.EnsureGroup(ctx)
	}

	go w.runRecoverySweep(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error(ctx, "claim pass failed", "error", err.Error())
		}
		if n > 0 {
			// drain the backlog before blocking again
			continue
		}

		w.waitForWork(ctx)
	}
}

func (w *Worker) waitForWork(ctx context.Context) {
	if w.wakeup != nil {
		w.wakeup.Wait(ctx, w.config.WorkerPollInterval.Milliseconds())
		return
	}
	select {
	case <-time.After(w.config.WorkerPollInterval):
	case <-ctx.Done():
	}
}

// RunOnce claims one batch of due records, processes it, and reports how
// many records were claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {

	records, err := w.repomanager.Reconciliation(w.db).ClaimDue(ctx, w.config.WorkerBatchSize, time.Now())
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.WorkerConcurrency)

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			w.processRecord(gctx, &rec)
			return nil
		})
	}
	_ = g.Wait()

	return len(records), nil
}

// processRecord drives one claimed record to applied, failed, or a
// rescheduled pending. Every terminal outcome is audited.
func (w *Worker) processRecord(ctx context.Context, rec *models.ReconciliationRecord) {

	key, err := w.keys.UnwrapDeviceKey(ctx, rec.DeviceID, rec.EncryptionKeyVersion)
	if err != nil {
		if errors.Is(err, common.ErrKeyVersionUnknown) {
			w.fail(ctx, rec, "unknown encryption key version")
			return
		}
		// key registry unavailable: leave the claim for the recovery sweep
		w.logger.Error(ctx, "key unwrap failed", "idempotency_key", rec.IdempotencyKey, "error", err.Error())
		return
	}
	defer common.WipeByteArray(key)

	plaintext, err := cryptox.Unseal(rec.EncryptedPayload, rec.EncryptionIV, key)
	if err != nil {
		// tampered or mis-keyed payload can never succeed
		w.fail(ctx, rec, "decryption failed")
		return
	}
	defer common.WipeByteArray(plaintext)

	reference, err := w.checkout.Execute(ctx, rec.IdempotencyKey, plaintext)
	if err != nil {
		var pe *checkout.PermanentError
		if errors.As(err, &pe) {
			w.fail(ctx, rec, pe.Reason)
			return
		}
		w.retryLater(ctx, rec, err)
		return
	}

	if err := w.repomanager.Reconciliation(w.db).MarkApplied(ctx, rec.ID, reference); err != nil {
		// the claim was lost (e.g. requeued as stale and re-finalized);
		// checkout idempotency absorbs the extra invocation
		w.logger.Warn(ctx, "finalize applied lost claim", "idempotency_key", rec.IdempotencyKey, "error", err.Error())
		return
	}

	w.audit(ctx, rec, string(models.RecordApplied), reference, "")
	w.logger.Info(ctx, "record applied", "idempotency_key", rec.IdempotencyKey, "reference", reference)
}

// retryLater reschedules a transient failure with exponential backoff, or
// dead-letters the record once attempts run out.
func (w *Worker) retryLater(ctx context.Context, rec *models.ReconciliationRecord, cause error) {

	attempt := rec.AttemptCount + 1
	if attempt >= w.config.MaxAttempts {
		w.fail(ctx, rec, "retries exhausted: "+cause.Error())
		return
	}

	delay := w.backoffDelay(attempt)
	err := w.repomanager.Reconciliation(w.db).Reschedule(ctx, rec.ID, time.Now().Add(delay), cause.Error())
	if err != nil {
		w.logger.Warn(ctx, "reschedule lost claim", "idempotency_key", rec.IdempotencyKey, "error", err.Error())
		return
	}

	w.logger.Info(ctx, "record rescheduled",
		"idempotency_key", rec.IdempotencyKey, "attempt", attempt, "delay", delay.String())
}

// backoffDelay computes the capped exponential delay for the given attempt.
func (w *Worker) backoffDelay(attempt int) time.Duration {
	b := retry.WithCappedDuration(w.config.BackoffCap, retry.NewExponential(w.config.BackoffBase))
	var delay time.Duration
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}

func (w *Worker) fail(ctx context.Context, rec *models.ReconciliationRecord, reason string) {
	if err := w.repomanager.Reconciliation(w.db).MarkFailed(ctx, rec.ID, reason); err != nil {
		w.logger.Warn(ctx, "finalize failed lost claim", "idempotency_key", rec.IdempotencyKey, "error", err.Error())
		return
	}
	w.audit(ctx, rec, string(models.RecordFailed), "", reason)
	w.logger.Warn(ctx, "record failed", "idempotency_key", rec.IdempotencyKey, "reason", reason)
}

func (w *Worker) audit(ctx context.Context, rec *models.ReconciliationRecord, outcome, reference, detail string) {
	err := w.repomanager.Audit(w.db).Insert(ctx, &models.AuditEntry{
		TenantID:          rec.TenantID,
		DeviceID:          rec.DeviceID,
		IdempotencyKey:    rec.IdempotencyKey,
		Outcome:           outcome,
		CheckoutReference: reference,
		Detail:            detail,
	})
	if err != nil {
		w.logger.Error(ctx, "audit write failed", "idempotency_key", rec.IdempotencyKey, "error", err.Error())
	}
}

// runRecoverySweep periodically requeues claims older than the staleness
// threshold. A timed-out checkout call is an unknown outcome, so the record
// goes back to pending rather than failed; the checkout service's own
// idempotency handling absorbs a second invocation.
func (w *Worker) runRecoverySweep(ctx context.Context) {
	ticker := time.NewTicker(w.config.StaleClaimThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-w.config.StaleClaimThreshold)
			n, err := w.repomanager.Reconciliation(w.db).RequeueStale(ctx, cutoff)
			if err != nil {
				w.logger.Error(ctx, "recovery sweep failed", "error", err.Error())
				continue
			}
			if n > 0 {
				w.logger.Warn(ctx, "requeued stale claims", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
