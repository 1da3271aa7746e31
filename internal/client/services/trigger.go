package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/villagecompute/posoffline/internal/client/transport"
	"github.com/villagecompute/posoffline/internal/logging"
)

// SyncTrigger watches for conditions that should start a sync attempt:
// connectivity restoration, a periodic timer while online, and explicit
// "sync now" requests. It runs in its own goroutine and never touches the
// queue store; it only posts messages on its request channel, which the
// foreground loop consumes to invoke the orchestrator.
type SyncTrigger struct {
	api      transport.Client
	requests chan struct{}
	// online is read from the REPL goroutine while Run updates it, so it
	// must be atomic.
	online atomic.Bool
	logger logging.Logger
}

// NewSyncTrigger builds a trigger around the transport's reachability probe.
func NewSyncTrigger(api transport.Client, logger logging.Logger) *SyncTrigger {
	return &SyncTrigger{
		api: api,
		// capacity 1: bursts of triggers coalesce into a single pending sync
		requests: make(chan struct{}, 1),
		logger:   logger.With("module", "sync_trigger"),
	}
}

// RequestSync posts a sync request. Non-blocking: if a request is already
// pending the new one coalesces with it. Safe to call from any goroutine.
func (t *SyncTrigger) RequestSync() {
	select {
	case t.requests <- struct{}{}:
	default:
	}
}

// Requests exposes the channel the foreground loop consumes.
func (t *SyncTrigger) Requests() <-chan struct{} {
	return t.requests
}

// Online reports the last observed connectivity state. Safe to call from
// any goroutine.
func (t *SyncTrigger) Online() bool {
	return t.online.Load()
}

// Run probes reachability every probeInterval and requests a sync on every
// offline→online transition and every syncInterval while online. Blocks
// until ctx is cancelled.
func (t *SyncTrigger) Run(ctx context.Context, probeInterval, syncInterval time.Duration) {

	probe := time.NewTicker(probeInterval)
	defer probe.Stop()

	periodic := time.NewTicker(syncInterval)
	defer periodic.Stop()

	for {
		select {
		case <-probe.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := t.api.Ping(probeCtx)
			cancel()

			online := err == nil
			wasOnline := t.online.Swap(online)

			if online && !wasOnline {
				t.logger.Info(ctx, "connectivity restored, requesting sync")
				t.RequestSync()
			}
			if !online && wasOnline {
				t.logger.Warn(ctx, "connectivity lost")
			}

		case <-periodic.C:
			if t.online.Load() {
				t.RequestSync()
			}

		case <-ctx.Done():
			return
		}
	}
}
