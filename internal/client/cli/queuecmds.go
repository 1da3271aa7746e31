package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/villagecompute/posoffline/internal/filex"
	"github.com/villagecompute/posoffline/internal/netx"
)

// Stats prints queue depth per status plus capacity flags.
func (a *App) Stats(ctx context.Context) error {
	stats, err := a.queue.Stats(ctx)
	if err != nil {
		fmt.Printf("Stats failed: %s\n", err.Error())
		return err
	}

	fmt.Printf("queued: %d  syncing: %d  synced: %d  failed: %d  (depth %d)\n",
		stats.Queued, stats.Syncing, stats.Synced, stats.Failed, stats.Depth)
	if stats.Full {
		fmt.Println("Queue is FULL: new sales are rejected")
	} else if stats.SoftLimitReached {
		fmt.Println("Queue depth is past the soft limit")
	}
	return nil
}

// SyncNow runs a sync attempt in the foreground and reports the outcome.
func (a *App) SyncNow(ctx context.Context) error {
	result, err := a.orchestrator.SyncOnce(ctx)
	if err != nil {
		fmt.Printf("Sync failed: %s\n", err.Error())
		return err
	}
	fmt.Printf("uploaded: %d  accepted: %d  duplicates: %d  rejected: %d  resolved: %d\n",
		result.Uploaded, result.Accepted, result.Duplicates, result.Rejected, result.Resolved)
	return nil
}

// Retry requeues every failed entry for another sync attempt.
func (a *App) Retry(ctx context.Context) error {
	n, err := a.queue.RetryAllFailed(ctx)
	if err != nil {
		fmt.Printf("Retry failed: %s\n", err.Error())
		return err
	}
	fmt.Printf("Requeued %d failed entries\n", n)
	if n > 0 {
		a.trigger.RequestSync()
	}
	return nil
}

// Purge deletes synced entries older than the configured retention.
func (a *App) Purge(ctx context.Context) error {
	n, err := a.queue.PurgeSynced(ctx, a.config.PurgeRetention)
	if err != nil {
		fmt.Printf("Purge failed: %s\n", err.Error())
		return err
	}
	fmt.Printf("Purged %d synced entries\n", n)
	return nil
}

// Export serializes the queue (entries stay encrypted, no key material) and
// writes the artifact locally. When the server is reachable it also uploads
// the artifact to a presigned URL for support.
func (a *App) Export(ctx context.Context) error {
	artifact, err := a.queue.Export(ctx)
	if err != nil {
		fmt.Printf("Export failed: %s\n", err.Error())
		return err
	}

	dir, err := filex.EnsureSubDir(a.config.ExportDir)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("queue-export-%s.json", time.Now().UTC().Format("20060102T150405Z"))
	path, err := filex.WriteArtifact(dir, name, artifact)
	if err != nil {
		return err
	}
	fmt.Printf("Export written to %s\n", path)

	presign, err := a.api.ExportURL(ctx)
	if err != nil {
		fmt.Println("Server upload skipped (offline or unauthorized)")
		return nil
	}
	if err := netx.UploadToPresignedURL(ctx, presign.URL, artifact); err != nil {
		fmt.Printf("Server upload failed: %s\n", err.Error())
		return nil
	}
	fmt.Printf("Uploaded to support storage as %s\n", presign.StorageKey)
	return nil
}
