// Package offline implements the server half of the offline queue protocol:
// accepting uploaded batches, answering status polls, and exposing the audit
// trail per idempotency key.
package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/logging"
	"github.com/villagecompute/posoffline/internal/server/models"
	"github.com/villagecompute/posoffline/internal/server/repositories/repomanager"
	"github.com/villagecompute/posoffline/internal/server/stream"
	"github.com/villagecompute/posoffline/internal/wire"
)

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    stream.Notifier
	logger      logging.Logger
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, notifier stream.Notifier, logger logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: rm,
		notifier:    notifier,
		logger:      logger.With("module", "offline"),
	}
}

// Upload ingests a batch of encrypted entries from one device. Per entry the
// outcome is:
//
//   - accepted:  a new record was created (or one is still being reconciled)
//   - duplicate: the sale was already applied, the terminal can mark it synced
//   - rejected:  the entry can never be applied (validation or authorization),
//     re-uploading it will not help
//
// Acceptance is durable: once a result says accepted, the record survives
// restarts and will eventually reach a terminal status.
func (s *Service) Upload(ctx context.Context, tenantID, deviceID string, items []wire.UploadItem) ([]wire.UploadResult, error) {

	device, err := s.repomanager.Devices(s.db).GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.TenantID != tenantID {
		return nil, common.ErrForeignDevice
	}
	if device.Status != models.DeviceActive {
		return nil, common.ErrDeviceNotActive
	}

	results := make([]wire.UploadResult, 0, len(items))
	accepted := 0

	for _, item := range items {
		res := s.uploadOne(ctx, tenantID, deviceID, item)
		if res.Status == wire.UploadAccepted {
			accepted++
		}
		results = append(results, res)
	}

	if accepted > 0 {
		if err := s.repomanager.Devices(s.db).MarkSynced(ctx, deviceID, time.Now()); err != nil {
			s.logger.Warn(ctx, "mark synced failed", "device_id", deviceID, "error", err.Error())
		}
	}

	return results, nil
}

func (s *Service) uploadOne(ctx context.Context, tenantID, deviceID string, item wire.UploadItem) wire.UploadResult {

	if reason := validateItem(item); reason != "" {
		return wire.UploadResult{ID: item.ID, Status: wire.UploadRejected, Reason: reason}
	}

	rec, inserted, err := s.repomanager.Reconciliation(s.db).InsertOrGet(ctx, &models.ReconciliationRecord{
		TenantID:             tenantID,
		DeviceID:             deviceID,
		IdempotencyKey:       item.IdempotencyKey,
		LocalTransactionID:   item.LocalTransactionID,
		EncryptedPayload:     item.EncryptedPayload,
		EncryptionIV:         item.EncryptionIV,
		EncryptionKeyVersion: item.EncryptionKeyVersion,
		TransactionTimestamp: item.TransactionTimestamp,
		TransactionAmount:    item.TransactionAmount,
		StaffUserID:          item.StaffUserID,
	})
	if err != nil {
		s.logger.Error(ctx, "upload insert failed", "idempotency_key", item.IdempotencyKey, "error", err.Error())
		return wire.UploadResult{ID: item.ID, Status: wire.UploadRejected, Reason: "internal error"}
	}

	if inserted {
		s.notifier.NotifyUploaded(ctx, rec.IdempotencyKey)
		return wire.UploadResult{ID: item.ID, Status: wire.UploadAccepted}
	}

	// the key already existed: make sure it is the same device's sale
	if rec.DeviceID != deviceID || rec.TenantID != tenantID {
		return wire.UploadResult{ID: item.ID, Status: wire.UploadRejected, Reason: "idempotency key belongs to another device"}
	}

	switch rec.Status {
	case models.RecordApplied, models.RecordDuplicate:
		return wire.UploadResult{ID: item.ID, Status: wire.UploadDuplicate}
	default:
		// pending, processing, or failed: already queued server-side
		return wire.UploadResult{ID: item.ID, Status: wire.UploadAccepted}
	}
}

func validateItem(item wire.UploadItem) string {
	switch {
	case item.IdempotencyKey == "":
		return "missing idempotency key"
	case item.LocalTransactionID == "":
		return "missing local transaction id"
	case len(item.EncryptedPayload) == 0:
		return "missing encrypted payload"
	case len(item.EncryptionIV) == 0:
		return "missing encryption iv"
	case item.EncryptionKeyVersion <= 0:
		return "missing encryption key version"
	case item.TransactionTimestamp.IsZero():
		return "missing transaction timestamp"
	}
	return ""
}

// Status reports the reconciliation status of the given idempotency keys,
// scoped to the calling tenant. Keys the server has never seen are reported
// as pending: the terminal treats that as "keep waiting, re-upload if it
// persists".
func (s *Service) Status(ctx context.Context, tenantID string, keys []string) ([]wire.StatusItem, error) {

	records, err := s.repomanager.Reconciliation(s.db).SelectByIdempotencyKeys(ctx, tenantID, keys)
	if err != nil {
		return nil, fmt.Errorf("selecting statuses: %w", err)
	}

	byKey := make(map[string]models.ReconciliationRecord, len(records))
	for _, r := range records {
		byKey[r.IdempotencyKey] = r
	}

	out := make([]wire.StatusItem, 0, len(keys))
	for _, key := range keys {
		rec, ok := byKey[key]
		if !ok {
			out = append(out, wire.StatusItem{IdempotencyKey: key, Status: wire.RecordPending})
			continue
		}
		out = append(out, wire.StatusItem{
			IdempotencyKey:    rec.IdempotencyKey,
			Status:            string(rec.Status),
			CheckoutReference: rec.CheckoutReference,
			LastError:         rec.LastError,
		})
	}
	return out, nil
}

// AuditTrail returns the audit entries for one idempotency key.
func (s *Service) AuditTrail(ctx context.Context, key string) ([]models.AuditEntry, error) {
	entries, err := s.repomanager.Audit(s.db).ListByIdempotencyKey(ctx, key)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	return entries, nil
}
