// Package repotest provides an in-memory RepositoryManager for service and
// worker tests. It mirrors the guarded-transition semantics of the postgres
// repositories but ignores the DBTX it is handed.
package repotest

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/dbx"
	"github.com/villagecompute/posoffline/internal/server/models"
	"github.com/villagecompute/posoffline/internal/server/repositories/audit"
	"github.com/villagecompute/posoffline/internal/server/repositories/devicekeys"
	"github.com/villagecompute/posoffline/internal/server/repositories/devices"
	"github.com/villagecompute/posoffline/internal/server/repositories/reconciliation"
)

type FakeManager struct {
	mu sync.Mutex

	RecordsByKey map[string]*models.ReconciliationRecord
	DevicesByID  map[string]*models.Device
	KeysByDevice map[string]map[int]*models.DeviceKey
	AuditEntries []models.AuditEntry
}

func NewFakeManager() *FakeManager {
	return &FakeManager{
		RecordsByKey: make(map[string]*models.ReconciliationRecord),
		DevicesByID:  make(map[string]*models.Device),
		KeysByDevice: make(map[string]map[int]*models.DeviceKey),
	}
}

func (m *FakeManager) Reconciliation(dbx.DBTX) reconciliation.Repository { return &fakeRecords{m} }
func (m *FakeManager) Devices(dbx.DBTX) devices.Repository               { return &fakeDevices{m} }
func (m *FakeManager) DeviceKeys(dbx.DBTX) devicekeys.Repository         { return &fakeKeys{m} }
func (m *FakeManager) Audit(dbx.DBTX) audit.Repository                   { return &fakeAudit{m} }

func (m *FakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }

// Record returns a copy of the record stored under key, or nil.
func (m *FakeManager) Record(key string) *models.ReconciliationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.RecordsByKey[key]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// AddDevice stores a device, filling in an id when missing, and returns it.
func (m *FakeManager) AddDevice(device *models.Device) *models.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	m.DevicesByID[device.ID] = device
	return device
}

type fakeRecords struct{ m *FakeManager }

func (r *fakeRecords) InsertOrGet(_ context.Context, rec *models.ReconciliationRecord) (*models.ReconciliationRecord, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if existing, ok := r.m.RecordsByKey[rec.IdempotencyKey]; ok {
		cp := *existing
		return &cp, false, nil
	}

	stored := *rec
	stored.ID = uuid.NewString()
	stored.Status = models.RecordPending
	stored.NextAttemptAt = time.Now()
	stored.CreatedAt = time.Now()
	r.m.RecordsByKey[stored.IdempotencyKey] = &stored

	cp := stored
	return &cp, true, nil
}

func (r *fakeRecords) GetByIdempotencyKey(_ context.Context, key string) (*models.ReconciliationRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec, ok := r.m.RecordsByKey[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRecords) SelectByIdempotencyKeys(_ context.Context, tenantID string, keys []string) ([]models.ReconciliationRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]models.ReconciliationRecord, 0)
	for _, key := range keys {
		if rec, ok := r.m.RecordsByKey[key]; ok && rec.TenantID == tenantID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeRecords) ClaimDue(_ context.Context, limit int, now time.Time) ([]models.ReconciliationRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]models.ReconciliationRecord, 0)
	for _, rec := range r.m.RecordsByKey {
		if len(out) >= limit {
			break
		}
		if rec.Status == models.RecordPending && !rec.NextAttemptAt.After(now) {
			rec.Status = models.RecordProcessing
			started := now
			rec.ProcessingStartedAt = &started
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeRecords) byID(id string) *models.ReconciliationRecord {
	for _, rec := range r.m.RecordsByKey {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (r *fakeRecords) MarkApplied(_ context.Context, id, checkoutReference string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec := r.byID(id)
	if rec == nil || rec.Status != models.RecordProcessing {
		return common.ErrorNotFound
	}
	rec.Status = models.RecordApplied
	rec.CheckoutReference = checkoutReference
	rec.ProcessingStartedAt = nil
	return nil
}

func (r *fakeRecords) MarkFailed(_ context.Context, id, lastError string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec := r.byID(id)
	if rec == nil || rec.Status != models.RecordProcessing {
		return common.ErrorNotFound
	}
	rec.Status = models.RecordFailed
	rec.LastError = lastError
	rec.ProcessingStartedAt = nil
	return nil
}

func (r *fakeRecords) Reschedule(_ context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec := r.byID(id)
	if rec == nil || rec.Status != models.RecordProcessing {
		return common.ErrorNotFound
	}
	rec.Status = models.RecordPending
	rec.AttemptCount++
	rec.NextAttemptAt = nextAttemptAt
	rec.LastError = lastError
	rec.ProcessingStartedAt = nil
	return nil
}

func (r *fakeRecords) RequeueStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, rec := range r.m.RecordsByKey {
		if rec.Status == models.RecordProcessing && rec.ProcessingStartedAt != nil && rec.ProcessingStartedAt.Before(cutoff) {
			rec.Status = models.RecordPending
			rec.ProcessingStartedAt = nil
			n++
		}
	}
	return n, nil
}

type fakeDevices struct{ m *FakeManager }

func (r *fakeDevices) Create(_ context.Context, device *models.Device) (*models.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored := *device
	stored.ID = uuid.NewString()
	stored.Status = models.DevicePending
	stored.CreatedAt = time.Now()
	r.m.DevicesByID[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (r *fakeDevices) GetByID(_ context.Context, id string) (*models.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	device, ok := r.m.DevicesByID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *device
	return &cp, nil
}

func (r *fakeDevices) GetByIdentifier(_ context.Context, tenantID, deviceIdentifier string) (*models.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, device := range r.m.DevicesByID {
		if device.TenantID == tenantID && device.DeviceIdentifier == deviceIdentifier {
			cp := *device
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeDevices) ListByTenant(_ context.Context, tenantID string) ([]models.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]models.Device, 0)
	for _, device := range r.m.DevicesByID {
		if device.TenantID == tenantID {
			out = append(out, *device)
		}
	}
	return out, nil
}

func (r *fakeDevices) SetPairingCode(_ context.Context, id, codeHash string, salt []byte, expiresAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	device, ok := r.m.DevicesByID[id]
	if !ok || device.Status == models.DeviceRetired {
		return common.ErrorNotFound
	}
	device.PairingCodeHash = codeHash
	device.PairingCodeSalt = salt
	device.PairingExpiresAt = &expiresAt
	return nil
}

func (r *fakeDevices) Activate(_ context.Context, id string, keyVersion int, keyFingerprint string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	device, ok := r.m.DevicesByID[id]
	if !ok || device.Status != models.DevicePending {
		return common.ErrorNotFound
	}
	device.Status = models.DeviceActive
	device.KeyVersion = keyVersion
	device.KeyFingerprint = keyFingerprint
	device.PairingCodeHash = ""
	device.PairingCodeSalt = nil
	device.PairingExpiresAt = nil
	return nil
}

func (r *fakeDevices) RotateKey(_ context.Context, id string, keyVersion int, keyFingerprint string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	device, ok := r.m.DevicesByID[id]
	if !ok || device.Status != models.DeviceActive {
		return common.ErrorNotFound
	}
	device.KeyVersion = keyVersion
	device.KeyFingerprint = keyFingerprint
	return nil
}

func (r *fakeDevices) UpdateStatus(_ context.Context, id string, from []models.DeviceStatus, to models.DeviceStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	device, ok := r.m.DevicesByID[id]
	if !ok {
		return common.ErrorNotFound
	}
	for _, f := range from {
		if device.Status == f {
			device.Status = to
			return nil
		}
	}
	return common.ErrorNotFound
}

func (r *fakeDevices) Heartbeat(_ context.Context, id, firmwareVersion string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	device, ok := r.m.DevicesByID[id]
	if !ok || device.Status != models.DeviceActive {
		return common.ErrorNotFound
	}
	device.LastSeenAt = &at
	if firmwareVersion != "" {
		device.FirmwareVersion = firmwareVersion
	}
	return nil
}

func (r *fakeDevices) MarkSynced(_ context.Context, id string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	device, ok := r.m.DevicesByID[id]
	if !ok {
		return common.ErrorNotFound
	}
	device.LastSyncedAt = &at
	return nil
}

type fakeKeys struct{ m *FakeManager }

func (r *fakeKeys) Append(_ context.Context, key *models.DeviceKey) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	versions, ok := r.m.KeysByDevice[key.DeviceID]
	if !ok {
		versions = make(map[int]*models.DeviceKey)
		r.m.KeysByDevice[key.DeviceID] = versions
	}
	stored := *key
	stored.CreatedAt = time.Now()
	versions[key.KeyVersion] = &stored
	return nil
}

func (r *fakeKeys) Get(_ context.Context, deviceID string, keyVersion int) (*models.DeviceKey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key, ok := r.m.KeysByDevice[deviceID][keyVersion]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *key
	return &cp, nil
}

type fakeAudit struct{ m *FakeManager }

func (r *fakeAudit) Insert(_ context.Context, entry *models.AuditEntry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored := *entry
	stored.ID = uuid.NewString()
	stored.OccurredAt = time.Now()
	r.m.AuditEntries = append(r.m.AuditEntries, stored)
	return nil
}

func (r *fakeAudit) ListByIdempotencyKey(_ context.Context, key string) ([]models.AuditEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]models.AuditEntry, 0)
	for _, entry := range r.m.AuditEntries {
		if entry.IdempotencyKey == key {
			out = append(out, entry)
		}
	}
	return out, nil
}
