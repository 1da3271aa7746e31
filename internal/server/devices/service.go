// Package devices implements the device registry: pairing, key issuance and
// rotation, heartbeat, and lifecycle transitions.
package devices

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/cryptox"
	"github.com/villagecompute/posoffline/internal/dbx"
	"github.com/villagecompute/posoffline/internal/logging"
	"github.com/villagecompute/posoffline/internal/server/auth"
	sc "github.com/villagecompute/posoffline/internal/server/config"
	"github.com/villagecompute/posoffline/internal/server/models"
	"github.com/villagecompute/posoffline/internal/server/repositories/repomanager"
)

// pairingCodeAlphabet omits visually ambiguous characters (0/O, 1/I/L) so a
// code read off a dashboard survives being typed on a terminal keypad.
const pairingCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const pairingCodeLength = 8

// PairingResult is what the device owner sees after initiating pairing.
type PairingResult struct {
	Device      *models.Device
	PairingCode string
	ExpiresAt   time.Time
}

// ActivationResult carries everything a freshly paired terminal stores.
type ActivationResult struct {
	Device        *models.Device
	EncryptionKey []byte
	KeyVersion    int
	DeviceToken   string
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	masterKey   []byte
	logger      logging.Logger
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, config *sc.Config, masterKey []byte, logger logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: rm,
		config:      config,
		masterKey:   masterKey,
		logger:      logger.With("module", "devices"),
	}
}

// generatePairingCode draws pairingCodeLength characters from the unambiguous
// alphabet using crypto/rand.
func generatePairingCode() (string, error) {
	out := make([]byte, pairingCodeLength)
	max := big.NewInt(int64(len(pairingCodeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating pairing code: %w", err)
		}
		out[i] = pairingCodeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// InitiatePairing registers the device (or reuses an existing registration
// that never completed) and issues a fresh short-lived pairing code. The
// code's argon2id hash is stored; the cleartext code is returned once and
// never persisted.
func (s *Service) InitiatePairing(ctx context.Context, tenantID, deviceIdentifier, name, locationName, hardwareModel string) (*PairingResult, error) {

	repo := s.repomanager.Devices(s.db)

	device, err := repo.GetByIdentifier(ctx, tenantID, deviceIdentifier)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		device, err = repo.Create(ctx, &models.Device{
			TenantID:         tenantID,
			DeviceIdentifier: deviceIdentifier,
			Name:             name,
			LocationName:     locationName,
			HardwareModel:    hardwareModel,
		})
		if err != nil {
			return nil, err
		}
	}

	if device.Status == models.DeviceRetired {
		return nil, common.ErrDeviceNotActive
	}

	code, err := generatePairingCode()
	if err != nil {
		return nil, err
	}
	salt := common.GenerateRandByteArray(16)
	expiresAt := time.Now().Add(s.config.PairingCodeTTL)

	if err := repo.SetPairingCode(ctx, device.ID, cryptox.HashPairingCode(code, salt), salt, expiresAt); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "pairing initiated", "device_id", device.ID, "tenant_id", tenantID)

	return &PairingResult{Device: device, PairingCode: code, ExpiresAt: expiresAt}, nil
}

// CompletePairing verifies the staff-entered code, generates the device's
// encryption key, stores it wrapped under the master key, activates the
// device, and issues a device token. The cleartext key leaves the server
// only in the activation response.
func (s *Service) CompletePairing(ctx context.Context, tenantID, deviceIdentifier, code string) (*ActivationResult, error) {

	device, err := s.repomanager.Devices(s.db).GetByIdentifier(ctx, tenantID, deviceIdentifier)
	if err != nil {
		return nil, err
	}

	if device.PairingExpiresAt == nil || time.Now().After(*device.PairingExpiresAt) {
		return nil, common.ErrPairingCodeExpired
	}

	computed := cryptox.HashPairingCode(code, device.PairingCodeSalt)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(device.PairingCodeHash)) != 1 {
		return nil, common.ErrInvalidPairingCode
	}

	key := common.GenerateRandByteArray(cryptox.KeySize)
	wrapped, err := cryptox.WrapKey(key, s.masterKey)
	if err != nil {
		return nil, err
	}
	keyVersion := device.KeyVersion + 1

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.DeviceKeys(tx).Append(ctx, &models.DeviceKey{
			DeviceID:   device.ID,
			KeyVersion: keyVersion,
			WrappedKey: wrapped,
		}); err != nil {
			return err
		}
		return s.repomanager.Devices(tx).Activate(ctx, device.ID, keyVersion, cryptox.KeyFingerprint(key))
	})
	if err != nil {
		return nil, err
	}

	token, err := auth.GenerateDeviceToken(device.TenantID, device.ID, []byte(s.config.SecretKey), s.config.DeviceTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "device activated", "device_id", device.ID, "key_version", keyVersion)

	return &ActivationResult{Device: device, EncryptionKey: key, KeyVersion: keyVersion, DeviceToken: token}, nil
}

// RotateKey issues a new key version for an active device. Old versions stay
// in the registry so entries sealed before the rotation still reconcile.
func (s *Service) RotateKey(ctx context.Context, deviceID string) (*ActivationResult, error) {

	device, err := s.repomanager.Devices(s.db).GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Status != models.DeviceActive {
		return nil, common.ErrDeviceNotActive
	}

	key := common.GenerateRandByteArray(cryptox.KeySize)
	wrapped, err := cryptox.WrapKey(key, s.masterKey)
	if err != nil {
		return nil, err
	}
	keyVersion := device.KeyVersion + 1

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.DeviceKeys(tx).Append(ctx, &models.DeviceKey{
			DeviceID:   device.ID,
			KeyVersion: keyVersion,
			WrappedKey: wrapped,
		}); err != nil {
			return err
		}
		return s.repomanager.Devices(tx).RotateKey(ctx, device.ID, keyVersion, cryptox.KeyFingerprint(key))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "device key rotated", "device_id", device.ID, "key_version", keyVersion)

	return &ActivationResult{Device: device, EncryptionKey: key, KeyVersion: keyVersion}, nil
}

// UnwrapDeviceKey returns the cleartext key for a device and version. Used
// by the reconciliation worker; common.ErrKeyVersionUnknown when the version
// was never registered.
func (s *Service) UnwrapDeviceKey(ctx context.Context, deviceID string, keyVersion int) ([]byte, error) {
	wrapped, err := s.repomanager.DeviceKeys(s.db).Get(ctx, deviceID, keyVersion)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrKeyVersionUnknown
		}
		return nil, err
	}
	return cryptox.UnwrapKey(wrapped.WrappedKey, s.masterKey)
}

// Heartbeat records device liveness.
func (s *Service) Heartbeat(ctx context.Context, deviceID, firmwareVersion string) error {
	err := s.repomanager.Devices(s.db).Heartbeat(ctx, deviceID, firmwareVersion, time.Now())
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrDeviceNotActive
	}
	return err
}

// MarkSynced records a successful upload from the device.
func (s *Service) MarkSynced(ctx context.Context, deviceID string) error {
	return s.repomanager.Devices(s.db).MarkSynced(ctx, deviceID, time.Now())
}

// Suspend blocks an active device from uploading.
func (s *Service) Suspend(ctx context.Context, deviceID string) error {
	return s.repomanager.Devices(s.db).UpdateStatus(ctx, deviceID,
		[]models.DeviceStatus{models.DeviceActive}, models.DeviceSuspended)
}

// Reactivate lifts a suspension.
func (s *Service) Reactivate(ctx context.Context, deviceID string) error {
	return s.repomanager.Devices(s.db).UpdateStatus(ctx, deviceID,
		[]models.DeviceStatus{models.DeviceSuspended}, models.DeviceActive)
}

// Retire permanently decommissions a device.
func (s *Service) Retire(ctx context.Context, deviceID string) error {
	return s.repomanager.Devices(s.db).UpdateStatus(ctx, deviceID,
		[]models.DeviceStatus{models.DeviceActive, models.DeviceSuspended, models.DevicePending}, models.DeviceRetired)
}

// GetByID returns one device.
func (s *Service) GetByID(ctx context.Context, deviceID string) (*models.Device, error) {
	return s.repomanager.Devices(s.db).GetByID(ctx, deviceID)
}

// List returns a tenant's devices.
func (s *Service) List(ctx context.Context, tenantID string) ([]models.Device, error) {
	return s.repomanager.Devices(s.db).ListByTenant(ctx, tenantID)
}
