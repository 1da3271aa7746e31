package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/villagecompute/posoffline/internal/wire"
)

// Upload accepts one batch of encrypted entries from the authenticated device.
func (s *Server) Upload(c *gin.Context) {
	var req wire.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "malformed request body")
		return
	}
	if len(req.Transactions) == 0 {
		invalidRequest(c, "empty batch")
		return
	}
	if len(req.Transactions) > s.config.MaxUploadBatch {
		invalidRequest(c, fmt.Sprintf("batch exceeds %d items", s.config.MaxUploadBatch))
		return
	}

	results, err := s.offline.Upload(c.Request.Context(), tenantID(c), deviceID(c), req.Transactions)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.UploadResponse{Results: results})
}

// Status reports reconciliation statuses for the comma-separated idempotency
// keys in the ids query parameter.
func (s *Server) Status(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		invalidRequest(c, "missing ids parameter")
		return
	}

	keys := make([]string, 0)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		invalidRequest(c, "missing ids parameter")
		return
	}

	statuses, err := s.offline.Status(c.Request.Context(), tenantID(c), keys)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.StatusResponse{Statuses: statuses})
}

// AuditTrail returns the reconciliation audit entries for one idempotency key.
func (s *Server) AuditTrail(c *gin.Context) {
	entries, err := s.offline.AuditTrail(c.Request.Context(), c.Param("key"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ExportURL issues a presigned PUT URL for a queue export artifact.
func (s *Server) ExportURL(c *gin.Context) {
	key, u, err := s.exports.GetPresignedPutURL(c.Request.Context(), tenantID(c), deviceID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.ExportURLResponse{StorageKey: key, URL: u})
}

// PairDevice registers a terminal and returns its short-lived pairing code.
func (s *Server) PairDevice(c *gin.Context) {
	var req wire.PairDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "malformed request body")
		return
	}
	if req.TenantID == "" || req.DeviceIdentifier == "" {
		invalidRequest(c, "tenantId and deviceIdentifier are required")
		return
	}

	result, err := s.devices.InitiatePairing(c.Request.Context(),
		req.TenantID, req.DeviceIdentifier, req.DeviceName, req.LocationName, req.HardwareModel)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.PairDeviceResponse{
		DeviceID:         result.Device.ID,
		DeviceName:       result.Device.Name,
		PairingCode:      result.PairingCode,
		PairingExpiresAt: result.ExpiresAt.Format(time.RFC3339),
	})
}

// CompletePairing activates a terminal and hands it key material and a token.
func (s *Server) CompletePairing(c *gin.Context) {
	var req wire.CompletePairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "malformed request body")
		return
	}
	if req.TenantID == "" || req.DeviceIdentifier == "" || req.PairingCode == "" {
		invalidRequest(c, "tenantId, deviceIdentifier and pairingCode are required")
		return
	}

	result, err := s.devices.CompletePairing(c.Request.Context(), req.TenantID, req.DeviceIdentifier, req.PairingCode)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.CompletePairingResponse{
		DeviceID:             result.Device.ID,
		EncryptionKey:        result.EncryptionKey,
		EncryptionKeyVersion: result.KeyVersion,
		DeviceToken:          result.DeviceToken,
	})
}

// Heartbeat records liveness for the authenticated device.
func (s *Server) Heartbeat(c *gin.Context) {
	var req wire.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "malformed request body")
		return
	}

	if err := s.devices.Heartbeat(c.Request.Context(), deviceID(c), req.FirmwareVersion); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RotateKey issues a fresh key version for the authenticated device.
func (s *Server) RotateKey(c *gin.Context) {
	result, err := s.devices.RotateKey(c.Request.Context(), deviceID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.RotateKeyResponse{
		DeviceID:             result.Device.ID,
		EncryptionKey:        result.EncryptionKey,
		EncryptionKeyVersion: result.KeyVersion,
	})
}

// ListDevices returns the calling tenant's devices.
func (s *Server) ListDevices(c *gin.Context) {
	devices, err := s.devices.List(c.Request.Context(), tenantID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}
