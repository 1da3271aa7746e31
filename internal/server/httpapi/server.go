// Package httpapi exposes the POS offline protocol over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/villagecompute/posoffline/internal/logging"
	sc "github.com/villagecompute/posoffline/internal/server/config"
	"github.com/villagecompute/posoffline/internal/server/devices"
	"github.com/villagecompute/posoffline/internal/server/exports"
	"github.com/villagecompute/posoffline/internal/server/offline"
)

type Server struct {
	config  *sc.Config
	offline *offline.Service
	devices *devices.Service
	exports *exports.Service
	logger  logging.Logger
}

func NewServer(config *sc.Config, off *offline.Service, dev *devices.Service, exp *exports.Service, logger logging.Logger) *Server {
	return &Server{
		config:  config,
		offline: off,
		devices: dev,
		exports: exp,
		logger:  logger.With("module", "httpapi"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// pairing happens before the device has a token
	r.POST("/pos/devices/pair", s.PairDevice)
	r.POST("/pos/devices/complete-pairing", s.CompletePairing)

	authed := r.Group("/", s.DeviceAuth())
	{
		authed.POST("/pos/offline/upload", s.Upload)
		authed.GET("/pos/offline/status", s.Status)
		authed.GET("/pos/offline/audit/:key", s.AuditTrail)
		authed.POST("/pos/offline/export-url", s.ExportURL)
		authed.POST("/pos/devices/heartbeat", s.Heartbeat)
		authed.POST("/pos/devices/rotate-key", s.RotateKey)
		authed.GET("/pos/devices", s.ListDevices)
	}

	return r
}
