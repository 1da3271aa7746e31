package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/villagecompute/posoffline/internal/flagx"
	"github.com/villagecompute/posoffline/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	DatabasePath        string         `json:"database_path"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
	SyncBatchSize       int            `json:"sync_batch_size"`
	QueueSoftLimit      int            `json:"queue_soft_limit"`
	QueueHardLimit      int            `json:"queue_hard_limit"`
	PurgeRetention      timex.Duration `json:"purge_retention"`
	ExportDir           string         `json:"export_dir"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c or -config flags; if neither is set, nothing is
// loaded. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	cfg.DatabasePath = jc.DatabasePath
	cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	cfg.SyncBatchSize = jc.SyncBatchSize
	cfg.QueueSoftLimit = jc.QueueSoftLimit
	cfg.QueueHardLimit = jc.QueueHardLimit
	cfg.PurgeRetention = time.Duration(jc.PurgeRetention.Duration)
	cfg.ExportDir = jc.ExportDir
}
