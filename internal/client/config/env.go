package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig mirrors Config for environment parsing. Pointer fields let the
// overlay distinguish "unset" from an explicit zero.
type envConfig struct {
	ServerEndpointAddr  *string        `env:"POS_SERVER_ENDPOINT"`
	DatabasePath        *string        `env:"POS_DATABASE_PATH"`
	OnlineCheckInterval *time.Duration `env:"POS_ONLINE_CHECK_INTERVAL"`
	SyncInterval        *time.Duration `env:"POS_SYNC_INTERVAL"`
	RequestTimeout      *time.Duration `env:"POS_REQUEST_TIMEOUT"`
	SyncBatchSize       *int           `env:"POS_SYNC_BATCH_SIZE"`
	QueueSoftLimit      *int           `env:"POS_QUEUE_SOFT_LIMIT"`
	QueueHardLimit      *int           `env:"POS_QUEUE_HARD_LIMIT"`
	PurgeRetention      *time.Duration `env:"POS_PURGE_RETENTION"`
	ExportDir           *string        `env:"POS_EXPORT_DIR"`
}

// parseEnv overlays Config with values from environment variables. Only
// variables that are actually set override earlier sources.
func parseEnv(cfg *Config) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		panic(err)
	}

	if ec.ServerEndpointAddr != nil {
		cfg.ServerEndpointAddr = *ec.ServerEndpointAddr
	}
	if ec.DatabasePath != nil {
		cfg.DatabasePath = *ec.DatabasePath
	}
	if ec.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = *ec.OnlineCheckInterval
	}
	if ec.SyncInterval != nil {
		cfg.SyncInterval = *ec.SyncInterval
	}
	if ec.RequestTimeout != nil {
		cfg.RequestTimeout = *ec.RequestTimeout
	}
	if ec.SyncBatchSize != nil {
		cfg.SyncBatchSize = *ec.SyncBatchSize
	}
	if ec.QueueSoftLimit != nil {
		cfg.QueueSoftLimit = *ec.QueueSoftLimit
	}
	if ec.QueueHardLimit != nil {
		cfg.QueueHardLimit = *ec.QueueHardLimit
	}
	if ec.PurgeRetention != nil {
		cfg.PurgeRetention = *ec.PurgeRetention
	}
	if ec.ExportDir != nil {
		cfg.ExportDir = *ec.ExportDir
	}
}
