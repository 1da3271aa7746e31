// Package config loads runtime configuration for the POS terminal client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via the -c or -config flags.
//  3. Environment variables (POS_ prefix, see parseEnv).
//  4. Command-line flags (see parseFlags), which override everything else.
package config

import "time"

// Config holds runtime settings for the POS terminal client.
//
// Fields:
//   - ServerEndpointAddr: base URL of the backend HTTP API.
//   - DatabasePath: path to the local SQLite queue database.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - SyncInterval: how often a sync runs while the terminal is online.
//   - RequestTimeout: per-request HTTP timeout.
//   - SyncBatchSize: max entries per upload request.
//   - QueueSoftLimit / QueueHardLimit: queue depth warning and rejection thresholds.
//   - PurgeRetention: how long synced entries are kept before purging.
//   - ExportDir: directory for encrypted queue export artifacts.
type Config struct {
	ServerEndpointAddr  string
	DatabasePath        string
	OnlineCheckInterval time.Duration
	SyncInterval        time.Duration
	RequestTimeout      time.Duration
	SyncBatchSize       int
	QueueSoftLimit      int
	QueueHardLimit      int
	PurgeRetention      time.Duration
	ExportDir           string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DatabasePath = "posqueue.db"
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = 30 * time.Second
	c.RequestTimeout = 10 * time.Second
	c.SyncBatchSize = 50
	c.QueueSoftLimit = 500
	c.QueueHardLimit = 1000
	c.PurgeRetention = 15 * time.Minute
	c.ExportDir = "exports"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), environment variables, and command-line flags. Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
