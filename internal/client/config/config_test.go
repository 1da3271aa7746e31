package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, c.ServerEndpointAddr, "http://127.0.0.1:8080")
	assert.Equal(t, c.DatabasePath, "posqueue.db")
	assert.Equal(t, c.OnlineCheckInterval, 3*time.Second)
	assert.Equal(t, c.SyncInterval, 30*time.Second)
	assert.Equal(t, c.RequestTimeout, 10*time.Second)
	assert.Equal(t, c.SyncBatchSize, 50)
	assert.Equal(t, c.QueueSoftLimit, 500)
	assert.Equal(t, c.QueueHardLimit, 1000)
	assert.Equal(t, c.PurgeRetention, 15*time.Minute)
	assert.Equal(t, c.ExportDir, "exports")
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	c := LoadConfig()

	require.NotNil(t, c, "LoadConfig must not return nil")
	assert.Equal(t, c.ServerEndpointAddr, "http://127.0.0.1:8080")
	assert.Equal(t, c.QueueHardLimit, 1000)
}

func TestParseEnv_Overlay(t *testing.T) {
	t.Setenv("POS_SERVER_ENDPOINT", "https://pos.example.com")
	t.Setenv("POS_SYNC_INTERVAL", "45s")
	t.Setenv("POS_QUEUE_HARD_LIMIT", "250")

	var c Config
	c.LoadDefaults()
	parseEnv(&c)

	assert.Equal(t, "https://pos.example.com", c.ServerEndpointAddr)
	assert.Equal(t, 45*time.Second, c.SyncInterval)
	assert.Equal(t, 250, c.QueueHardLimit)
	// untouched fields keep their defaults
	assert.Equal(t, "posqueue.db", c.DatabasePath)
}
