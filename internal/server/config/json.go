package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/villagecompute/posoffline/internal/flagx"
	"github.com/villagecompute/posoffline/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr                string         `json:"endpoint_addr"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	MasterKeyHex                string         `json:"master_key_hex"`
	DeviceTokenValidityDuration timex.Duration `json:"device_token_validity_duration"`
	PairingCodeTTL              timex.Duration `json:"pairing_code_ttl"`
	RedisAddr                   string         `json:"redis_addr"`
	RedisStream                 string         `json:"redis_stream"`
	RedisConsumerGroup          string         `json:"redis_consumer_group"`
	CheckoutBaseURL             string         `json:"checkout_base_url"`
	CheckoutTimeout             timex.Duration `json:"checkout_timeout"`
	WorkerConcurrency           int            `json:"worker_concurrency"`
	WorkerBatchSize             int            `json:"worker_batch_size"`
	WorkerPollInterval          timex.Duration `json:"worker_poll_interval"`
	MaxAttempts                 int            `json:"max_attempts"`
	BackoffBase                 timex.Duration `json:"backoff_base"`
	BackoffCap                  timex.Duration `json:"backoff_cap"`
	StaleClaimThreshold         timex.Duration `json:"stale_claim_threshold"`
	MaxUploadBatch              int            `json:"max_upload_batch"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; if
// neither is set, nothing is loaded. Panics on read or unmarshal errors.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.MasterKeyHex = c.MasterKeyHex
	config.DeviceTokenValidityDuration = time.Duration(c.DeviceTokenValidityDuration.Duration)
	config.PairingCodeTTL = time.Duration(c.PairingCodeTTL.Duration)
	config.RedisAddr = c.RedisAddr
	config.RedisStream = c.RedisStream
	config.RedisConsumerGroup = c.RedisConsumerGroup
	config.CheckoutBaseURL = c.CheckoutBaseURL
	config.CheckoutTimeout = time.Duration(c.CheckoutTimeout.Duration)
	config.WorkerConcurrency = c.WorkerConcurrency
	config.WorkerBatchSize = c.WorkerBatchSize
	config.WorkerPollInterval = time.Duration(c.WorkerPollInterval.Duration)
	config.MaxAttempts = c.MaxAttempts
	config.BackoffBase = time.Duration(c.BackoffBase.Duration)
	config.BackoffCap = time.Duration(c.BackoffCap.Duration)
	config.StaleClaimThreshold = time.Duration(c.StaleClaimThreshold.Duration)
	config.MaxUploadBatch = c.MaxUploadBatch
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
