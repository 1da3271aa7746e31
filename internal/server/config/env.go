package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig mirrors Config for environment parsing. Pointer fields let the
// overlay distinguish "unset" from an explicit zero.
type envConfig struct {
	EndpointAddr                *string        `env:"POS_SERVER_ADDR"`
	DatabaseDSN                 *string        `env:"POS_DATABASE_DSN"`
	SecretKey                   *string        `env:"POS_SECRET_KEY"`
	MasterKeyHex                *string        `env:"POS_MASTER_KEY_HEX"`
	DeviceTokenValidityDuration *time.Duration `env:"POS_DEVICE_TOKEN_VALIDITY"`
	PairingCodeTTL              *time.Duration `env:"POS_PAIRING_CODE_TTL"`
	RedisAddr                   *string        `env:"POS_REDIS_ADDR"`
	RedisStream                 *string        `env:"POS_REDIS_STREAM"`
	RedisConsumerGroup          *string        `env:"POS_REDIS_CONSUMER_GROUP"`
	CheckoutBaseURL             *string        `env:"POS_CHECKOUT_BASE_URL"`
	CheckoutTimeout             *time.Duration `env:"POS_CHECKOUT_TIMEOUT"`
	WorkerConcurrency           *int           `env:"POS_WORKER_CONCURRENCY"`
	WorkerBatchSize             *int           `env:"POS_WORKER_BATCH_SIZE"`
	WorkerPollInterval          *time.Duration `env:"POS_WORKER_POLL_INTERVAL"`
	MaxAttempts                 *int           `env:"POS_MAX_ATTEMPTS"`
	BackoffBase                 *time.Duration `env:"POS_BACKOFF_BASE"`
	BackoffCap                  *time.Duration `env:"POS_BACKOFF_CAP"`
	StaleClaimThreshold         *time.Duration `env:"POS_STALE_CLAIM_THRESHOLD"`
	MaxUploadBatch              *int           `env:"POS_MAX_UPLOAD_BATCH"`
	S3RootUser                  *string        `env:"POS_S3_ROOT_USER"`
	S3RootPassword              *string        `env:"POS_S3_ROOT_PASSWORD"`
	S3Bucket                    *string        `env:"POS_S3_BUCKET"`
	S3Region                    *string        `env:"POS_S3_REGION"`
	S3BaseEndpoint              *string        `env:"POS_S3_BASE_ENDPOINT"`
}

// parseEnv overlays Config with values from environment variables. Only
// variables that are actually set override earlier sources.
func parseEnv(cfg *Config) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		panic(err)
	}

	if ec.EndpointAddr != nil {
		cfg.EndpointAddr = *ec.EndpointAddr
	}
	if ec.DatabaseDSN != nil {
		cfg.DatabaseDSN = *ec.DatabaseDSN
	}
	if ec.SecretKey != nil {
		cfg.SecretKey = *ec.SecretKey
	}
	if ec.MasterKeyHex != nil {
		cfg.MasterKeyHex = *ec.MasterKeyHex
	}
	if ec.DeviceTokenValidityDuration != nil {
		cfg.DeviceTokenValidityDuration = *ec.DeviceTokenValidityDuration
	}
	if ec.PairingCodeTTL != nil {
		cfg.PairingCodeTTL = *ec.PairingCodeTTL
	}
	if ec.RedisAddr != nil {
		cfg.RedisAddr = *ec.RedisAddr
	}
	if ec.RedisStream != nil {
		cfg.RedisStream = *ec.RedisStream
	}
	if ec.RedisConsumerGroup != nil {
		cfg.RedisConsumerGroup = *ec.RedisConsumerGroup
	}
	if ec.CheckoutBaseURL != nil {
		cfg.CheckoutBaseURL = *ec.CheckoutBaseURL
	}
	if ec.CheckoutTimeout != nil {
		cfg.CheckoutTimeout = *ec.CheckoutTimeout
	}
	if ec.WorkerConcurrency != nil {
		cfg.WorkerConcurrency = *ec.WorkerConcurrency
	}
	if ec.WorkerBatchSize != nil {
		cfg.WorkerBatchSize = *ec.WorkerBatchSize
	}
	if ec.WorkerPollInterval != nil {
		cfg.WorkerPollInterval = *ec.WorkerPollInterval
	}
	if ec.MaxAttempts != nil {
		cfg.MaxAttempts = *ec.MaxAttempts
	}
	if ec.BackoffBase != nil {
		cfg.BackoffBase = *ec.BackoffBase
	}
	if ec.BackoffCap != nil {
		cfg.BackoffCap = *ec.BackoffCap
	}
	if ec.StaleClaimThreshold != nil {
		cfg.StaleClaimThreshold = *ec.StaleClaimThreshold
	}
	if ec.MaxUploadBatch != nil {
		cfg.MaxUploadBatch = *ec.MaxUploadBatch
	}
	if ec.S3RootUser != nil {
		cfg.S3RootUser = *ec.S3RootUser
	}
	if ec.S3RootPassword != nil {
		cfg.S3RootPassword = *ec.S3RootPassword
	}
	if ec.S3Bucket != nil {
		cfg.S3Bucket = *ec.S3Bucket
	}
	if ec.S3Region != nil {
		cfg.S3Region = *ec.S3Region
	}
	if ec.S3BaseEndpoint != nil {
		cfg.S3BaseEndpoint = *ec.S3BaseEndpoint
	}
}
