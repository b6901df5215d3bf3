package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitovidale/video-ingest-service/domain"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("HMAC_SECRET", "hmac")
	t.Setenv("S3_BUCKET", "videos")
	t.Setenv("DATABASE_URL", "postgres://user:password@db:5432/videos?sslmode=disable")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PRODUCTION", "")
	t.Setenv("QUEUE_BACKEND", "")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5001", cfg.Port)
	assert.Equal(t, BackendKafka, cfg.QueueBackend)
	assert.Equal(t, "video-processing-queue", cfg.QueueTopic)
	assert.Equal(t, 3, cfg.QueuePartitions)
	assert.Equal(t, 600*time.Second, cfg.UploadURLTTL)
	assert.Equal(t, "unprocessed/", cfg.S3KeyPrefix)
	assert.Equal(t, "X-Webhook-Signature", cfg.SignatureHeader)
	assert.Equal(t, time.Minute, cfg.StaleClaimAfter)
	assert.True(t, cfg.JWTSecretDefaulted)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestLoad_MissingHMACSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("HMAC_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingConfig)
	assert.Contains(t, err.Error(), "HMAC_SECRET")
}

func TestLoad_ProductionRequiresJWTSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("PRODUCTION", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_Durations(t *testing.T) {
	setRequired(t)
	t.Setenv("UPLOAD_URL_TTL", "120")
	t.Setenv("PUBLISH_TIMEOUT", "1500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.UploadURLTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.PublishTimeout)
}

func TestLoad_Malformed(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUE_PARTITIONS", "three")

	_, err := Load()
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestValidate(t *testing.T) {
	base := Config{
		DatabaseDriver:   "postgres",
		DatabaseURL:      "postgres://db",
		HMACSecret:       "s",
		JWTSecret:        "j",
		S3Bucket:         "b",
		QueueBackend:     BackendSQS,
		SQSQueueURL:      "https://sqs.us-east-1.amazonaws.com/1/jobs.fifo",
		QueuePartitions:  1,
		QueueReplication: 1,
		UploadURLTTL:     time.Minute,
		SignTimeout:      time.Second,
		PublishTimeout:   time.Second,
		StaleClaimAfter:  time.Minute,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		kind   error
	}{
		{"unknown backend", func(c *Config) { c.QueueBackend = "zeromq" }, domain.ErrInvalidArgument},
		{"sqs without url", func(c *Config) { c.SQSQueueURL = "" }, domain.ErrMissingConfig},
		{"ttl over a week", func(c *Config) { c.UploadURLTTL = 8 * 24 * time.Hour }, domain.ErrInvalidArgument},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, domain.ErrInvalidArgument},
		{"no bucket", func(c *Config) { c.S3Bucket = "" }, domain.ErrMissingConfig},
		{"stale window inside publish timeout", func(c *Config) { c.StaleClaimAfter = c.PublishTimeout }, domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), tt.kind)
		})
	}
}
