package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "order-service", cfg.ServiceName)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 3, cfg.TaskMaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.StaleOrderAge)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("LOCK_TTL", "30s")
	t.Setenv("TASK_MAX_ATTEMPTS", "7")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, 7, cfg.TaskMaxAttempts)

	// Production tightens the pool and worker defaults
	assert.Equal(t, 25, cfg.DatabaseMaxConns)
	assert.Equal(t, 10, cfg.WorkerConcurrency)
}

func TestGetEnvAsDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "not-a-duration")

	cfg := LoadConfig()
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxPollInterval)
}
