package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "stock.events", cfg.KafkaEventsTopicName)
	assert.Equal(t, "stock.state", cfg.KafkaStateTopicName)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 1000, cfg.MaxReservationQty)
	assert.Equal(t, 100, cfg.SweepBatchSize)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RESERVATION_TTL_SEC", "60")
	t.Setenv("SWEEP_INTERVAL_SEC", "5")
	t.Setenv("LOCK_TIMEOUT_MS", "250")
	t.Setenv("MAX_RESERVATION_QTY", "10")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("ENVIRONMENT", "production")

	cfg := LoadConfig()

	assert.Equal(t, time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 10, cfg.MaxReservationQty)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 25, cfg.DatabaseMaxConns)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := LoadConfig()
	cfg.ReservationTTL = 0
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.MaxReservationQty = 0
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.KafkaBrokers = nil
	assert.Error(t, cfg.Validate())

	cfg = LoadConfig()
	cfg.LockTimeout = 0
	assert.Error(t, cfg.Validate())
}
