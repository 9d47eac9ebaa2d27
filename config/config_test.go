package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "clover-api", cfg.AppName)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 3, cfg.MatchMinNameLength)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 10*time.Minute, cfg.DatabaseConnMaxLifetime)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "participant-events", cfg.KafkaEventsTopic)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PORT", "8080")
	t.Setenv("LOCK_TTL", "30s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("ENRICH_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.EnrichMaxRetries)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_DatabaseDSN(t *testing.T) {
	cfg := &Config{
		DatabaseHost:     "db",
		DatabasePort:     "5432",
		DatabaseUserName: "clover",
		DatabasePassword: "secret",
		DatabaseName:     "clover",
		DatabaseSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=clover password=secret dbname=clover sslmode=disable", cfg.DatabaseDSN())
}
