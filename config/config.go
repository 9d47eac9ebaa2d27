package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                       string `mapstructure:"app_name" validate:"required"`
	Port                          int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel                      string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool   `mapstructure:"pretty_logs"`
	HttpServerWriteTimeoutSeconds int    `mapstructure:"http_server_write_timeout_seconds"`
	HttpServerReadTimeoutSeconds  int    `mapstructure:"http_server_read_timeout_seconds"`
	HttpServerIdleTimeoutSeconds  int    `mapstructure:"http_server_idle_timeout_seconds"`
	StartupMaxAttempts            int    `mapstructure:"startup_max_attempts" validate:"min=1"`

	// Participant store
	StoreDriver                   string        `mapstructure:"store_driver" validate:"oneof=postgres memory"`
	DatabaseHost                  string        `mapstructure:"db_host"`
	DatabasePort                  string        `mapstructure:"db_port"`
	DatabaseUserName              string        `mapstructure:"db_user_name"`
	DatabasePassword              string        `mapstructure:"db_password"`
	DatabaseName                  string        `mapstructure:"db_name"`
	DatabaseSSLMode               string        `mapstructure:"db_ssl_mode"`
	DatabaseMaxOpenConns          int           `mapstructure:"db_max_open_conns"`
	DatabaseMaxIdleConns          int           `mapstructure:"db_max_idle_conns"`
	DatabaseConnMaxLifetime       time.Duration `mapstructure:"db_conn_max_lifetime"`
	DatabaseMigrationFolderPath   string        `mapstructure:"db_migration_folder_path"`
	DatabaseMigrationVersion      uint          `mapstructure:"db_migration_version"`
	DatabaseMigrationForce        int           `mapstructure:"db_migration_force"`
	DatabaseMigrationAutoRollback bool          `mapstructure:"db_migration_auto_rollback"`
	// ReferenceColumns lists table.column pairs that point at participants and
	// are re-pointed to the canonical record on merge.
	ReferenceColumns []string `mapstructure:"reference_columns"`

	// Redis (distributed participant locks)
	RedisEnabled  bool          `mapstructure:"redis_enabled"`
	RedisHost     string        `mapstructure:"redis_host"`
	RedisPort     int           `mapstructure:"redis_port"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	LockTTL       time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	LockWait      time.Duration `mapstructure:"lock_wait" validate:"gt=0"`

	// Kafka
	KafkaEnabled         bool     `mapstructure:"kafka_enabled"`
	KafkaBrokers         []string `mapstructure:"kafka_brokers"`
	KafkaEventsTopic     string   `mapstructure:"kafka_events_topic"`
	KafkaEnrichmentTopic string   `mapstructure:"kafka_enrichment_topic"`
	KafkaConsumerGroup   string   `mapstructure:"kafka_consumer_group"`
	KafkaBatchSize       int      `mapstructure:"kafka_batch_size"`
	KafkaBatchTimeoutMs  int      `mapstructure:"kafka_batch_timeout_ms"`
	KafkaRequiredAcks    int      `mapstructure:"kafka_required_acks"`
	KafkaCompression     string   `mapstructure:"kafka_compression"`
	KafkaConsumerEnabled bool     `mapstructure:"kafka_consumer_enabled"`

	// Resolution engine
	MatchMinNameLength int           `mapstructure:"match_min_name_length" validate:"min=1"`
	MatchMaxCandidates int           `mapstructure:"match_max_candidates" validate:"min=1"`
	EnrichMaxRetries   int           `mapstructure:"enrich_max_retries" validate:"min=1"`
	BatchConcurrency   int           `mapstructure:"batch_concurrency" validate:"min=1"`
	CompactionCron     string        `mapstructure:"compaction_cron"`
	JobTimeout         time.Duration `mapstructure:"job_timeout" validate:"gt=0"`

	// Tracing
	OtelExporterEndpoint string `mapstructure:"otel_exporter_endpoint"`
	OtelExporterProtocol string `mapstructure:"otel_exporter_protocol" validate:"omitempty,oneof=grpc http"`
}

var defaults = map[string]any{
	"app_name":                          "clover-api",
	"port":                              3004,
	"log_level":                         "info",
	"pretty_logs":                       false,
	"http_server_write_timeout_seconds": 10,
	"http_server_read_timeout_seconds":  10,
	"http_server_idle_timeout_seconds":  10,
	"startup_max_attempts":              5,

	"store_driver":               "postgres",
	"db_host":                    "localhost",
	"db_port":                    "5432",
	"db_user_name":               "",
	"db_password":                "",
	"db_name":                    "clover",
	"db_ssl_mode":                "disable",
	"db_max_open_conns":          25,
	"db_max_idle_conns":          10,
	"db_conn_max_lifetime":       "10m",
	"db_migration_folder_path":   "db/pg",
	"db_migration_version":       0,
	"db_migration_force":         0,
	"db_migration_auto_rollback": true,
	"reference_columns":          []string{},

	"redis_enabled":  false,
	"redis_host":     "localhost",
	"redis_port":     6379,
	"redis_password": "",
	"redis_db":       0,
	"lock_ttl":       "10s",
	"lock_wait":      "5s",

	"kafka_enabled":          false,
	"kafka_brokers":          []string{"localhost:9092"},
	"kafka_events_topic":     "participant-events",
	"kafka_enrichment_topic": "participant-enrichment-requests",
	"kafka_consumer_group":   "clover-enrichment",
	"kafka_batch_size":       100,
	"kafka_batch_timeout_ms": 100,
	"kafka_required_acks":    1,
	"kafka_compression":      "snappy",
	"kafka_consumer_enabled": true,

	"match_min_name_length": 3,
	"match_max_candidates":  50,
	"enrich_max_retries":    3,
	"batch_concurrency":     8,
	"compaction_cron":       "0 3 * * *",
	"job_timeout":           "10m",

	"otel_exporter_endpoint": "",
	"otel_exporter_protocol": "grpc",
}

var validate = validator.New()

// Load reads configuration from defaults, an optional config.yaml, an
// optional .env file and the environment, in increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN builds the lib/pq connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}

// RedisAddr returns host:port for the redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
