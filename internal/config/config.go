package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backends soportados.
const (
	BackendMongo    = "mongo"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	TargetKafka      = "kafka"
	TargetMemory     = "memory"
	TargetClickHouse = "clickhouse"
)

type Config struct {
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	MongoURI     string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB      string `env:"MONGO_DATABASE" envDefault:"hexaevents"`
	MongoMaxPool uint64 `env:"MONGO_MAX_POOL" envDefault:"100"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"./hexaevents.db"`

	OutboxBackend string `env:"OUTBOX_BACKEND" envDefault:"sqlite"`
	DatabaseURL   string `env:"DATABASE_URL"`

	PublishTarget      string   `env:"PUBLISH_TARGET" envDefault:"memory"`
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	ClickHouseAddr     string   `env:"CLICKHOUSE_ADDR" envDefault:"localhost:9000"`
	ClickHouseDatabase string   `env:"CLICKHOUSE_DATABASE" envDefault:"default"`

	// TailEvents arranca un consumidor que registra lo publicado en el topic de account.
	TailEvents bool `env:"TAIL_EVENTS" envDefault:"false"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	OutboxPeriod      time.Duration `env:"OUTBOX_PERIOD" envDefault:"10s"`
	OutboxBatchSize   int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxConcurrency int           `env:"OUTBOX_CONCURRENCY" envDefault:"10"`
	OutboxLockTTL     time.Duration `env:"OUTBOX_LOCK_TTL" envDefault:"300s"`

	SnapshotEvery int64  `env:"SNAPSHOT_EVERY" envDefault:"0"`
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig lee el .env del directorio actual (si existe) y después el entorno.
// Las variables ya definidas en el entorno no se sobrescriben.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	return Parse()
}

// Parse construye la configuración solo a partir del entorno.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMongo, BackendSQLite:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.OutboxBackend {
	case BackendMongo, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when OUTBOX_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("invalid OUTBOX_BACKEND %q", c.OutboxBackend)
	}
	switch c.PublishTarget {
	case TargetKafka, TargetMemory, TargetClickHouse:
	default:
		return fmt.Errorf("invalid PUBLISH_TARGET %q", c.PublishTarget)
	}
	if c.OutboxBatchSize <= 0 || c.OutboxConcurrency <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE and OUTBOX_CONCURRENCY must be positive")
	}
	if c.SnapshotEvery < 0 {
		return fmt.Errorf("SNAPSHOT_EVERY must be >= 0")
	}
	return nil
}
