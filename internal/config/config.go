package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Backends de almacenamiento según el esquema de STORE_URL.
const (
	BackendMongo    = "mongodb"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Publishers disponibles para el paso de despacho.
const (
	PublisherLog   = "log"
	PublisherKafka = "kafka"
)

const maxBatchSize = 100

type Config struct {
	Port                  string   `envconfig:"PORT" default:"8080"`
	StoreURL              string   `envconfig:"STORE_URL" default:"mongodb://localhost:27017/formintake"`
	LogLevel              string   `envconfig:"LOG_LEVEL" default:"info"`
	DispatchIntervalMS    int      `envconfig:"DISPATCH_INTERVAL_MS" default:"5000"`
	DispatchBatchSize     int      `envconfig:"DISPATCH_BATCH_SIZE" default:"1"`
	OutboxLeaseMS         int      `envconfig:"OUTBOX_LEASE_MS" default:"30000"`
	Publisher             string   `envconfig:"PUBLISHER" default:"log"`
	KafkaBrokers          []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic            string   `envconfig:"KAFKA_TOPIC" default:"form-submissions"`
	KafkaConsumerGroup    string   `envconfig:"KAFKA_CONSUMER_GROUP"`
	PublishAttempts       int      `envconfig:"PUBLISH_ATTEMPTS" default:"3"`
	RedisAddr             string   `envconfig:"REDIS_ADDR"`
	CacheTTLSeconds       int      `envconfig:"CACHE_TTL_SECONDS" default:"300"`
	StoreTransactions     bool     `envconfig:"STORE_TRANSACTIONS" default:"false"`
	StoreConnectTimeoutMS int      `envconfig:"STORE_CONNECT_TIMEOUT_MS" default:"10000"`
	ShutdownTimeoutMS     int      `envconfig:"SHUTDOWN_TIMEOUT_MS" default:"10000"`
	TrustedProxies        []string `envconfig:"TRUSTED_PROXIES"`
}

// LoadConfig lee la configuración del entorno y la valida.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DispatchIntervalMS <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL_MS must be > 0, got %d", c.DispatchIntervalMS)
	}
	if c.DispatchBatchSize < 1 || c.DispatchBatchSize > maxBatchSize {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be between 1 and %d, got %d", maxBatchSize, c.DispatchBatchSize)
	}
	if c.OutboxLeaseMS <= 0 {
		return fmt.Errorf("OUTBOX_LEASE_MS must be > 0, got %d", c.OutboxLeaseMS)
	}
	if c.PublishAttempts < 1 {
		return fmt.Errorf("PUBLISH_ATTEMPTS must be >= 1, got %d", c.PublishAttempts)
	}
	if c.Publisher != PublisherLog && c.Publisher != PublisherKafka {
		return fmt.Errorf("PUBLISHER must be %q or %q, got %q", PublisherLog, PublisherKafka, c.Publisher)
	}
	if _, err := c.StoreBackend(); err != nil {
		return err
	}
	return nil
}

// StoreBackend deduce el backend a partir del esquema de STORE_URL.
func (c *Config) StoreBackend() (string, error) {
	scheme, _, ok := strings.Cut(c.StoreURL, "://")
	if !ok {
		return "", fmt.Errorf("invalid STORE_URL %q: missing scheme", c.StoreURL)
	}
	switch strings.ToLower(scheme) {
	case "mongodb", "mongodb+srv":
		return BackendMongo, nil
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "sqlite":
		return BackendSQLite, nil
	case "memory":
		return BackendMemory, nil
	default:
		return "", fmt.Errorf("unsupported STORE_URL scheme %q", scheme)
	}
}

// SQLitePath extrae la ruta de sqlite://path (sqlite://:memory: incluido).
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.StoreURL, "sqlite://")
}

func (c *Config) DispatchInterval() time.Duration { return ms(c.DispatchIntervalMS) }
func (c *Config) OutboxLease() time.Duration      { return ms(c.OutboxLeaseMS) }
func (c *Config) ConnectTimeout() time.Duration   { return ms(c.StoreConnectTimeoutMS) }
func (c *Config) ShutdownTimeout() time.Duration  { return ms(c.ShutdownTimeoutMS) }
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
