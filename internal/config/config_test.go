package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "mongodb://localhost:27017/formintake", cfg.StoreURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.DispatchInterval())
	assert.Equal(t, 1, cfg.DispatchBatchSize)
	assert.Equal(t, 30*time.Second, cfg.OutboxLease())
	assert.Equal(t, PublisherLog, cfg.Publisher)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.PublishAttempts)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.False(t, cfg.StoreTransactions)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_URL", "postgres://u:p@db:5432/forms")
	t.Setenv("DISPATCH_INTERVAL_MS", "250")
	t.Setenv("DISPATCH_BATCH_SIZE", "20")
	t.Setenv("PUBLISHER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.1")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.DispatchInterval())
	assert.Equal(t, 20, cfg.DispatchBatchSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)

	backend, err := cfg.StoreBackend()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, backend)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"zero interval":   {"DISPATCH_INTERVAL_MS", "0"},
		"batch too large": {"DISPATCH_BATCH_SIZE", "101"},
		"bad publisher":   {"PUBLISHER", "carrier-pigeon"},
		"bad scheme":      {"STORE_URL", "redis://localhost"},
		"no scheme":       {"STORE_URL", "localhost:27017"},
		"bad attempts":    {"PUBLISH_ATTEMPTS", "0"},
		"nan interval":    {"DISPATCH_INTERVAL_MS", "soon"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestStoreBackend(t *testing.T) {
	cases := map[string]string{
		"mongodb://localhost:27017/formintake": BackendMongo,
		"mongodb+srv://cluster.example.net/db": BackendMongo,
		"postgresql://localhost/forms":         BackendPostgres,
		"sqlite://./formintake.db":             BackendSQLite,
		"sqlite://:memory:":                    BackendSQLite,
		"memory://":                            BackendMemory,
	}
	for raw, want := range cases {
		cfg := Config{StoreURL: raw}
		got, err := cfg.StoreBackend()
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestSQLitePath(t *testing.T) {
	assert.Equal(t, "./formintake.db", (&Config{StoreURL: "sqlite://./formintake.db"}).SQLitePath())
	assert.Equal(t, ":memory:", (&Config{StoreURL: "sqlite://:memory:"}).SQLitePath())
}
