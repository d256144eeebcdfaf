// Package config loads the ledger binary configuration from a TOML file with
// LEDGER_ environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ledger"
	"ledger/idgen"
	"ledger/logging"
	"ledger/store/sqlstore"
)

// EnvPrefix is the prefix of every environment override, e.g.
// LEDGER_DATABASE_DSN overrides database.dsn.
const EnvPrefix = "LEDGER"

// Config is the complete binary configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	IDGen    IDGenConfig    `mapstructure:"idgen"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Logger   logging.Config `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// DatabaseConfig selects the account store.
type DatabaseConfig struct {
	// Driver: memory, mysql, postgres
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Pool returns the connection pool limits.
func (c DatabaseConfig) Pool() sqlstore.PoolConfig {
	return sqlstore.PoolConfig{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// RedisConfig backs the account lock and the read cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IDGenConfig configures both the id and the version generators.
type IDGenConfig struct {
	TenantID int64 `mapstructure:"tenant_id"`
	NodeID   int64 `mapstructure:"node_id"`
	// Epoch in RFC 3339
	Epoch           string        `mapstructure:"epoch"`
	TenantBits      uint          `mapstructure:"tenant_bits"`
	NodeBits        uint          `mapstructure:"node_bits"`
	SequenceBits    uint          `mapstructure:"sequence_bits"`
	MaxBackwardWait time.Duration `mapstructure:"max_backward_wait"`
}

// Generator converts c to an idgen.Config.
func (c IDGenConfig) Generator() (idgen.Config, error) {
	cfg := idgen.DefaultConfig()
	if c.Epoch != "" {
		epoch, err := time.Parse(time.RFC3339, c.Epoch)
		if err != nil {
			return cfg, fmt.Errorf("idgen.epoch: %w", err)
		}
		cfg.Epoch = epoch
	}
	if c.TenantBits > 0 {
		cfg.TenantBits = c.TenantBits
	}
	if c.NodeBits > 0 {
		cfg.NodeBits = c.NodeBits
	}
	if c.SequenceBits > 0 {
		cfg.SequenceBits = c.SequenceBits
	}
	cfg.TenantID = c.TenantID
	cfg.NodeID = c.NodeID
	cfg.MaxBackwardWait = c.MaxBackwardWait
	return cfg, nil
}

// LedgerConfig mirrors ledger.Config.
type LedgerConfig struct {
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	LockPrefix          string        `mapstructure:"lock_prefix"`
	LockFailOpen        bool          `mapstructure:"lock_fail_open"`
	CircuitThreshold    int           `mapstructure:"circuit_threshold"`
	CircuitTimeout      time.Duration `mapstructure:"circuit_timeout"`
	CircuitHalfOpenReqs int           `mapstructure:"circuit_half_open_reqs"`
	DefaultPageSize     int           `mapstructure:"default_page_size"`
	MaxPageSize         int           `mapstructure:"max_page_size"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	CachePrefix         string        `mapstructure:"cache_prefix"`
}

// Options returns the ledger options equivalent to c.
func (c LedgerConfig) Options() []ledger.Option {
	return []ledger.Option{
		ledger.WithLockTTL(c.LockTTL),
		ledger.WithLockPrefix(c.LockPrefix),
		ledger.WithLockFailOpen(c.LockFailOpen),
		ledger.WithCircuitThreshold(c.CircuitThreshold),
		ledger.WithCircuitTimeout(c.CircuitTimeout),
		ledger.WithCircuitHalfOpenReqs(c.CircuitHalfOpenReqs),
		ledger.WithPageSizes(c.DefaultPageSize, c.MaxPageSize),
		ledger.WithCacheTTL(c.CacheTTL),
		ledger.WithCachePrefix(c.CachePrefix),
	}
}

// MetricsConfig controls the Prometheus endpoint of the serve command.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig controls OpenTelemetry spans.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// KafkaConfig controls event forwarding.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Async        bool          `mapstructure:"async"`
}

// Load reads the TOML file at path, applies LEDGER_ environment overrides on
// top of the defaults and validates the result. An empty path uses defaults
// and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if _, err := c.IDGen.Generator(); err != nil {
		return err
	}

	if err := ledger.ApplyOptions(c.Ledger.Options()...).Validate(); err != nil {
		return err
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	idCfg := idgen.DefaultConfig()
	v.SetDefault("idgen.tenant_id", 0)
	v.SetDefault("idgen.node_id", 0)
	v.SetDefault("idgen.epoch", idCfg.Epoch.Format(time.RFC3339))
	v.SetDefault("idgen.tenant_bits", idCfg.TenantBits)
	v.SetDefault("idgen.node_bits", idCfg.NodeBits)
	v.SetDefault("idgen.sequence_bits", idCfg.SequenceBits)
	v.SetDefault("idgen.max_backward_wait", idCfg.MaxBackwardWait)

	lc := ledger.DefaultConfig()
	v.SetDefault("ledger.lock_ttl", lc.LockTTL)
	v.SetDefault("ledger.lock_prefix", lc.LockPrefix)
	v.SetDefault("ledger.lock_fail_open", lc.LockFailOpen)
	v.SetDefault("ledger.circuit_threshold", lc.CircuitThreshold)
	v.SetDefault("ledger.circuit_timeout", lc.CircuitTimeout)
	v.SetDefault("ledger.circuit_half_open_reqs", lc.CircuitHalfOpenReqs)
	v.SetDefault("ledger.default_page_size", lc.DefaultPageSize)
	v.SetDefault("ledger.max_page_size", lc.MaxPageSize)
	v.SetDefault("ledger.cache_ttl", lc.CacheTTL)
	v.SetDefault("ledger.cache_prefix", lc.CachePrefix)

	logCfg := logging.DefaultConfig()
	v.SetDefault("logger.level", logCfg.Level)
	v.SetDefault("logger.format", logCfg.Format)
	v.SetDefault("logger.output", logCfg.Output)
	v.SetDefault("logger.file_path", logCfg.FilePath)
	v.SetDefault("logger.max_size", logCfg.MaxSize)
	v.SetDefault("logger.max_backups", logCfg.MaxBackups)
	v.SetDefault("logger.max_age", logCfg.MaxAge)
	v.SetDefault("logger.compress", logCfg.Compress)
	v.SetDefault("logger.with_caller", logCfg.WithCaller)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "ledger")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "ledger")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ledger.events")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.retry_backoff", 100*time.Millisecond)
	v.SetDefault("kafka.async", false)
}
