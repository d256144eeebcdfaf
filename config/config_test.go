package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ledger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "memory" {
		t.Errorf("expected memory driver, got %s", cfg.Database.Driver)
	}
	if cfg.Ledger.LockTTL != 3*time.Second {
		t.Errorf("expected lock ttl 3s, got %v", cfg.Ledger.LockTTL)
	}
	if cfg.Ledger.MaxPageSize != 100 {
		t.Errorf("expected max page size 100, got %d", cfg.Ledger.MaxPageSize)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("expected json logs, got %s", cfg.Logger.Format)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected /metrics, got %s", cfg.Metrics.Path)
	}

	engine := ledger.ApplyOptions(cfg.Ledger.Options()...)
	if engine != ledger.DefaultConfig() {
		t.Errorf("default file config should equal ledger.DefaultConfig, got %+v", engine)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = "mysql"
dsn = "root:secret@tcp(localhost:3306)/ledger"
max_open_conns = 50
conn_max_lifetime = "10m"

[redis]
enabled = true
addr = "redis:6379"

[idgen]
tenant_id = 3
node_id = 7
epoch = "2021-06-01T00:00:00Z"

[ledger]
lock_ttl = "5s"
lock_fail_open = true
max_page_size = 50

[kafka]
enabled = true
brokers = ["k1:9092", "k2:9092"]
topic = "accounts"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "mysql" || cfg.Database.MaxOpenConns != 50 {
		t.Errorf("unexpected database config: %+v", cfg.Database)
	}
	if pool := cfg.Database.Pool(); pool.ConnMaxLifetime != 10*time.Minute || pool.MaxIdleConns != 5 {
		t.Errorf("unexpected pool: %+v", pool)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Ledger.LockTTL != 5*time.Second || !cfg.Ledger.LockFailOpen || cfg.Ledger.MaxPageSize != 50 {
		t.Errorf("unexpected ledger config: %+v", cfg.Ledger)
	}
	if cfg.Ledger.DefaultPageSize != 10 {
		t.Errorf("unset keys should keep defaults, got %d", cfg.Ledger.DefaultPageSize)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "accounts" {
		t.Errorf("unexpected kafka config: %+v", cfg.Kafka)
	}

	gen, err := cfg.IDGen.Generator()
	if err != nil {
		t.Fatalf("Generator failed: %v", err)
	}
	if gen.TenantID != 3 || gen.NodeID != 7 || gen.Epoch.Year() != 2021 || gen.SequenceBits != 12 {
		t.Errorf("unexpected idgen config: %+v", gen)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_DATABASE_DRIVER", "postgres")
	t.Setenv("LEDGER_DATABASE_DSN", "postgres://localhost/ledger?sslmode=disable")
	t.Setenv("LEDGER_LEDGER_LOCK_TTL", "750ms")
	t.Setenv("LEDGER_LOGGER_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "postgres" || !strings.HasPrefix(cfg.Database.DSN, "postgres://") {
		t.Errorf("env did not override database: %+v", cfg.Database)
	}
	if cfg.Ledger.LockTTL != 750*time.Millisecond {
		t.Errorf("expected lock ttl 750ms, got %v", cfg.Ledger.LockTTL)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logger.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }, "unknown database.driver"},
		{"missing dsn", func(c *Config) { c.Database.Driver = "mysql" }, "database.dsn"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"bad epoch", func(c *Config) { c.IDGen.Epoch = "yesterday" }, "idgen.epoch"},
		{"zero lock ttl", func(c *Config) { c.Ledger.LockTTL = 0 }, "lock TTL"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
