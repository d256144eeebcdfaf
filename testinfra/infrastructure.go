// Package testinfra wires the ledger against real MySQL and Redis for
// integration tests. Tests are skipped when either backend is unreachable.
package testinfra

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ledger"
	"ledger/account"
	"ledger/cache"
	"ledger/engine"
	"ledger/event"
	"ledger/lock"
	redislock "ledger/lock/redis"
	"ledger/store"
	"ledger/store/mysql"
	"ledger/store/sqlstore"
	"ledger/transfer"
	"ledger/txn"
)

// DefaultConfig returns default test configuration
func DefaultConfig() TestConfig {
	return TestConfig{
		MySQLDSN:      getEnvOrDefault("LEDGER_TEST_MYSQL_DSN", "root:123456@tcp(localhost:3306)/ledger_test?parseTime=true"),
		RedisAddr:     getEnvOrDefault("LEDGER_TEST_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvOrDefault("LEDGER_TEST_REDIS_PASSWORD", ""),
		RedisDB:       0,
		Ledger:        ledger.DefaultConfig(),
	}
}

// TestConfig holds test configuration
type TestConfig struct {
	MySQLDSN      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Ledger        ledger.Config
}

// TestInfrastructure provides the account service and transfer orchestrator
// backed by MySQL and Redis.
type TestInfrastructure struct {
	DB        *sql.DB
	Redis     *redis.Client
	Store     *sqlstore.Store
	Tx        *txn.Manager
	Locker    lock.Locker
	Cache     *cache.ViewCache[store.Account]
	EventBus  *event.MemoryEventBus
	Engine    *engine.Engine
	Accounts  *account.Service
	Transfers *transfer.Orchestrator
	Config    TestConfig
	testID    string
}

// NewTestInfrastructure creates a new test infrastructure with real MySQL and Redis.
// It skips the test if the infrastructure is not available.
func NewTestInfrastructure(t testing.TB) *TestInfrastructure {
	t.Helper()
	return NewTestInfrastructureWithConfig(t, DefaultConfig())
}

// NewTestInfrastructureWithConfig creates test infrastructure with custom config
func NewTestInfrastructureWithConfig(t testing.TB, cfg TestConfig) *TestInfrastructure {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := mysql.Open(ctx, cfg.MySQLDSN, sqlstore.PoolConfig{MaxOpenConns: 20, MaxIdleConns: 5})
	if err != nil {
		t.Skipf("Skipping test: MySQL not available: %v", err)
	}
	if err := mysql.Migrate(ctx, db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		redisClient.Close()
		t.Skipf("Skipping test: Redis not available: %v", err)
	}

	st := mysql.New(db)
	tx := txn.NewManager(db, txn.WithIsolation(cfg.Ledger.Isolation))
	locker := redislock.NewRedisLocker(redisClient)
	viewCache := cache.NewViewCache[store.Account](redisClient, cfg.Ledger.CacheTTL,
		cache.WithPrefix(cfg.Ledger.CachePrefix))
	bus := event.NewMemoryEventBus()

	eng, err := engine.New(st, tx,
		engine.WithLocker(locker),
		engine.WithCache(viewCache),
		engine.WithEventBus(bus),
		engine.WithConfig(cfg.Ledger))
	if err != nil {
		db.Close()
		redisClient.Close()
		t.Fatalf("engine: %v", err)
	}

	return &TestInfrastructure{
		DB:        db,
		Redis:     redisClient,
		Store:     st,
		Tx:        tx,
		Locker:    locker,
		Cache:     viewCache,
		EventBus:  bus,
		Engine:    eng,
		Accounts:  account.NewService(eng),
		Transfers: transfer.NewOrchestrator(eng),
		Config:    cfg,
		testID:    "T" + strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

// TestID returns the unique test identifier
func (ti *TestInfrastructure) TestID() string {
	return ti.testID
}

// AccountNumber returns an account number namespaced to this test run.
func (ti *TestInfrastructure) AccountNumber(suffix string) string {
	return fmt.Sprintf("%s-%s", ti.testID, suffix)
}

// OpenAccount creates an account with the given balance or fails the test.
func (ti *TestInfrastructure) OpenAccount(t testing.TB, suffix, balance string) string {
	t.Helper()
	num := ti.AccountNumber(suffix)
	_, err := ti.Accounts.Create(context.Background(), account.CreateRequest{
		AccountNumber:  num,
		AccountType:    ledger.AccountTypeSavings,
		OwnerID:        ti.testID,
		OwnerName:      "Integration " + suffix,
		ContactInfo:    suffix + "@example.com",
		InitialBalance: balance,
	})
	if err != nil {
		t.Fatalf("open account %s: %v", num, err)
	}
	return num
}

// Cleanup cleans up test data from MySQL and Redis
func (ti *TestInfrastructure) Cleanup(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	pattern := ti.testID + "%"

	stmts := []string{
		"DELETE FROM bank_account_transfer_log WHERE from_account_number LIKE ?",
		"DELETE FROM bank_account_balance_log WHERE account_number LIKE ?",
		"DELETE FROM bank_account_change_log WHERE account_number LIKE ?",
		"DELETE FROM bank_account WHERE account_number LIKE ?",
	}
	for _, stmt := range stmts {
		if _, err := ti.DB.ExecContext(ctx, stmt, pattern); err != nil {
			t.Logf("Warning: cleanup %q failed: %v", stmt, err)
		}
	}

	for _, prefix := range []string{ti.Config.Ledger.LockPrefix, ti.Config.Ledger.CachePrefix} {
		keys, err := ti.Redis.Keys(ctx, prefix+ti.testID+"*").Result()
		if err == nil && len(keys) > 0 {
			ti.Redis.Del(ctx, keys...)
		}
	}
}

// Close closes all connections
func (ti *TestInfrastructure) Close() {
	if ti.DB != nil {
		ti.DB.Close()
	}
	if ti.Redis != nil {
		ti.Redis.Close()
	}
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
