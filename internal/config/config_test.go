package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// --- Load Tests ---

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SchedulerName != "jobstore" {
		t.Errorf("SchedulerName = %q, want jobstore", cfg.SchedulerName)
	}
	if cfg.CheckinInterval != 7500*time.Millisecond {
		t.Errorf("CheckinInterval = %s, want 7.5s", cfg.CheckinInterval)
	}
	if cfg.MissedCheckinThreshold != 2 {
		t.Errorf("MissedCheckinThreshold = %d, want 2", cfg.MissedCheckinThreshold)
	}
	if cfg.Lock.Mode != LockModeRow {
		t.Errorf("Lock.Mode = %q, want row", cfg.Lock.Mode)
	}
	if cfg.InstanceID == "" || cfg.InstanceID == AutoInstanceID {
		t.Errorf("InstanceID = %q, want generated id", cfg.InstanceID)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("JOBSTORE_INSTANCE_ID", "node-1")
	t.Setenv("JOBSTORE_CHECKIN_INTERVAL", "5s")
	t.Setenv("JOBSTORE_LOCK_MODE", "ADVISORY")
	t.Setenv("JOBSTORE_STORE_MAX_CONNS", "4")
	t.Setenv("JOBSTORE_DISPATCH_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.InstanceID != "node-1" {
		t.Errorf("InstanceID = %q, want node-1", cfg.InstanceID)
	}
	if cfg.CheckinInterval != 5*time.Second {
		t.Errorf("CheckinInterval = %s, want 5s", cfg.CheckinInterval)
	}
	if cfg.Lock.Mode != LockModeAdvisory {
		t.Errorf("Lock.Mode = %q, want advisory", cfg.Lock.Mode)
	}
	if cfg.Store.MaxConns != 4 {
		t.Errorf("Store.MaxConns = %d, want 4", cfg.Store.MaxConns)
	}
	if !cfg.Dispatch.Enabled {
		t.Error("Dispatch.Enabled = false, want true")
	}
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("DB_URL", "postgres://legacy/db")
	t.Setenv("RABBITMQ_URL", "amqp://legacy/")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.DSN != "postgres://legacy/db" {
		t.Errorf("Store.DSN = %q", cfg.Store.DSN)
	}
	if cfg.AMQP.URL != "amqp://legacy/" {
		t.Errorf("AMQP.URL = %q", cfg.AMQP.URL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("DB_URL", "postgres://legacy/db")
	t.Setenv("JOBSTORE_STORE_DSN", "postgres://new/db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.DSN != "postgres://new/db" {
		t.Errorf("Store.DSN = %q, want prefixed value", cfg.Store.DSN)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobstore.yaml")
	content := `
scheduler_name: billing
instance_id: node-a
clustered: true
missed_checkin_threshold: 3
store:
  driver: postgres
  dsn: postgres://file/db
lock:
  mode: redis
  redis_url: redis://cache:6379/1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SchedulerName != "billing" || cfg.InstanceID != "node-a" || !cfg.Clustered {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.MissedCheckinThreshold != 3 {
		t.Errorf("MissedCheckinThreshold = %d, want 3", cfg.MissedCheckinThreshold)
	}
	if cfg.Lock.RedisURL != "redis://cache:6379/1" {
		t.Errorf("Lock.RedisURL = %q", cfg.Lock.RedisURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

// --- Validate Tests ---

func validConfig() Config {
	return Config{
		SchedulerName:          "jobstore",
		InstanceID:             "node-a",
		CheckinInterval:        time.Second,
		MissedCheckinThreshold: 2,
		Store:                  StoreConfig{Driver: DriverPostgres, DSN: "postgres://x", MaxConns: 4},
		Lock:                   LockConfig{Mode: LockModeRow},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty scheduler name", func(c *Config) { c.SchedulerName = "" }, "scheduler_name"},
		{"zero checkin interval", func(c *Config) { c.CheckinInterval = 0 }, "checkin_interval"},
		{"threshold below one", func(c *Config) { c.MissedCheckinThreshold = 0 }, "missed_checkin_threshold"},
		{"single connection", func(c *Config) { c.Store.MaxConns = 1 }, "max_conns"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"unknown lock mode", func(c *Config) { c.Lock.Mode = "zk" }, "lock.mode"},
		{"row lock on memory", func(c *Config) {
			c.Store.Driver = DriverMemory
		}, "requires store.driver postgres"},
		{"clustered local lock", func(c *Config) {
			c.Clustered = true
			c.Lock.Mode = LockModeLocal
		}, "cross-process"},
		{"clustered memory store", func(c *Config) {
			c.Clustered = true
			c.Store.Driver = DriverMemory
			c.Lock.Mode = LockModeRedis
			c.Lock.RedisURL = "redis://x"
			c.Lock.RedisTTL = time.Second
		}, "shared store"},
		{"redis without url", func(c *Config) {
			c.Lock.Mode = LockModeRedis
			c.Lock.RedisTTL = time.Second
		}, "redis_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateInstanceID_Unique(t *testing.T) {
	a, b := GenerateInstanceID(), GenerateInstanceID()
	if a == b {
		t.Errorf("expected unique ids, got %q twice", a)
	}
}
