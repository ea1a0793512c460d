package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const minimalConfig = `
storage:
  backend: sqlite
  sqlite:
    path: /tmp/history.db
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled = false, want true by default")
	}
	if len(cfg.Redis.Patterns) != 4 {
		t.Errorf("len(Redis.Patterns) = %d, want 4 default patterns", len(cfg.Redis.Patterns))
	}
	if cfg.Collector.MaxSize != 1000 {
		t.Errorf("Collector.MaxSize = %d, want 1000", cfg.Collector.MaxSize)
	}
	if cfg.Rules.PrecisionMode != "round" {
		t.Errorf("Rules.PrecisionMode = %q, want %q", cfg.Rules.PrecisionMode, "round")
	}
	if cfg.Query.MaxSamples != 10000 {
		t.Errorf("Query.MaxSamples = %d, want 10000", cfg.Query.MaxSamples)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logging:
  level: debug
storage:
  backend: sqlite
  sqlite:
    path: /tmp/history.db
collector:
  max_size: 50
  flush_interval: 2
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Collector.MaxSize != 50 {
		t.Errorf("Collector.MaxSize = %d, want 50", cfg.Collector.MaxSize)
	}
	if cfg.Collector.GetFlushInterval() != 2*time.Second {
		t.Errorf("GetFlushInterval() = %v, want 2s", cfg.Collector.GetFlushInterval())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HISSRV_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("HISSRV_INFLUXDB_TOKEN", "secret-token")

	cfg, err := Load(writeConfig(t, `
storage:
  backend: influxdb
  influxdb:
    url: http://influx.internal:8086
    bucket: history
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Storage.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want env override", cfg.Storage.InfluxDB.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			"no sources",
			func(c *Config) { c.Redis.Enabled = false; c.MQTT.Enabled = false },
			"at least one ingestion source",
		},
		{
			"redis without patterns",
			func(c *Config) { c.Redis.Patterns = nil },
			"redis.patterns",
		},
		{
			"mqtt without topics",
			func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Topics = nil },
			"mqtt.topics",
		},
		{
			"bad backend",
			func(c *Config) { c.Storage.Backend = "postgres" },
			"storage.backend",
		},
		{
			"bad precision mode",
			func(c *Config) { c.Rules.PrecisionMode = "ceil" },
			"precision_mode",
		},
		{
			"policy without age",
			func(c *Config) {
				c.Retention.Policies = []RetentionPolicyConfig{{Name: "p"}}
			},
			"max_age",
		},
		{
			"zero batch size",
			func(c *Config) { c.Collector.MaxSize = 0 },
			"max_size",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestDurationGetters(t *testing.T) {
	rc := ReconnectConfig{InitialDelay: 2, MaxDelay: 30}
	if rc.GetInitialDelay() != 2*time.Second {
		t.Errorf("GetInitialDelay() = %v, want 2s", rc.GetInitialDelay())
	}
	if rc.GetMaxDelay() != 30*time.Second {
		t.Errorf("GetMaxDelay() = %v, want 30s", rc.GetMaxDelay())
	}

	cc := CollectorConfig{RetryBackoff: 3, BlockTimeout: 250}
	if cc.GetRetryBackoff() != 3*time.Second {
		t.Errorf("GetRetryBackoff() = %v, want 3s", cc.GetRetryBackoff())
	}
	if cc.GetBlockTimeout() != 250*time.Millisecond {
		t.Errorf("GetBlockTimeout() = %v, want 250ms", cc.GetBlockTimeout())
	}

	rp := RetentionPolicyConfig{MaxAge: 24, DownsampleInterval: 15}
	if rp.GetMaxAge() != 24*time.Hour {
		t.Errorf("GetMaxAge() = %v, want 24h", rp.GetMaxAge())
	}
	if rp.GetDownsampleInterval() != 15*time.Minute {
		t.Errorf("GetDownsampleInterval() = %v, want 15m", rp.GetDownsampleInterval())
	}
}
