package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the HisSrv service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Storage   StorageConfig   `yaml:"storage"`
	Collector CollectorConfig `yaml:"collector"`
	Rules     RulesConfig     `yaml:"rules"`
	Retention RetentionConfig `yaml:"retention"`
	Query     QueryConfig     `yaml:"query"`
}

// ServiceConfig contains service identity information.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RedisConfig contains upstream key/value store connection settings.
// Telemetry keys are watched through keyspace change notifications.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Patterns is the set of telemetry key patterns to watch,
	// e.g. "*:m:*" for all measurement points.
	Patterns []string `yaml:"patterns"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// MQTTConfig contains MQTT broker connection settings for the
// broker-based ingestion source.
type MQTTConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Broker    MQTTBrokerConfig `yaml:"broker"`
	Auth      MQTTAuthConfig   `yaml:"auth"`
	QoS       int              `yaml:"qos"`
	Topics    []string         `yaml:"topics"`
	Reconnect ReconnectConfig  `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReconnectConfig contains reconnection backoff settings (seconds).
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend selects the write target: "influxdb" or "sqlite".
	Backend  string         `yaml:"backend"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// SQLiteConfig contains SQLite database settings.
type SQLiteConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// CollectorConfig contains batch collector settings.
type CollectorConfig struct {
	// MaxSize is the buffer size that triggers an immediate flush.
	MaxSize int `yaml:"max_size"`

	// FlushInterval is the time-based flush trigger (seconds).
	FlushInterval int `yaml:"flush_interval"`

	// MaxRetries bounds write retries before spilling to disk.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial retry delay (seconds, doubles per attempt).
	RetryBackoff int `yaml:"retry_backoff"`

	// BlockTimeout is how long Add blocks when the buffer is full
	// and a flush has not completed yet (milliseconds).
	BlockTimeout int `yaml:"block_timeout"`

	// DropOldest switches the backpressure policy from block-with-timeout
	// to dropping the oldest buffered point. Default false: prefer durability.
	DropOldest bool `yaml:"drop_oldest"`

	// SpillDir is the write-ahead spill directory used when the backend
	// is unreachable beyond the retry budget.
	SpillDir string `yaml:"spill_dir"`
}

// RulesConfig contains point rule file settings.
type RulesConfig struct {
	// Path is the reloadable YAML rule file (channel/point rules, filters).
	Path string `yaml:"path"`

	// PrecisionMode controls value normalization: "round" or "truncate".
	PrecisionMode string `yaml:"precision_mode"`
}

// RetentionConfig contains retention and downsampling settings.
type RetentionConfig struct {
	// CheckInterval is how often policies are evaluated (seconds).
	CheckInterval int `yaml:"check_interval"`

	Policies []RetentionPolicyConfig `yaml:"policies"`
}

// RetentionPolicyConfig describes one retention policy.
type RetentionPolicyConfig struct {
	Name string `yaml:"name"`

	// MaxAge is the retention horizon in hours. Points older than this
	// are deleted (or replaced by downsampled summaries).
	MaxAge int `yaml:"max_age"`

	// DownsampleInterval, if non-zero, replaces raw points older than
	// MaxAge with mean aggregates at this interval (minutes).
	DownsampleInterval int `yaml:"downsample_interval"`
}

// QueryConfig contains read-path planning settings.
type QueryConfig struct {
	// MaxSamples caps the number of samples a single query may return.
	MaxSamples int `yaml:"max_samples"`

	// RawSampleInterval is the assumed raw point spacing (seconds), used
	// to estimate result sizes for raw-granularity plans.
	RawSampleInterval int `yaml:"raw_sample_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HISSRV_SECTION_KEY
// For example: HISSRV_REDIS_ADDR, HISSRV_INFLUXDB_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "hissrv-001",
			Name: "HisSrv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Patterns: []string{"*:m:*", "*:s:*", "*:c:*", "*:a:*"},
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hissrv",
			},
			QoS: 1,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Storage: StorageConfig{
			Backend: "influxdb",
			InfluxDB: InfluxDBConfig{
				URL:         "http://localhost:8086",
				Org:         "voltage",
				Bucket:      "history",
				Measurement: "points",
			},
			SQLite: SQLiteConfig{
				Path:        "./data/history.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
		},
		Collector: CollectorConfig{
			MaxSize:       1000,
			FlushInterval: 10,
			MaxRetries:    3,
			RetryBackoff:  1,
			BlockTimeout:  100,
			SpillDir:      "./data/spill",
		},
		Rules: RulesConfig{
			Path:          "configs/rules.yaml",
			PrecisionMode: "round",
		},
		Retention: RetentionConfig{
			CheckInterval: 3600,
		},
		Query: QueryConfig{
			MaxSamples:        10000,
			RawSampleInterval: 1,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HISSRV_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Redis
	if v := os.Getenv("HISSRV_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HISSRV_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// MQTT
	if v := os.Getenv("HISSRV_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HISSRV_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HISSRV_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Storage
	if v := os.Getenv("HISSRV_INFLUXDB_URL"); v != "" {
		cfg.Storage.InfluxDB.URL = v
	}
	if v := os.Getenv("HISSRV_INFLUXDB_TOKEN"); v != "" {
		cfg.Storage.InfluxDB.Token = v
	}
	if v := os.Getenv("HISSRV_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}

	// Rules
	if v := os.Getenv("HISSRV_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if !c.Redis.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "at least one ingestion source (redis or mqtt) must be enabled")
	}
	if c.Redis.Enabled && len(c.Redis.Patterns) == 0 {
		errs = append(errs, "redis.patterns must not be empty when redis is enabled")
	}
	if c.MQTT.Enabled {
		if len(c.MQTT.Topics) == 0 {
			errs = append(errs, "mqtt.topics must not be empty when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	switch c.Storage.Backend {
	case "influxdb":
		if c.Storage.InfluxDB.URL == "" {
			errs = append(errs, "storage.influxdb.url is required")
		}
		if c.Storage.InfluxDB.Bucket == "" {
			errs = append(errs, "storage.influxdb.bucket is required")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, "storage.sqlite.path is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be influxdb or sqlite, got %q", c.Storage.Backend))
	}

	if c.Collector.MaxSize <= 0 {
		errs = append(errs, "collector.max_size must be positive")
	}
	if c.Collector.FlushInterval <= 0 {
		errs = append(errs, "collector.flush_interval must be positive")
	}
	if c.Collector.SpillDir == "" {
		errs = append(errs, "collector.spill_dir is required")
	}

	if c.Rules.Path == "" {
		errs = append(errs, "rules.path is required")
	}
	if m := c.Rules.PrecisionMode; m != "round" && m != "truncate" {
		errs = append(errs, fmt.Sprintf("rules.precision_mode must be round or truncate, got %q", m))
	}

	for i, p := range c.Retention.Policies {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("retention.policies[%d].name is required", i))
		}
		if p.MaxAge <= 0 {
			errs = append(errs, fmt.Sprintf("retention.policies[%d].max_age must be positive", i))
		}
	}

	if c.Query.MaxSamples <= 0 {
		errs = append(errs, "query.max_samples must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetFlushInterval returns the collector flush interval as a Duration.
func (c *CollectorConfig) GetFlushInterval() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}

// GetRetryBackoff returns the collector retry backoff as a Duration.
func (c *CollectorConfig) GetRetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoff) * time.Second
}

// GetBlockTimeout returns the backpressure block timeout as a Duration.
func (c *CollectorConfig) GetBlockTimeout() time.Duration {
	return time.Duration(c.BlockTimeout) * time.Millisecond
}

// GetInitialDelay returns the reconnect initial delay as a Duration.
func (r *ReconnectConfig) GetInitialDelay() time.Duration {
	return time.Duration(r.InitialDelay) * time.Second
}

// GetMaxDelay returns the reconnect maximum delay as a Duration.
func (r *ReconnectConfig) GetMaxDelay() time.Duration {
	return time.Duration(r.MaxDelay) * time.Second
}

// GetCheckInterval returns the retention check interval as a Duration.
func (r *RetentionConfig) GetCheckInterval() time.Duration {
	return time.Duration(r.CheckInterval) * time.Second
}

// GetMaxAge returns the policy retention horizon as a Duration.
func (p *RetentionPolicyConfig) GetMaxAge() time.Duration {
	return time.Duration(p.MaxAge) * time.Hour
}

// GetDownsampleInterval returns the downsample window as a Duration.
// Zero means downsampling is disabled for this policy.
func (p *RetentionPolicyConfig) GetDownsampleInterval() time.Duration {
	return time.Duration(p.DownsampleInterval) * time.Minute
}

// GetRawSampleInterval returns the assumed raw point spacing as a Duration.
func (q *QueryConfig) GetRawSampleInterval() time.Duration {
	return time.Duration(q.RawSampleInterval) * time.Second
}
