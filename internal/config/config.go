package config

import (
	"time"
)

type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Network   NetworkConfig   `mapstructure:"network"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig selects the local durable store backend. SQLite is the
// normal on-device choice; MySQL exists for shared-kiosk deployments
// where several terminals sit behind one local database.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"` // "sqlite" or "mysql"
	FilePath string `mapstructure:"file_path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type RemoteConfig struct {
	Type           string `mapstructure:"type"` // "websocket" or "memory"
	URL            string `mapstructure:"url"`
	AuthToken      string `mapstructure:"auth_token"`
	DialTimeout    string `mapstructure:"dial_timeout"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

func (r RemoteConfig) GetDialTimeout() time.Duration {
	return parseDurationOr(r.DialTimeout, 10*time.Second)
}

func (r RemoteConfig) GetRequestTimeout() time.Duration {
	return parseDurationOr(r.RequestTimeout, 15*time.Second)
}

type SyncConfig struct {
	ConflictStrategy string             `mapstructure:"conflict_strategy"`
	MaxRetries       int                `mapstructure:"max_retries"`
	RetryBaseDelayMs int                `mapstructure:"retry_base_delay_ms"`
	BatchSize        int                `mapstructure:"batch_size"`
	Parallelism      int                `mapstructure:"parallelism"`
	ValidateSchema   bool               `mapstructure:"validate_schema"`
	Collections      []CollectionConfig `mapstructure:"collections"`
}

// CollectionConfig assigns a collection its static priority tier.
// Priority affects queue order and latency only, never correctness.
// Record shape (append-style or not) lives in the schema registry.
type CollectionConfig struct {
	Name     string `mapstructure:"name"`
	Priority string `mapstructure:"priority"` // "high", "medium", "low"
}

type NetworkConfig struct {
	ProbeURL        string `mapstructure:"probe_url"`
	PollInterval    string `mapstructure:"poll_interval"`
	ReconnectSettle string `mapstructure:"reconnect_settle"`
	DegradedRTTMs   int    `mapstructure:"degraded_rtt_ms"`
}

func (n NetworkConfig) GetPollInterval() time.Duration {
	return parseDurationOr(n.PollInterval, 30*time.Second)
}

func (n NetworkConfig) GetReconnectSettle() time.Duration {
	return parseDurationOr(n.ReconnectSettle, time.Second)
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"` // cron spec, e.g. "@every 2m"
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	return parseDurationOr(s.ReadTimeout, 15*time.Second)
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	return parseDurationOr(s.WriteTimeout, 15*time.Second)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
