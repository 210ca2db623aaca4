package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfig reads the YAML config at path, applies defaults, and
// validates the handful of values the engine cannot guess.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RECORDSYNC")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.file_path", "recordsync.db")

	v.SetDefault("remote.type", "websocket")
	v.SetDefault("remote.dial_timeout", "10s")
	v.SetDefault("remote.request_timeout", "15s")

	v.SetDefault("sync.conflict_strategy", "last-write-wins")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_base_delay_ms", 1000)
	v.SetDefault("sync.batch_size", 25)
	v.SetDefault("sync.parallelism", 4)
	v.SetDefault("sync.validate_schema", true)

	v.SetDefault("network.poll_interval", "30s")
	v.SetDefault("network.reconnect_settle", "1s")
	v.SetDefault("network.degraded_rtt_ms", 1500)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 2m")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configs the engine would misbehave under rather than
// limping along with them.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Remote.Type {
	case "websocket", "memory":
	default:
		return fmt.Errorf("unknown remote type %q", c.Remote.Type)
	}
	if c.Remote.Type == "websocket" && c.Remote.URL == "" {
		return fmt.Errorf("remote.url is required for websocket remote")
	}

	switch c.Sync.ConflictStrategy {
	case "last-write-wins", "local-wins", "remote-wins", "manual-review":
	default:
		return fmt.Errorf("unknown conflict strategy %q", c.Sync.ConflictStrategy)
	}

	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be > 0")
	}
	if c.Sync.Parallelism <= 0 {
		return fmt.Errorf("sync.parallelism must be > 0")
	}

	seen := make(map[string]bool)
	for _, col := range c.Sync.Collections {
		if col.Name == "" {
			return fmt.Errorf("collection with empty name")
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate collection %q", col.Name)
		}
		seen[col.Name] = true
		switch col.Priority {
		case "", "high", "medium", "low":
		default:
			return fmt.Errorf("collection %q: unknown priority %q", col.Name, col.Priority)
		}
	}

	return nil
}
