// Package config provides YAML-based configuration loading for geotrack.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level geotrack configuration, loaded from geotrack.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	State    StateConfig    `yaml:"state"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracking TrackingConfig `yaml:"tracking"`
	Source   SourceConfig   `yaml:"source"`
	Server   ServerConfig   `yaml:"server"`
	Events   EventsConfig   `yaml:"events"`
}

// DatabaseConfig selects the session store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or mysql
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // mysql data source name
}

// StateConfig selects where the recovery state is kept.
type StateConfig struct {
	Backend string `yaml:"backend"` // database, redis or memory
}

// RedisConfig holds connection settings shared by the Redis state store and
// the event relay.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// TrackingConfig holds the ingestion cadence and recovery policy.
type TrackingConfig struct {
	Interval        time.Duration `yaml:"interval"`
	MinInterval     time.Duration `yaml:"min_interval"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	WriteQueue      int           `yaml:"write_queue"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RecoveryEndTime string        `yaml:"recovery_end_time"` // last_point or now
}

// SourceConfig selects the fix source.
type SourceConfig struct {
	Kind          string `yaml:"kind"` // push or geoip
	PushBuffer    int    `yaml:"push_buffer"`
	GeoIPDatabase string `yaml:"geoip_database"`
	IP            string `yaml:"ip"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// EventsConfig controls out-of-process delivery of live updates.
type EventsConfig struct {
	RedisRelay bool `yaml:"redis_relay"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Empty input yields
// the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "geotrack.db"
	}
	if c.State.Backend == "" {
		c.State.Backend = "database"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "geotrack:"
	}
	if c.Tracking.Interval == 0 {
		c.Tracking.Interval = 2000 * time.Millisecond
	}
	if c.Tracking.MinInterval == 0 {
		c.Tracking.MinInterval = 1500 * time.Millisecond
	}
	if c.Tracking.MaxDelay == 0 {
		c.Tracking.MaxDelay = 4000 * time.Millisecond
	}
	if c.Tracking.WriteQueue == 0 {
		c.Tracking.WriteQueue = 64
	}
	if c.Tracking.WriteTimeout == 0 {
		c.Tracking.WriteTimeout = 5 * time.Second
	}
	if c.Tracking.RecoveryEndTime == "" {
		c.Tracking.RecoveryEndTime = "last_point"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "push"
	}
	if c.Source.PushBuffer == 0 {
		c.Source.PushBuffer = 16
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	switch c.State.Backend {
	case "database", "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("state.backend %q must be database, redis or memory", c.State.Backend))
	}

	if c.Tracking.Interval < 0 || c.Tracking.MinInterval < 0 || c.Tracking.MaxDelay < 0 {
		errs = append(errs, "tracking intervals must not be negative")
	}
	if c.Tracking.MinInterval > c.Tracking.Interval {
		errs = append(errs, "tracking.min_interval must not exceed tracking.interval")
	}
	if c.Tracking.WriteQueue < 0 {
		errs = append(errs, "tracking.write_queue must not be negative")
	}
	if c.Tracking.WriteTimeout < 0 {
		errs = append(errs, "tracking.write_timeout must not be negative")
	}
	switch c.Tracking.RecoveryEndTime {
	case "last_point", "now":
	default:
		errs = append(errs, fmt.Sprintf("tracking.recovery_end_time %q must be last_point or now", c.Tracking.RecoveryEndTime))
	}

	switch c.Source.Kind {
	case "push":
	case "geoip":
		if c.Source.GeoIPDatabase == "" {
			errs = append(errs, "source.geoip_database is required for the geoip source")
		}
		if c.Source.IP == "" {
			errs = append(errs, "source.ip is required for the geoip source")
		}
	default:
		errs = append(errs, fmt.Sprintf("source.kind %q must be push or geoip", c.Source.Kind))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.State.Backend == "redis" || c.Events.RedisRelay
}
