// Package config loads redispool settings from TOML or YAML files.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	apperrors "github.com/go-i2p/redispool/lib/errors"
	"github.com/go-i2p/redispool/lib/pool"
	"github.com/go-i2p/redispool/lib/redisconn"
	"github.com/go-i2p/redispool/lib/resilience"
	"github.com/go-i2p/redispool/lib/validation"
)

// Default configuration values
const (
	DefaultMin           = 2
	DefaultMax           = 10
	DefaultMetricsListen = "127.0.0.1:9121"
	DefaultLogLevel      = "info"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28
)

// Format is a configuration file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension. Anything other
// than .yaml or .yml is TOML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all configuration for a redispool process.
type Config struct {
	Redis   RedisConfig   `toml:"redis" yaml:"redis"`
	Pool    PoolConfig    `toml:"pool" yaml:"pool"`
	Breaker BreakerConfig `toml:"breaker" yaml:"breaker"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// RedisConfig describes how sessions connect to the server.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL; the fields below override it
	URL        string `toml:"url,omitempty" yaml:"url,omitempty"`
	Addr       string `toml:"addr,omitempty" yaml:"addr,omitempty"`
	Username   string `toml:"username,omitempty" yaml:"username,omitempty"`
	Password   string `toml:"password,omitempty" yaml:"password,omitempty"`
	DB         int    `toml:"db" yaml:"db"`
	ClientName string `toml:"client_name,omitempty" yaml:"client_name,omitempty"`

	DialTimeout  Duration `toml:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  Duration `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout" yaml:"write_timeout"`

	MaxRetries int  `toml:"max_retries" yaml:"max_retries"`
	Protocol   int  `toml:"protocol" yaml:"protocol"`
	TLS        bool `toml:"tls" yaml:"tls"`
}

// PoolConfig mirrors pool.Config.
type PoolConfig struct {
	Name             string   `toml:"name,omitempty" yaml:"name,omitempty"`
	Min              int      `toml:"min" yaml:"min"`
	Max              int      `toml:"max" yaml:"max"`
	PriorityLevels   int      `toml:"priority_levels" yaml:"priority_levels"`
	AcquireTimeout   Duration `toml:"acquire_timeout" yaml:"acquire_timeout"`
	CreateTimeout    Duration `toml:"create_timeout" yaml:"create_timeout"`
	DrainTimeout     Duration `toml:"drain_timeout" yaml:"drain_timeout"`
	IdleTimeout      Duration `toml:"idle_timeout" yaml:"idle_timeout"`
	EvictionInterval Duration `toml:"eviction_interval" yaml:"eviction_interval"`
	Prewarm          bool     `toml:"prewarm" yaml:"prewarm"`
	LIFO             bool     `toml:"lifo" yaml:"lifo"`
}

// BreakerConfig configures the circuit breaker in front of new sessions.
type BreakerConfig struct {
	Enabled             bool     `toml:"enabled" yaml:"enabled"`
	FailureThreshold    int      `toml:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold    int      `toml:"success_threshold" yaml:"success_threshold"`
	Timeout             Duration `toml:"timeout" yaml:"timeout"`
	MaxHalfOpenRequests int      `toml:"max_half_open_requests" yaml:"max_half_open_requests"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
}

// LogConfig contains logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	b := resilience.DefaultCircuitBreakerConfig()
	return &Config{
		Redis: RedisConfig{
			DialTimeout: Duration(5 * time.Second),
		},
		Pool: PoolConfig{
			Min:            DefaultMin,
			Max:            DefaultMax,
			PriorityLevels: 1,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    b.FailureThreshold,
			SuccessThreshold:    b.SuccessThreshold,
			Timeout:             Duration(b.Timeout),
			MaxHalfOpenRequests: b.MaxHalfOpenRequests,
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsListen,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}
}

// LoadConfig reads configuration from a TOML or YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Debug("config file not found, using defaults")
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, FormatFromPath(path))
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := DefaultConfig()

	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %v: %w", err, apperrors.ErrConfiguration)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Marshal encodes the configuration.
func (c *Config) Marshal(format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(c)
	}
	return toml.Marshal(c)
}

// SaveConfig writes the configuration in the format implied by path.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := cfg.Marshal(FormatFromPath(path))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.ToPool().Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := validation.All(
		func() error { return validation.RedisURL("redis.url", c.Redis.URL) },
		func() error { return validation.ClientName("redis.client_name", c.Redis.ClientName) },
	); err != nil {
		return err
	}
	if err := c.ToRedis().Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := validation.All(
		func() error { return validation.NonNegative("breaker.failure_threshold", c.Breaker.FailureThreshold) },
		func() error { return validation.NonNegative("breaker.success_threshold", c.Breaker.SuccessThreshold) },
		func() error { return validation.NonNegativeDuration("breaker.timeout", c.Breaker.Timeout.Std()) },
		func() error {
			return validation.NonNegative("breaker.max_half_open_requests", c.Breaker.MaxHalfOpenRequests)
		},
	); err != nil {
		return err
	}
	if c.Metrics.Enabled {
		if err := validation.HostPort("metrics.listen", c.Metrics.Listen); err != nil {
			return err
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return validation.All(
		func() error { return validation.NonNegative("log.max_size_mb", c.Log.MaxSizeMB) },
		func() error { return validation.NonNegative("log.max_backups", c.Log.MaxBackups) },
		func() error { return validation.NonNegative("log.max_age_days", c.Log.MaxAgeDays) },
	)
}

// ToPool converts the [pool] section.
func (c *Config) ToPool() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Name = c.Pool.Name
	cfg.Min = c.Pool.Min
	cfg.Max = c.Pool.Max
	cfg.PriorityLevels = c.Pool.PriorityLevels
	cfg.AcquireTimeout = c.Pool.AcquireTimeout.Std()
	cfg.CreateTimeout = c.Pool.CreateTimeout.Std()
	cfg.DrainTimeout = c.Pool.DrainTimeout.Std()
	cfg.IdleTimeout = c.Pool.IdleTimeout.Std()
	cfg.EvictionInterval = c.Pool.EvictionInterval.Std()
	cfg.Prewarm = c.Pool.Prewarm
	cfg.LIFO = c.Pool.LIFO
	return cfg
}

// ToRedis converts the [redis] section.
func (c *Config) ToRedis() redisconn.Options {
	return redisconn.Options{
		URL:          c.Redis.URL,
		Addr:         c.Redis.Addr,
		Username:     c.Redis.Username,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		ClientName:   c.Redis.ClientName,
		DialTimeout:  c.Redis.DialTimeout.Std(),
		ReadTimeout:  c.Redis.ReadTimeout.Std(),
		WriteTimeout: c.Redis.WriteTimeout.Std(),
		MaxRetries:   c.Redis.MaxRetries,
		Protocol:     c.Redis.Protocol,
		TLS:          c.Redis.TLS,
	}
}

// ToBreaker converts the [breaker] section. It returns nil when the
// breaker is disabled.
func (c *Config) ToBreaker() *resilience.CircuitBreakerConfig {
	if !c.Breaker.Enabled {
		return nil
	}
	return &resilience.CircuitBreakerConfig{
		FailureThreshold:    c.Breaker.FailureThreshold,
		SuccessThreshold:    c.Breaker.SuccessThreshold,
		Timeout:             c.Breaker.Timeout.Std(),
		MaxHalfOpenRequests: c.Breaker.MaxHalfOpenRequests,
	}
}

// Redacted returns a copy safe to print: credentials are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Redis.Password != "" {
		out.Redis.Password = "********"
	}
	if out.Redis.URL != "" {
		out.Redis.URL = redactURL(out.Redis.URL)
	}
	return &out
}

// redactURL masks the userinfo password of a redis URL.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	user, _, hasPass := strings.Cut(userinfo, ":")
	if !hasPass {
		return raw
	}
	return scheme + "://" + user + ":********@" + host
}

// ParseLevel maps a level name onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", level, apperrors.ErrConfiguration)
	}
	return l, nil
}

// Writer returns where log output goes: a size-rotated file when File is
// set, otherwise fallback.
func (l LogConfig) Writer(fallback io.Writer) io.Writer {
	if l.File == "" {
		return fallback
	}
	return &lumberjack.Logger{
		Filename:   l.File,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAgeDays,
		Compress:   true,
	}
}
