// Package config manages the hub daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and defaults layered in that
// order (defaults, then file, then env).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete hub daemon configuration.
type Config struct {
	Listen  ListenConfig  `koanf:"listen"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Geo     GeoConfig     `koanf:"geo"`
	DB      DBConfig      `koanf:"db"`
	Reactor ReactorConfig `koanf:"reactor"`
}

// ListenConfig holds the TCP listener configuration.
type ListenConfig struct {
	// Port is the TCP port the hub listens on. Overridden by the first
	// positional CLI argument when present.
	Port int `koanf:"port"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
	// Syslog routes logs to syslog instead of stderr (-S/--syslog).
	Syslog bool `koanf:"syslog"`
	// SyslogSuffix is appended to the syslog identifier (-s/--syslog-suffix).
	SyslogSuffix string `koanf:"syslog_suffix"`
}

// GeoConfig holds the geo/ASN lookup cache configuration.
type GeoConfig struct {
	// DBDir is the configured directory searched first in the MMDB
	// fallback chain.
	DBDir string `koanf:"db_dir"`
	// NamesLang is loaded from configuration but not read by the lookup
	// path: city and country names are always taken from the "en" entry.
	NamesLang string `koanf:"names_lang"`
	// HubEncoding is the target charset for conversion-depth-1 transcoding.
	HubEncoding string `koanf:"hub_encoding"`
	// CacheMaxAge is the maximum age of a cache entry before it is
	// eligible for eviction during the periodic sweep.
	CacheMaxAge time.Duration `koanf:"cache_max_age"`
	// Cache is loaded from configuration but not read: the hub always puts
	// the in-memory lookup cache in front of the databases.
	Cache bool `koanf:"cache"`
}

// DBConfig holds the registered-user relational store configuration.
type DBConfig struct {
	// DSN is the data source name for the MySQL-compatible store.
	// Empty DSN selects the in-memory store (used for tests and for
	// standalone/demo runs).
	DSN string `koanf:"dsn"`
}

// ReactorConfig holds core reactor tuning.
type ReactorConfig struct {
	// PollTimeout bounds how long a single Poller.Poll call may block, so
	// that a stalled registered-user query cannot starve timers for more
	// than one tick.
	PollTimeout time.Duration `koanf:"poll_timeout"`
	// MaxFrameSize is the maximum size, in bytes, of a single '|'-terminated
	// inbound frame before the connection is closed.
	MaxFrameSize int `koanf:"max_frame_size"`
	// DrainTimeout is loaded and defaulted but not read by the hub: a
	// close-requested connection is closed once its outbound buffer is
	// empty, and no time bound applies to that wait.
	DrainTimeout time.Duration `koanf:"drain_timeout"`
	// CompatNumericFeatureFallback preserves the source quirk where an
	// unrecognized support token is parsed as a decimal feature bitmask.
	CompatNumericFeatureFallback bool `koanf:"compat_numeric_feature_fallback"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Port: 411,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Geo: GeoConfig{
			DBDir:       ".",
			NamesLang:   "en",
			HubEncoding: "UTF-8",
			CacheMaxAge: 1 * time.Hour,
			Cache:       true,
		},
		Reactor: ReactorConfig{
			PollTimeout:                  100 * time.Millisecond,
			MaxFrameSize:                 64 * 1024,
			DrainTimeout:                 5 * time.Second,
			CompatNumericFeatureFallback: true,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for hub configuration.
// Variables are named VERLIHUB_<section>_<key>, e.g. VERLIHUB_LISTEN_PORT.
const envPrefix = "VERLIHUB_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (VERLIHUB_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips the
// file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms VERLIHUB_LISTEN_PORT -> listen.port.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"listen.port":                        defaults.Listen.Port,
		"metrics.addr":                       defaults.Metrics.Addr,
		"metrics.path":                       defaults.Metrics.Path,
		"log.level":                          defaults.Log.Level,
		"log.format":                         defaults.Log.Format,
		"log.syslog":                         defaults.Log.Syslog,
		"log.syslog_suffix":                  defaults.Log.SyslogSuffix,
		"geo.db_dir":                         defaults.Geo.DBDir,
		"geo.names_lang":                     defaults.Geo.NamesLang,
		"geo.hub_encoding":                   defaults.Geo.HubEncoding,
		"geo.cache_max_age":                  defaults.Geo.CacheMaxAge.String(),
		"geo.cache":                          defaults.Geo.Cache,
		"db.dsn":                             defaults.DB.DSN,
		"reactor.poll_timeout":               defaults.Reactor.PollTimeout.String(),
		"reactor.max_frame_size":             defaults.Reactor.MaxFrameSize,
		"reactor.drain_timeout":              defaults.Reactor.DrainTimeout.String(),
		"reactor.compat_numeric_feature_fallback": defaults.Reactor.CompatNumericFeatureFallback,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrInvalidPort         = errors.New("listen.port must be between 1 and 65535")
	ErrEmptyMetricsAddr    = errors.New("metrics.addr must not be empty")
	ErrInvalidPollTimeout  = errors.New("reactor.poll_timeout must be > 0")
	ErrInvalidMaxFrameSize = errors.New("reactor.max_frame_size must be > 0")
)

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		return ErrInvalidPort
	}

	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Reactor.PollTimeout <= 0 {
		return ErrInvalidPollTimeout
	}

	if cfg.Reactor.MaxFrameSize <= 0 {
		return ErrInvalidMaxFrameSize
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
