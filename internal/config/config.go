// Package config loads bgpfuzzd configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
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

// Config holds the complete bgpfuzzd configuration.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	BGP     BGPConfig     `koanf:"bgp"`
	Session SessionConfig `koanf:"session"`
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
}

// BGPConfig holds the default timer values applied when the session does
// not override them (RFC 4271 Section 8 suggested values).
type BGPConfig struct {
	DefaultConnectRetryTime time.Duration `koanf:"default_connect_retry_time"`
	DefaultHoldTime         time.Duration `koanf:"default_hold_time"`
	DefaultKeepaliveTime    time.Duration `koanf:"default_keepalive_time"`
}

// SessionConfig describes the single BGP speaker session bgpfuzzd runs.
type SessionConfig struct {
	// Peer is the remote system's address (host:port; port defaults to
	// 179 if omitted).
	Peer string `koanf:"peer"`

	// MyAS is this speaker's autonomous system number.
	MyAS uint16 `koanf:"my_as"`

	// BGPID is this speaker's BGP identifier, dotted-quad form.
	BGPID string `koanf:"bgp_id"`

	// ConnectRetryTime, HoldTime, KeepaliveTime override the BGPConfig
	// defaults for this session. Zero means "use the default".
	ConnectRetryTime time.Duration `koanf:"connect_retry_time"`
	HoldTime         time.Duration `koanf:"hold_time"`
	KeepaliveTime    time.Duration `koanf:"keepalive_time"`

	// FuzzSpecPath names a file holding a FuzzSpec. bgpfuzzd only carries
	// the path through configuration; reading, parsing, and attaching
	// that file to a running session is left to the external collaborator
	// that owns fuzz-config persistence — out of scope for this module.
	FuzzSpecPath string `koanf:"fuzz_spec_path"`
}

// BGPIDBytes parses BGPID as a dotted-quad IPv4 address into its 4-byte
// wire form.
func (sc SessionConfig) BGPIDBytes() ([4]byte, error) {
	var out [4]byte
	parts := strings.Split(sc.BGPID, ".")
	if len(parts) != 4 {
		return out, fmt.Errorf("parse bgp_id %q: %w", sc.BGPID, ErrInvalidBGPID)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return out, fmt.Errorf("parse bgp_id %q: %w", sc.BGPID, ErrInvalidBGPID)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		BGP: BGPConfig{
			DefaultConnectRetryTime: 5 * time.Second,
			DefaultHoldTime:         90 * time.Second,
			DefaultKeepaliveTime:    30 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for bgpfuzzd configuration.
// Variables are named BGPFUZZ_<section>_<key>, e.g., BGPFUZZ_METRICS_ADDR.
const envPrefix = "BGPFUZZ_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (BGPFUZZ_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	BGPFUZZ_METRICS_ADDR       -> metrics.addr
//	BGPFUZZ_METRICS_PATH       -> metrics.path
//	BGPFUZZ_LOG_LEVEL          -> log.level
//	BGPFUZZ_LOG_FORMAT         -> log.format
//	BGPFUZZ_SESSION_PEER       -> session.peer
//	BGPFUZZ_SESSION_MY_AS      -> session.my_as
//	BGPFUZZ_SESSION_BGP_ID     -> session.bgp_id
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms BGPFUZZ_SESSION_MY_AS -> session.my_as: only the
// first underscore (after the section name) becomes koanf's "." delimiter,
// since the keys themselves contain underscores.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":                   defaults.Metrics.Addr,
		"metrics.path":                   defaults.Metrics.Path,
		"log.level":                      defaults.Log.Level,
		"log.format":                     defaults.Log.Format,
		"bgp.default_connect_retry_time": defaults.BGP.DefaultConnectRetryTime.String(),
		"bgp.default_hold_time":          defaults.BGP.DefaultHoldTime.String(),
		"bgp.default_keepalive_time":     defaults.BGP.DefaultKeepaliveTime.String(),
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
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidSessionPeer indicates the session peer address is empty.
	ErrInvalidSessionPeer = errors.New("session.peer must not be empty")

	// ErrInvalidMyAS indicates the session my_as is zero.
	ErrInvalidMyAS = errors.New("session.my_as must be nonzero")

	// ErrInvalidBGPID indicates the session bgp_id is not a dotted-quad.
	ErrInvalidBGPID = errors.New("session.bgp_id must be a dotted-quad IPv4 address")
)

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}
	if cfg.Session.Peer == "" {
		return ErrInvalidSessionPeer
	}
	if cfg.Session.MyAS == 0 {
		return ErrInvalidMyAS
	}
	if _, err := cfg.Session.BGPIDBytes(); err != nil {
		return err
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
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
