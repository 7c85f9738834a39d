// Package config manages the goice daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/netice/goice/internal/transport"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete goice configuration.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Filter  FilterConfig  `koanf:"filter"`
	Gather  GatherConfig  `koanf:"gather"`
	IO      IOConfig      `koanf:"io"`
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

// FilterConfig is the koanf-tagged surface for transport.FilterConfig,
// translated by ToTransportFilter.
type FilterConfig struct {
	// AllowedInterfaces, if non-empty, restricts candidate gathering to
	// these interface names.
	AllowedInterfaces []string `koanf:"allowed_interfaces"`

	// BlockedInterfaces excludes these interface names from gathering.
	// It is consulted only when AllowedInterfaces is empty.
	BlockedInterfaces []string `koanf:"blocked_interfaces"`

	// AllowedAddresses, if non-empty, restricts gathering to these
	// literal IP addresses.
	AllowedAddresses []string `koanf:"allowed_addresses"`

	// BlockedAddresses excludes these literal IP addresses from
	// gathering, evaluated after AllowedAddresses.
	BlockedAddresses []string `koanf:"blocked_addresses"`

	// DisableIPv6 suppresses IPv6 candidate addresses entirely.
	DisableIPv6 bool `koanf:"disable_ipv6"`

	// DisableLinkLocal suppresses IPv6 link-local candidate addresses.
	DisableLinkLocal bool `koanf:"disable_link_local_addresses"`
}

// ToTransportFilter parses the string-form address lists into netip.Addr
// and returns the transport.FilterConfig InitFilters expects.
func (fc FilterConfig) ToTransportFilter() (transport.FilterConfig, error) {
	allowed, err := parseAddrList(fc.AllowedAddresses)
	if err != nil {
		return transport.FilterConfig{}, fmt.Errorf("filter.allowed_addresses: %w", err)
	}
	blocked, err := parseAddrList(fc.BlockedAddresses)
	if err != nil {
		return transport.FilterConfig{}, fmt.Errorf("filter.blocked_addresses: %w", err)
	}
	return transport.FilterConfig{
		AllowedInterfaces: fc.AllowedInterfaces,
		BlockedInterfaces: fc.BlockedInterfaces,
		AllowedAddresses:  allowed,
		BlockedAddresses:  blocked,
		DisableIPv6:       fc.DisableIPv6,
		DisableLinkLocal:  fc.DisableLinkLocal,
	}, nil
}

func parseAddrList(raw []string) ([]netip.Addr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// GatherConfig holds the default host-candidate harvest parameters.
// These can be overridden per call via ice.HarvestOptions.
type GatherConfig struct {
	// MinPort is the low end of the candidate port range.
	MinPort uint16 `koanf:"min_port"`

	// MaxPort is the high end of the candidate port range.
	MaxPort uint16 `koanf:"max_port"`

	// BindRetries bounds how many ports Harvest tries per address before
	// giving up on that address.
	BindRetries int `koanf:"bind_retries"`
}

// IOConfig holds the transport I/O tuning parameters.
type IOConfig struct {
	// Threads bounds how many read-loop callbacks may run concurrently
	// per acceptor (transport.AcceptorConfig.IOThreads).
	Threads int `koanf:"threads"`

	// SendBuffer is the requested socket send buffer size in bytes. Zero
	// leaves the OS default in place.
	SendBuffer int `koanf:"send_buffer"`

	// ReceiveBuffer is the requested socket receive buffer size in
	// bytes. Zero leaves the OS default in place.
	ReceiveBuffer int `koanf:"receive_buffer"`

	// QueueDepth bounds each socket's RawMessageQueue capacity.
	QueueDepth int `koanf:"queue_depth"`

	// StaleSweepInterval controls how often an acceptor sweeps its
	// sockets for idle sessions. Zero disables the sweep.
	StaleSweepInterval time.Duration `koanf:"stale_sweep_interval"`

	// StaleTimeout is the idle duration after which a session is marked
	// stale by the sweep.
	StaleTimeout time.Duration `koanf:"stale_timeout"`

	// ReuseAddress sets SO_REUSEADDR before bind on every socket this
	// acceptor opens.
	ReuseAddress bool `koanf:"reuse_address"`

	// TCPNoDelay disables Nagle's algorithm on accepted/dialed TCP
	// connections. Ignored for UDP sockets.
	TCPNoDelay bool `koanf:"tcp_no_delay"`

	// Backlog is the TCP listen backlog. Zero falls back to the
	// transport package's own default.
	Backlog int `koanf:"backlog"`

	// CloseOnDeactivation, when set, marks every session owned by an
	// acceptor's sockets Closed when that acceptor stops, not just the
	// underlying OS socket.
	CloseOnDeactivation bool `koanf:"close_on_deactivation"`
}

// ToSockOpts translates the koanf-tagged IOConfig socket-tuning fields into
// the transport.SockOpts an Acceptor applies to every socket it binds.
func (io IOConfig) ToSockOpts() transport.SockOpts {
	return transport.SockOpts{
		ReuseAddress:  io.ReuseAddress,
		SendBuffer:    io.SendBuffer,
		ReceiveBuffer: io.ReceiveBuffer,
		TCPNoDelay:    io.TCPNoDelay,
		Backlog:       io.Backlog,
	}
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The default port range [49152, 65535] is IANA's dynamic/private range,
// the conservative starting point most ICE deployments already carve
// firewall rules around.
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
		Filter: FilterConfig{
			DisableIPv6:      false,
			DisableLinkLocal: true,
		},
		Gather: GatherConfig{
			MinPort:     49152,
			MaxPort:     65535,
			BindRetries: 10,
		},
		IO: IOConfig{
			Threads:            4,
			QueueDepth:         256,
			StaleSweepInterval: 30 * time.Second,
			StaleTimeout:       2 * time.Minute,
			ReuseAddress:       true,
			TCPNoDelay:         true,
			Backlog:            64,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for goice configuration.
// Variables are named GOICE_<section>_<key>, e.g., GOICE_GATHER_BIND_RETRIES.
const envPrefix = "GOICE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOICE_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GOICE_METRICS_ADDR        -> metrics.addr
//	GOICE_METRICS_PATH        -> metrics.path
//	GOICE_LOG_LEVEL           -> log.level
//	GOICE_LOG_FORMAT          -> log.format
//	GOICE_FILTER_DISABLE_IPV6 -> filter.disable_ipv6
//	GOICE_GATHER_MIN_PORT     -> gather.min_port
//	GOICE_GATHER_BIND_RETRIES -> gather.bind_retries
//	GOICE_IO_THREADS          -> io.threads
//	GOICE_IO_REUSE_ADDRESS    -> io.reuse_address
//	GOICE_IO_TCP_NO_DELAY     -> io.tcp_no_delay
//	GOICE_IO_BACKLOG          -> io.backlog
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// GOICE_GATHER_MIN_PORT -> gather.min_port (strip prefix, lowercase, first _ -> .).
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

// envKeyMapper transforms GOICE_GATHER_BIND_RETRIES -> gather.bind_retries.
// Strips the GOICE_ prefix, lowercases, and replaces the first _ (the
// section separator) with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":                         defaults.Metrics.Addr,
		"metrics.path":                         defaults.Metrics.Path,
		"log.level":                            defaults.Log.Level,
		"log.format":                           defaults.Log.Format,
		"filter.disable_ipv6":                  defaults.Filter.DisableIPv6,
		"filter.disable_link_local_addresses":  defaults.Filter.DisableLinkLocal,
		"gather.min_port":                      defaults.Gather.MinPort,
		"gather.max_port":                      defaults.Gather.MaxPort,
		"gather.bind_retries":                  defaults.Gather.BindRetries,
		"io.threads":                           defaults.IO.Threads,
		"io.queue_depth":                       defaults.IO.QueueDepth,
		"io.stale_sweep_interval":              defaults.IO.StaleSweepInterval.String(),
		"io.stale_timeout":                     defaults.IO.StaleTimeout.String(),
		"io.reuse_address":                     defaults.IO.ReuseAddress,
		"io.tcp_no_delay":                      defaults.IO.TCPNoDelay,
		"io.backlog":                           defaults.IO.Backlog,
		"io.close_on_deactivation":             defaults.IO.CloseOnDeactivation,
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

	// ErrInvalidPortRange indicates gather.min_port/max_port are out of
	// order or outside [1024, 65535].
	ErrInvalidPortRange = errors.New("gather.min_port/max_port must satisfy 1024 <= min <= max <= 65535")

	// ErrInvalidBindRetries indicates gather.bind_retries is zero.
	ErrInvalidBindRetries = errors.New("gather.bind_retries must be >= 1")

	// ErrInvalidIOThreads indicates io.threads is zero.
	ErrInvalidIOThreads = errors.New("io.threads must be >= 1")

	// ErrInvalidQueueDepth indicates io.queue_depth is zero.
	ErrInvalidQueueDepth = errors.New("io.queue_depth must be >= 1")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if !(1024 <= cfg.Gather.MinPort && cfg.Gather.MinPort <= cfg.Gather.MaxPort) {
		return ErrInvalidPortRange
	}

	if cfg.Gather.BindRetries < 1 {
		return ErrInvalidBindRetries
	}

	if cfg.IO.Threads < 1 {
		return ErrInvalidIOThreads
	}

	if cfg.IO.QueueDepth < 1 {
		return ErrInvalidQueueDepth
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
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
