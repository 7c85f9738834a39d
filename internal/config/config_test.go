package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/netice/goice/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Gather.MinPort != 49152 {
		t.Errorf("Gather.MinPort = %d, want %d", cfg.Gather.MinPort, 49152)
	}

	if cfg.Gather.MaxPort != 65535 {
		t.Errorf("Gather.MaxPort = %d, want %d", cfg.Gather.MaxPort, 65535)
	}

	if cfg.Gather.BindRetries != 10 {
		t.Errorf("Gather.BindRetries = %d, want %d", cfg.Gather.BindRetries, 10)
	}

	if cfg.IO.Threads != 4 {
		t.Errorf("IO.Threads = %d, want %d", cfg.IO.Threads, 4)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
filter:
  allowed_interfaces: ["eth0"]
  disable_ipv6: true
gather:
  min_port: 50000
  max_port: 51000
  bind_retries: 5
io:
  threads: 8
  queue_depth: 512
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if len(cfg.Filter.AllowedInterfaces) != 1 || cfg.Filter.AllowedInterfaces[0] != "eth0" {
		t.Errorf("Filter.AllowedInterfaces = %v, want [eth0]", cfg.Filter.AllowedInterfaces)
	}

	if !cfg.Filter.DisableIPv6 {
		t.Error("Filter.DisableIPv6 = false, want true")
	}

	if cfg.Gather.MinPort != 50000 || cfg.Gather.MaxPort != 51000 {
		t.Errorf("Gather port range = [%d,%d], want [50000,51000]", cfg.Gather.MinPort, cfg.Gather.MaxPort)
	}

	if cfg.Gather.BindRetries != 5 {
		t.Errorf("Gather.BindRetries = %d, want %d", cfg.Gather.BindRetries, 5)
	}

	if cfg.IO.Threads != 8 {
		t.Errorf("IO.Threads = %d, want %d", cfg.IO.Threads, 8)
	}

	if cfg.IO.QueueDepth != 512 {
		t.Errorf("IO.QueueDepth = %d, want %d", cfg.IO.QueueDepth, 512)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override metrics.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
metrics:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Metrics.Addr != ":55555" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Gather.MinPort != 49152 {
		t.Errorf("Gather.MinPort = %d, want default %d", cfg.Gather.MinPort, 49152)
	}

	if cfg.IO.Threads != 4 {
		t.Errorf("IO.Threads = %d, want default %d", cfg.IO.Threads, 4)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty metrics addr",
			modify: func(cfg *config.Config) {
				cfg.Metrics.Addr = ""
			},
			wantErr: config.ErrEmptyMetricsAddr,
		},
		{
			name: "min port below 1024",
			modify: func(cfg *config.Config) {
				cfg.Gather.MinPort = 80
			},
			wantErr: config.ErrInvalidPortRange,
		},
		{
			name: "min port above max port",
			modify: func(cfg *config.Config) {
				cfg.Gather.MinPort = 60000
				cfg.Gather.MaxPort = 50000
			},
			wantErr: config.ErrInvalidPortRange,
		},
		{
			name: "zero bind retries",
			modify: func(cfg *config.Config) {
				cfg.Gather.BindRetries = 0
			},
			wantErr: config.ErrInvalidBindRetries,
		},
		{
			name: "zero io threads",
			modify: func(cfg *config.Config) {
				cfg.IO.Threads = 0
			},
			wantErr: config.ErrInvalidIOThreads,
		},
		{
			name: "zero queue depth",
			modify: func(cfg *config.Config) {
				cfg.IO.QueueDepth = 0
			},
			wantErr: config.ErrInvalidQueueDepth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestEnvOverride(t *testing.T) {
	yamlContent := `
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("GOICE_METRICS_ADDR", ":9200")
	t.Setenv("GOICE_METRICS_PATH", "/custom")
	t.Setenv("GOICE_GATHER_BIND_RETRIES", "3")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}

	if cfg.Gather.BindRetries != 3 {
		t.Errorf("Gather.BindRetries = %d, want %d (from env)", cfg.Gather.BindRetries, 3)
	}
}

func TestFilterConfigToTransportFilter(t *testing.T) {
	t.Parallel()

	fc := config.FilterConfig{
		AllowedAddresses: []string{"10.0.0.1", "192.168.1.1"},
		DisableIPv6:      true,
	}

	tf, err := fc.ToTransportFilter()
	if err != nil {
		t.Fatalf("ToTransportFilter() error: %v", err)
	}

	if len(tf.AllowedAddresses) != 2 {
		t.Fatalf("AllowedAddresses count = %d, want 2", len(tf.AllowedAddresses))
	}

	if !tf.DisableIPv6 {
		t.Error("DisableIPv6 = false, want true")
	}
}

func TestFilterConfigToTransportFilterInvalidAddress(t *testing.T) {
	t.Parallel()

	fc := config.FilterConfig{AllowedAddresses: []string{"not-an-ip"}}

	if _, err := fc.ToTransportFilter(); err == nil {
		t.Fatal("ToTransportFilter() returned nil error for invalid address")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "goice.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
