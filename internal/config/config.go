package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen            = ":8006"
	DefaultDataDir           = "./data"
	DefaultPollIntervalSec   = 10
	DefaultProbeTimeoutMs    = 5000
	DefaultMaxConcurrent     = 64
	DefaultTelemetrySubject  = "ispctl.telemetry"
	DefaultReconnectDelaySec = 3
	DefaultCheckIntervalSec  = 3600
	DefaultWindowBack        = 6
	DefaultWindowForward     = 5
	DefaultEnforceSubject    = "ispctl.enforce"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// Config holds every ispctl setting. Sections left out of the file get defaults.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Poller    PollerConfig    `yaml:"poller"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Billing   BillingConfig   `yaml:"billing"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig is used by the dashboard backend process.
type ServerConfig struct {
	Listen    string `yaml:"listen"`
	DataDir   string `yaml:"data_dir"`
	Inventory string `yaml:"inventory"`
}

// PollerConfig tunes the router fleet poller.
type PollerConfig struct {
	IntervalSec    int `yaml:"interval_sec"`
	ProbeTimeoutMs int `yaml:"probe_timeout_ms"`
	MaxConcurrent  int `yaml:"max_concurrent"`
}

// TelemetryConfig configures telemetry ingest and observer reconnects.
type TelemetryConfig struct {
	NATSURL           string `yaml:"nats_url"`
	Subject           string `yaml:"subject"`
	UpstreamURL       string `yaml:"upstream_url"`
	ReconnectDelaySec int    `yaml:"reconnect_delay_sec"`
}

// BillingConfig configures reconciliation and suspension runs.
type BillingConfig struct {
	CheckIntervalSec int    `yaml:"check_interval_sec"`
	WindowBack       int    `yaml:"window_back"`
	WindowForward    int    `yaml:"window_forward"`
	EnforceSubject   string `yaml:"enforce_subject"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Interval returns the poll interval.
func (c PollerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// ProbeTimeout returns the per-router probe timeout.
func (c PollerConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// ReconnectDelay returns the fixed observer backoff.
func (c TelemetryConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySec) * time.Second
}

// CheckInterval returns the scheduled suspension run interval.
func (c BillingConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.DataDir == "" {
		return fmt.Errorf("server.data_dir is required")
	}
	if cfg.Poller.IntervalSec <= 0 {
		return fmt.Errorf("poller.interval_sec must be positive")
	}
	if cfg.Poller.ProbeTimeoutMs <= 0 {
		return fmt.Errorf("poller.probe_timeout_ms must be positive")
	}
	if cfg.Poller.ProbeTimeout() >= cfg.Poller.Interval() {
		return fmt.Errorf("poller.probe_timeout_ms must be shorter than poller.interval_sec")
	}
	if u := cfg.Telemetry.UpstreamURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("telemetry.upstream_url must be a ws:// or wss:// url")
	}
	if cfg.Billing.WindowBack < 0 || cfg.Billing.WindowForward < 0 {
		return fmt.Errorf("billing window must not be negative")
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = DefaultDataDir
	}

	if cfg.Poller.IntervalSec == 0 {
		cfg.Poller.IntervalSec = DefaultPollIntervalSec
	}
	if cfg.Poller.ProbeTimeoutMs == 0 {
		cfg.Poller.ProbeTimeoutMs = DefaultProbeTimeoutMs
	}
	if cfg.Poller.MaxConcurrent == 0 {
		cfg.Poller.MaxConcurrent = DefaultMaxConcurrent
	}

	if cfg.Telemetry.Subject == "" {
		cfg.Telemetry.Subject = DefaultTelemetrySubject
	}
	if cfg.Telemetry.ReconnectDelaySec == 0 {
		cfg.Telemetry.ReconnectDelaySec = DefaultReconnectDelaySec
	}

	if cfg.Billing.CheckIntervalSec == 0 {
		cfg.Billing.CheckIntervalSec = DefaultCheckIntervalSec
	}
	if cfg.Billing.WindowBack == 0 {
		cfg.Billing.WindowBack = DefaultWindowBack
	}
	if cfg.Billing.WindowForward == 0 {
		cfg.Billing.WindowForward = DefaultWindowForward
	}
	if cfg.Billing.EnforceSubject == "" {
		cfg.Billing.EnforceSubject = DefaultEnforceSubject
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
