// Package config loads and validates the console configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultBaseURL         = "http://127.0.0.1:4490"
	DefaultStreamPath      = "/ws"
	DefaultReconnectDelay  = 5 * time.Second
	DefaultRefreshInterval = 5 * time.Second
	DefaultReconcileDelay  = 1 * time.Second
	DefaultNotificationTTL = 5 * time.Second
	DefaultHistoryLimit    = 10
	DefaultRequestTimeout  = 10 * time.Second
	DefaultBulkBypass      = true
	DefaultMetricsBind     = "" // empty disables the metrics listener
)

// Config represents the complete console configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Search    SearchConfig    `yaml:"search"`
	Inventory InventoryConfig `yaml:"inventory"`
	Action    ActionConfig    `yaml:"action"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig addresses the backend.
type ServerConfig struct {
	// BaseURL serves the request/response inventory API.
	BaseURL string `yaml:"base_url"`
	// StreamPath is the websocket path joined onto BaseURL.
	StreamPath string `yaml:"stream_path"`
}

// TransportConfig controls the streaming channel.
type TransportConfig struct {
	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// SearchConfig controls the search session.
type SearchConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

// InventoryConfig controls the process list refresh.
type InventoryConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// ActionConfig controls the destructive-command workflow.
type ActionConfig struct {
	// BulkBypassConfirm lets group kills (by name, by port, all
	// zombies) skip per-target confirmation. On by default to match
	// the source system's documented trade-off; set false to route
	// bulk kills through the confirmation gate.
	BulkBypassConfirm *bool `yaml:"bulk_bypass_confirm"`
	// ReconcileDelay is the fixed wait before the post-action
	// inventory refresh.
	ReconcileDelay time.Duration `yaml:"reconcile_delay"`
}

// NotifyConfig controls notification display.
type NotifyConfig struct {
	// TTL is the fixed display window before auto-clear.
	TTL time.Duration `yaml:"ttl"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Bind string `yaml:"bind"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	bypass := DefaultBulkBypass
	return &Config{
		Server:    ServerConfig{BaseURL: DefaultBaseURL, StreamPath: DefaultStreamPath},
		Transport: TransportConfig{ReconnectDelay: DefaultReconnectDelay},
		Search:    SearchConfig{HistoryLimit: DefaultHistoryLimit},
		Inventory: InventoryConfig{RefreshInterval: DefaultRefreshInterval, RequestTimeout: DefaultRequestTimeout},
		Action:    ActionConfig{BulkBypassConfirm: &bypass, ReconcileDelay: DefaultReconcileDelay},
		Notify:    NotifyConfig{TTL: DefaultNotificationTTL},
		Metrics:   MetricsConfig{Bind: DefaultMetricsBind},
		LogLevel:  "info",
	}
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = DefaultBaseURL
	}
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = DefaultStreamPath
	}
	if c.Transport.ReconnectDelay <= 0 {
		c.Transport.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Search.HistoryLimit <= 0 {
		c.Search.HistoryLimit = DefaultHistoryLimit
	}
	if c.Inventory.RefreshInterval <= 0 {
		c.Inventory.RefreshInterval = DefaultRefreshInterval
	}
	if c.Inventory.RequestTimeout <= 0 {
		c.Inventory.RequestTimeout = DefaultRequestTimeout
	}
	if c.Action.BulkBypassConfirm == nil {
		bypass := DefaultBulkBypass
		c.Action.BulkBypassConfirm = &bypass
	}
	if c.Action.ReconcileDelay <= 0 {
		c.Action.ReconcileDelay = DefaultReconcileDelay
	}
	if c.Notify.TTL <= 0 {
		c.Notify.TTL = DefaultNotificationTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url %q is not a valid URL", c.Server.BaseURL)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("server.base_url scheme %q must be http or https", u.Scheme)
	}
	if c.Server.StreamPath == "" || c.Server.StreamPath[0] != '/' {
		return fmt.Errorf("server.stream_path %q must start with /", c.Server.StreamPath)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// StreamURL derives the websocket endpoint from the base URL.
func (c *Config) StreamURL() string {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.Server.StreamPath
	return u.String()
}

// BulkBypass reports whether group kills skip confirmation.
func (c *Config) BulkBypass() bool {
	return c.Action.BulkBypassConfirm == nil || *c.Action.BulkBypassConfirm
}
