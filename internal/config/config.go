// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Store    StoreConfig    `mapstructure:"store"`
	Export   ExportConfig   `mapstructure:"export"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Targets   []TargetConfig  `mapstructure:"targets"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                     int `mapstructure:"port"`
	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrowserConfig selects the page backend and its identity pools.
type BrowserConfig struct {
	Backend                  string   `mapstructure:"backend"`
	Headless                 bool     `mapstructure:"headless"`
	ExecPath                 string   `mapstructure:"exec_path"`
	Stealth                  bool     `mapstructure:"stealth"`
	NavigationTimeoutSeconds int      `mapstructure:"navigation_timeout_seconds"`
	EmptyBodyWaitMs          int      `mapstructure:"empty_body_wait_ms"`
	NavigationRPS            float64  `mapstructure:"navigation_rps"`
	NavigationBurst          int      `mapstructure:"navigation_burst"`
	UserAgents               []string `mapstructure:"user_agents"`
	Locales                  []string `mapstructure:"locales"`
	Timezones                []string `mapstructure:"timezones"`
	Viewports                []string `mapstructure:"viewports"`
	Seed                     int64    `mapstructure:"seed"`
}

// ScrapeConfig holds pagination and filter defaults plus worker pool sizing.
type ScrapeConfig struct {
	MaxRecords         int     `mapstructure:"max_records"`
	MaxScrollAttempts  int     `mapstructure:"max_scroll_attempts"`
	ScrollDelaySeconds float64 `mapstructure:"scroll_delay_seconds"`
	LoadDelaySeconds   float64 `mapstructure:"load_delay_seconds"`
	LoadTimeoutSeconds int     `mapstructure:"load_timeout_seconds"`
	StallThreshold     int     `mapstructure:"stall_threshold"`
	MaxRunSeconds      int     `mapstructure:"max_run_seconds"`
	IncludeReplies     bool    `mapstructure:"include_replies"`
	IncludeReposts     bool    `mapstructure:"include_reposts"`
	DateLimitDays      int     `mapstructure:"date_limit_days"`
	Workers            int     `mapstructure:"workers"`
	QueueDepth         int     `mapstructure:"queue_depth"`
	SourceName         string  `mapstructure:"source_name"`
}

// DeliveryConfig tunes batching and retries against the storage boundary.
type DeliveryConfig struct {
	BatchSize             int `mapstructure:"batch_size"`
	MaxRetries            int `mapstructure:"max_retries"`
	BackoffBaseMs         int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs          int `mapstructure:"backoff_max_ms"`
	RateLimitDelaySeconds int `mapstructure:"rate_limit_delay_seconds"`
	BatchPauseMs          int `mapstructure:"batch_pause_ms"`
}

// StoreConfig selects the storage boundary implementation.
type StoreConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	RunTable               string `mapstructure:"run_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	APIBaseURL             string `mapstructure:"api_base_url"`
	APIKey                 string `mapstructure:"api_key"`
	APITimeoutSeconds      int    `mapstructure:"api_timeout_seconds"`
}

// ExportConfig selects where run snapshots are written.
type ExportConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	ServiceName string            `mapstructure:"service_name"`
	Endpoint    string            `mapstructure:"endpoint"`
	Headers     map[string]string `mapstructure:"headers"`
	SampleRatio float64           `mapstructure:"sample_ratio"`
}

// TargetConfig is a standing target scraped by `polmsg scrape --all`.
type TargetConfig struct {
	Target     string   `mapstructure:"target"`
	SourceKind string   `mapstructure:"source_kind"`
	Platform   string   `mapstructure:"platform"`
	SourceName string   `mapstructure:"source_name"`
	Alternates []string `mapstructure:"alternates"`
}

// Request converts the target into a scrape request.
func (t TargetConfig) Request() ingest.ScrapeRequest {
	return ingest.ScrapeRequest{
		Target:     t.Target,
		Kind:       ingest.SourceKind(t.SourceKind),
		Platform:   t.Platform,
		SourceName: t.SourceName,
		Alternates: t.Alternates,
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLMSG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("browser.backend", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.navigation_timeout_seconds", 30)
	v.SetDefault("browser.empty_body_wait_ms", 2000)
	v.SetDefault("browser.navigation_rps", 0.5)
	v.SetDefault("browser.navigation_burst", 1)
	v.SetDefault("browser.seed", 0)
	v.SetDefault("scrape.max_records", 100)
	v.SetDefault("scrape.max_scroll_attempts", 10)
	v.SetDefault("scrape.scroll_delay_seconds", 2.0)
	v.SetDefault("scrape.load_delay_seconds", 3.0)
	v.SetDefault("scrape.load_timeout_seconds", 15)
	v.SetDefault("scrape.stall_threshold", 3)
	v.SetDefault("scrape.max_run_seconds", 600)
	v.SetDefault("scrape.include_replies", false)
	v.SetDefault("scrape.include_reposts", false)
	v.SetDefault("scrape.date_limit_days", 0)
	v.SetDefault("scrape.workers", 2)
	v.SetDefault("scrape.queue_depth", 32)
	v.SetDefault("scrape.source_name", "")
	v.SetDefault("delivery.batch_size", 25)
	v.SetDefault("delivery.max_retries", 3)
	v.SetDefault("delivery.backoff_base_ms", 1000)
	v.SetDefault("delivery.backoff_max_ms", 30000)
	v.SetDefault("delivery.rate_limit_delay_seconds", 60)
	v.SetDefault("delivery.batch_pause_ms", 1000)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "messages")
	v.SetDefault("store.run_table", "scrape_runs")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime_seconds", 300)
	v.SetDefault("store.api_base_url", "")
	v.SetDefault("store.api_key", "")
	v.SetDefault("store.api_timeout_seconds", 30)
	v.SetDefault("export.backend", "none")
	v.SetDefault("export.base_dir", "")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.prefix", "snapshots")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "message-runs")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "polmsg")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Browser.Backend {
	case "chromedp", "static":
	default:
		return fmt.Errorf("browser.backend must be chromedp or static, got %q", c.Browser.Backend)
	}
	if c.Browser.NavigationRPS < 0 {
		return fmt.Errorf("browser.navigation_rps must be >= 0")
	}
	if _, err := c.Browser.ParsedViewports(); err != nil {
		return fmt.Errorf("browser.viewports: %w", err)
	}
	if c.Scrape.MaxRecords <= 0 {
		return fmt.Errorf("scrape.max_records must be > 0")
	}
	if c.Scrape.MaxScrollAttempts <= 0 {
		return fmt.Errorf("scrape.max_scroll_attempts must be > 0")
	}
	if c.Scrape.StallThreshold <= 0 {
		return fmt.Errorf("scrape.stall_threshold must be > 0")
	}
	if c.Scrape.ScrollDelaySeconds < 0 {
		return fmt.Errorf("scrape.scroll_delay_seconds must be >= 0")
	}
	if c.Scrape.DateLimitDays < 0 {
		return fmt.Errorf("scrape.date_limit_days must be >= 0")
	}
	if c.Scrape.Workers <= 0 {
		return fmt.Errorf("scrape.workers must be > 0")
	}
	if c.Scrape.QueueDepth <= 0 {
		return fmt.Errorf("scrape.queue_depth must be > 0")
	}
	if c.Delivery.BatchSize < 1 || c.Delivery.BatchSize > 100 {
		return fmt.Errorf("delivery.batch_size must be between 1 and 100")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries must be >= 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	case "http":
		if c.Store.APIBaseURL == "" {
			return fmt.Errorf("store.api_base_url must be set for the http driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory, postgres or http, got %q", c.Store.Driver)
	}
	switch c.Export.Backend {
	case "none", "memory":
	case "local":
		if c.Export.BaseDir == "" {
			return fmt.Errorf("export.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("export.backend must be none, local, gcs or memory, got %q", c.Export.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	for i, t := range c.Targets {
		if err := t.Request().Validate(); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
	}
	return nil
}

// ParsedViewports converts the WxH strings into viewports.
func (b BrowserConfig) ParsedViewports() ([]browser.Viewport, error) {
	out := make([]browser.Viewport, 0, len(b.Viewports))
	for _, s := range b.Viewports {
		vp, err := browser.ParseViewport(s)
		if err != nil {
			return nil, err
		}
		out = append(out, vp)
	}
	return out, nil
}

// NavigationTimeout is the per-navigation budget.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(b.NavigationTimeoutSeconds) * time.Second
}

// EmptyBodyWait is how long an empty page may take to render.
func (b BrowserConfig) EmptyBodyWait() time.Duration {
	return time.Duration(b.EmptyBodyWaitMs) * time.Millisecond
}

// ScrollDelay is the settle time after each scroll.
func (s ScrapeConfig) ScrollDelay() time.Duration {
	return seconds(s.ScrollDelaySeconds)
}

// LoadDelay is waited after navigation before inspection.
func (s ScrapeConfig) LoadDelay() time.Duration {
	return seconds(s.LoadDelaySeconds)
}

// MaxRunDuration caps a single run.
func (s ScrapeConfig) MaxRunDuration() time.Duration {
	return time.Duration(s.MaxRunSeconds) * time.Second
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
