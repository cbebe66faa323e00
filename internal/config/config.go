// Package config defines the top-level configuration for the spread bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPREADBOT_* environment variables.
type Config struct {
	Underlying UnderlyingConfig `toml:"underlying"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Thresholds ThresholdsConfig `toml:"thresholds"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Feed       FeedConfig       `toml:"feed"`
	Entry      EntryConfig      `toml:"entry"`
	Exit       ExitConfig       `toml:"exit"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// UnderlyingConfig identifies the index whose put spreads are traded.
type UnderlyingConfig struct {
	Symbol     string  `toml:"symbol"`
	Multiplier float64 `toml:"multiplier"`
	Tick       float64 `toml:"tick"`
}

// GatewayConfig holds brokerage gateway connection parameters.
type GatewayConfig struct {
	BaseURL        string   `toml:"base_url"`
	Token          string   `toml:"token"`
	Account        string   `toml:"account"`
	RequestTimeout duration `toml:"request_timeout"`
}

// ThresholdsConfig locates the backtest cohort sheets.
type ThresholdsConfig struct {
	Dir string `toml:"dir"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds the streaming index-level feed parameters.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
}

// EntryConfig holds the entry engine parameters.
type EntryConfig struct {
	Enabled        bool     `toml:"enabled"`
	Quantity       int      `toml:"quantity"`
	MaxHorizonDays int      `toml:"max_horizon_days"`
	ExcludedDTE    []int    `toml:"excluded_dte"`
	TickBuffer     float64  `toml:"tick_buffer"`
	MaxAttempts    int      `toml:"max_attempts"`
	PollInterval   duration `toml:"poll_interval"`
	UpdateWait     duration `toml:"update_wait"`
	CancelWait     duration `toml:"cancel_wait"`
	CommissionCap  float64  `toml:"commission_cap"`
	CycleInterval  duration `toml:"cycle_interval"`
}

// ExitConfig holds the exit engine parameters.
type ExitConfig struct {
	Enabled       bool     `toml:"enabled"`
	TickBuffer    float64  `toml:"tick_buffer"`
	MaxAttempts   int      `toml:"max_attempts"`
	PollInterval  duration `toml:"poll_interval"`
	UpdateWait    duration `toml:"update_wait"`
	CancelWait    duration `toml:"cancel_wait"`
	CycleInterval duration `toml:"cycle_interval"`
}

// ArchiveConfig controls cold-storage archival of old trade records.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
	DeleteAfter   bool `toml:"delete_after"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Underlying: UnderlyingConfig{
			Symbol:     "VIX",
			Multiplier: 100,
			Tick:       0.01,
		},
		Gateway: GatewayConfig{
			BaseURL:        "https://localhost:5000/v1/api",
			RequestTimeout: duration{15 * time.Second},
		},
		Thresholds: ThresholdsConfig{
			Dir: "thresholds",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "spreadbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spreadbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			Enabled: false,
		},
		Entry: EntryConfig{
			Enabled:        true,
			Quantity:       1,
			MaxHorizonDays: 31,
			ExcludedDTE:    []int{0, 1, 2, 3, 4},
			TickBuffer:     0.01,
			MaxAttempts:    100,
			PollInterval:   duration{5 * time.Second},
			UpdateWait:     duration{10 * time.Second},
			CancelWait:     duration{2 * time.Second},
			CommissionCap:  1.50,
			CycleInterval:  duration{5 * time.Minute},
		},
		Exit: ExitConfig{
			Enabled:       true,
			TickBuffer:    0.01,
			MaxAttempts:   100,
			PollInterval:  duration{5 * time.Second},
			UpdateWait:    duration{10 * time.Second},
			CancelWait:    duration{2 * time.Second},
			CycleInterval: duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			DeleteAfter:   false,
		},
		Notify: NotifyConfig{
			Events: []string{"entry_filled", "entry_aborted", "exit_filled", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"entry":   true,
	"exit":    true,
	"full":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: entry, exit, full, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Underlying
	if c.Underlying.Symbol == "" {
		errs = append(errs, "underlying: symbol must not be empty")
	}
	if c.Underlying.Multiplier <= 0 {
		errs = append(errs, "underlying: multiplier must be > 0")
	}
	if c.Underlying.Tick <= 0 {
		errs = append(errs, "underlying: tick must be > 0")
	}

	// Gateway
	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway: base_url must not be empty")
	}
	if c.Gateway.Account == "" && c.Mode != "archive" {
		errs = append(errs, "gateway: account is required for mode "+c.Mode)
	}

	// Thresholds
	if c.Thresholds.Dir == "" {
		errs = append(errs, "thresholds: dir must not be empty")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Feed
	if c.Feed.Enabled && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty when feed is enabled")
	}

	// Entry
	if c.Entry.Quantity < 1 {
		errs = append(errs, "entry: quantity must be >= 1")
	}
	if c.Entry.MaxHorizonDays < 1 {
		errs = append(errs, "entry: max_horizon_days must be >= 1")
	}
	if c.Entry.TickBuffer < 0 {
		errs = append(errs, "entry: tick_buffer must be >= 0")
	}
	if c.Entry.MaxAttempts < 1 {
		errs = append(errs, "entry: max_attempts must be >= 1")
	}
	if c.Entry.CommissionCap <= 0 {
		errs = append(errs, "entry: commission_cap must be > 0")
	}

	// Exit
	if c.Exit.TickBuffer < 0 {
		errs = append(errs, "exit: tick_buffer must be >= 0")
	}
	if c.Exit.MaxAttempts < 1 {
		errs = append(errs, "exit: max_attempts must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
