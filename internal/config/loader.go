package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPREADBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SPREADBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Underlying ──
	setStr(&cfg.Underlying.Symbol, "SPREADBOT_UNDERLYING_SYMBOL")
	setFloat64(&cfg.Underlying.Multiplier, "SPREADBOT_UNDERLYING_MULTIPLIER")
	setFloat64(&cfg.Underlying.Tick, "SPREADBOT_UNDERLYING_TICK")

	// ── Gateway ──
	setStr(&cfg.Gateway.BaseURL, "SPREADBOT_GATEWAY_BASE_URL")
	setStr(&cfg.Gateway.Token, "SPREADBOT_GATEWAY_TOKEN")
	setStr(&cfg.Gateway.Account, "SPREADBOT_GATEWAY_ACCOUNT")
	setDuration(&cfg.Gateway.RequestTimeout, "SPREADBOT_GATEWAY_REQUEST_TIMEOUT")

	// ── Thresholds ──
	setStr(&cfg.Thresholds.Dir, "SPREADBOT_THRESHOLDS_DIR")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SPREADBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SPREADBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SPREADBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SPREADBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SPREADBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SPREADBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SPREADBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SPREADBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SPREADBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SPREADBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SPREADBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPREADBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPREADBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SPREADBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SPREADBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SPREADBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SPREADBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPREADBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPREADBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPREADBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPREADBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SPREADBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SPREADBOT_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "SPREADBOT_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "SPREADBOT_FEED_WS_URL")

	// ── Entry ──
	setBool(&cfg.Entry.Enabled, "SPREADBOT_ENTRY_ENABLED")
	setInt(&cfg.Entry.Quantity, "SPREADBOT_ENTRY_QUANTITY")
	setInt(&cfg.Entry.MaxHorizonDays, "SPREADBOT_ENTRY_MAX_HORIZON_DAYS")
	setIntSlice(&cfg.Entry.ExcludedDTE, "SPREADBOT_ENTRY_EXCLUDED_DTE")
	setFloat64(&cfg.Entry.TickBuffer, "SPREADBOT_ENTRY_TICK_BUFFER")
	setInt(&cfg.Entry.MaxAttempts, "SPREADBOT_ENTRY_MAX_ATTEMPTS")
	setDuration(&cfg.Entry.PollInterval, "SPREADBOT_ENTRY_POLL_INTERVAL")
	setDuration(&cfg.Entry.UpdateWait, "SPREADBOT_ENTRY_UPDATE_WAIT")
	setDuration(&cfg.Entry.CancelWait, "SPREADBOT_ENTRY_CANCEL_WAIT")
	setFloat64(&cfg.Entry.CommissionCap, "SPREADBOT_ENTRY_COMMISSION_CAP")
	setDuration(&cfg.Entry.CycleInterval, "SPREADBOT_ENTRY_CYCLE_INTERVAL")

	// ── Exit ──
	setBool(&cfg.Exit.Enabled, "SPREADBOT_EXIT_ENABLED")
	setFloat64(&cfg.Exit.TickBuffer, "SPREADBOT_EXIT_TICK_BUFFER")
	setInt(&cfg.Exit.MaxAttempts, "SPREADBOT_EXIT_MAX_ATTEMPTS")
	setDuration(&cfg.Exit.PollInterval, "SPREADBOT_EXIT_POLL_INTERVAL")
	setDuration(&cfg.Exit.UpdateWait, "SPREADBOT_EXIT_UPDATE_WAIT")
	setDuration(&cfg.Exit.CancelWait, "SPREADBOT_EXIT_CANCEL_WAIT")
	setDuration(&cfg.Exit.CycleInterval, "SPREADBOT_EXIT_CYCLE_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SPREADBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SPREADBOT_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.DeleteAfter, "SPREADBOT_ARCHIVE_DELETE_AFTER")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPREADBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPREADBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPREADBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SPREADBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SPREADBOT_MODE")
	setStr(&cfg.LogLevel, "SPREADBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

func setIntSlice(dst *[]int, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]int, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if n, err := strconv.Atoi(p); err == nil {
				cleaned = append(cleaned, n)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
