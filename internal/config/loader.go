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
// built-in defaults, applies KALSHIBOT_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides overwrites Config fields from well-known KALSHIBOT_*
// environment variables when set, so operators can inject secrets at deploy
// time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Kalshi.ApiKeyID, "KALSHIBOT_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "KALSHIBOT_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.BaseURL, "KALSHIBOT_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "KALSHIBOT_KALSHI_WS_URL")
	setStringSlice(&cfg.Kalshi.Series, "KALSHIBOT_KALSHI_SERIES")
	setStringSlice(&cfg.Kalshi.Tickers, "KALSHIBOT_KALSHI_TICKERS")
	setDuration(&cfg.Kalshi.RefreshInterval, "KALSHIBOT_KALSHI_REFRESH_INTERVAL")

	setStr(&cfg.Postgres.DSN, "KALSHIBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KALSHIBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KALSHIBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KALSHIBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KALSHIBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KALSHIBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KALSHIBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KALSHIBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KALSHIBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KALSHIBOT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "KALSHIBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KALSHIBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KALSHIBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KALSHIBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KALSHIBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KALSHIBOT_REDIS_TLS_ENABLED")

	setInt64(&cfg.Detector.MinNetProfitCents, "KALSHIBOT_DETECTOR_MIN_NET_PROFIT_CENTS")
	setInt64(&cfg.Detector.MaxLegSize, "KALSHIBOT_DETECTOR_MAX_LEG_SIZE")
	setInt64(&cfg.Detector.ComplementToleranceCents, "KALSHIBOT_DETECTOR_COMPLEMENT_TOLERANCE_CENTS")
	setInt(&cfg.Detector.QueueCapacity, "KALSHIBOT_DETECTOR_QUEUE_CAPACITY")

	setInt64(&cfg.Risk.CapitalCents, "KALSHIBOT_RISK_CAPITAL_CENTS")
	setInt64(&cfg.Risk.MaxPositionPerMarket, "KALSHIBOT_RISK_MAX_POSITION_PER_MARKET")
	setInt64(&cfg.Risk.MaxTotalExposureCents, "KALSHIBOT_RISK_MAX_TOTAL_EXPOSURE_CENTS")
	setInt64(&cfg.Risk.MaxConcentrationPct, "KALSHIBOT_RISK_MAX_CONCENTRATION_PCT")
	setInt64(&cfg.Risk.MaxDailyLossCents, "KALSHIBOT_RISK_MAX_DAILY_LOSS_CENTS")

	setDuration(&cfg.Executor.FillWaitTimeout, "KALSHIBOT_EXECUTOR_FILL_WAIT_TIMEOUT")
	setInt(&cfg.Executor.UnwindMaxRetries, "KALSHIBOT_EXECUTOR_UNWIND_MAX_RETRIES")
	setDuration(&cfg.Executor.UnwindBackoff, "KALSHIBOT_EXECUTOR_UNWIND_BACKOFF")

	setDuration(&cfg.Ledger.SnapshotInterval, "KALSHIBOT_LEDGER_SNAPSHOT_INTERVAL")

	setBool(&cfg.Metrics.Enabled, "KALSHIBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "KALSHIBOT_METRICS_ADDR")

	setStr(&cfg.Notify.TelegramToken, "KALSHIBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KALSHIBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KALSHIBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KALSHIBOT_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "KALSHIBOT_MODE")
	setStr(&cfg.LogLevel, "KALSHIBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
