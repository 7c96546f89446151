// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by KALSHIBOT_* environment variables.
type Config struct {
	Kalshi   KalshiConfig   `toml:"kalshi"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Detector DetectorConfig `toml:"detector"`
	Risk     RiskConfig     `toml:"risk"`
	Executor ExecutorConfig `toml:"executor"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// KalshiConfig holds exchange API credentials and endpoints.
type KalshiConfig struct {
	ApiKeyID          string   `toml:"api_key_id"`
	RsaPrivateKeyPath string   `toml:"rsa_private_key_path"`
	BaseURL           string   `toml:"base_url"`
	WsURL             string   `toml:"ws_url"`
	Series            []string `toml:"series"`
	Tickers           []string `toml:"tickers"`
	RefreshInterval   duration `toml:"refresh_interval"`
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

// DetectorConfig holds opportunity detection parameters.
type DetectorConfig struct {
	MinNetProfitCents        int64 `toml:"min_net_profit_cents"`
	MaxLegSize               int64 `toml:"max_leg_size"`
	ComplementToleranceCents int64 `toml:"complement_tolerance_cents"`
	QueueCapacity            int   `toml:"queue_capacity"`
}

// RiskConfig holds the pre-trade risk limits.
type RiskConfig struct {
	CapitalCents          int64 `toml:"capital_cents"`
	MaxPositionPerMarket  int64 `toml:"max_position_per_market"`
	MaxTotalExposureCents int64 `toml:"max_total_exposure_cents"`
	MaxConcentrationPct   int64 `toml:"max_concentration_pct"` // percent of total exposure
	MaxDailyLossCents     int64 `toml:"max_daily_loss_cents"`
}

// ExecutorConfig holds multi-leg execution parameters.
type ExecutorConfig struct {
	FillWaitTimeout  duration `toml:"fill_wait_timeout"`
	UnwindMaxRetries int      `toml:"unwind_max_retries"`
	UnwindBackoff    duration `toml:"unwind_backoff"`
}

// LedgerConfig holds position ledger persistence parameters.
type LedgerConfig struct {
	SnapshotInterval duration `toml:"snapshot_interval"`
}

// MetricsConfig holds the Prometheus endpoint parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:         "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:           "wss://api.elections.kalshi.com/trade-api/ws/v2",
			RefreshInterval: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "kalshibot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Detector: DetectorConfig{
			MinNetProfitCents:        2,
			MaxLegSize:               100,
			ComplementToleranceCents: 2,
			QueueCapacity:            256,
		},
		Risk: RiskConfig{
			CapitalCents:          100_000,
			MaxPositionPerMarket:  500,
			MaxTotalExposureCents: 50_000,
			MaxConcentrationPct:   25,
			MaxDailyLossCents:     10_000,
		},
		Executor: ExecutorConfig{
			FillWaitTimeout:  duration{10 * time.Second},
			UnwindMaxRetries: 3,
			UnwindBackoff:    duration{500 * time.Millisecond},
		},
		Ledger: LedgerConfig{
			SnapshotInterval: duration{time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Notify: NotifyConfig{
			Events: []string{"unwind_failed", "execution_unwound", "risk_denied"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. Monitor runs
// the feed, detector and metrics without placing orders.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kalshi credentials are mandatory: even monitor mode signs the feed
	// handshake.
	if c.Kalshi.ApiKeyID == "" {
		errs = append(errs, "kalshi: api_key_id must not be empty")
	}
	if c.Kalshi.RsaPrivateKeyPath == "" {
		errs = append(errs, "kalshi: rsa_private_key_path must not be empty")
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Kalshi.WsURL == "" {
		errs = append(errs, "kalshi: ws_url must not be empty")
	}
	if len(c.Kalshi.Series) == 0 && len(c.Kalshi.Tickers) == 0 {
		errs = append(errs, "kalshi: at least one of series or tickers must be set")
	}

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

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Detector.MinNetProfitCents < 1 {
		errs = append(errs, "detector: min_net_profit_cents must be >= 1")
	}
	if c.Detector.MaxLegSize < 1 {
		errs = append(errs, "detector: max_leg_size must be >= 1")
	}
	if c.Detector.ComplementToleranceCents < 0 {
		errs = append(errs, "detector: complement_tolerance_cents must be >= 0")
	}
	if c.Detector.QueueCapacity < 1 {
		errs = append(errs, "detector: queue_capacity must be >= 1")
	}

	if c.Risk.CapitalCents <= 0 {
		errs = append(errs, "risk: capital_cents must be > 0")
	}
	if c.Risk.MaxPositionPerMarket < 1 {
		errs = append(errs, "risk: max_position_per_market must be >= 1")
	}
	if c.Risk.MaxTotalExposureCents <= 0 {
		errs = append(errs, "risk: max_total_exposure_cents must be > 0")
	}
	if c.Risk.MaxConcentrationPct < 1 || c.Risk.MaxConcentrationPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_concentration_pct must be 1-100, got %d", c.Risk.MaxConcentrationPct))
	}
	if c.Risk.MaxDailyLossCents <= 0 {
		errs = append(errs, "risk: max_daily_loss_cents must be > 0")
	}

	if c.Executor.FillWaitTimeout.Duration <= 0 {
		errs = append(errs, "executor: fill_wait_timeout must be > 0")
	}
	if c.Executor.UnwindMaxRetries < 1 {
		errs = append(errs, "executor: unwind_max_retries must be >= 1")
	}
	if c.Executor.UnwindBackoff.Duration <= 0 {
		errs = append(errs, "executor: unwind_backoff must be > 0")
	}

	if c.Ledger.SnapshotInterval.Duration <= 0 {
		errs = append(errs, "ledger: snapshot_interval must be > 0")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
