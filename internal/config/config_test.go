package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validBase() Config {
	cfg := Defaults()
	cfg.Kalshi.ApiKeyID = "key-123"
	cfg.Kalshi.RsaPrivateKeyPath = "/etc/kalshibot/key.pem"
	cfg.Kalshi.Series = []string{"KXHIGHNY"}
	return cfg
}

func TestDefaultsValidateWithCredentials(t *testing.T) {
	cfg := validBase()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := validBase()
	cfg.Mode = "backtest"
	cfg.Detector.MinNetProfitCents = 0
	cfg.Risk.MaxConcentrationPct = 150

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "min_net_profit_cents", "max_concentration_pct"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error missing %q: %v", want, err)
		}
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
mode = "monitor"

[kalshi]
api_key_id = "key-123"
rsa_private_key_path = "/tmp/key.pem"
series = ["KXHIGHNY", "KXHIGHCHI"]

[detector]
min_net_profit_cents = 5

[executor]
fill_wait_timeout = "30s"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Mode != "monitor" {
		t.Fatalf("mode = %q", cfg.Mode)
	}
	if cfg.Detector.MinNetProfitCents != 5 {
		t.Fatalf("min_net_profit_cents = %d", cfg.Detector.MinNetProfitCents)
	}
	if cfg.Executor.FillWaitTimeout.Duration != 30*time.Second {
		t.Fatalf("fill_wait_timeout = %v", cfg.Executor.FillWaitTimeout.Duration)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[kalshi]
api_key_id = "from-file"
rsa_private_key_path = "/tmp/key.pem"
tickers = ["A"]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("KALSHIBOT_KALSHI_API_KEY_ID", "from-env")
	t.Setenv("KALSHIBOT_RISK_CAPITAL_CENTS", "250000")
	t.Setenv("KALSHIBOT_KALSHI_TICKERS", "B, C")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Kalshi.ApiKeyID != "from-env" {
		t.Fatalf("api_key_id = %q", cfg.Kalshi.ApiKeyID)
	}
	if cfg.Risk.CapitalCents != 250000 {
		t.Fatalf("capital_cents = %d", cfg.Risk.CapitalCents)
	}
	if len(cfg.Kalshi.Tickers) != 2 || cfg.Kalshi.Tickers[0] != "B" || cfg.Kalshi.Tickers[1] != "C" {
		t.Fatalf("tickers = %v", cfg.Kalshi.Tickers)
	}
}
