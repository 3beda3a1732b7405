package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfigFile(t, `
app:
  environment: test
universe:
  instruments:
    - symbol: BTC/USDT
      type: crypto
      precision: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Mode != "backtest" {
		t.Errorf("expected default mode backtest, got %q", cfg.App.Mode)
	}
	if cfg.Sizing.Strategy != StrategyInitialRisk {
		t.Errorf("expected default strategy initial_risk, got %q", cfg.Sizing.Strategy)
	}
	if cfg.Sizing.TimeInForce != "OPG" {
		t.Errorf("expected default time_in_force OPG, got %q", cfg.Sizing.TimeInForce)
	}
	if cfg.Portfolio.InitialCash != 1_000_000 {
		t.Errorf("expected default initial cash, got %f", cfg.Portfolio.InitialCash)
	}
	if cfg.Scheduler.CycleInterval != 24*time.Hour {
		t.Errorf("expected 24h cycle interval, got %v", cfg.Scheduler.CycleInterval)
	}
	if cfg.Exchange.Retry.MinDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms min delay, got %v", cfg.Exchange.Retry.MinDelay)
	}
	if len(cfg.Universe.Instruments) != 1 || cfg.Universe.Instruments[0].Precision != 4 {
		t.Errorf("unexpected universe %+v", cfg.Universe.Instruments)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoad_ValidationFailureCollectsProblems(t *testing.T) {
	path := writeConfigFile(t, `
app:
  mode: paper
sizing:
  strategy: martingale
  tolerance_percentage: 1.5
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"app.mode", "sizing.strategy", "sizing.tolerance_percentage"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error mentioning %s, got %v", want, err)
		}
	}
}

func TestValidate_LiveModeRequiresExchange(t *testing.T) {
	path := writeConfigFile(t, `
app:
  mode: live
exchange:
  name: ""
  retry:
    max_attempts: 0
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "exchange") {
		t.Fatalf("expected exchange validation error in live mode, got %v", err)
	}
}

func TestValidate_OpenAIRequiresKeyWhenEnabled(t *testing.T) {
	path := writeConfigFile(t, `
openai:
  enabled: true
  api_key: ""
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "openai.api_key") {
		t.Fatalf("expected openai.api_key validation error, got %v", err)
	}
}
