package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

const validConfigJSON = `{
	"active_broker": "dhan",
	"trading_mode": "paper",
	"capital": 500000,
	"global": {
		"session_start": "09:15",
		"session_end": "15:30",
		"decision_interval_sec": 60,
		"risk_loop_interval_sec": 1,
		"tp_pct": 0.2,
		"sl_pct": 0.1,
		"trail_pct": 0.05,
		"time_stop_seconds": 900,
		"max_daily_loss_rs": 5000,
		"cooldown_after_loss_seconds": 300,
		"enable_time_stop": true,
		"enable_daily_loss_cap": true,
		"enable_cooldown": true,
		"allocation_pct": 0.1,
		"max_lots_per_trade": 5,
		"min_premium_price": 5,
		"slippage_buffer_pct": 0.02,
		"charge_per_order": 20
	},
	"risk": {
		"max_risk_per_trade_pct": 1.0,
		"max_open_positions": 5,
		"max_daily_loss_pct": 3.0,
		"max_capital_deployment_pct": 70.0,
		"max_per_underlying": 2
	},
	"circuit_breaker": {
		"max_consecutive_failures": 3,
		"max_failures_per_hour": 10,
		"cooldown_minutes": 15
	},
	"symbols": {
		"NIFTY": {"segment": "NSE_FNO", "strike_step": 50, "lot_size": 75, "security_id": "13", "index_segment": "IDX_I"}
	},
	"paths": {
		"instrument_master_path": "./instruments.csv",
		"market_data_dir": "./market_data",
		"log_dir": "./logs"
	},
	"broker_config": {},
	"database_url": "postgres://localhost/test",
	"market_calendar_path": "./holidays.json"
}`

func TestConfig_LoadValid(t *testing.T) {
	path := writeTestConfig(t, validConfigJSON)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ActiveBroker != "dhan" {
		t.Errorf("expected dhan, got %s", cfg.ActiveBroker)
	}
	if cfg.TradingMode != ModePaper {
		t.Errorf("expected paper, got %s", cfg.TradingMode)
	}
	if cfg.Capital != 500000 {
		t.Errorf("expected 500000, got %f", cfg.Capital)
	}
	if cfg.Symbols["NIFTY"].LotSize != 75 {
		t.Errorf("expected NIFTY lot size 75, got %d", cfg.Symbols["NIFTY"].LotSize)
	}
}

func TestConfig_RejectsInvalidMode(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(validConfigJSON, `"trading_mode": "paper"`, `"trading_mode": "invalid"`, 1))

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid trading mode")
	}
}

func TestConfig_RejectsZeroCapital(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(validConfigJSON, `"capital": 500000`, `"capital": 0`, 1))

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for zero capital")
	}
}

func TestConfig_RejectsMissingSymbols(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(validConfigJSON, `"symbols": {
		"NIFTY": {"segment": "NSE_FNO", "strike_step": 50, "lot_size": 75, "security_id": "13", "index_segment": "IDX_I"}
	},`, `"symbols": {},`, 1))

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for empty symbols table")
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(validConfigJSON,
		`"broker_config": {},`,
		`"broker_config": {"dhan": {"api_key": "test", "secret": "test"}},`, 1))

	os.Setenv("SCALPER_TRADING_MODE", "live")
	defer os.Unsetenv("SCALPER_TRADING_MODE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TradingMode != ModeLive {
		t.Errorf("expected env override to live, got %s", cfg.TradingMode)
	}
}

// ────────────────────────────────────────────────────────────────────
// Live mode validation tests
// ────────────────────────────────────────────────────────────────────

// validLiveConfig returns a Config that passes all live mode validations.
func validLiveConfig() Config {
	return Config{
		ActiveBroker: "dhan",
		TradingMode:  ModeLive,
		Capital:      500000,
		Global: GlobalConfig{
			SLPct: 0.1,
			TPPct: 0.2,
		},
		Risk: RiskConfig{
			MaxRiskPerTradePct:      1.0,
			MaxOpenPositions:        5,
			MaxDailyLossPct:         3.0,
			MaxCapitalDeploymentPct: 70.0,
		},
		Symbols: map[string]SymbolConfig{
			"NIFTY": {Segment: "NSE_FNO", StrikeStep: 50, LotSize: 75, SecurityID: "13", IndexSegment: "IDX_I"},
		},
		Paths: PathsConfig{
			InstrumentMasterPath: "./instruments.csv",
		},
		BrokerConfig: map[string]json.RawMessage{
			"dhan": json.RawMessage(`{"api_key":"test","secret":"test"}`),
		},
		DatabaseURL: "postgres://localhost/test",
	}
}

func TestLiveMode_RequiresBrokerConfig(t *testing.T) {
	cfg := validLiveConfig()
	cfg.BrokerConfig = nil // Remove broker config

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when broker_config is nil in live mode")
	}
	if !strings.Contains(err.Error(), "broker_config") {
		t.Errorf("error should mention broker_config, got: %v", err)
	}
}

func TestLiveMode_RequiresActiveBrokerInConfig(t *testing.T) {
	cfg := validLiveConfig()
	cfg.BrokerConfig = map[string]json.RawMessage{
		"other_broker": json.RawMessage(`{}`),
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when active broker not in broker_config")
	}
	if !strings.Contains(err.Error(), "dhan") {
		t.Errorf("error should mention active broker name, got: %v", err)
	}
}

func TestLiveMode_MaxPositionsCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.MaxOpenPositions = 10 // Exceeds live mode cap of 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_open_positions > 5 in live mode")
	}
	if !strings.Contains(err.Error(), "max_open_positions") {
		t.Errorf("error should mention max_open_positions, got: %v", err)
	}
}

func TestLiveMode_MaxRiskPerTradeCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.MaxRiskPerTradePct = 5.0 // Exceeds live mode cap of 2%

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_risk_per_trade_pct > 2 in live mode")
	}
	if !strings.Contains(err.Error(), "max_risk_per_trade_pct") {
		t.Errorf("error should mention max_risk_per_trade_pct, got: %v", err)
	}
}

func TestLiveMode_MaxCapitalDeploymentCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.MaxCapitalDeploymentPct = 90.0 // Exceeds live mode cap of 70%

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_capital_deployment_pct > 70 in live mode")
	}
	if !strings.Contains(err.Error(), "max_capital_deployment_pct") {
		t.Errorf("error should mention max_capital_deployment_pct, got: %v", err)
	}
}

func TestLiveMode_RequiresDatabaseURL(t *testing.T) {
	cfg := validLiveConfig()
	cfg.DatabaseURL = "" // Remove DB URL

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when database_url is empty")
	}
	if !strings.Contains(err.Error(), "database_url") {
		t.Errorf("error should mention database_url, got: %v", err)
	}
}

func TestLiveMode_ValidConfigPasses(t *testing.T) {
	cfg := validLiveConfig()
	err := cfg.Validate()
	if err != nil {
		t.Fatalf("valid live config should pass validation, got: %v", err)
	}
}

func TestPaperMode_SkipsLiveChecks(t *testing.T) {
	// Paper mode should NOT enforce live mode restrictions.
	cfg := Config{
		ActiveBroker: "dhan",
		TradingMode:  ModePaper,
		Capital:      500000,
		Global:       GlobalConfig{SLPct: 0.1},
		Risk: RiskConfig{
			MaxRiskPerTradePct:      5.0, // Would fail live mode, but fine for paper
			MaxOpenPositions:        10,  // Would fail live mode, but fine for paper
			MaxDailyLossPct:         10.0,
			MaxCapitalDeploymentPct: 100.0, // Would fail live mode, but fine for paper
		},
		Symbols: map[string]SymbolConfig{
			"NIFTY": {Segment: "NSE_FNO", StrikeStep: 50, LotSize: 75, SecurityID: "13", IndexSegment: "IDX_I"},
		},
		Paths: PathsConfig{
			InstrumentMasterPath: "./instruments.csv",
		},
		DatabaseURL: "postgres://localhost/test",
	}

	err := cfg.Validate()
	if err != nil {
		t.Fatalf("paper mode should not enforce live mode caps, got: %v", err)
	}
}
