// Package config provides application-wide configuration management.
// All configuration is loaded from files and environment variables.
// No configuration is hardcoded in signal, risk, or broker logic.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Mode defines whether the system runs in paper or live trading mode.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config holds all system configuration.
// Loaded once at startup and passed as read-only to all components.
type Config struct {
	// ActiveBroker selects which broker implementation to use (e.g. "dhan").
	ActiveBroker string `json:"active_broker"`

	// TradingMode controls whether orders are actually placed (live) or simulated (paper).
	TradingMode Mode `json:"trading_mode"`

	// Capital is the total capital available for trading (INR). Parsed
	// into money.Decimal only at the composition root — config is a
	// boundary, not where money arithmetic happens.
	Capital float64 `json:"capital"`

	// Global holds the session/signal/sizer/exit knobs from the external
	// interface table.
	Global GlobalConfig `json:"global"`

	// Risk configuration limits for the pre-trade gate.
	Risk RiskConfig `json:"risk"`

	// CircuitBreaker configures the repeated-failure trading halt.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`

	// Symbols maps each tradable underlying (NIFTY, BANKNIFTY, SENSEX, ...)
	// to its option-chain configuration.
	Symbols map[string]SymbolConfig `json:"symbols"`

	// Paths for file-based communication with the instrument-master cache
	// and log output.
	Paths PathsConfig `json:"paths"`

	// Broker-specific configuration (API keys, endpoints, etc.).
	BrokerConfig map[string]json.RawMessage `json:"broker_config"`

	// Database connection string.
	DatabaseURL string `json:"database_url"`

	// MarketCalendarPath points to the exchange calendar data file.
	MarketCalendarPath string `json:"market_calendar_path"`

	// Webhook server configuration for receiving broker postback notifications.
	Webhook WebhookConfig `json:"webhook"`
}

// GlobalConfig holds the session/signal/sizer/exit settings from spec.md
// §6's configuration table.
type GlobalConfig struct {
	SessionStart string `json:"session_start"` // "HH:MM"
	SessionEnd   string `json:"session_end"`    // "HH:MM"

	DecisionIntervalSec int `json:"decision_interval_sec"`
	RiskLoopIntervalSec int `json:"risk_loop_interval_sec"`

	TPPct    float64 `json:"tp_pct"`
	SLPct    float64 `json:"sl_pct"`
	TrailPct float64 `json:"trail_pct"`

	TimeStopSeconds          int     `json:"time_stop_seconds"`
	MaxDailyLossRs           float64 `json:"max_daily_loss_rs"`
	CooldownAfterLossSeconds int     `json:"cooldown_after_loss_seconds"`

	EnableTimeStop     bool `json:"enable_time_stop"`
	EnableDailyLossCap bool `json:"enable_daily_loss_cap"`
	EnableCooldown     bool `json:"enable_cooldown"`

	AllocationPct     float64 `json:"allocation_pct"`
	MaxLotsPerTrade   int64   `json:"max_lots_per_trade"`
	MinPremiumPrice   float64 `json:"min_premium_price"`
	SlippageBufferPct float64 `json:"slippage_buffer_pct"`

	ChargePerOrder float64 `json:"charge_per_order"`

	UseMultiTimeframe  bool `json:"use_multi_timeframe"`
	SecondaryTimeframe int  `json:"secondary_timeframe"`

	// LogStatusEvery controls the status_reporting scheduler task's
	// cadence, in seconds. Defaults to 60 when unset or non-positive.
	LogStatusEvery int `json:"log_status_every"`
}

// SymbolConfig is the per-underlying option-chain configuration consumed
// by the Option Picker and the Historical Fetcher.
type SymbolConfig struct {
	Segment    string  `json:"segment"`
	StrikeStep float64 `json:"strike_step"`
	LotSize    int64   `json:"lot_size"`

	// SecurityID is the underlying index's own Dhan security id (e.g.
	// "13" for NIFTY, "25" for BANKNIFTY) — distinct from the option
	// contract ids the Option Picker resolves, and is what the
	// Historical Fetcher pulls intraday candles for.
	SecurityID string `json:"security_id"`

	// IndexSegment is the exchange segment the underlying index itself
	// trades under (typically "IDX_I"), as opposed to Segment above
	// which is the option-chain's segment (e.g. "NSE_FNO").
	IndexSegment string `json:"index_segment"`
}

// WebhookConfig holds settings for the order postback HTTP server.
type WebhookConfig struct {
	// Enabled controls whether the webhook server starts.
	Enabled bool `json:"enabled"`

	// Port is the HTTP port the webhook server listens on.
	Port int `json:"port"`

	// Path is the URL path for the postback endpoint (default: /webhook/dhan/order).
	Path string `json:"path"`
}

// RiskConfig defines hard pre-trade risk guardrails. These limits are
// enforced by risk.Manager.Validate and cannot be overridden by the
// signal engine.
type RiskConfig struct {
	// MaxRiskPerTradePct is the maximum percentage of capital that may be
	// lost on a single trade, assuming the stop-loss fires.
	MaxRiskPerTradePct float64 `json:"max_risk_per_trade_pct"`

	// MaxOpenPositions limits concurrent open positions.
	MaxOpenPositions int `json:"max_open_positions"`

	// MaxDailyLossPct is the maximum daily loss as a percentage of capital.
	MaxDailyLossPct float64 `json:"max_daily_loss_pct"`

	// MaxCapitalDeploymentPct limits how much total capital can be deployed at once.
	MaxCapitalDeploymentPct float64 `json:"max_capital_deployment_pct"`

	// MaxPerUnderlying limits concurrent positions sharing the same
	// underlying index (the options analogue of sector concentration).
	MaxPerUnderlying int `json:"max_per_underlying"`
}

// CircuitBreakerConfig configures the repeated-failure trading halt.
type CircuitBreakerConfig struct {
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	MaxFailuresPerHour     int `json:"max_failures_per_hour"`
	CooldownMinutes        int `json:"cooldown_minutes"`
}

// PathsConfig defines filesystem paths for supporting data.
type PathsConfig struct {
	// InstrumentMasterPath is where the cached instrument-master CSV/JSON lives.
	InstrumentMasterPath string `json:"instrument_master_path"`

	// MarketDataDir is where cached market data lives.
	MarketDataDir string `json:"market_data_dir"`

	// LogDir is where all system logs are written.
	LogDir string `json:"log_dir"`
}

// Load reads configuration from a JSON file.
// Environment variables override file values where applicable.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}

	// Environment variable overrides.
	if v := os.Getenv("SCALPER_TRADING_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv("SCALPER_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SCALPER_ACTIVE_BROKER"); v != "" {
		cfg.ActiveBroker = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.ActiveBroker == "" {
		return fmt.Errorf("active_broker is required")
	}
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if c.Capital <= 0 {
		return fmt.Errorf("capital must be positive, got %f", c.Capital)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one entry in symbols is required")
	}
	for name, sym := range c.Symbols {
		if sym.StrikeStep <= 0 {
			return fmt.Errorf("symbols[%s].strike_step must be positive", name)
		}
		if sym.LotSize <= 0 {
			return fmt.Errorf("symbols[%s].lot_size must be positive", name)
		}
		if sym.SecurityID == "" {
			return fmt.Errorf("symbols[%s].security_id is required for historical candle fetch", name)
		}
		if sym.IndexSegment == "" {
			return fmt.Errorf("symbols[%s].index_segment is required for historical candle fetch", name)
		}
	}
	if c.Global.SLPct <= 0 {
		return fmt.Errorf("global.sl_pct is mandatory and must be positive")
	}
	if c.Risk.MaxRiskPerTradePct <= 0 || c.Risk.MaxRiskPerTradePct > 100 {
		return fmt.Errorf("max_risk_per_trade_pct must be in (0, 100], got %f", c.Risk.MaxRiskPerTradePct)
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive, got %d", c.Risk.MaxOpenPositions)
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 100 {
		return fmt.Errorf("max_daily_loss_pct must be in (0, 100], got %f", c.Risk.MaxDailyLossPct)
	}
	if c.Risk.MaxCapitalDeploymentPct <= 0 || c.Risk.MaxCapitalDeploymentPct > 100 {
		return fmt.Errorf("max_capital_deployment_pct must be in (0, 100], got %f", c.Risk.MaxCapitalDeploymentPct)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	// Live mode has stricter requirements to prevent accidental real trading.
	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}

	return nil
}

// validateLiveMode enforces extra safety checks when running with real money.
func (c *Config) validateLiveMode() error {
	// Broker config must exist for the active broker.
	if c.BrokerConfig == nil {
		return fmt.Errorf("broker_config is required for live trading")
	}
	if _, ok := c.BrokerConfig[c.ActiveBroker]; !ok {
		return fmt.Errorf("broker_config[%q] is required for live trading", c.ActiveBroker)
	}

	// Safety cap: max 5 open positions in live mode.
	if c.Risk.MaxOpenPositions > 5 {
		return fmt.Errorf("max_open_positions cannot exceed 5 in live mode (got %d)", c.Risk.MaxOpenPositions)
	}

	// Safety cap: max 2%% risk per trade in live mode.
	if c.Risk.MaxRiskPerTradePct > 2.0 {
		return fmt.Errorf("max_risk_per_trade_pct cannot exceed 2%% in live mode (got %.1f%%)", c.Risk.MaxRiskPerTradePct)
	}

	// Safety cap: max 70%% capital deployment in live mode.
	if c.Risk.MaxCapitalDeploymentPct > 70.0 {
		return fmt.Errorf("max_capital_deployment_pct cannot exceed 70%% in live mode (got %.1f%%)", c.Risk.MaxCapitalDeploymentPct)
	}

	return nil
}
