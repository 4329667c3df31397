// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5 seconds)
// and notifies registered callbacks when risk parameters change.
//
// Only risk configuration is reloadable. Broker config, database URL,
// trading mode, and other structural settings require an engine restart.
package config

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// ConfigWatcher monitors the config file for changes and invokes callbacks
// when risk-related fields change. It uses stat-based polling (no external
// dependencies like fsnotify required).
type ConfigWatcher struct {
	path      string
	logger    *log.Logger
	mu        sync.RWMutex
	current   *Config
	lastMod   time.Time
	onChange  []func(old, new *Config)
	done      chan struct{}
	stopped   bool
}

// NewConfigWatcher creates a watcher for the given config file path.
// initial is the currently loaded config. The watcher does not start
// until Start() is called.
func NewConfigWatcher(path string, initial *Config, logger *log.Logger) *ConfigWatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &ConfigWatcher{
		path:    path,
		logger:  logger,
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback that will be called when the config file
// changes and the new config passes validation. Multiple callbacks may
// be registered. Callbacks receive the old and new config values.
//
// Only risk config changes trigger callbacks. Changes to broker config,
// database URL, or trading mode are ignored (they require a restart).
func (w *ConfigWatcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns immediately;
// the watcher runs in a background goroutine. Returns an error if the
// initial file stat fails.
func (w *ConfigWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Printf("[config-watcher] watching %s for changes (poll interval: 5s)", w.path)

	go w.pollLoop()
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Println("[config-watcher] stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ────────────────────────────────────────────────────────────────────
// Internal
// ────────────────────────────────────────────────────────────────────

func (w *ConfigWatcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *ConfigWatcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] stat error: %v", err)
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return // file hasn't changed
	}
	w.lastMod = info.ModTime()

	// Read and parse new config.
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] read error: %v", err)
		return
	}

	var newCfg Config
	if err := json.Unmarshal(data, &newCfg); err != nil {
		w.logger.Printf("[config-watcher] parse error (keeping old config): %v", err)
		return
	}

	// Validate the new config.
	if err := newCfg.Validate(); err != nil {
		w.logger.Printf("[config-watcher] validation error (keeping old config): %v", err)
		return
	}

	// Check if risk-related fields actually changed.
	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if !riskConfigChanged(oldCfg, &newCfg) {
		w.logger.Printf("[config-watcher] file changed but risk config unchanged, skipping")
		return
	}

	// Log what changed.
	w.logRiskChanges(oldCfg, &newCfg)

	// Apply the new config and notify callbacks.
	w.mu.Lock()
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

// riskConfigChanged returns true if any reloadable risk, exit, or
// circuit-breaker field changed between old and new.
func riskConfigChanged(old, new *Config) bool {
	if old.Risk != new.Risk {
		return true
	}
	if old.CircuitBreaker != new.CircuitBreaker {
		return true
	}
	if old.Global.TPPct != new.Global.TPPct ||
		old.Global.SLPct != new.Global.SLPct ||
		old.Global.TrailPct != new.Global.TrailPct ||
		old.Global.TimeStopSeconds != new.Global.TimeStopSeconds ||
		old.Global.MaxDailyLossRs != new.Global.MaxDailyLossRs ||
		old.Global.CooldownAfterLossSeconds != new.Global.CooldownAfterLossSeconds ||
		old.Global.EnableTimeStop != new.Global.EnableTimeStop ||
		old.Global.EnableDailyLossCap != new.Global.EnableDailyLossCap ||
		old.Global.EnableCooldown != new.Global.EnableCooldown {
		return true
	}
	return false
}

func (w *ConfigWatcher) logRiskChanges(old, new *Config) {
	if old.Risk.MaxRiskPerTradePct != new.Risk.MaxRiskPerTradePct {
		w.logger.Printf("[config-watcher] max_risk_per_trade_pct: %.2f -> %.2f", old.Risk.MaxRiskPerTradePct, new.Risk.MaxRiskPerTradePct)
	}
	if old.Risk.MaxOpenPositions != new.Risk.MaxOpenPositions {
		w.logger.Printf("[config-watcher] max_open_positions: %d -> %d", old.Risk.MaxOpenPositions, new.Risk.MaxOpenPositions)
	}
	if old.Risk.MaxDailyLossPct != new.Risk.MaxDailyLossPct {
		w.logger.Printf("[config-watcher] max_daily_loss_pct: %.2f -> %.2f", old.Risk.MaxDailyLossPct, new.Risk.MaxDailyLossPct)
	}
	if old.Risk.MaxCapitalDeploymentPct != new.Risk.MaxCapitalDeploymentPct {
		w.logger.Printf("[config-watcher] max_capital_deployment_pct: %.2f -> %.2f", old.Risk.MaxCapitalDeploymentPct, new.Risk.MaxCapitalDeploymentPct)
	}
	if old.Risk.MaxPerUnderlying != new.Risk.MaxPerUnderlying {
		w.logger.Printf("[config-watcher] max_per_underlying: %d -> %d", old.Risk.MaxPerUnderlying, new.Risk.MaxPerUnderlying)
	}
	if old.Global.TPPct != new.Global.TPPct || old.Global.SLPct != new.Global.SLPct || old.Global.TrailPct != new.Global.TrailPct {
		w.logger.Printf("[config-watcher] tp_pct/sl_pct/trail_pct: %.4f/%.4f/%.4f -> %.4f/%.4f/%.4f",
			old.Global.TPPct, old.Global.SLPct, old.Global.TrailPct,
			new.Global.TPPct, new.Global.SLPct, new.Global.TrailPct)
	}
	if old.Global.MaxDailyLossRs != new.Global.MaxDailyLossRs {
		w.logger.Printf("[config-watcher] max_daily_loss_rs: %.2f -> %.2f", old.Global.MaxDailyLossRs, new.Global.MaxDailyLossRs)
	}
	if old.CircuitBreaker != new.CircuitBreaker {
		w.logger.Printf("[config-watcher] circuit_breaker: consecutive=%d hourly=%d cooldown=%dmin",
			new.CircuitBreaker.MaxConsecutiveFailures, new.CircuitBreaker.MaxFailuresPerHour, new.CircuitBreaker.CooldownMinutes)
	}
}
