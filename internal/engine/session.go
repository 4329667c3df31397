// Package engine is the composition root: it wires the KV store, tick
// cache, candle/signal engine, option picker, sizer, ledger, position
// tracker, broker, risk manager, scheduler, webhook server, and metrics
// server into one running trading session, and owns its start/stop
// lifecycle.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/broker"
	"github.com/shubhscalper/dhanscalper/internal/config"
	"github.com/shubhscalper/dhanscalper/internal/dashboard"
	"github.com/shubhscalper/dhanscalper/internal/instrument"
	"github.com/shubhscalper/dhanscalper/internal/kv"
	"github.com/shubhscalper/dhanscalper/internal/ledger"
	"github.com/shubhscalper/dhanscalper/internal/market"
	"github.com/shubhscalper/dhanscalper/internal/metrics"
	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/position"
	"github.com/shubhscalper/dhanscalper/internal/risk"
	"github.com/shubhscalper/dhanscalper/internal/scalpererr"
	"github.com/shubhscalper/dhanscalper/internal/scheduler"
	"github.com/shubhscalper/dhanscalper/internal/signal"
	"github.com/shubhscalper/dhanscalper/internal/sizer"
	"github.com/shubhscalper/dhanscalper/internal/storage"
	"github.com/shubhscalper/dhanscalper/internal/tick"
	"github.com/shubhscalper/dhanscalper/internal/webhook"
)

// riskExitWaitTimeout bounds how long Stop waits for the exit-side risk
// loop to finish its in-flight tick before giving up on a clean shutdown.
const riskExitWaitTimeout = 2 * time.Second

// Session composes every live component of one trading run and owns
// their lifecycle. Exactly one Session should run per process.
type Session struct {
	ID     string
	cfg    *config.Config
	logger *log.Logger

	calendar *market.Calendar

	kvStore kv.Store
	store   storage.Store // nil when no database is configured

	ticks *tick.Cache
	feed  *tick.Feed // non-nil only in live mode

	dataMgr   *market.DataManager
	sigEngine *signal.Engine
	master    instrument.Master

	balance *ledger.Balance
	tracker *position.Tracker

	brk         broker.Broker
	riskMgr     *risk.Manager
	cb          *risk.CircuitBreaker
	exitMgr     *risk.ExitManager
	sched       *scheduler.Scheduler
	metrics     *metrics.Registry
	webhookSrv  *webhook.Server
	broadcaster *dashboard.Broadcaster
	events      *dashboard.EventListener

	startEquity money.Decimal

	pendingMu sync.Mutex
	pending   map[string]pendingEntry

	// fatal carries unrecoverable errors (scalpererr.BalanceCorruption)
	// from any goroutine up to Run, which cancels every loop and exits.
	// Buffered 1: only the first fatal error matters, later ones are
	// logged and dropped since the session is already tearing down.
	fatal    chan error
	fatalErr error

	wg sync.WaitGroup
}

// Options carries the pieces of a Session that are either supplied by
// the caller (instrument master, data provider) or decided once at
// startup (whether a live feed runs), separate from cfg so tests can
// substitute fakes without touching the config file.
type Options struct {
	Master          instrument.Master // required; use instrument.NewStaticMaster() if no richer oracle is wired
	DataProvider    market.DataProvider
	FeedURL         string // live market-feed WebSocket URL; empty disables the live tick feed
	FeedAccessToken string
}

// New builds a Session from cfg, wiring paper or live components
// according to cfg.TradingMode. It does not start any loops — call Run.
//
// ctx bounds only the startup work (opening the KV/audit-trail pools and
// the initial connectivity Ping), not the session's lifetime — that is
// governed by the ctx passed to Run.
func New(ctx context.Context, sessionID string, cfg *config.Config, opts Options, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	if opts.Master == nil {
		return nil, fmt.Errorf("engine: Options.Master is required")
	}

	cal, err := market.NewCalendar(cfg.MarketCalendarPath)
	if err != nil {
		return nil, fmt.Errorf("engine: calendar: %w", err)
	}

	var kvStore kv.Store
	if cfg.DatabaseURL != "" {
		pgKV, err := kv.NewPostgresStore(ctx, cfg.DatabaseURL, "scalper:v1")
		if err != nil {
			return nil, fmt.Errorf("engine: kv postgres store: %w", err)
		}
		kvStore = pgKV
	} else {
		kvStore = kv.NewMemStore("scalper:v1")
	}
	// Per spec.md §7, a KV store unreachable at startup is fatal —
	// positions/orders/idempotency keys must survive a restart, so an
	// engine that can't reach its durable store must not start at all.
	if err := kvStore.Ping(ctx); err != nil {
		if kind, ok := scalpererr.KindOf(err); ok && scalpererr.IsFatal(kind, true) {
			return nil, fmt.Errorf("engine: kv store unreachable at startup: %w", err)
		}
		logger.Printf("WARNING: kv store ping failed non-fatally at startup: %v", err)
	}

	var store storage.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			logger.Printf("WARNING: postgres store unavailable, running without durable audit trail: %v", err)
		} else {
			store = pg
		}
	}

	balance := ledger.New(money.NewFromFloat(cfg.Capital))
	tracker := position.New(balance)

	var fallback tick.FallbackFetcher
	if opts.DataProvider != nil {
		fallback = newDataProviderFallback(opts.DataProvider, cfg)
	}
	ticks := tick.New(kvStore, fallback, logger)

	var feed *tick.Feed
	if cfg.TradingMode == config.ModeLive && opts.FeedURL != "" {
		feed = tick.NewFeed(tick.FeedConfig{URL: opts.FeedURL, AccessToken: opts.FeedAccessToken}, ticks, logger)
	}

	var dataMgr *market.DataManager
	if opts.DataProvider != nil && store != nil {
		dataMgr = market.NewDataManager(opts.DataProvider, store)
	}

	brk, err := newBroker(cfg, balance, tracker, kvStore)
	if err != nil {
		return nil, fmt.Errorf("engine: broker: %w", err)
	}

	riskMgr := risk.NewManager(cfg.Risk, cfg.Global, cfg.Capital)
	cb := risk.NewCircuitBreaker(cfg.CircuitBreaker, logger)
	exitMgr := risk.NewExitManager(cfg.Global, tracker, balance, ticks, brk, kvStore, cb, logger)

	sched := scheduler.New(cal, logger)
	reg := metrics.New()

	var whServer *webhook.Server
	if cfg.Webhook.Enabled {
		whServer = webhook.NewServer(webhook.Config{
			Port:    cfg.Webhook.Port,
			Path:    cfg.Webhook.Path,
			Enabled: cfg.Webhook.Enabled,
		}, logger)
	}

	broadcaster := dashboard.NewBroadcaster(logger)

	var events *dashboard.EventListener
	if cfg.DatabaseURL != "" {
		events = dashboard.NewEventListener(cfg.DatabaseURL, broadcaster, logger)
	}

	s := &Session{
		ID:          sessionID,
		cfg:         cfg,
		logger:      logger,
		calendar:    cal,
		kvStore:     kvStore,
		store:       store,
		ticks:       ticks,
		feed:        feed,
		dataMgr:     dataMgr,
		sigEngine:   signal.NewEngine(),
		master:      opts.Master,
		balance:     balance,
		tracker:     tracker,
		brk:         brk,
		riskMgr:     riskMgr,
		cb:          cb,
		exitMgr:     exitMgr,
		sched:       sched,
		metrics:     reg,
		webhookSrv:  whServer,
		broadcaster: broadcaster,
		events:      events,
		startEquity: balance.Snapshot().Total,
		pending:     make(map[string]pendingEntry),
		fatal:       make(chan error, 1),
	}

	exitMgr.SetFatalHandler(s.reportFatal)
	s.registerPostbackHandler()
	s.registerTasks()

	return s, nil
}

// reportFatal records an unrecoverable error (scalpererr.BalanceCorruption
// from a Debit/Credit invariant violation) and requests Run's context be
// cancelled so every loop stops. Safe to call from any goroutine; only
// the first call takes effect.
func (s *Session) reportFatal(err error) {
	s.logger.Printf("FATAL: %v", err)
	select {
	case s.fatal <- err:
	default:
	}
}

func newBroker(cfg *config.Config, balance *ledger.Balance, tracker *position.Tracker, store kv.Store) (broker.Broker, error) {
	if cfg.TradingMode == config.ModeLive {
		brokerCfg, ok := cfg.BrokerConfig[cfg.ActiveBroker]
		if !ok {
			return nil, fmt.Errorf("no broker_config entry for active_broker %q", cfg.ActiveBroker)
		}
		return broker.New(cfg.ActiveBroker, brokerCfg)
	}
	return broker.NewPaperBroker(balance, tracker, store), nil
}

// Metrics returns the session's Prometheus registry.
func (s *Session) Metrics() *metrics.Registry { return s.metrics }

// Broadcaster returns the session's dashboard broadcaster, so the
// composition root can mount its WebSocket handler.
func (s *Session) Broadcaster() *dashboard.Broadcaster { return s.broadcaster }

// Webhook returns the session's webhook server, or nil if disabled.
func (s *Session) Webhook() *webhook.Server { return s.webhookSrv }

// Run starts every loop (scheduler, exit-side risk manager, webhook
// server, dashboard event listener) and blocks until ctx is cancelled.
// On return, every loop has either stopped cleanly or been abandoned
// past its bounded-wait timeout.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Printf("session %s starting: mode=%s capital=%.2f symbols=%d",
		s.ID, s.cfg.TradingMode, s.cfg.Capital, len(s.cfg.Symbols))

	// runCtx is cancelled either by the caller or by a fatal error
	// reported through s.fatal, so every loop below stops on either path.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.webhookSrv != nil {
		if err := s.webhookSrv.Start(); err != nil {
			return fmt.Errorf("engine: webhook server: %w", err)
		}
	}

	if s.events != nil {
		s.events.Start(runCtx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case err := <-s.fatal:
			s.fatalErr = err
			cancel()
		case <-runCtx.Done():
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.broadcaster.Run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.exitMgr.Run(runCtx)
	}()

	if s.feed != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.feed.Run(runCtx)
		}()
	}

	s.sched.Run(runCtx)

	if err := s.Stop(); err != nil {
		return err
	}
	return s.fatalErr
}

// Stop halts the scheduler, halts the risk manager with a bounded join,
// drains any pending exits by construction (ExitManager.Stop requests
// the loop exit at its next iteration boundary, never mid-tick), stops
// the dashboard broadcaster and webhook server, and persists a final
// session snapshot. Safe to call after Run has already returned from a
// cancelled context.
func (s *Session) Stop() error {
	s.sched.Stop()
	s.exitMgr.Stop()

	if !s.exitMgr.Wait(riskExitWaitTimeout) {
		s.logger.Printf("WARNING: risk manager did not stop cleanly within %v", riskExitWaitTimeout)
	}

	if s.events != nil {
		s.events.Stop()
	}
	s.broadcaster.Shutdown()

	if s.webhookSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.webhookSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("WARNING: webhook server shutdown: %v", err)
		}
	}

	s.wg.Wait()

	if err := s.persistSnapshot(context.Background()); err != nil {
		s.logger.Printf("WARNING: failed to persist final session snapshot: %v", err)
	}

	type closer interface{ Close() }
	if c, ok := s.kvStore.(closer); ok {
		c.Close()
	}
	if c, ok := s.store.(closer); ok {
		c.Close()
	}

	s.logger.Printf("session %s stopped: final equity=%v", s.ID, s.balance.Snapshot().Total)
	return nil
}

// persistSnapshot writes the session's closing balance snapshot as a
// trade log entry, so a Postgres-backed deployment retains a durable
// record of every session's start and end state even across restarts.
func (s *Session) persistSnapshot(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap := s.balance.Snapshot()
	msg := fmt.Sprintf("session closed: available=%v used=%v total=%v open_positions=%d",
		snap.Available, snap.Used, snap.Total, len(s.tracker.GetOpenPositions()))
	logEntry := storage.NewTradeLog(s.ID, "", "SESSION_CLOSE", "", msg, "", time.Now())
	return s.store.SaveTradeLog(ctx, logEntry)
}

// ApplyConfigChange propagates a hot-reloaded config to every component
// that holds a copy of config-derived state. Intended to be passed as
// the OnChange callback to a config.ConfigWatcher.
func (s *Session) ApplyConfigChange(_ *config.Config, newCfg *config.Config) {
	s.riskMgr.UpdateRiskConfig(newCfg.Risk, newCfg.Global)
	s.cb.UpdateConfig(newCfg.CircuitBreaker)
	s.exitMgr.UpdateGlobalConfig(newCfg.Global)
	s.riskMgr.UpdateCapital(newCfg.Capital)
	*s.cfg = *newCfg
	s.logger.Printf("[hot-reload] session %s config updated", s.ID)
}
