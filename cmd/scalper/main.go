// Package main is the entry point for the intraday options-scalping
// engine.
//
// The scalper:
//  1. Loads configuration (and a .env file, if present)
//  2. Wires the tick cache, signal engine, option picker, sizer, ledger,
//     position tracker, broker, risk manager, scheduler, webhook server,
//     metrics, and dashboard into one engine.Session
//  3. Runs the decision loop and the exit-side risk loop until
//     interrupted
//  4. Serves /metrics and /ws for observability
//
// Subcommands:
//   - start / paper: run the engine in paper trading mode (default)
//   - live:          run the engine against the live broker (requires
//     --confirm-live and ALGO_LIVE_CONFIRMED=true)
//   - status:        print current market/session status and exit
//   - report:        print a performance report for a session
//   - export:        export closed trades as CSV since a given date
//   - config:        validate and print the loaded configuration
//   - version:       print the build version
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/shubhscalper/dhanscalper/internal/analytics"
	"github.com/shubhscalper/dhanscalper/internal/config"
	"github.com/shubhscalper/dhanscalper/internal/engine"
	"github.com/shubhscalper/dhanscalper/internal/instrument"
	"github.com/shubhscalper/dhanscalper/internal/market"
	"github.com/shubhscalper/dhanscalper/internal/storage"
)

// version is stamped by the release build; "dev" when built locally.
var version = "dev"

// dhanFeedConfig is the subset of the Dhan broker_config entry this
// command needs to stand up the live tick feed and historical data
// provider, parsed independently of broker.DhanConfig and
// market.DhanDataConfig since neither carries a market-feed URL.
type dhanFeedConfig struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
	BaseURL     string `json:"base_url"`
	FeedURL     string `json:"feed_url"`
}

// defaultDhanFeedURL is Dhan's v2 market-feed WebSocket endpoint, used
// when broker_config.dhan.feed_url is left unset.
const defaultDhanFeedURL = "wss://api-feed.dhan.co"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: failed to load .env: %v", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start", "paper":
		runEngine(args, config.ModePaper)
	case "live":
		runEngine(args, config.ModeLive)
	case "status":
		runStatusCmd(args)
	case "report":
		runReportCmd(args)
	case "export":
		runExportCmd(args)
	case "config":
		runConfigCmd(args)
	case "version":
		fmt.Println(version)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scalper <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  start, paper   run in paper trading mode")
	fmt.Fprintln(os.Stderr, "  live           run against the live broker (requires --confirm-live)")
	fmt.Fprintln(os.Stderr, "  status         print market/session status and exit")
	fmt.Fprintln(os.Stderr, "  report         print a performance report")
	fmt.Fprintln(os.Stderr, "  export         export closed trades as CSV")
	fmt.Fprintln(os.Stderr, "  config         validate and print the loaded configuration")
	fmt.Fprintln(os.Stderr, "  version        print the build version")
}

func runEngine(args []string, mode config.Mode) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config/config.json", "path to configuration file")
	confirmLive := fs.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	sessionID := fs.String("session-id", "", "session id; defaults to a generated uuid")
	fs.Parse(args)

	logger := log.New(os.Stdout, "[scalper] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	cfg.TradingMode = mode

	logger.Printf("config loaded: broker=%s mode=%s capital=%.2f symbols=%d",
		cfg.ActiveBroker, cfg.TradingMode, cfg.Capital, len(cfg.Symbols))

	if cfg.TradingMode == config.ModeLive {
		gateLiveMode(*confirmLive, logger)
	} else {
		logger.Println("PAPER MODE — simulated orders only, no real money at risk")
	}

	opts := engine.Options{Master: instrument.NewStaticMaster()}

	if cfg.ActiveBroker == "dhan" {
		if raw, ok := cfg.BrokerConfig["dhan"]; ok {
			var dhanCfg dhanFeedConfig
			if err := json.Unmarshal(raw, &dhanCfg); err != nil {
				logger.Fatalf("failed to parse dhan broker_config: %v", err)
			}

			dataCfg := market.DhanDataConfig{
				ClientID:    dhanCfg.ClientID,
				AccessToken: dhanCfg.AccessToken,
				BaseURL:     dhanCfg.BaseURL,
			}
			provider, err := market.NewDhanDataProvider(dataCfg)
			if err != nil {
				logger.Fatalf("failed to create dhan data provider: %v", err)
			}
			opts.DataProvider = provider

			if cfg.TradingMode == config.ModeLive {
				feedURL := dhanCfg.FeedURL
				if feedURL == "" {
					feedURL = defaultDhanFeedURL
				}
				opts.FeedURL = feedURL
				opts.FeedAccessToken = dhanCfg.AccessToken
			}
		}
	}

	id := *sessionID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := engine.New(ctx, id, cfg, opts, logger)
	if err != nil {
		logger.Fatalf("failed to build session: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", sess.Metrics().Handler())
	mux.Handle("/ws", sess.Broadcaster().Handler())
	httpServer := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("WARNING: observability server stopped: %v", err)
		}
	}()

	watcher := config.NewConfigWatcher(*configPath, cfg, logger)
	watcher.OnChange(sess.ApplyConfigChange)
	if err := watcher.Start(); err != nil {
		logger.Printf("WARNING: config watcher failed to start: %v", err)
	}
	defer watcher.Stop()

	logger.Printf("session %s running — press Ctrl+C to stop", id)
	runErr := sess.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("WARNING: observability server shutdown: %v", err)
	}

	if runErr != nil {
		// Run returns a non-nil error only for a fatal condition
		// (scalpererr.BalanceCorruption) or a webhook server that fails
		// to start — a clean ctx cancellation returns nil. Exit non-zero so an operator/orchestrator notices.
		logger.Fatalf("session %s stopped on a fatal error: %v", id, runErr)
	}
}

// gateLiveMode requires both the --confirm-live flag and the
// ALGO_LIVE_CONFIRMED env var before allowing real orders on the
// exchange, so running the live subcommand by mistake can never place
// live trades.
func gateLiveMode(confirmLive bool, logger *log.Logger) {
	envConfirmed := os.Getenv("ALGO_LIVE_CONFIRMED") == "true"
	if !confirmLive || !envConfirmed {
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "  ╔═══════════════════════════════════════════════════════════╗")
		fmt.Fprintln(os.Stderr, "  ║                    ⚠  LIVE MODE BLOCKED  ⚠                ║")
		fmt.Fprintln(os.Stderr, "  ╠═══════════════════════════════════════════════════════════╣")
		fmt.Fprintln(os.Stderr, "  ║  Live trading requires TWO explicit confirmations:       ║")
		fmt.Fprintln(os.Stderr, "  ║                                                           ║")
		fmt.Fprintln(os.Stderr, "  ║  1. CLI flag:   --confirm-live                            ║")
		fmt.Fprintln(os.Stderr, "  ║  2. Env var:    ALGO_LIVE_CONFIRMED=true                  ║")
		fmt.Fprintln(os.Stderr, "  ║                                                           ║")
		fmt.Fprintln(os.Stderr, "  ║  Example:                                                 ║")
		fmt.Fprintln(os.Stderr, "  ║  ALGO_LIVE_CONFIRMED=true scalper live \\                   ║")
		fmt.Fprintln(os.Stderr, "  ║    --confirm-live                                         ║")
		fmt.Fprintln(os.Stderr, "  ╚═══════════════════════════════════════════════════════════╝")
		fmt.Fprintln(os.Stderr, "")
		if !confirmLive {
			fmt.Fprintln(os.Stderr, "  MISSING: --confirm-live flag")
		}
		if !envConfirmed {
			fmt.Fprintln(os.Stderr, "  MISSING: ALGO_LIVE_CONFIRMED=true environment variable")
		}
		fmt.Fprintln(os.Stderr, "")
		os.Exit(1)
	}
	logger.Println("LIVE MODE ACTIVE — real orders will be placed on the exchange")
}

func runStatusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "config/config.json", "path to configuration file")
	fs.Parse(args)

	logger := log.New(os.Stdout, "[scalper] ", log.LstdFlags)
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	cal, err := market.NewCalendar(cfg.MarketCalendarPath)
	if err != nil {
		logger.Fatalf("failed to load market calendar: %v", err)
	}

	now := time.Now()
	fmt.Println("=== System Status ===")
	fmt.Printf("Time (IST):       %s\n", now.In(market.IST).Format("2006-01-02 15:04:05"))
	fmt.Printf("Trading day:      %v\n", cal.IsTradingDay(now))
	fmt.Printf("Market open:      %v\n", cal.IsMarketOpen(now))
	fmt.Printf("Next session in:  %v\n", cal.TimeUntilNextSession(now).Round(time.Minute))
	fmt.Printf("Mode:             %s\n", cfg.TradingMode)
	fmt.Printf("Broker:           %s\n", cfg.ActiveBroker)
	fmt.Printf("Symbols:          %d configured\n", len(cfg.Symbols))
	if reason := cal.HolidayReason(now); reason != "" {
		fmt.Printf("Holiday:          %s\n", reason)
	}
}

func runReportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "config/config.json", "path to configuration file")
	sessionID := fs.String("session-id", "", "report on a specific session id")
	latest := fs.Bool("latest", false, "report on the most recently opened session")
	fs.Parse(args)

	logger := log.New(os.Stdout, "[scalper] ", log.LstdFlags)
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Fatalf("report requires database_url to be configured")
	}

	store, err := storage.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	var trades []storage.TradeRecord
	switch {
	case *sessionID != "":
		trades, err = store.GetTradesBySession(ctx, *sessionID)
	case *latest:
		trades, err = latestSessionTrades(ctx, store)
	default:
		logger.Fatalf("report requires --session-id or --latest")
	}
	if err != nil {
		logger.Fatalf("failed to load trades: %v", err)
	}

	report := analytics.Analyze(trades, cfg.Capital)
	fmt.Println(analytics.FormatReport(report))
}

// latestSessionTrades finds the session with the most recent entry and
// returns only its trades. storage.Store exposes no direct "list
// sessions" query, so this scans every trade once rather than adding a
// query whose only caller is this CLI command.
func latestSessionTrades(ctx context.Context, store *storage.PostgresStore) ([]storage.TradeRecord, error) {
	all, err := store.GetTradesSince(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	latestSessionID := all[0].SessionID
	latestEntry := all[0].EntryTime
	for _, t := range all {
		if t.EntryTime.After(latestEntry) {
			latestEntry = t.EntryTime
			latestSessionID = t.SessionID
		}
	}

	var out []storage.TradeRecord
	for _, t := range all {
		if t.SessionID == latestSessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func runExportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "config/config.json", "path to configuration file")
	since := fs.String("since", "", "export trades entered on or after this date (YYYY-MM-DD)")
	fs.Parse(args)

	logger := log.New(os.Stdout, "[scalper] ", log.LstdFlags)
	if *since == "" {
		logger.Fatalf("export requires --since YYYY-MM-DD")
	}
	sinceDate, err := time.Parse("2006-01-02", *since)
	if err != nil {
		logger.Fatalf("invalid --since date: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Fatalf("export requires database_url to be configured")
	}

	store, err := storage.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	trades, err := store.GetTradesSince(context.Background(), sinceDate)
	if err != nil {
		logger.Fatalf("failed to load trades: %v", err)
	}

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	w.Write([]string{"session_id", "symbol", "option_type", "strike", "side", "quantity",
		"entry_price", "exit_price", "entry_time", "exit_time", "exit_reason", "pnl", "status"})

	for _, t := range trades {
		exitTime := ""
		if t.ExitTime != nil {
			exitTime = t.ExitTime.Format(time.RFC3339)
		}
		w.Write([]string{
			t.SessionID, t.Symbol, t.OptionType, strconv.FormatFloat(t.Strike, 'f', 2, 64),
			t.Side, strconv.FormatInt(t.Quantity, 10),
			strconv.FormatFloat(t.EntryPrice, 'f', 2, 64), strconv.FormatFloat(t.ExitPrice, 'f', 2, 64),
			t.EntryTime.Format(time.RFC3339), exitTime, t.ExitReason,
			strconv.FormatFloat(t.PnL, 'f', 2, 64), t.Status,
		})
	}
}

func runConfigCmd(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "config/config.json", "path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}
	fmt.Println(string(out))
}
