package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/use-agent/adscope/cache"
	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/orchestrator"
	"github.com/use-agent/adscope/scraper"
	"github.com/use-agent/adscope/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "adscope",
	Short: "adscope - creative identifier extraction pipeline",
	Long: `adscope drains a backlog of ad creatives, renders their detail
pages in a headless browser, disambiguates the real creative from its
decoy bundles, and extracts video, store and sponsor identifiers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			// .env is optional; plain environment variables work too.
			slog.Debug("no .env file found")
		}
		cfg = config.Load()
		initLogger(cfg.Log)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the worker pool and drain the backlog",
	RunE:  runWorkers,
}

var importCmd = &cobra.Command{
	Use:   "import [csv file]",
	Short: "Enqueue creatives from a CSV file (creative_ref[,advertiser_ref])",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print backlog counts per status",
	RunE:  runStats,
}

var drainOnce bool

func init() {
	runCmd.Flags().BoolVar(&drainOnce, "drain", false,
		"exit once the backlog is empty instead of polling")
	rootCmd.AddCommand(runCmd, importCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorkers(cmd *cobra.Command, args []string) error {
	slog.Info("adscope starting",
		"workers", cfg.Worker.Concurrency,
		"batchSize", cfg.Worker.BatchSize,
		"batchBudget", cfg.Worker.BatchBudget,
		"maxPages", cfg.Browser.MaxPages,
	)

	// ── 1. Open backlog ─────────────────────────────────────────────
	backlog, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("open backlog: %w", err)
	}
	defer backlog.Close()

	// ── 1b. Recover claims abandoned by a crashed run ───────────────
	if recovered, resetErr := backlog.ResetStale(cfg.Worker.StaleClaimAge); resetErr != nil {
		slog.Warn("stale claim recovery failed", "error", resetErr)
	} else if recovered > 0 {
		slog.Info("stale claims recovered", "count", recovered)
	}

	// ── 2. Shared asset cache ───────────────────────────────────────
	assets := cache.NewAssets(cfg.Cache.MaxEntries, cfg.Cache.TTL)

	// ── 3. Launch browser ───────────────────────────────────────────
	sc, err := scraper.NewScraper(cfg.Browser, cfg.Wait, assets)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}
	defer sc.Close()

	client := scraper.NewClient(sc, cfg.Direct, cfg.Target, cfg.Wait)

	// ── 4. Start worker pool ────────────────────────────────────────
	o := orchestrator.New(cfg.Worker, cfg.Target, client, backlog)
	o.ExitWhenIdle = drainOnce

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// ── 5. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	o.Run(ctx)

	// sc.Close() runs via defer — drains page pool and kills Chrome.
	slog.Info("adscope stopped")
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	backlog, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("open backlog: %w", err)
	}
	defer backlog.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	n, err := backlog.ImportCSV(f)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	slog.Info("import complete", "file", args[0], "enqueued", n)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	backlog, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("open backlog: %w", err)
	}
	defer backlog.Close()

	counts, err := backlog.CountByStatus()
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}

	order := []models.ItemStatus{
		models.StatusPending,
		models.StatusInProgress,
		models.StatusCompleted,
		models.StatusFailed,
	}
	total := 0
	for _, st := range order {
		fmt.Printf("%-12s %d\n", st, counts[st])
		total += counts[st]
	}
	fmt.Printf("%-12s %d\n", "TOTAL", total)
	return nil
}

// initLogger configures slog from the log config.
func initLogger(logCfg config.Log) {
	var level slog.Level
	switch logCfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if logCfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
