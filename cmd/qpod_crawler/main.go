package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Grenzlinie/Crawler-QPOD/internal/catalog"
	"github.com/Grenzlinie/Crawler-QPOD/internal/config"
	"github.com/Grenzlinie/Crawler-QPOD/internal/fetch"
	"github.com/Grenzlinie/Crawler-QPOD/internal/idlist"
	"github.com/Grenzlinie/Crawler-QPOD/internal/ledger"
	"github.com/Grenzlinie/Crawler-QPOD/internal/logctx"
	"github.com/Grenzlinie/Crawler-QPOD/internal/progress"
	"github.com/Grenzlinie/Crawler-QPOD/internal/reconcile"
	"github.com/Grenzlinie/Crawler-QPOD/internal/store"
	"github.com/Grenzlinie/Crawler-QPOD/internal/telemetry"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	// Optional .env next to the binary; real env always wins.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd, args := splitCommand(os.Args[1:])

	if err := run(logctx.WithLogger(ctx, logger), cfg, cmd, args); err != nil {
		logger.Error("fatal error", "command", cmd, "err", err)
		os.Exit(1)
	}
}

// splitCommand peels off the subcommand; a bare flag list means fetch.
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "fetch", args
	}

	return args[0], args[1:]
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "fetch":
		return runFetch(ctx, cfg, args)
	case "scrape":
		return runScrape(ctx, cfg, args)
	case "dedup":
		return runDedup(ctx, cfg, args)
	case "reconcile":
		return runReconcile(ctx, cfg, args)
	}

	return fmt.Errorf("unknown command %q (expected fetch, scrape, dedup or reconcile)", cmd)
}

func runFetch(ctx context.Context, cfg *config.Config, args []string) error {
	logger := logctx.LoggerFromContext(ctx)

	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	idsPath := fs.String("ids", cfg.IDsPath, "input identifier list, one identifier per line")
	outDir := fs.String("out", cfg.OutputDir, "artifact output directory, created if absent")
	timeoutSecs := fs.Float64("timeout", cfg.Timeout.Seconds(), "per-request timeout in seconds")
	ledgerPath := fs.String("log", cfg.LedgerPath, "ledger file path")
	batchSize := fs.Int("batch-size", cfg.BatchSize, "worker concurrency")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// =========================================================================
	// Setup phase: any failure here is fatal before work begins.
	ids, err := idlist.Read(*idsPath)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return fmt.Errorf("no identifiers found in %s", *idsPath)
	}

	st, err := store.New(*outDir)
	if err != nil {
		return err
	}

	ld, err := ledger.Open(ctx, *ledgerPath)
	if err != nil {
		return err
	}
	defer ld.Close()

	// =========================================================================
	// Telemetry is opt-in; plain CLI runs skip the endpoint entirely.
	tel, err := telemetry.New(telemetry.Config{
		Enabled:     cfg.Telemetry.BindAddress != "",
		ServiceName: "qpod_crawler",
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	if cfg.Telemetry.BindAddress != "" {
		startMetricsServer(ctx, tel, cfg.Telemetry.BindAddress)

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown telemetry", "err", err)
			}
		}()
	}

	// =========================================================================
	// Start the download engine.
	logger.Info("starting downloads",
		"identifiers", len(ids),
		"output_dir", *outDir,
		"ledger", *ledgerPath,
	)

	fetcher := fetch.New(st, ld, progress.Detect(logger), tel, fetch.Options{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   time.Duration(*timeoutSecs * float64(time.Second)),
		BatchSize: *batchSize,
	})

	summary, err := fetcher.Run(ctx, ids)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("Completed: %s/%s downloads succeeded (%d failed, %d skipped).\n",
		humanize.Comma(int64(summary.Succeeded)),
		humanize.Comma(int64(summary.Dispatched)),
		summary.Failed,
		summary.Skipped,
	)

	return err
}

func runScrape(ctx context.Context, cfg *config.Config, args []string) error {
	logger := logctx.LoggerFromContext(ctx)

	fs := flag.NewFlagSet("scrape", flag.ContinueOnError)
	sid := fs.Int("sid", cfg.Scrape.SID, "listing set identifier")
	outPath := fs.String("out", cfg.Scrape.CatalogPath, "catalog output file")
	interval := fs.Duration("interval", cfg.Scrape.PageInterval, "delay between page requests")

	if err := fs.Parse(args); err != nil {
		return err
	}

	scraper := catalog.New(catalog.Options{
		BaseURL:      cfg.BaseURL,
		UserAgent:    cfg.UserAgent,
		SID:          *sid,
		PageInterval: *interval,
		RetryBackoff: cfg.Scrape.RetryBackoff,
	})

	total, err := scraper.Run(ctx, *outPath)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("catalog scrape finished", "total", total, "catalog", *outPath)

	return nil
}

func runDedup(ctx context.Context, cfg *config.Config, args []string) error {
	logger := logctx.LoggerFromContext(ctx)

	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	idsPath := fs.String("ids", cfg.Scrape.CatalogPath, "identifier list to deduplicate in place")

	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := idlist.Dedup(*idsPath)
	if err != nil {
		return err
	}

	if !res.Changed {
		logger.Info("no duplicates found, file left unchanged", "path", *idsPath)

		return nil
	}

	logger.Info("identifier list deduplicated",
		"path", *idsPath,
		"original_lines", res.Original,
		"unique_lines", res.Unique,
		"backup", res.Backup,
	)

	return nil
}

func runReconcile(ctx context.Context, cfg *config.Config, args []string) error {
	logger := logctx.LoggerFromContext(ctx)

	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	idsPath := fs.String("ids", cfg.Scrape.CatalogPath, "expected identifier list")
	outDir := fs.String("out", cfg.OutputDir, "content store directory")
	missingPath := fs.String("missing", cfg.IDsPath, "where to write identifiers with no artifact")

	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := store.New(*outDir)
	if err != nil {
		return err
	}

	report, err := reconcile.Diff(*idsPath, st)
	if err != nil {
		return err
	}

	logger.Info("reconciled content store",
		"expected", report.Expected,
		"artifacts", report.Actual,
		"missing", len(report.Missing),
		"extra", len(report.Extra),
	)

	for _, id := range report.Extra {
		logger.Warn("artifact not in identifier list", "identifier", id)
	}

	if err := report.WriteMissing(*missingPath); err != nil {
		return err
	}

	fmt.Printf("Total IDs listed: %d\nArtifacts found:  %d\nMissing IDs saved to %s\n",
		report.Expected, report.Actual, *missingPath)

	return nil
}

func startMetricsServer(ctx context.Context, tel *telemetry.Telemetry, addr string) {
	logger := logctx.LoggerFromContext(ctx)

	server := &http.Server{
		Addr:              addr,
		Handler:           tel.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()
}
