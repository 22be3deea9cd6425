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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-leads/config"
	"github.com/aluiziolira/go-scrape-leads/loop"
	"github.com/aluiziolira/go-scrape-leads/metrics"
	"github.com/aluiziolira/go-scrape-leads/models"
	"github.com/aluiziolira/go-scrape-leads/pipeline"
	"github.com/aluiziolira/go-scrape-leads/scraper"
	"github.com/aluiziolira/go-scrape-leads/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "YAML configuration file")
	envFile := flag.String("env-file", ".env", "dotenv file with LEADS_* variables")
	loginURL := flag.String("login-url", "", "Dashboard login page URL")
	dataURL := flag.String("data-url", "", "Dashboard data page URL")
	email := flag.String("email", "", "Login email")
	driver := flag.String("driver", "", "Browser driver: chrome or http")
	chromePath := flag.String("chrome-path", "", "Path to the Chrome/Chromium binary")
	headless := flag.Bool("headless", true, "Run Chrome headless")
	dbDriver := flag.String("db-driver", "", "Store driver: sqlite or postgres")
	databaseURL := flag.String("database-url", "", "Database DSN or sqlite file path")
	table := flag.String("table", "", "Lead table name")
	interval := flag.Duration("interval", 0, "Wait between cycles")
	backoff := flag.Duration("backoff", 0, "Wait after a failed cycle")
	threshold := flag.Int("failure-threshold", 0, "Consecutive failures before the session is recreated")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	archiveFile := flag.String("archive", "", "Append every snapshot to this file")
	archiveFormat := flag.String("format", "", "Archive format: csv, json, or dual")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		return 1
	}

	// Flags win only when given on the command line.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "login-url":
			cfg.LoginURL = *loginURL
		case "data-url":
			cfg.DataURL = *dataURL
		case "email":
			cfg.Email = *email
		case "driver":
			cfg.Driver = strings.ToLower(*driver)
		case "chrome-path":
			cfg.ChromePath = *chromePath
		case "headless":
			cfg.Headless = *headless
		case "db-driver":
			cfg.DBDriver = strings.ToLower(*dbDriver)
		case "database-url":
			cfg.DatabaseURL = *databaseURL
		case "table":
			cfg.Table = *table
		case "interval":
			cfg.Interval = *interval
		case "backoff":
			cfg.FailureBackoff = *backoff
		case "failure-threshold":
			cfg.FailureThreshold = *threshold
		case "once":
			cfg.Once = *once
		case "archive":
			cfg.ArchiveFile = *archiveFile
		case "format":
			cfg.ArchiveFormat = strings.ToLower(*archiveFormat)
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	slog.Info("starting lead scraper",
		slog.String("login_url", cfg.LoginURL),
		slog.String("data_url", cfg.DataURL),
		slog.String("email", cfg.Email),
		slog.String("driver", cfg.Driver),
		slog.String("db_driver", cfg.DBDriver),
		slog.String("table", cfg.Table),
		slog.Bool("once", cfg.Once),
		slog.Duration("interval", cfg.Interval),
		slog.Int("failure_threshold", cfg.FailureThreshold),
	)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	ctx, stop := shutdownContext(context.Background(), sigs, logger)
	defer stop()

	leads, err := store.Open(ctx, store.Dialect(cfg.DBDriver), cfg.DatabaseURL, store.Options{
		Table:        cfg.Table,
		KeyCacheSize: cfg.KeyCacheSize,
		MaxConns:     cfg.DBMaxConns,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("opening store", slog.Any("error", err))
		return 1
	}

	m := metrics.New()
	metricsServer := startMetricsServer(cfg.MetricsAddr, m)

	cycleOpts := []pipeline.Option{pipeline.WithMetrics(m), pipeline.WithLogger(logger)}
	resources := []loop.Option{loop.WithResources(leads)}
	if cfg.ArchiveFile != "" {
		archive, err := pipeline.NewArchive(cfg.ArchiveFile, cfg.ArchiveFormat)
		if err != nil {
			slog.Error("creating archive", slog.Any("error", err))
			leads.Close()
			return 1
		}
		cycleOpts = append(cycleOpts, pipeline.WithArchive(archive))
		resources = append(resources, loop.WithResources(archive))
	}

	newSession := func() (loop.Session, error) {
		s, err := scraper.Open(cfg, scraper.WithMetrics(m), scraper.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	d := loop.New(cfg, newSession, pipeline.NewCycle(leads, cycleOpts...),
		append(resources, loop.WithMetrics(m), loop.WithLogger(logger))...,
	)

	startTime := time.Now()
	runErr := d.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if runErr != nil {
		slog.Error("scraper stopped",
			slog.String("error_type", scraper.ErrorLabel(runErr)),
			slog.Any("error", runErr),
		)
		return 1
	}

	if cfg.Once {
		printSummary(d.LastResult(), time.Since(startTime))
	}
	return 0
}

var errShutdownSignal = errors.New("shutdown signal")

// shutdownContext is cancelled when a signal arrives on sigs. Only a real
// signal is logged; calling the returned stop function cancels silently.
func shutdownContext(parent context.Context, sigs <-chan os.Signal, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case sig := <-sigs:
			if ctx.Err() != nil {
				return
			}
			logger.Info("shutdown signal received, letting the current cycle finish",
				slog.String("signal", sig.String()),
			)
			cancel(errShutdownSignal)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func printSummary(result *models.CycleResult, duration time.Duration) {
	if result == nil {
		return
	}
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Rows seen:     %d\n", result.Seen)
	fmt.Printf("  Inserted:      %d\n", result.Inserted)
	fmt.Printf("  Duplicates:    %d\n", result.Duplicates)
	fmt.Printf("  Errored:       %d\n", result.Errored)
	fmt.Printf("  Skipped:       %d\n", result.Skipped)
	if result.Reauthenticated > 0 {
		fmt.Printf("  Re-logins:     %d\n", result.Reauthenticated)
	}
	if result.Stored >= 0 {
		fmt.Printf("  Stored total:  %d\n", result.Stored)
	}
	fmt.Printf("  Cycle time:    %v\n", result.Duration())
	fmt.Printf("  Total time:    %v\n", duration)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
