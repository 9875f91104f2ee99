// Command grantcored runs the grant-core transactional service:
// applies embedded migrations, wires the event log, idempotency
// ledger, and projection stores to PostgreSQL, starts the background
// sweeps, and serves Prometheus metrics — mirroring the teacher's
// cmd/appserver/main.go flag/config/signal-handling shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wvsnp/grantcore/internal/artifact"
	"github.com/wvsnp/grantcore/internal/commands"
	"github.com/wvsnp/grantcore/internal/config"
	"github.com/wvsnp/grantcore/internal/eventlog"
	"github.com/wvsnp/grantcore/internal/idempotency"
	"github.com/wvsnp/grantcore/internal/logging"
	"github.com/wvsnp/grantcore/internal/platform/database"
	"github.com/wvsnp/grantcore/internal/platform/migrations"
	"github.com/wvsnp/grantcore/internal/projection"
	"github.com/wvsnp/grantcore/internal/query"
	"github.com/wvsnp/grantcore/internal/retry"
	"github.com/wvsnp/grantcore/internal/sweep"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides GRANTCORE_DSN)")
	envFile := flag.String("env-file", "", "path to a .env file (optional)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	runMigrations := flag.Bool("migrate", true, "apply embedded migrations on startup")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if trimmed := *dsn; trimmed != "" {
		cfg.DatabaseDSN = trimmed
	}
	if *runMigrations {
		cfg.RunMigrations = true
	}

	logger := logging.New("grantcored", cfg.LogLevel, cfg.LogFormat)

	rootCtx := context.Background()

	db, err := database.Open(rootCtx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer db.Close()
	database.ConfigurePool(db, 20, 10, 30*time.Minute)

	if cfg.RunMigrations {
		if err := migrations.Apply(rootCtx, db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	eventLog := eventlog.NewPostgresStore(db)
	ledger := idempotency.NewPostgresLedger(db)
	artifacts := artifact.NewPostgresStore(db)
	stores := projection.Stores{
		Grants:     projection.NewPostgresGrantStore(db),
		Allocators: projection.NewPostgresAllocatorStore(db),
		Clinics:    projection.NewPostgresClinicStore(db),
		Vouchers:   projection.NewPostgresVoucherStore(db),
		Claims:     projection.NewPostgresClaimStore(db),
		Invoices:   projection.NewPostgresInvoiceStore(db),
		Batches:    projection.NewPostgresOasisBatchStore(db),
		Closeouts:  projection.NewPostgresCloseoutStore(db),
		Filings:    projection.NewPostgresBreederFilingStore(db),
	}
	engine := projection.NewEngine(eventLog, stores)

	retryPolicy := retry.Default
	retryPolicy.Attempts = cfg.RetryAttempts
	retryPolicy.InitialBackoff = cfg.RetryInitialBackoff
	retryPolicy.MaxBackoff = cfg.RetryMaxBackoff

	deps := commands.Deps{
		DB:          db,
		Log:         eventLog,
		Idempotency: ledger,
		Engine:      engine,
		Stores:      stores,
		Artifacts:   artifacts,
		Retry:       retryPolicy,
		Logger:      logger,
	}

	// internal/query.Reader is wired up here for parity with deps but has
	// no transport in this binary (spec.md §1 excludes HTTP/CLI surfaces);
	// it is meant to be embedded by a caller that adds its own transport.
	_ = query.Reader{Log: eventLog, Stores: stores}

	runner := sweep.Runner{Deps: deps}
	scheduler, err := sweep.NewScheduler(
		runner,
		logger,
		cronSpecFor(cfg.TentativeVoucherSweepInterval),
		cronSpecFor(cfg.ComplianceSweepInterval),
	)
	if err != nil {
		log.Fatalf("build sweep scheduler: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	metricsServer := &http.Server{
		Addr:    *metricsAddr,
		Handler: promhttp.HandlerFor(commands.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	logger.WithField("metrics_addr", *metricsAddr).Info("grantcored started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("metrics server shutdown")
	}
	logger.Info("grantcored stopped")
}

// cronSpecFor turns a poll interval into an every-N-minutes cron
// expression; intervals under a minute run every minute, the shortest
// granularity robfig/cron supports.
func cronSpecFor(interval time.Duration) string {
	minutes := int(interval / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("*/%d * * * *", minutes)
}
