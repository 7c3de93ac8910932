// Package main is the entrypoint for the querio server.
// The server exposes the advisor over HTTP: it accepts SQL, returns advice,
// and optionally enriches it with the configured engine's plan.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/adapters/sources"
	"github.com/canonica-labs/querio/internal/advisor"
	"github.com/canonica-labs/querio/internal/auth"
	"github.com/canonica-labs/querio/internal/config"
	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
	"github.com/canonica-labs/querio/internal/server"
	"github.com/canonica-labs/querio/internal/status"
	"github.com/canonica-labs/querio/internal/storage"
	"github.com/canonica-labs/querio/pkg/api"
	"github.com/canonica-labs/querio/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "querio-server: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "config file (default: ./querio.yaml)")
		addr       = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
		showVer    = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("querio-server %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return errors.NewInvalidConfig("config", err.Error())
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	registry := sources.NewRegistry()
	if err := cfg.Validate(registry); err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return errors.NewInvalidConfig("logging", err.Error())
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	readiness := status.NewReadiness(0)

	// Audit store. Migrations run automatically on startup.
	var audit observability.AdviceLogger
	if cfg.Audit.Enabled {
		store, err := storage.Open(ctx, cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		audit, err = observability.NewPersistentLoggerWithMirror(store.DB, store.Dialect, logger)
		if err != nil {
			return err
		}
		readiness.Add("audit_store", true, store.Ping)
		logger.Info("audit store ready", zap.String("driver", cfg.Audit.Driver))
	} else {
		audit = observability.NewZapAuditLogger(logger)
		readiness.AddStatic("audit_store", "disabled")
	}

	// Plan source. It is optional: advice is served without it.
	source, err := cfg.OpenPlanSource(registry)
	if err != nil {
		return err
	}
	switch {
	case source == nil:
		readiness.AddStatic("plan_source", "not configured")
	case !cfg.PlanEnrichmentEnabled():
		readiness.AddStatic("plan_source", "plan enrichment disabled")
	default:
		readiness.Add("plan_source", false, source.Ping)
		report := adapters.Retry(ctx, adapters.DefaultBackoff(), func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return source.Ping(pingCtx)
		})
		if report.OK() {
			logger.Info("plan source ready", zap.String("source", source.Name()), zap.Int("attempts", report.Attempts))
		} else {
			logger.Warn("plan source unreachable, advice will report EXPLAIN skipped",
				zap.String("source", source.Name()),
				zap.String("error", errors.Summarize(report.Err)),
			)
		}
	}

	var authenticator auth.Authenticator
	if cfg.Server.Token != "" {
		tokens := auth.NewTokenSet()
		tokens.Add(cfg.Server.Token, auth.Principal{Name: "default"})
		authenticator = tokens
	} else {
		logger.Warn("server.token is empty, advice endpoints are unauthenticated")
	}

	srv := server.New(server.Config{
		Advisor: advisor.New(
			advisor.WithLogger(logger),
			advisor.WithAuditLogger(audit),
			advisor.WithPlanTimeout(cfg.Advisor.PlanTimeout),
		),
		Source:        source,
		Enrich:        cfg.PlanEnrichmentEnabled(),
		Audit:         audit,
		Readiness:     readiness,
		Authenticator: authenticator,
		Logger:        logger,
		Version: models.VersionResponse{
			Version:    version,
			APIVersion: api.Version,
			Commit:     commit,
			BuildDate:  date,
		},
	})

	logger.Info("querio server starting",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("env", cfg.Env),
		zap.Bool("plan_enrichment", cfg.PlanEnrichmentEnabled()),
	)

	err = srv.Serve(ctx, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout)
	logger.Info("querio server stopped")
	return err
}
