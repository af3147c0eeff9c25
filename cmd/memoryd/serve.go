package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	chromem "github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/eventlog"
	"github.com/fyrsmithlabs/memoryd/internal/formation"
	"github.com/fyrsmithlabs/memoryd/internal/httpapi"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/semantic"
	"github.com/fyrsmithlabs/memoryd/internal/services"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/workingmem"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memoryd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting memoryd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.HTTPPort),
		zap.Bool("postgres", cfg.Postgres.DSN != ""),
		zap.Bool("nats", cfg.NATS.URL != ""),
		zap.Bool("semantic", cfg.Semantic.Enabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	api, scheduler, sweeper, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}

	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting session sweeper: %w", err)
	}
	defer sweeper.Stop()

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("starting consolidation scheduler: %w", err)
	}
	defer scheduler.Stop()

	srv, err := httpapi.NewServer(api, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.HTTPPort,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// dependencies holds the infrastructure the engines are built on.
type dependencies struct {
	facts       store.FactualStore
	experiences store.ExperientialStore
	events      eventlog.Log
	index       *semantic.Index
	natsConn    *nats.Conn
	logger      *zap.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initDependencies builds the stores, event log, and optional semantic index.
// A missing Postgres DSN or NATS URL is not fatal: stores degrade to the
// in-memory stub and extraction falls back to an in-process event log.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	var primaryFacts store.FactualStore
	var primaryExperiences store.ExperientialStore
	if cfg.Postgres.DSN != "" {
		pool, err := store.NewPostgresPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx, pool); err != nil {
			return nil, fmt.Errorf("ensuring schema: %w", err)
		}
		primaryFacts = store.NewPostgresFactualStore(pool, logger)
		primaryExperiences = store.NewPostgresExperientialStore(pool, logger)
		logger.Info("postgres backing store ready")
	} else {
		logger.Warn("no postgres DSN configured, running in degraded local mode")
	}
	deps.facts = store.NewFallbackFactualStore(primaryFacts, logger)
	deps.experiences = store.NewFallbackExperientialStore(primaryExperiences, logger)

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.natsConn = nc

		natsLog, err := eventlog.NewNATSLog(nc, logger, eventlog.WithSubjectPrefix(cfg.NATS.SubjectPrefix))
		if err != nil {
			return nil, fmt.Errorf("creating NATS event log: %w", err)
		}
		deps.events = natsLog
		logger.Info("NATS event log ready", zap.String("url", cfg.NATS.URL))
	} else {
		deps.events = eventlog.NewMemLog()
		logger.Warn("no NATS URL configured, using in-process event log")
	}

	if cfg.Semantic.Enabled {
		index, err := semantic.NewIndex(chromem.NewEmbeddingFuncDefault(), logger)
		if err != nil {
			return nil, fmt.Errorf("creating semantic index: %w", err)
		}
		deps.index = index
		logger.Info("semantic recall enabled")
	}

	return deps, nil
}

// initServices wires the engines and background jobs over the dependencies.
func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services.API, *consolidation.Scheduler, *workingmem.Sweeper, error) {
	wmRegistry := workingmem.NewRegistry(
		workingmem.WithTTL(cfg.WorkingMemory.TTL),
		workingmem.WithLogger(logger),
	)
	sweeper, err := workingmem.NewSweeper(wmRegistry, cfg.WorkingMemory.SweepInterval, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	formationEngine, err := formation.NewEngine(deps.events, deps.facts, deps.experiences, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	retrievalOpts := []retrieval.EngineOption{}
	if deps.index != nil {
		retrievalOpts = append(retrievalOpts, retrieval.WithSemanticIndex(deps.index))
	}
	retrievalEngine, err := retrieval.NewEngine(deps.facts, deps.experiences, logger, retrievalOpts...)
	if err != nil {
		return nil, nil, nil, err
	}

	consolidationEngine, err := consolidation.NewEngine(deps.facts, deps.experiences, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	scheduler, err := consolidation.NewScheduler(consolidationEngine, logger,
		consolidation.WithInterval(cfg.Consolidation.Interval))
	if err != nil {
		return nil, nil, nil, err
	}

	registry := services.NewRegistry(services.Options{
		Facts:         deps.facts,
		Experiences:   deps.experiences,
		WorkingMemory: wmRegistry,
		Formation:     formationEngine,
		Retrieval:     retrievalEngine,
		Consolidation: consolidationEngine,
		SemanticIndex: deps.index,
	})

	api, err := services.NewAPI(registry, logger, services.WithUserTracker(scheduler))
	if err != nil {
		return nil, nil, nil, err
	}
	return api, scheduler, sweeper, nil
}
