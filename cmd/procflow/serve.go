package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soochol/procflow/internal/api"
	"github.com/soochol/procflow/internal/config"
	"github.com/soochol/procflow/internal/db"
	"github.com/soochol/procflow/internal/events"
	"github.com/soochol/procflow/internal/persist"
	"github.com/soochol/procflow/internal/processors"
	"github.com/soochol/procflow/internal/repository"
	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/services"
	cli "github.com/urfave/cli/v3"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Load sequences and start the HTTP control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Value:   "config.yaml",
				Sources: cli.EnvVars("PROCFLOW_CONFIG"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.LoadFrom(command.String("config"))
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	seqRepo, runRepo, closeDB, err := newRepositories(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB()

	bus := events.NewBus()
	restorer := &persist.Restorer{
		Registry: processors.DefaultRegistry(),
		Logger:   logger,
		Options: []sequence.Option{
			sequence.WithLogger(logger),
			sequence.WithEventBus(bus),
			sequence.WithWorkers(cfg.Executor.Workers),
			sequence.WithLoopInterval(cfg.Executor.LoopInterval),
		},
	}
	limiter := services.NewConcurrencyLimiter(services.ConcurrencyLimits{GlobalMax: cfg.Executor.MaxConcurrent})
	sequenceSvc := services.NewSequenceService(
		seqRepo,
		restorer,
		services.NewRunHistoryService(runRepo),
		bus,
		services.WithLimiter(limiter),
		services.WithLoopRecording(cfg.Executor.RecordLoopRuns),
	)
	defer sequenceSvc.Close()

	if n, err := sequenceSvc.LoadStored(ctx); err != nil {
		slog.Warn("failed to load stored sequences", "err", err)
	} else {
		slog.Info("loaded stored sequences", "count", n)
	}
	for _, path := range cfg.Sequences {
		if _, err := sequenceSvc.LoadFile(ctx, path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}

	schedulerSvc := services.NewSchedulerService(sequenceSvc)
	for _, sc := range cfg.Schedules {
		if _, err := schedulerSvc.AddSchedule(sc.Sequence, sc.Cron, sc.Inputs); err != nil {
			return err
		}
	}
	schedulerSvc.Start()
	defer schedulerSvc.Stop()

	srv := api.NewServer(sequenceSvc)
	srv.SetSchedulerService(schedulerSvc)
	srv.SetConcurrencyLimiter(limiter)
	srv.SetAllowedOrigins(cfg.CORS.AllowedOrigins)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting procflow server", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// newRepositories stores everything in memory unless a database URL is
// configured, in which case memory fronts PostgreSQL.
func newRepositories(ctx context.Context, dc config.DatabaseConfig) (repository.SequenceRepository, repository.RunRepository, func(), error) {
	memSeq := repository.NewMemorySequenceRepository()
	memRun := repository.NewMemoryRunRepository()
	if dc.URL == "" {
		slog.Info("no database configured, using in-memory storage")
		return memSeq, memRun, func() {}, nil
	}

	database, err := db.New(ctx, dc.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	slog.Info("connected to database")
	closeDB := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", "err", err)
		}
	}
	return repository.NewPersistentSequenceRepository(memSeq, database),
		repository.NewPersistentRunRepository(memRun, database),
		closeDB, nil
}
