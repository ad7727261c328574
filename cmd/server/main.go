package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/jafarshop/ordertrack/internal/api"
	"github.com/jafarshop/ordertrack/internal/clock"
	"github.com/jafarshop/ordertrack/internal/config"
	"github.com/jafarshop/ordertrack/internal/repository/postgres"
	"github.com/jafarshop/ordertrack/internal/scheduler"
	"github.com/jafarshop/ordertrack/internal/service"
	"github.com/jafarshop/ordertrack/internal/tracking"
	"github.com/jafarshop/ordertrack/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrations.Apply(startupCtx, pool, logger); err != nil {
		return err
	}

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := postgres.NewRepositories(db, logger)
	clk := clock.NewSystem()

	queue, closeQueue, err := newQueue(cfg, pool, clk, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	client := tracking.NewClient(cfg.Tracking, logger)
	coord := service.NewCoordinator(repos, client, queue, clk, cfg.Scheduler.Group, logger)

	registry := scheduler.NewRegistry()
	coord.Register(registry)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(cfg, repos, coord, logger),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Scheduler worker started",
			zap.String("backend", cfg.Scheduler.Backend),
			zap.String("group", cfg.Scheduler.Group),
		)
		return queue.Run(gctx, registry)
	})

	g.Go(func() error {
		logger.Info("Server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newQueue(cfg *config.Config, pool *pgxpool.Pool, clk clock.Clock, logger *zap.Logger) (scheduler.Queue, func(), error) {
	switch cfg.Scheduler.Backend {
	case config.SchedulerBackendRabbitMQ:
		q, err := scheduler.NewRabbitQueue(cfg.Scheduler, logger)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	case config.SchedulerBackendMemory:
		logger.Warn("Using in-memory scheduler; queued tasks are lost on restart")
		return scheduler.NewMemoryQueue(clk, cfg.Scheduler.PollInterval, logger), func() {}, nil
	default:
		return scheduler.NewPostgresQueue(pool, cfg.Scheduler, logger), func() {}, nil
	}
}
