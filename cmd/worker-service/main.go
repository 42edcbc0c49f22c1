package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/r03el/photograbber/internal/config"
	"github.com/r03el/photograbber/internal/ingest"
	"github.com/r03el/photograbber/internal/queue/migrations"
	"github.com/r03el/photograbber/internal/queue/storage"
	"github.com/r03el/photograbber/internal/retry"
	"github.com/r03el/photograbber/internal/uploader"
	"github.com/r03el/photograbber/internal/worker"
	"github.com/r03el/photograbber/shared/database"
	"github.com/r03el/photograbber/shared/logger"
	"github.com/r03el/photograbber/shared/rabbitmq"
	"golang.org/x/sync/errgroup"
)

const writerLockName = "photograbber-queue"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() (runErr error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	slog.SetDefault(appLogger.Logger)

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbConfig := cfg.DatabaseClientConfig()
	dbClient, err := database.NewClient(dbConfig, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Release resources in reverse order of acquisition
	var closers []func() error
	defer func() {
		var result *multierror.Error
		for i := len(closers) - 1; i >= 0; i-- {
			result = multierror.Append(result, closers[i]())
		}
		result = multierror.Append(result, dbClient.Close())
		if err := result.ErrorOrNil(); err != nil {
			appLogger.Error("Cleanup failed", slog.String("error", err.Error()))
			if runErr == nil {
				runErr = err
			}
		}
	}()

	if err := migrations.RunUp(dbConfig.DriverName(), dbConfig.DSN(), appLogger.Logger); err != nil {
		return fmt.Errorf("failed to migrate queue store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerLock, err := dbClient.AcquireWriterLock(ctx, writerLockName)
	if err != nil {
		return fmt.Errorf("failed to acquire writer lock: %w", err)
	}
	closers = append(closers, func() error { return writerLock.Release(context.Background()) })

	repo := storage.NewRepository(dbClient.GetDB(), appLogger.Logger)

	recovered, err := repo.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted items: %w", err)
	}
	if recovered > 0 {
		appLogger.Warn("Recovered items interrupted by a previous run",
			slog.Int64("count", recovered),
		)
	}

	objectStore, err := uploader.NewObjectStore(ctx, cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to prepare bucket: %w", err)
	}

	upload := uploader.New(&uploader.Config{
		Logger:   appLogger.Logger,
		Source:   uploader.NewTelegramSource(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.Timeout),
		Store:    objectStore,
		Location: cfg.KeyLocation(),
	})

	policy := retry.Policy{
		BaseDelay:  cfg.Worker.RetryBaseDelay,
		MaxRetries: cfg.Worker.Retries(),
	}

	pool := worker.NewPool(&worker.Config{
		Logger:       appLogger.Logger,
		Store:        repo,
		Executor:     upload,
		Enabled:      cfg.Worker.IsEnabled(),
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		Policy:       policy,
	})

	var requeuer *worker.Requeuer
	if cfg.Worker.RequeueInterval > 0 {
		requeuer = worker.NewRequeuer(&worker.RequeuerConfig{
			Logger:     appLogger.Logger,
			Store:      repo,
			Interval:   cfg.Worker.RequeueInterval,
			MaxRetries: cfg.Worker.Retries(),
		})
	}

	var consumer *ingest.Consumer
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQClientConfig(), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		closers = append(closers, rabbitClient.Close)

		consumer = ingest.NewConsumer(&ingest.ConsumerConfig{
			Logger:          appLogger.Logger,
			Source:          rabbitClient,
			Queue:           repo,
			Groups:          ingest.NewGroupFilter(cfg.Telegram.EnableFilter, cfg.Telegram.GroupsToMonitor),
			PrefetchCount:   cfg.RabbitMQ.Consumer.PrefetchCount,
			RedeliveryDelay: cfg.RabbitMQ.Consumer.RedeliveryDelay,
		})
		appLogger.Info("RabbitMQ ingest enabled",
			slog.String("queue", cfg.RabbitMQ.Queue.Name),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	if requeuer != nil {
		g.Go(func() error { return requeuer.Run(gctx) })
	}
	if consumer != nil {
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil {
				return err
			}
			if gctx.Err() == nil {
				return errors.New("submission consumer stopped unexpectedly")
			}
			return nil
		})
	}

	errChan := make(chan error, 1)
	go func() { errChan <- g.Wait() }()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", pool.WorkerID()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

wait:
	for {
		select {
		case sig := <-quit:
			appLogger.Info("Received signal, shutting down gracefully",
				slog.String("signal", sig.String()),
			)
			break wait
		case err := <-errChan:
			if err != nil {
				appLogger.Error("Worker error", slog.String("error", err.Error()))
				runErr = err
				break wait
			}
			// Every component finished cleanly, e.g. a disabled pool; idle until signaled.
			errChan = nil
		}
	}

	cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		if requeuer != nil {
			requeuer.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		File:         cfg.File,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}
