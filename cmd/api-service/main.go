package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/r03el/photograbber/internal/api/handler"
	"github.com/r03el/photograbber/internal/api/router"
	"github.com/r03el/photograbber/internal/config"
	"github.com/r03el/photograbber/internal/gallery"
	"github.com/r03el/photograbber/internal/ingest"
	"github.com/r03el/photograbber/internal/queue/migrations"
	"github.com/r03el/photograbber/internal/queue/storage"
	"github.com/r03el/photograbber/internal/uploader"
	"github.com/r03el/photograbber/shared/database"
	"github.com/r03el/photograbber/shared/logger"
	"github.com/r03el/photograbber/shared/rabbitmq"
)

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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbConfig := cfg.DatabaseClientConfig()
	dbClient, err := database.NewClient(dbConfig, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	var rabbitClient *rabbitmq.Client
	defer func() {
		var result *multierror.Error
		if rabbitClient != nil {
			result = multierror.Append(result, rabbitClient.Close())
		}
		result = multierror.Append(result, dbClient.Close())
		if err := result.ErrorOrNil(); err != nil && runErr == nil {
			runErr = err
		}
	}()

	if err := migrations.RunUp(dbConfig.DriverName(), dbConfig.DSN(), appLogger.Logger); err != nil {
		return fmt.Errorf("failed to migrate queue store: %w", err)
	}

	repo := storage.NewRepository(dbClient.GetDB(), appLogger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := &handler.Dependencies{
		Logger:     appLogger.Logger,
		Queue:      repo,
		Groups:     ingest.NewGroupFilter(cfg.Telegram.EnableFilter, cfg.Telegram.GroupsToMonitor),
		Database:   dbClient,
		MaxRetries: cfg.Worker.Retries(),
	}

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = rabbitmq.NewClient(cfg.RabbitMQClientConfig(), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		deps.Submitter = ingest.NewPublisher(rabbitClient, appLogger.Logger)
		appLogger.Info("Submissions are published to RabbitMQ",
			slog.String("exchange", cfg.RabbitMQ.Exchange.Name),
		)
	}

	if cfg.Gallery.Enabled {
		projection, err := initGallery(ctx, cfg, repo, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize gallery: %w", err)
		}
		go projection.Start()
		defer projection.Stop()
		go projection.Follow(ctx, cfg.Gallery.SyncInterval)
		deps.Gallery = projection
	}

	r := initRouter(cfg.App.Environment, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.String("error", err.Error()))
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
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

// initGallery builds the gallery view from the bucket and upload history
func initGallery(ctx context.Context, cfg *config.Config, repo *storage.Repository, logger *slog.Logger) (*gallery.Projection, error) {
	store, err := uploader.NewObjectStore(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, err
	}

	projection := gallery.New(&gallery.Config{
		Logger:        logger,
		Store:         store,
		History:       repo,
		PublicBaseURL: cfg.Gallery.PublicBaseURL,
		PresignTTL:    cfg.Gallery.PresignTTL,
	})

	if err := projection.Rebuild(ctx); err != nil {
		logger.Warn("Gallery rebuild failed, serving history only",
			slog.String("error", err.Error()),
		)
	}
	if _, err := projection.Sync(ctx); err != nil {
		logger.Warn("Initial gallery sync failed", slog.String("error", err.Error()))
	}

	return projection, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
