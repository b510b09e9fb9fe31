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

	"qalam/internal/cache"
	"qalam/internal/config"
	"qalam/internal/counters"
	"qalam/internal/database"
	"qalam/internal/engine"
	"qalam/internal/handlers"
	"qalam/internal/media"
	"qalam/internal/messaging"
	"qalam/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := utils.NewLogger(os.Stdout, cfg.Debug)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	collab := handlers.Collaborators{
		Cache:   cache.Noop{},
		Events:  messaging.Noop{},
		Metrics: utils.NewMetricsCollector(),
		Logger:  logger,
	}

	if cfg.Cache.RedisAddr != "" {
		redis, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		defer redis.Close()
		collab.Cache = redis
		logger.Info("document cache enabled", "addr", cfg.Cache.RedisAddr)
	}

	if cfg.Messaging.NATSURL != "" {
		nc, err := messaging.NewNATS(cfg.Messaging.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		collab.Events = nc
		logger.Info("event publishing enabled", "url", cfg.Messaging.NATSURL)
	}

	switch cfg.Media.Driver {
	case "s3":
		s3, err := media.NewS3Store(ctx, cfg.Media)
		if err != nil {
			return err
		}
		collab.Media = s3
	default:
		logger.Warn("using in-memory media store; uploads are lost on restart")
		collab.Media = media.NewMemoryStore()
	}

	reconciler := counters.NewReconciler(stores, collab.Cache, logger)
	eng := engine.NewEngine(reconciler, collab.Metrics, logger, time.Minute)
	defer eng.Shutdown()
	eng.StartTicker(ctx, cfg.Reconcile.Interval)
	collab.Reconciler = eng

	server := handlers.NewServer(cfg, stores, collab)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", httpServer.Addr, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openStores connects the configured backend and returns its cleanup.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.Stores, func(), error) {
	if cfg.Database.Type == "memory" {
		logger.Warn("using in-memory database; data is lost on restart")
		return database.NewMemoryStores(), func() {}, nil
	}

	db, err := database.NewMongoDB(cfg.Database, logger)
	if err != nil {
		return database.Stores{}, nil, err
	}
	closeDB := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Close(ctx); err != nil {
			logger.Warn("failed to disconnect from MongoDB", "error", err)
		}
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		closeDB()
		return database.Stores{}, nil, err
	}
	return db.Stores(), closeDB, nil
}
