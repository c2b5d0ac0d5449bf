package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parsecraft/devgate/internal/heart"
	"github.com/parsecraft/devgate/internal/plugins"
	"github.com/parsecraft/devgate/internal/server"
	"github.com/parsecraft/devgate/pkg/config"
	"github.com/parsecraft/devgate/pkg/logging"
)

var (
	configFile = flag.String("config", "configs/devgate.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting devgate",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	store, err := newHeartStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize heartbeat store", zap.Error(err))
	}

	// Plugin discovery completes before the pipeline accepts traffic.
	registry := plugins.Discover(cfg.Plugins, logger)

	srv := server.New(cfg, store, registry, version, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server exited")
}

func newHeartStore(cfg *config.Config) (heart.Store, error) {
	if cfg.Heartbeat.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Heartbeat.Redis.Address,
			Password: cfg.Heartbeat.Redis.Password,
			DB:       cfg.Heartbeat.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return heart.NewRedisStore(client, cfg.Heartbeat.Redis.Key), nil
	}
	return heart.NewFileStore(cfg.Heartbeat.File), nil
}
