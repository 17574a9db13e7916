package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"db2es/internal/api"
	"db2es/internal/checkpoint"
	"db2es/internal/config"
	"db2es/internal/database"
	"db2es/internal/deadletter"
	"db2es/internal/index"
	"db2es/internal/logging"
	"db2es/internal/metrics"
	"db2es/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	checkpoints, err := checkpoint.Open(cfg.Checkpoint.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Checkpoint.Path).Msg("open checkpoint store")
		return err
	}
	defer checkpoints.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	deadLetters, err := initDeadLetters(cfg, redisClient, &logger)
	if err != nil {
		return err
	}

	p := pipeline.New(cfg, db, checkpoints, deadLetters, index.NewClient(cfg.Index), &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)
	go checkpoint.NewBackupService(checkpoints, cfg.Checkpoint.Backup, &logger).Start(ctx)

	var httpServer *api.HTTPServer
	if cfg.Web.Enabled {
		httpServer = api.NewHTTPServer(cfg.Web, p, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Int("tasks", len(cfg.Tasks)).
		Str("index_url", cfg.Index.URL).
		Str("driver", cfg.Source.Driver).
		Msg("db2es started")

	err = p.Run(ctx)
	logger.Info().Msg("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("db2es stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, *baseLogger, closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Source, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Source.Driver).Msg("init database")
		return nil, err
	}
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := deadletter.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without dead-letter mirror")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initDeadLetters(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) (*deadletter.Store, error) {
	var mirror deadletter.Mirror
	if redisClient != nil {
		mirror = deadletter.NewRedisMirror(redisClient, cfg.DeadLetter.RedisKey)
	}

	store, err := deadletter.NewStore(cfg.DeadLetter.Dir, mirror, logger)
	if err != nil {
		logger.Error().Err(err).Str("dir", cfg.DeadLetter.Dir).Msg("init dead-letter store")
		return nil, err
	}
	return store, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
