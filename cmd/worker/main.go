package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"montage/internal/config"
	"montage/internal/pkg/logger"
	"montage/internal/storage"
	"montage/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		AddSource:   cfg.Logging.AddSource,
		ServiceName: "montage-worker",
	})

	log.Info("starting montage worker",
		"concurrency", cfg.Render.Concurrency,
		"queue", cfg.Render.QueueName,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	log.Info("PostgreSQL connected")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected")

	sp, err := storage.NewProvider(cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	// Run blocks until the consumers drain after a signal. Connections
	// close only after that, so terminal status writes always land.
	runErr := worker.Run(ctx, worker.Deps{
		Pool:    pool,
		RDB:     rdb,
		SP:      sp,
		Render:  cfg.Render,
		Cleanup: cfg.Cleanup,
		Log:     log,
	})

	pool.Close()
	if err := rdb.Close(); err != nil {
		log.Warn("closing Redis client", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.LogFatal("worker exited with error", runErr)
	}
	log.Info("worker stopped")
}
