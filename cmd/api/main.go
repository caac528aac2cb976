package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"montage/internal/config"
	"montage/internal/database"
	"montage/internal/httpapi"
	"montage/internal/pkg/logger"
	"montage/internal/pkg/shutdown"
	"montage/internal/storage"
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
		ServiceName: "montage-api",
	})

	log.Info("starting montage API", "addr", cfg.Server.Addr)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.Server.ShutdownTimeout.Std())

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	log.Info("PostgreSQL connected")

	if err := database.Migrate(ctx, pool, log); err != nil {
		log.LogFatal("failed to run migrations", err)
	}

	log.Info("connecting to Redis")
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
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

	router := httpapi.NewRouter(httpapi.Deps{
		Pool: pool,
		RDB:  rdb,
		SP:   sp,
		Cfg:  cfg,
		Log:  log,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
