package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rivermuse/finetune-engine/internal/clickstream"
	"github.com/rivermuse/finetune-engine/internal/config"
	"github.com/rivermuse/finetune-engine/internal/db"
	"github.com/rivermuse/finetune-engine/internal/ftapi/handlers"
	"github.com/rivermuse/finetune-engine/internal/health"
)

// main wires the Task API and Clickstream API (spec §6): two independent
// listeners, each over its own Postgres pool (the clickstream store opens
// cfg.Database.DSN; db.NewClient opens the task store's pool from the
// DB_* environment variables), following cmd/gateway/main.go's
// plain net/http + pattern-routed ServeMux shape rather than a web
// framework, since Go 1.22 pattern routing already covers everything
// these endpoints need.
func main() {
	logLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = logLevel
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	applyLogLevel(logLevel, cfg.Logging.Level)

	if watcher, err := config.NewWatcher(config.ResolvePath(), logger); err == nil {
		watcher.OnChange(func(next *config.Config) {
			applyLogLevel(logLevel, next.Logging.Level)
		})
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watcher.Start(watchCtx); err != nil {
			logger.Warn("config watcher not started", zap.Error(err))
		}
	} else {
		logger.Warn("config watcher unavailable", zap.Error(err))
	}

	rawDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer rawDB.Close()
	rawDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	rawDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rawDB.PingContext(pingCtx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	var locker clickstream.Locker
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: addr})
		locker = clickstream.NewRedisLocker(redisClient, 2*time.Second)
	}
	clickstreamStore := clickstream.NewPostgresStore(rawDB, logger, locker)

	dbConfig := &db.Config{
		Host:     os.Getenv("DB_HOST"),
		Port:     5432,
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: os.Getenv("DB_NAME"),
		SSLMode:  "disable",
	}
	taskStore, err := db.NewClient(dbConfig, logger)
	if err != nil {
		logger.Fatal("failed to initialize task store", zap.Error(err))
	}
	defer taskStore.Close()

	taskHandlers := handlers.NewTaskHandlers(taskStore, logger)
	clickstreamHandlers := handlers.NewClickstreamHandlers(clickstreamStore, logger)

	healthManager := health.NewManager(logger)
	healthManager.RegisterChecker(health.NewDatabaseHealthChecker(rawDB, nil, logger))
	if cfg.Inference.Host != "" {
		baseURL := fmt.Sprintf("http://%s:%d", cfg.Inference.Host, cfg.Inference.Port)
		healthManager.RegisterChecker(health.NewModelHostHealthChecker(baseURL, logger))
	}
	if cfg.ArtifactStore.URL != "" {
		healthManager.RegisterChecker(health.NewArtifactStoreHealthChecker(cfg.ArtifactStore.URL, logger))
	}
	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()
	if err := healthManager.Start(healthCtx); err != nil {
		logger.Warn("failed to start health manager", zap.Error(err))
	}
	healthHandler := health.NewHTTPHandler(healthManager, logger)

	taskMux := http.NewServeMux()
	taskHandlers.Register(taskMux)
	healthHandler.RegisterRoutes(taskMux)

	clickstreamMux := http.NewServeMux()
	clickstreamHandlers.Register(clickstreamMux)
	healthHandler.RegisterRoutes(clickstreamMux)

	errCh := make(chan error, 2)

	go func() {
		logger.Info("task API listening", zap.String("addr", cfg.HTTP.TaskAPIAddr))
		errCh <- http.ListenAndServe(cfg.HTTP.TaskAPIAddr, taskMux)
	}()
	go func() {
		logger.Info("clickstream API listening", zap.String("addr", cfg.HTTP.ClickstreamAddr))
		errCh <- http.ListenAndServe(cfg.HTTP.ClickstreamAddr, clickstreamMux)
	}()

	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server stopped", zap.Error(err))
	}
}

func applyLogLevel(level zap.AtomicLevel, name string) {
	if name == "" {
		return
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err == nil {
		level.SetLevel(l)
	}
}
