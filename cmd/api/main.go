package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"campusgate/internal/audit"
	"campusgate/internal/cache"
	"campusgate/internal/config"
	"campusgate/internal/httpapi"
	"campusgate/internal/iam"
	"campusgate/internal/obs"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	logger := obs.NewLogger()
	defer func() { _ = logger.Sync() }()

	// Store: PostgreSQL when a DSN is configured, otherwise the in-memory
	// store for local development.
	var (
		db    *sql.DB
		store iam.Store
	)
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			logger.Fatalw("open db", "error", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = iam.NewPGStore(db)
	} else {
		logger.Warnw("DATABASE_URL not set, using in-memory store")
		store = iam.NewMemoryStore()
	}

	var c cache.Cache = cache.Nop{}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalw("parse redis url", "error", err)
		}
		c = cache.NewRedis(redis.NewClient(redisOpts))
	}

	svc, err := iam.NewService(store, cfg.AuthSecret,
		iam.WithIssuer(cfg.Issuer),
		iam.WithAccessTTL(cfg.AccessTTL),
		iam.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		logger.Fatalw("init service", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		cancel()
		logger.Fatalw("seed builtins", "error", err)
	}
	if err := svc.Bootstrap(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
		cancel()
		logger.Fatalw("bootstrap admin", "error", err)
	}
	cancel()

	api := httpapi.New(httpapi.Options{
		Service:    svc,
		Audit:      audit.New(logger, store.Audit(context.Background())),
		Cache:      c,
		Log:        logger,
		Ready:      httpapi.ReadyProbe{DB: db},
		Version:    version,
		RateBurst:  cfg.RateBurst,
		RatePerSec: cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Infow("starting campusgate-api", "version", version, "addr", srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("listen", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Infow("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	logger.Infow("stopped")
}
