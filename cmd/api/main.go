package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/configmat/configmat/internal/app/migrate"
	"github.com/configmat/configmat/internal/cache"
	"github.com/configmat/configmat/internal/events"
	httpx "github.com/configmat/configmat/internal/http"
	"github.com/configmat/configmat/internal/repository/postgres"
	"github.com/configmat/configmat/internal/service/assets"
	"github.com/configmat/configmat/internal/service/audit"
	"github.com/configmat/configmat/internal/service/promotion"
	"github.com/configmat/configmat/internal/service/resolve"
	"github.com/configmat/configmat/internal/service/values"
	"github.com/configmat/configmat/pkg/config"
	"github.com/configmat/configmat/pkg/crypto"
	"github.com/configmat/configmat/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	// Shared deployments point the cache at redis; otherwise each node
	// keeps its own in-process TTL cache.
	var store cache.Store
	if addr := strings.TrimSpace(cfg.CacheRedisAddr); addr != "" {
		store, err = cache.NewRedis(addr, cfg.CacheRedisPass, cfg.CacheRedisDB)
		if err != nil {
			log.Warn("redis cache unavailable, using in-process cache", "error", err)
			store = cache.NewMemory()
		}
	} else {
		store = cache.NewMemory()
	}
	defer store.Close()

	cipher := crypto.NewCipher(cfg.EncryptionKey)
	hub := events.NewHub()

	auditSvc := audit.New(repo, log)
	assetSvc := assets.New(repo, auditSvc, hub, log)
	valueSvc := values.New(repo, repo, store, cipher, auditSvc, hub, log)
	resolveSvc := resolve.New(repo, repo, store, cipher, log, cfg.CacheTTL)
	promoSvc := promotion.New(repo, repo, repo, store, auditSvc, hub, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, assetSvc, valueSvc, resolveSvc, promoSvc, auditSvc, hub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
