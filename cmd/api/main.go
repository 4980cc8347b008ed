package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"contractflow/approval"
	"contractflow/auth"
	"contractflow/contract"
	"contractflow/db"
	"contractflow/notification"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	// Redis is optional; without it stats are computed on every request.
	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, stats cache disabled", "error", err)
			rdb = nil
		}
	}

	sla := approval.SLAPolicy{Default: hoursEnv("APPROVAL_SLA_HOURS", 72)}
	horizon := hoursEnv("DUE_SOON_HOURS", 0)

	notifRepo := notification.NewRepository(pool)
	dispatcher := notification.NewDispatcher(notification.NewStoreEmitter(notifRepo), logger)

	scanner := approval.NewScanner(pool)
	statsCache := approval.NewStatsCache(scanner, rdb, time.Minute)

	approvalSvc := approval.NewService(pool, approval.NewRepository(pool), dispatcher).
		WithSLA(sla).
		WithCache(statsCache)

	server := &Server{
		authService:         auth.NewService(auth.NewRepository(pool), jwtSecret),
		contractService:     contract.NewService(pool),
		approvalService:     approvalSvc,
		scannerService:      scanner,
		statsService:        statsCache,
		notificationService: notifRepo,
		dueSoonHorizon:      horizon,
	}

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("api listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}

func hoursEnv(name string, fallback int) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return time.Duration(fallback) * time.Hour
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return time.Duration(fallback) * time.Hour
	}
	return time.Duration(n) * time.Hour
}
