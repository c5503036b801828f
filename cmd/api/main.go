package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/loupehq/loupe/internal/app/migrate"
	"github.com/loupehq/loupe/internal/config"
	"github.com/loupehq/loupe/internal/geoip"
	"github.com/loupehq/loupe/internal/httpapi"
	"github.com/loupehq/loupe/internal/logger"
	"github.com/loupehq/loupe/internal/repository"
	"github.com/loupehq/loupe/internal/repository/clickhouse"
	"github.com/loupehq/loupe/internal/repository/postgres"
	"github.com/loupehq/loupe/internal/service/auth"
	"github.com/loupehq/loupe/internal/service/ingest"
	"github.com/loupehq/loupe/internal/service/realtime"
	"github.com/loupehq/loupe/internal/service/site"
	"github.com/loupehq/loupe/internal/service/stats"
	"github.com/loupehq/loupe/internal/service/team"
	"github.com/loupehq/loupe/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg := config.Load()
	log := logger.New("api", slog.LevelInfo)

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

	var events repository.EventRepository = repo
	if strings.EqualFold(cfg.EventsBackend, "clickhouse") {
		chRepo, err := clickhouse.New(ctx, cfg)
		if err != nil {
			log.Error("failed to connect to clickhouse", "error", err)
			os.Exit(1)
		}
		defer chRepo.Close()
		events = chRepo
		log.Info("event storage backed by clickhouse", "addr", cfg.ClickHouseAddr)
	}

	hub := ws.NewHub()
	geo := geoip.NewClient(cfg.GeoLookupBaseURL, cfg.GeoLookupTimeout, log)

	authSvc := auth.New(repo, log, cfg)
	siteSvc := site.New(repo, log)
	statsSvc := stats.New(repo, events, log, cfg)
	teamSvc := team.New(repo, repo, repo, log, cfg.InvitationTTL)

	realtimeSvc := realtime.New(statsSvc, hub, cfg.RealtimeRefresh, log)
	go realtimeSvc.Run(ctx)

	ingestSvc := ingest.New(repo, events, geo, realtimeSvc, log)

	limiter := httpapi.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpapi.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpapi.NewRouter(log, authSvc, siteSvc, ingestSvc, statsSvc, teamSvc, realtimeSvc, limiter, cfg.PublicBaseURL, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
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
