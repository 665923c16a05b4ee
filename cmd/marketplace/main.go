package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/campus-market-api/internal/config"
	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/handler"
	"github.com/boddenberg/campus-market-api/internal/infra/cache"
	"github.com/boddenberg/campus-market-api/internal/infra/client"
	"github.com/boddenberg/campus-market-api/internal/infra/observability"
	"github.com/boddenberg/campus-market-api/internal/infra/realtime"
	"github.com/boddenberg/campus-market-api/internal/infra/resilience"
	"github.com/boddenberg/campus-market-api/internal/infra/supabase"
	"github.com/boddenberg/campus-market-api/internal/port"
	"github.com/boddenberg/campus-market-api/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "campus-market-api")
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("badge_cache_ttl", cfg.BadgeCacheTTL),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("realtime_enabled", cfg.RealtimeEnabled),
		zap.Bool("edge_functions_enabled", cfg.EdgeFunctionsEnabled),
		zap.String("reconcile_schedule", cfg.ReconcileSchedule),
	)

	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		logger.Fatal("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required")
	}

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "campus-market-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	supabaseClient := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		resilience.NewCircuitBreaker("supabase"),
		resilienceCfg,
		logger,
	)
	logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))

	// --- Caches ---
	var badgeCache port.Cache[domain.BadgeCounts]
	var adminCache port.Cache[bool]
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		defer rdb.Close()
		badgeCache = cache.NewRedis[domain.BadgeCounts](rdb, "campus-market:", cfg.BadgeCacheTTL, logger)
		adminCache = cache.NewRedis[bool](rdb, "campus-market:", cfg.CacheTTL, logger)
		logger.Info("using Redis caches")
	} else {
		mem := cache.New[domain.BadgeCounts](cfg.BadgeCacheTTL)
		defer mem.Close()
		adminMem := cache.New[bool](cfg.CacheTTL)
		defer adminMem.Close()
		badgeCache, adminCache = mem, adminMem
	}

	// --- Edge functions ---
	var edge port.EdgeFunctionInvoker
	if cfg.EdgeFunctionsEnabled {
		edge = client.NewEdgeFunctionClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("edge-functions"),
			resilienceCfg,
			logger,
		)
		logger.Info("messaging-notify edge function enabled")
	}

	// --- Services ---
	hub := service.NewBadgeHub(metrics)
	notificationSvc := service.NewNotificationService(supabaseClient, hub, badgeCache, metrics, logger)
	listingSvc := service.NewListingService(supabaseClient, notificationSvc, logger)
	notifyLimiter := resilience.NewKeyedLimiter(cfg.NotifyRate, cfg.NotifyBurst)
	messagingSvc := service.NewMessagingService(supabaseClient, supabaseClient, notificationSvc, edge, notifyLimiter, metrics, logger)
	adminSvc := service.NewAdminService(supabaseClient, listingSvc, notificationSvc, adminCache, metrics, cfg.MaxConcurrency, logger)
	authSvc := service.NewAuthService(cfg.SupabaseJWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Realtime ---
	if cfg.RealtimeEnabled {
		rt := realtime.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, logger)
		rt.Subscribe(realtime.Subscription{Table: "notifications"})
		rt.OnConnect(func(ctx context.Context) {
			n := notificationSvc.ReconcileActive(ctx)
			logger.Info("realtime connected, badges resynchronised", zap.Int("users", n))
		})
		go func() {
			if err := rt.Run(ctx, notificationSvc.HandleChange); err != nil {
				logger.Error("realtime client stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("realtime disabled, badge counts rely on the reconcile sweep")
	}

	// --- Background jobs ---
	scheduler := service.NewScheduler(logger)
	if err := service.RegisterNotificationJobs(scheduler, notificationSvc,
		cfg.ReconcileSchedule, cfg.RetentionSchedule, cfg.NotificationRetention); err != nil {
		logger.Fatal("failed to schedule jobs", zap.Error(err))
	}
	requestLimiter := handler.NewRequestLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if err := scheduler.Add("limiter_cleanup", "@every 10m", time.Second, func(context.Context) error {
		n := notifyLimiter.Cleanup(30 * time.Minute)
		m := requestLimiter.Cleanup(30 * time.Minute)
		logger.Debug("limiter cleanup", zap.Int("notify_removed", n), zap.Int("request_removed", m))
		return nil
	}); err != nil {
		logger.Fatal("failed to schedule jobs", zap.Error(err))
	}
	scheduler.Start()

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Auth:          authSvc,
		Admin:         adminSvc,
		Listings:      listingSvc,
		Messaging:     messagingSvc,
		Notifications: notificationSvc,
		Hub:           hub,
		Health:        supabaseClient,
	}, handler.Options{
		CORSOrigins:    cfg.CORSAllowedOrigins,
		Limiter:        requestLimiter,
	}, metrics, logger)

	// --- Server ---
	// WriteTimeout stays zero so the badge stream is not cut off.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}
