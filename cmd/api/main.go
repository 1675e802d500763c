package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KTo1/ai-friend-sub000/internal/api"
	"github.com/KTo1/ai-friend-sub000/internal/auth"
	"github.com/KTo1/ai-friend-sub000/internal/config"
	"github.com/KTo1/ai-friend-sub000/internal/database"
	"github.com/KTo1/ai-friend-sub000/internal/dispatch"
	"github.com/KTo1/ai-friend-sub000/internal/middleware"
	inats "github.com/KTo1/ai-friend-sub000/internal/nats"
	"github.com/KTo1/ai-friend-sub000/internal/orchestrator"
	"github.com/KTo1/ai-friend-sub000/internal/quota"
	iredis "github.com/KTo1/ai-friend-sub000/internal/redis"
	"github.com/KTo1/ai-friend-sub000/internal/server"
	"github.com/KTo1/ai-friend-sub000/internal/stats"
	"github.com/KTo1/ai-friend-sub000/internal/tariff"
	ixmpp "github.com/KTo1/ai-friend-sub000/internal/xmpp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migrations
	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS
	natsClient, err := inats.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connecting to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	publisher := inats.NewPublisher(natsClient.JetStream())
	consumerMgr := inats.NewConsumerManager(natsClient.JetStream())

	// Quota admission
	statsRepo := stats.NewRepository(pool)
	statsSvc := stats.NewService(statsRepo)
	counterStore := quota.NewPostgresStore(pool)
	tracker := quota.NewTracker(counterStore, statsSvc)

	// Tariffs
	tariffRepo := tariff.NewRepository(pool)
	tariffSvc := tariff.NewService(tariffRepo, defaultLimits(cfg.Limits))
	tariffHandler := tariff.NewHandler(tariffSvc)

	quotaHandler := quota.NewHandler(tracker, tariffSvc)

	// Outbound dispatch
	bucket := dispatch.NewTokenBucket(cfg.Dispatch.BucketCapacity, cfg.Dispatch.RefillPerSecond)
	guard := dispatch.NewBurstGuard(
		cfg.Dispatch.BurstLimit,
		cfg.Dispatch.BurstHorizon,
		cfg.Dispatch.SweepInterval,
		cfg.Dispatch.SweepIdleHorizon,
	)
	go guard.Run(ctx)

	// XMPP component
	xmppHandler := ixmpp.NewHandler(publisher)
	component, err := ixmpp.NewComponent(cfg.XMPP, xmppHandler)
	if err != nil {
		slog.Error("creating XMPP component", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := component.Start(ctx); err != nil {
			slog.Error("XMPP component stopped", "error", err)
			stop()
		}
	}()
	defer component.Stop()

	sender := ixmpp.NewSender(component.Sender(), cfg.XMPP.ComponentName)
	dispatcher := dispatch.NewDispatcher(
		sender,
		bucket,
		guard,
		cfg.Dispatch.MaxRetries,
		cfg.Dispatch.RetryBaseDelay,
		cfg.Dispatch.BurstRetryDelay,
	)

	// Pipeline workers
	orch := orchestrator.NewOrchestrator(publisher, consumerMgr, tariffSvc, tracker)
	go func() {
		if err := orch.Start(ctx); err != nil {
			slog.Error("orchestrator stopped", "error", err)
			stop()
		}
	}()

	relay := ixmpp.NewOutboundRelay(dispatcher, publisher, consumerMgr)
	go func() {
		if err := relay.Start(ctx); err != nil {
			slog.Error("outbound relay stopped", "error", err)
			stop()
		}
	}()

	// Admin API
	authMgr := auth.NewManager(cfg.Auth.AdminSecret, cfg.Auth.TokenExpiry)
	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.API.RateLimitMaxReqs, cfg.API.RateLimitWindowSec)

	router := api.NewRouter(pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.API.CORSAllowedOrigins,
		RateLimiter:        rateLimiter.Middleware,
	}, api.HandlerSet{
		GetQuotaStatus: quotaHandler.GetStatus,
		ResetQuota:     quotaHandler.Reset,

		ListTariffs:       tariffHandler.ListPlans,
		GetTariff:         tariffHandler.GetPlan,
		UpdateTariffLimit: tariffHandler.UpdateLimit,
		AssignUserTariff:  tariffHandler.AssignPlan,

		AuthMiddleware:   auth.Middleware(authMgr),
		ComponentHealthy: component.Healthy,
	})

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func defaultLimits(cfg config.LimitsConfig) quota.LimitConfig {
	return quota.LimitConfig{
		MessagesPerMinute:  cfg.MessagesPerMinute,
		MessagesPerHour:    cfg.MessagesPerHour,
		MessagesPerDay:     cfg.MessagesPerDay,
		MaxMessageLength:   cfg.MaxMessageLength,
		MaxContextMessages: cfg.MaxContextMessages,
		MaxContextLength:   cfg.MaxContextLength,
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
