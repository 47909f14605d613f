package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"hookline/internal/api"
	"hookline/internal/api/handlers"
	"hookline/internal/api/middleware"
	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/logger"
	"hookline/internal/platform/audit"
	"hookline/internal/platform/auth"
	"hookline/internal/platform/config"
	"hookline/internal/platform/database"
	"hookline/internal/platform/metrics"
	"hookline/internal/platform/queue"
	"hookline/internal/platform/repositories"
	"hookline/internal/platform/secrets"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging, "server")
	metrics.Register()

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if _, err := database.Migrate(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	sealer, err := secrets.NewSealer(cfg.Secrets.MasterKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise secret sealer")
	}

	// Repositories
	subscriberRepo := repositories.NewSubscriberRepository(db, sealer)
	deliveryRepo := repositories.NewDeliveryRepository(db)
	auditLogger := audit.NewLogger(db)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	dispatcher := webhooks.NewDispatcherFromConfig(cfg.Webhooks, subscriberRepo, deliveryRepo)

	// Optional async queue
	var eventQueue handlers.EventQueue
	var redisPing handlers.Pinger
	if cfg.Redis.URL != "" {
		q, err := queue.NewRedisQueue(cfg.Redis.URL, cfg.Worker.QueueKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure Redis")
		}
		defer q.Close()
		eventQueue = q
		redisPing = handlers.PingFunc(q.Ping)
	} else {
		log.Warn().Msg("Redis not configured, async event ingestion disabled")
	}

	eventHandler := handlers.NewEventHandler(dispatcher, eventQueue)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer rateLimiter.Stop()

	router := api.NewRouter(&api.Dependencies{
		SubscriberHandler: handlers.NewSubscriberHandler(subscriberRepo, auditLogger),
		EventHandler:      eventHandler,
		DeliveryHandler:   handlers.NewDeliveryHandler(deliveryRepo),
		AuditHandler:      handlers.NewAuditHandler(auditLogger),
		HealthHandler:     handlers.NewHealthHandler(db, redisPing),
		MetricsHandler:    handlers.NewMetricsHandler(),
		AuthMiddleware:    middleware.NewAuthMiddleware(tokenSvc),
		TenantMiddleware:  middleware.NewTenantMiddleware(),
		RateLimiter:       rateLimiter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Stop inline dispatches between attempts first so their handlers can
	// answer before the listener drains.
	if err := eventHandler.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Event dispatches still running at shutdown")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
