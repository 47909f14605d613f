package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/logger"
	"hookline/internal/platform/config"
	"hookline/internal/platform/database"
	"hookline/internal/platform/metrics"
	"hookline/internal/platform/queue"
	"hookline/internal/platform/repositories"
	"hookline/internal/platform/secrets"
	"hookline/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	metricsAddr := flag.String("metrics-addr", ":9091", "Address for the worker /metrics endpoint, empty to disable")
	recoverInFlight := flag.Bool("recover", true, "Requeue events a previous worker left in processing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging, "worker")
	metrics.Register()

	if cfg.Redis.URL == "" {
		log.Fatal().Msg("redis.url is required for the worker")
	}

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

	q, err := queue.NewRedisQueue(cfg.Redis.URL, cfg.Worker.QueueKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure Redis")
	}
	defer q.Close()

	// With several worker replicas, only one of them should recover on start.
	if *recoverInFlight {
		recovered, err := q.Recover(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to recover in-flight events")
		}
		if recovered > 0 {
			log.Warn().Int("events", recovered).Msg("Recovered events left in processing")
		}
	}

	dispatcher := webhooks.NewDispatcherFromConfig(cfg.Webhooks,
		repositories.NewSubscriberRepository(db, sealer),
		repositories.NewDeliveryRepository(db))

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics listener stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", cfg.Worker.QueueKey).Msg("Starting hookline worker")
	if err := workers.NewEventConsumer(q, dispatcher, cfg.Worker).Run(ctx); err != nil {
		log.Error().Err(err).Msg("Worker exited with error")
	}
}
