// Command processor runs the processor service: it consumes
// order.created events, runs them through the idempotent processing
// protocol, and publishes the terminal order.processed outcome.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baechuer/asyncorder/internal/broker"
	"github.com/baechuer/asyncorder/internal/config"
	"github.com/baechuer/asyncorder/internal/logging"
	"github.com/baechuer/asyncorder/internal/service/processing"
)

func main() {
	cfg, err := config.LoadProcessor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logging.Init("processor")
	log := logging.Logger

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer pool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	brokerClient := broker.NewClient(cfg.Broker, "processor")
	if err := brokerClient.Connect(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("broker connect failed")
	}
	defer brokerClient.Close()

	processingSvc := processing.NewService(pool, brokerClient, cfg.ProcessingSuccessRate, cfg.ProcessingMinDelay, cfg.ProcessingMaxDelay)

	// Recover any order_processing rows left stuck in PROCESSING by a
	// crash between the claim and the terminal-state write, before the
	// consumer starts claiming new deliveries.
	{
		sweepCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		defer cancel()
		n, err := processingSvc.SweepStuck(sweepCtx, int(cfg.ProcessingGracePeriod.Seconds()))
		if err != nil {
			log.Error().Err(err).Msg("startup recovery sweep failed")
		} else if n > 0 {
			log.Warn().Int64("rows", n).Msg("recovered stuck PROCESSING rows on startup")
		}
	}

	createdConsumer := broker.NewConsumer(
		brokerClient,
		"processor_order_created",
		cfg.Broker.OrderCreatedExchange,
		cfg.Broker.OrderCreatedRoutingKey,
		cfg.Broker.MaxRetryAttempts,
		cfg.Broker.RetryDelayBaseSeconds,
		processingSvc.HandleMessage,
	)
	if err := createdConsumer.Declare(); err != nil {
		log.Fatal().Err(err).Msg("failed to declare order.created consumer topology")
	}
	if err := createdConsumer.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start order.created consumer")
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.MetricsPort).Msg("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("metrics server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("processor service stopped")
}
