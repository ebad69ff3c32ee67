// Command orders runs the orders service: the HTTP surface for
// creating orders and reading their status, the outbox publisher that
// drains order.created events onto the broker, and the consumer that
// applies order.processed outcomes reported back by the processor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/asyncorder/internal/broker"
	"github.com/baechuer/asyncorder/internal/config"
	"github.com/baechuer/asyncorder/internal/logging"
	"github.com/baechuer/asyncorder/internal/outbox"
	"github.com/baechuer/asyncorder/internal/service/order"
	transporthttp "github.com/baechuer/asyncorder/internal/transport/http"
)

func main() {
	cfg, err := config.LoadOrders()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logging.Init("orders")
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

	brokerClient := broker.NewClient(cfg.Broker, "orders")
	if err := brokerClient.Connect(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("broker connect failed")
	}
	defer brokerClient.Close()

	orderSvc := order.NewService(pool, cfg.Broker)

	outboxPublisher := outbox.NewPublisher(pool, brokerClient, cfg.Outbox.BatchSize, cfg.Outbox.PollInterval, cfg.Outbox.MaxRetries)
	outboxPublisher.Start(rootCtx)
	defer outboxPublisher.Stop()

	processedConsumer := broker.NewConsumer(
		brokerClient,
		"orders_order_processed",
		cfg.Broker.OrderProcessedExchange,
		cfg.Broker.OrderProcessedRoutingKey,
		cfg.Broker.MaxRetryAttempts,
		cfg.Broker.RetryDelayBaseSeconds,
		orderSvc.HandleMessage,
	)
	if err := processedConsumer.Declare(); err != nil {
		log.Fatal().Err(err).Msg("failed to declare order.processed consumer topology")
	}
	if err := processedConsumer.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start order.processed consumer")
	}

	handler := transporthttp.NewHandler(orderSvc)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           transporthttp.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("orders service stopped")
}
