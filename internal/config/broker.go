package config

import (
	"fmt"
	"time"
)

// Broker holds the RabbitMQ topology shared by both services: exchange
// names, retry/DLQ parameters. Field names mirror the RABBIT_*, DLX_NAME,
// DLQ_NAME, MAX_RETRY_ATTEMPTS, RETRY_DELAY_BASE_SECONDS env vars.
type Broker struct {
	URL string

	OrderCreatedExchange   string
	OrderCreatedRoutingKey string

	OrderProcessedExchange   string
	OrderProcessedRoutingKey string

	DLXName string
	DLQName string

	MaxRetryAttempts      int
	RetryDelayBaseSeconds int
}

// Outbox holds the outbox publisher's polling parameters.
type Outbox struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
}

func loadBroker() (Broker, error) {
	host, err := requireEnv("RABBIT_HOST")
	if err != nil {
		return Broker{}, err
	}
	user, err := requireEnv("RABBIT_USER")
	if err != nil {
		return Broker{}, err
	}
	pass, err := requireEnv("RABBIT_PASS")
	if err != nil {
		return Broker{}, err
	}
	vhost := getEnv("RABBIT_VHOST", "/")
	port := getInt("RABBIT_PORT", 5672)

	return Broker{
		URL: fmt.Sprintf("amqp://%s:%s@%s:%d/%s", user, pass, host, port, vhost),

		OrderCreatedExchange:   getEnv("ORDER_CREATED_EXCHANGE", "order.created"),
		OrderCreatedRoutingKey: getEnv("ORDER_CREATED_ROUTING_KEY", "order.created"),

		OrderProcessedExchange:   getEnv("ORDER_PROCESSED_EXCHANGE", "order.processed"),
		OrderProcessedRoutingKey: getEnv("ORDER_PROCESSED_ROUTING_KEY", "order.processed"),

		DLXName: getEnv("DLX_NAME", "dlx"),
		DLQName: getEnv("DLQ_NAME", "dlq"),

		MaxRetryAttempts:      getInt("MAX_RETRY_ATTEMPTS", 5),
		RetryDelayBaseSeconds: getInt("RETRY_DELAY_BASE_SECONDS", 2),
	}, nil
}

func loadOutbox() Outbox {
	return Outbox{
		BatchSize:    getInt("OUTBOX_BATCH_SIZE", 20),
		PollInterval: time.Duration(getFloat("OUTBOX_POLL_INTERVAL", 5.0) * float64(time.Second)),
		MaxRetries:   getInt("OUTBOX_MAX_RETRIES", 10),
	}
}
