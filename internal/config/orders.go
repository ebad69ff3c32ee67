package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

// OrdersConfig is the orders service's full runtime configuration.
type OrdersConfig struct {
	Port     int
	DBDSN    string
	LogLevel string
	LogFmt   string

	Broker Broker
	Outbox Outbox

	ShutdownTimeout time.Duration
}

// LoadOrders loads OrdersConfig from the environment, .env first if present.
func LoadOrders() (OrdersConfig, error) {
	_ = godotenv.Load()

	dbDSN, err := requireEnv("ORDERS_DB_DSN")
	if err != nil {
		return OrdersConfig{}, err
	}

	broker, err := loadBroker()
	if err != nil {
		return OrdersConfig{}, fmt.Errorf("load broker config: %w", err)
	}

	return OrdersConfig{
		Port:     getInt("HTTP_PORT", 8080),
		DBDSN:    dbDSN,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFmt:   getEnv("LOG_FORMAT", "console"),

		Broker: broker,
		Outbox: loadOutbox(),

		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 8*time.Second),
	}, nil
}
