package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

// ProcessorConfig is the processor service's full runtime configuration.
type ProcessorConfig struct {
	MetricsPort int
	DBDSN       string
	LogLevel    string
	LogFmt      string

	Broker Broker
	Outbox Outbox

	ProcessingSuccessRate float64
	ProcessingMinDelay    time.Duration
	ProcessingMaxDelay    time.Duration
	ProcessingGracePeriod time.Duration

	ShutdownTimeout time.Duration
}

// LoadProcessor loads ProcessorConfig from the environment, .env first if present.
func LoadProcessor() (ProcessorConfig, error) {
	_ = godotenv.Load()

	dbDSN, err := requireEnv("PROCESSOR_DB_DSN")
	if err != nil {
		return ProcessorConfig{}, err
	}

	broker, err := loadBroker()
	if err != nil {
		return ProcessorConfig{}, fmt.Errorf("load broker config: %w", err)
	}

	rate := getFloat("PROCESSING_SUCCESS_RATE", 0.85)
	if rate < 0 || rate > 1 {
		return ProcessorConfig{}, fmt.Errorf("PROCESSING_SUCCESS_RATE must be in [0,1], got %v", rate)
	}

	return ProcessorConfig{
		MetricsPort: getInt("METRICS_PORT", 9090),
		DBDSN:       dbDSN,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFmt:      getEnv("LOG_FORMAT", "console"),

		Broker: broker,
		Outbox: loadOutbox(),

		ProcessingSuccessRate: rate,
		ProcessingMinDelay:    getDuration("PROCESSING_MIN_DELAY", 500*time.Millisecond),
		ProcessingMaxDelay:    getDuration("PROCESSING_MAX_DELAY", 2*time.Second),
		ProcessingGracePeriod: getDuration("PROCESSING_GRACE_PERIOD", 5*time.Minute),

		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 8*time.Second),
	}, nil
}
