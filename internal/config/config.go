package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	MongoURI    string
	RedisAddr   string
	RabbitURL   string

	HoldTTL           time.Duration
	SweepInterval     time.Duration
	TaskClaimInterval time.Duration
	TaskBatchSize     int

	PlatformFeeRate   decimal.Decimal
	ProcessingFeeRate decimal.Decimal

	GatewayBaseURL  string
	GatewayAPIKey   string
	ArtifactBaseURL string

	OTLPEndpoint string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	holdTTL := durationEnv("HOLD_TTL", 10*time.Minute)
	sweepInterval := durationEnv("SWEEP_INTERVAL", time.Minute)
	claimInterval := durationEnv("TASK_CLAIM_INTERVAL", 5*time.Second)

	platformRate, err := decimalEnv("PLATFORM_FEE_RATE", "0.05")
	if err != nil {
		return nil, err
	}
	processingRate, err := decimalEnv("PROCESSING_FEE_RATE", "0.02")
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPAddr:          stringEnv("HTTP_ADDR", ":8080"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		MongoURI:          os.Getenv("MONGO_URI"),
		RedisAddr:         stringEnv("REDIS_ADDR", "localhost:6379"),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		HoldTTL:           holdTTL,
		SweepInterval:     sweepInterval,
		TaskClaimInterval: claimInterval,
		TaskBatchSize:     10,
		PlatformFeeRate:   platformRate,
		ProcessingFeeRate: processingRate,
		GatewayBaseURL:    os.Getenv("GATEWAY_BASE_URL"),
		GatewayAPIKey:     os.Getenv("GATEWAY_API_KEY"),
		ArtifactBaseURL:   os.Getenv("ARTIFACT_BASE_URL"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d == 0 {
		return def
	}
	return d
}

func decimalEnv(key, def string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	return decimal.NewFromString(v)
}
