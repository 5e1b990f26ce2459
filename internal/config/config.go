package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Notifier backends accepted by NOTIFIER_BACKEND.
const (
	NotifierLocal = "local"
	NotifierRedis = "redis"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // APP_ENV (dev, test, prod)
	Port string // APP_PORT

	StoreDriver string // STORE_DRIVER: mysql or memory
	DBUser      string
	DBPass      string // may be empty
	DBHost      string
	DBPort      string
	DBName      string

	JWTSecret string

	LockTTL          time.Duration // LOCK_TTL, default 5m
	SweepInterval    time.Duration // SWEEP_INTERVAL, default 30s
	SweepBatch       int           // SWEEP_BATCH, default 500
	SubscriberBuffer int           // SUBSCRIBER_BUFFER, default 64
	NotifierBackend  string        // NOTIFIER_BACKEND: local or redis

	RabbitMQURL            string // empty disables booking confirmations
	BookingConsumerEnabled bool
	BookingLogPath         string

	KafkaBrokers   string // empty disables the seat audit stream
	KafkaSeatTopic string

	PaymentWebhookSecret string

	// SEED_* lay out a demo seat grid for one show at start-up when the
	// show has no seats yet.
	SeedShowID     int
	SeedRows       int
	SeedCols       int
	SeedPriceCents int

	LogLevel  string
	LogFormat string // text or json
}

// Load reads an optional .env file and then the environment.  Required
// variables are enforced; a missing or invalid value is returned as an
// error so main can log it and exit.
func Load() (Config, error) {
	_ = godotenv.Load() // .env is optional; real environment wins

	cfg := Config{
		Env:                    envStr("APP_ENV", "dev"),
		Port:                   envStr("APP_PORT", "8080"),
		StoreDriver:            envStr("STORE_DRIVER", StoreMySQL),
		DBUser:                 os.Getenv("DB_USER"),
		DBPass:                 os.Getenv("DB_PASS"),
		DBHost:                 envStr("DB_HOST", "127.0.0.1"),
		DBPort:                 envStr("DB_PORT", "3306"),
		DBName:                 os.Getenv("DB_NAME"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		LockTTL:                envDur("LOCK_TTL", 5*time.Minute),
		SweepInterval:          envDur("SWEEP_INTERVAL", 30*time.Second),
		SweepBatch:             envInt("SWEEP_BATCH", 500),
		SubscriberBuffer:       envInt("SUBSCRIBER_BUFFER", 64),
		NotifierBackend:        envStr("NOTIFIER_BACKEND", NotifierLocal),
		RabbitMQURL:            envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		BookingConsumerEnabled: envBool("BOOKING_CONSUMER_ENABLED", false),
		BookingLogPath:         envStr("BOOKING_LOG_PATH", "logs/booking.log"),
		KafkaBrokers:           os.Getenv("KAFKA_BROKERS"),
		KafkaSeatTopic:         envStr("KAFKA_SEAT_TOPIC", "seat-transitions"),
		PaymentWebhookSecret:   os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		SeedShowID:             envInt("SEED_SHOW_ID", 0),
		SeedRows:               envInt("SEED_ROWS", 10),
		SeedCols:               envInt("SEED_COLS", 12),
		SeedPriceCents:         envInt("SEED_PRICE_CENTS", 1200),
		LogLevel:               envStr("LOG_LEVEL", "info"),
		LogFormat:              envStr("LOG_FORMAT", "text"),
	}
	return cfg, cfg.Validate()
}

// Validate checks required values and ranges.
func (c Config) Validate() error {
	for key, v := range map[string]string{
		"JWT_SECRET":             c.JWTSecret,
		"PAYMENT_WEBHOOK_SECRET": c.PaymentWebhookSecret,
	} {
		if v == "" {
			return fmt.Errorf("missing required env var: %s", key)
		}
	}
	switch c.StoreDriver {
	case StoreMySQL:
		if c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("STORE_DRIVER=mysql requires DB_USER and DB_NAME")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %q", c.StoreDriver)
	}
	switch c.NotifierBackend {
	case NotifierLocal, NotifierRedis:
	default:
		return fmt.Errorf("invalid NOTIFIER_BACKEND: %q", c.NotifierBackend)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SeedShowID < 0 {
		return fmt.Errorf("SEED_SHOW_ID must not be negative, got %d", c.SeedShowID)
	}
	if c.SeedPriceCents < 0 {
		return fmt.Errorf("SEED_PRICE_CENTS must not be negative, got %d", c.SeedPriceCents)
	}
	if c.SeedShowID > 0 && (c.SeedRows <= 0 || c.SeedCols <= 0) {
		return fmt.Errorf("SEED_ROWS and SEED_COLS must be positive, got %dx%d", c.SeedRows, c.SeedCols)
	}
	return nil
}
