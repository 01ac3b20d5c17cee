package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	Logger LoggerConfig
	HTTP   HTTPConfig

	Provider ProviderConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

type LoggerConfig struct {
	Level string
}

// HTTPConfig bounds the webhook handler. BodyReadTimeout must stay below
// HandlerTimeout, and HandlerTimeout below the provider's own delivery timeout.
type HTTPConfig struct {
	Addr            string
	BodyReadTimeout time.Duration
	HandlerTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// ProviderConfig carries the payment provider credentials. Both secrets are
// required before any webhook is processed.
type ProviderConfig struct {
	SecretKey     string
	WebhookSecret string
	APIBaseURL    string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "billingd"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
		HTTP: HTTPConfig{
			Addr:            getenv("HTTP_ADDR", ":8080"),
			BodyReadTimeout: getenvDuration("HTTP_BODY_READ_TIMEOUT", 5*time.Second),
			HandlerTimeout:  getenvDuration("HTTP_HANDLER_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getenvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodyBytes:    getenvInt64("HTTP_MAX_BODY_BYTES", 1<<20),
		},
		Provider: ProviderConfig{
			SecretKey:     strings.TrimSpace(getenv("PAYMENT_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SECRET", "")),
			APIBaseURL:    strings.TrimSpace(getenv("PAYMENT_API_BASE_URL", "https://api.stripe.com")),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billing"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
	}

	return cfg
}

var (
	ErrMissingProviderSecret = errors.New("missing PAYMENT_SECRET_KEY")
	ErrMissingWebhookSecret  = errors.New("missing PAYMENT_WEBHOOK_SECRET")
	ErrMissingStoreTarget    = errors.New("missing DATABASE_HOST")
	ErrMissingStoreUser      = errors.New("missing DATABASE_USER")
)

// ValidateWebhook reports the first missing credential required to accept
// webhook traffic. Absence is fatal for the request, never a silent default.
func (c Config) ValidateWebhook() error {
	if c.Provider.SecretKey == "" {
		return ErrMissingProviderSecret
	}
	if c.Provider.WebhookSecret == "" {
		return ErrMissingWebhookSecret
	}
	if strings.TrimSpace(c.DBHost) == "" {
		return ErrMissingStoreTarget
	}
	if strings.TrimSpace(c.DBUser) == "" {
		return ErrMissingStoreUser
	}
	return nil
}

// Validate extends ValidateWebhook with sanity checks on the timeout ordering.
func (c Config) Validate() error {
	if err := c.ValidateWebhook(); err != nil {
		return err
	}
	if c.HTTP.BodyReadTimeout <= 0 || c.HTTP.HandlerTimeout <= 0 {
		return errors.New("http timeouts must be positive")
	}
	if c.HTTP.BodyReadTimeout >= c.HTTP.HandlerTimeout {
		return fmt.Errorf("body read timeout %s must be shorter than handler timeout %s",
			c.HTTP.BodyReadTimeout, c.HTTP.HandlerTimeout)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPlanHolder),
)
