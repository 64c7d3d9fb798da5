package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     string
	RunLocal bool

	Tables  TableConfig
	Queues  QueueConfig
	Gateway GatewayConfig
	Auth    AuthConfig
	Redis   RedisConfig

	FrontendURL string
	BackendURL  string

	CatalogCacheTTL       time.Duration
	MetricsNamespace      string
	NotificationRetention time.Duration
	JanitorInterval       time.Duration
}

type TableConfig struct {
	Payments      string
	Transactions  string
	Orders        string
	Notifications string
	Services      string
}

type QueueConfig struct {
	NotificationsURL string
}

type GatewayConfig struct {
	Environment   string // sandbox | production
	AppID         string
	Secret        string
	WebhookSecret string
	APIVersion    string
	Timeout       time.Duration
}

type AuthConfig struct {
	AccessTokenSecret string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from the environment. A .env file in the working directory
// is loaded first when present; variables already set take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	gwSecret := getEnv("CASHFREE_SECRET", "")
	cfg := &Config{
		Env:      getEnv("ENVIRONMENT", "development"),
		Port:     getEnv("PORT", "8080"),
		RunLocal: getEnvBool("RUN_LOCAL", false),
		Tables: TableConfig{
			Payments:      getEnv("PAYMENTS_TABLE", "payments"),
			Transactions:  getEnv("TRANSACTIONS_TABLE", "transactions"),
			Orders:        getEnv("ORDERS_TABLE", "orders"),
			Notifications: getEnv("NOTIFICATIONS_TABLE", "notifications"),
			Services:      getEnv("SERVICES_TABLE", "services"),
		},
		Queues: QueueConfig{
			NotificationsURL: getEnv("NOTIFICATIONS_QUEUE_URL", ""),
		},
		Gateway: GatewayConfig{
			Environment:   getEnv("CASHFREE_ENV", "sandbox"),
			AppID:         getEnv("CASHFREE_APP_ID", ""),
			Secret:        gwSecret,
			WebhookSecret: getEnv("CASHFREE_WEBHOOK_SECRET", gwSecret),
			APIVersion:    getEnv("CASHFREE_API_VERSION", "2023-08-01"),
			Timeout:       getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		Auth: AuthConfig{
			AccessTokenSecret: getEnv("ACCESS_TOKEN_SECRET", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		FrontendURL:           strings.TrimRight(getEnv("FRONTEND_URL", ""), "/"),
		BackendURL:            strings.TrimRight(getEnv("BACKEND_URL", ""), "/"),
		CatalogCacheTTL:       getEnvDuration("CATALOG_CACHE_TTL", 5*time.Minute),
		MetricsNamespace:      getEnv("METRICS_NAMESPACE", "DocMarket/Payments"),
		NotificationRetention: getEnvDuration("NOTIFICATION_RETENTION", 7*24*time.Hour),
		JanitorInterval:       getEnvDuration("JANITOR_INTERVAL", 24*time.Hour),
	}

	return cfg, nil
}

// Validate reports every missing setting the API needs to serve payments.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.AppID == "" {
		errs = append(errs, errors.New("CASHFREE_APP_ID is not set"))
	}
	if c.Gateway.Secret == "" {
		errs = append(errs, errors.New("CASHFREE_SECRET is not set"))
	}
	if c.Auth.AccessTokenSecret == "" {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET is not set"))
	}
	if c.BackendURL == "" {
		errs = append(errs, errors.New("BACKEND_URL is not set"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", c.Gateway.Timeout))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs against production systems.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
