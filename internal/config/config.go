package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envProduction = "production"

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port        string `mapstructure:"port"`
		Env         string `mapstructure:"env"`
		LogLevel    string `mapstructure:"logLevel"`
		FrontendURL string `mapstructure:"frontendUrl"`
	} `mapstructure:"app"`
	Database struct {
		DSN            string `mapstructure:"dsn"`
		MigrateOnStart bool   `mapstructure:"migrateOnStart"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		CacheTTL time.Duration `mapstructure:"cacheTtl"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		GroupID string   `mapstructure:"groupId"`
	} `mapstructure:"kafka"`
	Stripe struct {
		SecretKey             string `mapstructure:"secretKey"`
		PriceID               string `mapstructure:"priceId"`
		WebhookSecret         string `mapstructure:"webhookSecret"`
		AllowUnsignedWebhooks bool   `mapstructure:"allowUnsignedWebhooks"`
		WebhookEndpointURL    string `mapstructure:"webhookEndpointUrl"`
	} `mapstructure:"stripe"`
	Clerk struct {
		SecretKey string `mapstructure:"secretKey"`
	} `mapstructure:"clerk"`
	GRPC struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Auth struct {
		Required     bool   `mapstructure:"required"`
		JWTSecret    string `mapstructure:"jwtSecret"`
		JWTPublicKey string `mapstructure:"jwtPublicKey"`
	} `mapstructure:"auth"`
	Entitlement struct {
		FallbackPeriod time.Duration `mapstructure:"fallbackPeriod"`
		PollInterval   time.Duration `mapstructure:"pollInterval"`
	} `mapstructure:"entitlement"`
}

// envBindings связывает ключи конфигурации с переменными окружения.
var envBindings = map[string]string{
	"app.port":                     "PORT",
	"app.env":                      "APP_ENV",
	"app.logLevel":                 "LOG_LEVEL",
	"app.frontendUrl":              "FRONTEND_URL",
	"database.dsn":                 "DATABASE_DSN",
	"database.migrateOnStart":      "DATABASE_MIGRATE_ON_START",
	"redis.addr":                   "REDIS_ADDR",
	"redis.password":               "REDIS_PASSWORD",
	"redis.db":                     "REDIS_DB",
	"redis.cacheTtl":               "REDIS_CACHE_TTL",
	"kafka.brokers":                "KAFKA_BROKERS",
	"kafka.topic":                  "KAFKA_TOPIC",
	"kafka.groupId":                "KAFKA_GROUP_ID",
	"stripe.secretKey":             "STRIPE_SECRET_KEY",
	"stripe.priceId":               "STRIPE_PRICE_ID",
	"stripe.webhookSecret":         "STRIPE_WEBHOOK_SECRET",
	"stripe.allowUnsignedWebhooks": "STRIPE_ALLOW_UNSIGNED_WEBHOOKS",
	"stripe.webhookEndpointUrl":    "STRIPE_WEBHOOK_ENDPOINT_URL",
	"clerk.secretKey":              "CLERK_SECRET_KEY",
	"grpc.port":                    "GRPC_PORT",
	"auth.required":                "AUTH_REQUIRED",
	"auth.jwtSecret":               "AUTH_JWT_SECRET",
	"auth.jwtPublicKey":            "AUTH_JWT_PUBLIC_KEY",
	"entitlement.fallbackPeriod":   "ENTITLEMENT_FALLBACK_PERIOD",
	"entitlement.pollInterval":     "ENTITLEMENT_POLL_INTERVAL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "3001")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.frontendUrl", "http://localhost:5173")
	v.SetDefault("database.migrateOnStart", true)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cacheTtl", 5*time.Minute)
	v.SetDefault("kafka.topic", "entitlement.changed")
	v.SetDefault("kafka.groupId", "runsheet-events-tail")
	v.SetDefault("grpc.port", "50051")
	v.SetDefault("entitlement.fallbackPeriod", 30*24*time.Hour)
	v.SetDefault("entitlement.pollInterval", 10*time.Second)
}

// LoadConfig загружает .env (кроме production), затем config.yml (если есть) и переменные окружения.
// Переменные окружения имеют приоритет над файлом.
func LoadConfig(envPath string) (*Config, error) {
	if os.Getenv("APP_ENV") != envProduction && envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)

	return &cfg, nil
}

// IsProduction true для APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.App.Env == envProduction
}

// RequireWebhookSignature true, если неподписанные вебхуки запрещены.
func (c *Config) RequireWebhookSignature() bool {
	return c.IsProduction() || !c.Stripe.AllowUnsignedWebhooks
}

// Validate проверяет правила, без которых сервис не должен стартовать.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.IsProduction() {
		if c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required in production"))
		}
		if c.Stripe.AllowUnsignedWebhooks {
			errs = append(errs, errors.New("STRIPE_ALLOW_UNSIGNED_WEBHOOKS must not be set in production"))
		}
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" && c.Auth.JWTPublicKey == "" {
		errs = append(errs, errors.New("AUTH_REQUIRED needs AUTH_JWT_SECRET or AUTH_JWT_PUBLIC_KEY"))
	}
	if c.Entitlement.FallbackPeriod <= 0 {
		errs = append(errs, errors.New("ENTITLEMENT_FALLBACK_PERIOD must be positive"))
	}
	if c.Entitlement.PollInterval <= 0 {
		errs = append(errs, errors.New("ENTITLEMENT_POLL_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
