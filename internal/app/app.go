// Package app собирает компоненты сервиса из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/runsheet-api/internal/config"
	"github.com/Dhoini/runsheet-api/internal/db"
	"github.com/Dhoini/runsheet-api/internal/grpc"
	"github.com/Dhoini/runsheet-api/internal/http/handlers"
	"github.com/Dhoini/runsheet-api/internal/http/routes"
	"github.com/Dhoini/runsheet-api/internal/identity"
	"github.com/Dhoini/runsheet-api/internal/kafka"
	"github.com/Dhoini/runsheet-api/internal/metrics"
	"github.com/Dhoini/runsheet-api/internal/middleware"
	"github.com/Dhoini/runsheet-api/internal/repository"
	"github.com/Dhoini/runsheet-api/internal/repository/postgres"
	"github.com/Dhoini/runsheet-api/internal/service"
	"github.com/Dhoini/runsheet-api/internal/stripe"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	lockTTL               = 15 * time.Second
	systemMetricsInterval = 15 * time.Second
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config      *config.Config
	Router      *gin.Engine
	GRPC        *grpc.Server
	Writer      *service.EntitlementWriter
	Entitlement *service.EntitlementService
	Logger      *logger.Logger

	registry *prometheus.Registry
	system   metrics.SystemMetrics
	closers  []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New создает и инициализирует новый экземпляр приложения.
// Внешние хранилища подключаются, только если они настроены; иначе используются реализации в памяти.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   log,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.Logger
	var checks []grpc.Check

	entMetrics := metrics.NewEntitlementMetrics(a.registry, log.Named("metrics"))

	// Ростер: PostgreSQL или память
	var (
		clients repository.ClientRepository
		plans   repository.PlanRepository
	)
	if cfg.Database.DSN != "" {
		if cfg.Database.MigrateOnStart {
			if err := migrateUp(cfg.Database.DSN, log.Named("migrate")); err != nil {
				return err
			}
		}
		dbClient, err := db.NewDBClient(ctx, cfg.Database.DSN, log.Named("db"))
		if err != nil {
			return err
		}
		a.addCloser("postgres", dbClient.Close)
		checks = append(checks, grpc.Check{Name: "postgres", Ping: dbClient.Ping})

		clients = postgres.NewClientRepository(dbClient.DB(), log.Named("clients"))
		plans = postgres.NewPlanRepository(dbClient.DB(), log.Named("plans"))
	} else {
		log.Warnw("DATABASE_DSN is not set, roster data is kept in memory")
		memClients := repository.NewInMemoryClientRepository(log.Named("clients"))
		clients = memClients
		plans = repository.NewInMemoryPlanRepository(memClients, log.Named("plans"))
	}

	// Пользователи: Clerk или память
	var users identity.Store
	switch {
	case cfg.Clerk.SecretKey != "":
		users = identity.NewClerkStore(cfg.Clerk.SecretKey, "", log.Named("clerk"))
	case cfg.IsProduction():
		return errors.New("CLERK_SECRET_KEY is required in production")
	default:
		log.Warnw("CLERK_SECRET_KEY is not set, users are kept in memory")
		users = identity.NewMemoryStore()
	}

	// Блокировки, журнал вебхуков и кеш пользователей: Redis или память
	var (
		locker repository.Locker      = repository.NewMemoryLocker()
		ledger repository.EventLedger = repository.NewMemoryEventLedger()
	)
	if cfg.Redis.Addr != "" {
		cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log.Named("redis"))
		if err != nil {
			return err
		}
		a.addCloser("redis", cache.Close)
		checks = append(checks, grpc.Check{Name: "redis", Ping: cache.Ping})

		locker = repository.NewRedisLocker(cache, lockTTL, log.Named("lock"))
		ledger = cache
		users = identity.NewCachedStore(users, cache, cfg.Redis.CacheTTL, log.Named("identity"))
	} else {
		log.Warnw("REDIS_ADDR is not set, locks and webhook ledger are process-local")
	}

	// События: Kafka или только лог
	var publisher service.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("kafka")); err != nil {
			log.Warnw("Failed to ensure Kafka topic, relying on broker auto-create", "topic", cfg.Kafka.Topic, "error", err)
		}
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("kafka"))
		if err != nil {
			return err
		}
		a.addCloser("kafka", producer.Close)
		publisher = producer
	} else {
		log.Warnw("KAFKA_BROKERS is not set, entitlement events are only logged")
		publisher = kafka.NewNoopPublisher(log.Named("kafka"))
	}

	billing := stripe.NewStripeClient(cfg.Stripe.SecretKey, log.Named("stripe"), stripe.WithMetrics(entMetrics))
	verifier := stripe.NewWebhookVerifier(cfg.Stripe.WebhookSecret, !cfg.RequireWebhookSignature(), log.Named("webhook"))

	fallback := cfg.Entitlement.FallbackPeriod
	a.Writer = service.NewEntitlementWriter(users, locker, publisher, entMetrics, log.Named("writer"))
	a.system = metrics.NewSystemMetrics(a.registry, a.Writer.Pending, log.Named("metrics"))
	linker := service.NewCustomerLinker(users, billing, a.Writer, locker, log.Named("customers"))
	a.Entitlement = service.NewEntitlementService(users, billing, linker, a.Writer, fallback, entMetrics, log.Named("entitlement"))
	billingService := service.NewBillingService(users, billing, linker, a.Writer, cfg.App.FrontendURL, fallback, log.Named("billing"))
	webhookService := service.NewWebhookService(verifier, billing, a.Writer, ledger, fallback, entMetrics, log.Named("webhook"))
	roster := service.NewRosterService(clients, plans, log.Named("roster"))

	auth, err := newAuth(cfg, log.Named("auth"))
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	a.Router = gin.New()
	routes.SetupRoutes(a.Router, routes.Handlers{
		Billing:     handlers.NewBillingHandler(billingService, cfg.Stripe.PriceID, cfg.Stripe.SecretKey != "", cfg.IsProduction(), log.Named("http")),
		Entitlement: handlers.NewEntitlementHandler(a.Entitlement, log.Named("http")),
		Webhook:     handlers.NewWebhookHandler(webhookService, log.Named("http")),
		Roster:      handlers.NewRosterHandler(roster, log.Named("http")),
	}, auth, a.registry, log.Named("http"))

	a.GRPC = grpc.NewServer(cfg.IsProduction(), checks, log.Named("grpc"))
	return nil
}

func newAuth(cfg *config.Config, log *logger.Logger) (*middleware.JWTMiddleware, error) {
	if !cfg.Auth.Required {
		log.Warnw("AUTH_REQUIRED is off, API routes accept anonymous requests")
		return middleware.NewJWTMiddleware(false, nil, log), nil
	}
	validator, err := middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to configure auth: %w", err)
	}
	return middleware.NewJWTMiddleware(true, validator, log), nil
}

func migrateUp(dsn string, log *logger.Logger) error {
	migrator, err := db.NewMigrator(dsn, log)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return migrator.Up()
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// StartBackground запускает фоновые задачи: системные метрики.
func (a *App) StartBackground() {
	a.system.StartRecording(systemMetricsInterval)
}

// Close дожидается отложенных публикаций и закрывает подключения в обратном порядке.
func (a *App) Close() error {
	if a.system != nil {
		a.system.Stop()
	}
	if a.Writer != nil {
		a.Writer.Wait()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Errorw("Failed to close resource", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		a.Logger.Infow("Resource closed", "resource", c.name)
	}
	a.closers = nil
	return errors.Join(errs...)
}
