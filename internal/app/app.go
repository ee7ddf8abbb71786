package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/api/rest"
	"github.com/Kovheren/billing-service/internal/api/rest/handlers"
	"github.com/Kovheren/billing-service/internal/config"
	"github.com/Kovheren/billing-service/internal/db"
	"github.com/Kovheren/billing-service/internal/engine"
	"github.com/Kovheren/billing-service/internal/integration/stripe"
	"github.com/Kovheren/billing-service/internal/kafka"
	"github.com/Kovheren/billing-service/internal/metrics"
	"github.com/Kovheren/billing-service/internal/middleware"
	"github.com/Kovheren/billing-service/internal/repository"
	"github.com/Kovheren/billing-service/internal/service"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config *config.Config
	Server *rest.Server
	Logger *zap.SugaredLogger

	dbClient      *db.Client
	cache         *repository.RedisCacheRepository
	producer      kafka.Producer
	systemMetrics metrics.SystemMetrics
}

// NewApp собирает все компоненты приложения: хранилище, кеш, Kafka,
// платежный шлюз, движок подписок, реконсилятор вебхуков и HTTP сервер.
func NewApp(cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	// База данных и миграции
	dbClient, err := db.NewClient(cfg.Database.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if cfg.Database.MigrationsPath != "" {
		if err := dbClient.Migrate(cfg.Database.MigrationsPath, cfg.Database.DSN); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	// Redis кеш прав доступа. Недоступный Redis не фатален: сервис
	// продолжит работать без кеширования.
	cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
		cache = nil
	} else {
		log.Infow("Redis cache initialized")
	}

	// Kafka producer для доменных событий. Тоже не фатален.
	var producer kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics", "error", err)
		}
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Warnw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
			producer = nil
		} else {
			log.Infow("Kafka producer initialized")
		}
	}

	// Метрики
	registry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry, log)
	systemMetrics := metrics.NewSystemMetrics(registry, log)
	systemMetrics.StartRecording(15 * time.Second)

	// Платежный шлюз
	var gateway stripe.PaymentGateway
	if cfg.Stripe.Backend == "fake" {
		log.Warnw("Using in-memory fake payment gateway; no real provider calls will be made")
		gateway = stripe.NewFakeGateway(log)
	} else {
		gateway = stripe.NewStripeGateway(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret, log)
	}

	// Репозитории
	sqlDB := dbClient.DB()
	subs := repository.NewPostgresSubscriptionRepository(sqlDB, log)
	configs := repository.NewPostgresConfigRepository(sqlDB, log)
	events := repository.NewPostgresPaymentEventRepository(sqlDB, log)
	invoices := repository.NewPostgresInvoiceRepository(sqlDB, log)
	usageRepo := repository.NewPostgresUsageRepository(sqlDB, log)
	keys := repository.NewPostgresIdempotencyRepository(sqlDB, log)
	txManager := repository.NewTxManager(sqlDB, log)

	// Инвалидатор кеша прав доступа. Типизированный nil в интерфейсе
	// ломает nil-проверки, поэтому присваиваем только живой кеш.
	var invalidator engine.EntitlementInvalidator
	var entCache service.EntitlementCache
	if cache != nil {
		invalidator = cache
		entCache = cache
	}

	// Слой бизнес-логики
	subEngine := engine.NewEngine(subs, configs, txManager, gateway, producer, billingMetrics, invalidator, log)
	reconciler := service.NewWebhookReconciler(gateway, events, subs, invoices, txManager, producer, billingMetrics, invalidator, log)
	entitlements := service.NewEntitlementService(subs, configs, entCache, log)
	usage := service.NewUsageService(usageRepo, subs, log)

	// Опциональная JWT-аутентификация поверх tenant-скоупа
	var auth *middleware.JWTMiddleware
	if cfg.Auth.Enabled {
		validator := &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)}
		auth = middleware.NewJWTMiddleware(log, validator)
	}

	// HTTP обработчики и роутер
	router := rest.SetupRouter(log, rest.RouterDeps{
		Subscriptions: handlers.NewSubscriptionHandler(subEngine, log),
		Webhooks:      handlers.NewWebhookHandler(reconciler, log),
		Invoices:      handlers.NewInvoiceHandler(invoices, log),
		Usage:         handlers.NewUsageHandler(usage, log),
		Entitlements:  handlers.NewEntitlementHandler(entitlements, log),
		Configs:       handlers.NewConfigHandler(configs, log),
		Idempotency:   middleware.NewIdempotencyGate(keys, billingMetrics, log),
		Auth:          auth,
		Registry:      registry,
	})

	server := rest.NewServer(router, cfg, log)

	return &App{
		Config:        cfg,
		Server:        server,
		Logger:        log,
		dbClient:      dbClient,
		cache:         cache,
		producer:      producer,
		systemMetrics: systemMetrics,
	}, nil
}

// Run запускает HTTP сервер и блокируется до его остановки
func (a *App) Run() error {
	return a.Server.Start()
}

// Shutdown останавливает сервер и закрывает все соединения
func (a *App) Shutdown(ctx context.Context) {
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Errorw("HTTP server shutdown error", "error", err)
	}
	a.systemMetrics.Stop()
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.Logger.Errorw("Error closing Kafka producer", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.Logger.Errorw("Error closing Redis connection", "error", err)
		}
	}
	if err := a.dbClient.Close(); err != nil {
		a.Logger.Errorw("Error closing database connection", "error", err)
	}
}
