package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/api/rest/handlers"
	"github.com/Kovheren/billing-service/internal/middleware"
)

// RouterDeps - уже собранные обработчики и middleware для роутера
type RouterDeps struct {
	Subscriptions *handlers.SubscriptionHandler
	Webhooks      *handlers.WebhookHandler
	Invoices      *handlers.InvoiceHandler
	Usage         *handlers.UsageHandler
	Entitlements  *handlers.EntitlementHandler
	Configs       *handlers.ConfigHandler
	Idempotency   *middleware.IdempotencyGate
	Auth          *middleware.JWTMiddleware
	Registry      *prometheus.Registry
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware.
// Вебхуки провайдера живут вне /api/v1: у них своя аутентификация
// (подпись) и свой механизм дедупликации, заголовки тенанта и
// Idempotency-Key к ним не применяются.
func SetupRouter(log *zap.SugaredLogger, deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Подключение middleware
	r.Use(middleware.RequestLogger(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// Вебхуки на корневом уровне роутера
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", deps.Webhooks.HandleStripeWebhook)
	}

	// Tenant-scoped API: каждая мутирующая команда проходит через гейт
	// идемпотентности
	v1 := r.Group("/api/v1")
	if deps.Auth != nil {
		v1.Use(deps.Auth.RequireAuth())
	}
	v1.Use(middleware.RequireTenant())
	v1.Use(deps.Idempotency.Handler())
	{
		// Подписки
		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.POST("", deps.Subscriptions.CreateSubscription)
			subscriptions.GET("", deps.Subscriptions.ListSubscriptions)
			subscriptions.GET("/:id", deps.Subscriptions.GetSubscription)
			subscriptions.POST("/:id/change-plan", deps.Subscriptions.ChangePlan)
			subscriptions.POST("/:id/cancel", deps.Subscriptions.CancelSubscription)
			subscriptions.POST("/:id/resume", deps.Subscriptions.ResumeSubscription)
		}

		// Зеркальные инвойсы (read-only)
		invoices := v1.Group("/invoices")
		{
			invoices.GET("", deps.Invoices.ListInvoices)
			invoices.GET("/:id", deps.Invoices.GetInvoice)
		}

		// События потребления и агрегаты
		usage := v1.Group("/usage")
		{
			usage.POST("", deps.Usage.RecordUsage)
			usage.GET("/summary", deps.Usage.UsageSummary)
		}

		// Права доступа к фичам
		v1.GET("/entitlements", deps.Entitlements.CheckEntitlement)

		// Версии конфигурации тенанта
		configs := v1.Group("/config")
		{
			configs.POST("", deps.Configs.PublishConfig)
			configs.GET("/latest", deps.Configs.GetLatestConfig)
			configs.GET("/versions", deps.Configs.ListConfigVersions)
			configs.GET("/versions/:id", deps.Configs.GetConfigVersion)
		}
	}

	return r
}
