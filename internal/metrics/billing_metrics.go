package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncCommand(operation, outcome string)
	IncIdempotentReplay(operation string)
	IncIdempotencyConflict(operation string)
	IncWebhookEvent(eventType, outcome string)
	IncWebhookDeduped(eventType string)
	ObserveWebhookDuration(eventType string, seconds float64)
}

type billingMetrics struct {
	log                  *zap.SugaredLogger
	commands             *prometheus.CounterVec
	idempotentReplays    *prometheus.CounterVec
	idempotencyConflicts *prometheus.CounterVec
	webhookEvents        *prometheus.CounterVec
	webhookDeduped       *prometheus.CounterVec
	webhookDuration      *prometheus.HistogramVec
}

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *zap.SugaredLogger) BillingMetrics {
	commands := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_commands_total",
			Help: "The total number of billing commands by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	idempotentReplays := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_idempotent_replays_total",
			Help: "The total number of commands answered from the idempotency cache",
		},
		[]string{"operation"},
	)

	idempotencyConflicts := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_idempotency_conflicts_total",
			Help: "The total number of idempotency key conflicts",
		},
		[]string{"operation"},
	)

	webhookEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "The total number of processed webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	webhookDeduped := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_deduped_total",
			Help: "The total number of webhook events skipped as duplicates",
		},
		[]string{"event_type"},
	)

	webhookDuration := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_webhook_duration_seconds",
			Help:    "Webhook event processing duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	return &billingMetrics{
		log:                  log,
		commands:             commands,
		idempotentReplays:    idempotentReplays,
		idempotencyConflicts: idempotencyConflicts,
		webhookEvents:        webhookEvents,
		webhookDeduped:       webhookDeduped,
		webhookDuration:      webhookDuration,
	}
}

// IncCommand увеличивает счетчик команд
func (m *billingMetrics) IncCommand(operation, outcome string) {
	m.commands.WithLabelValues(operation, outcome).Inc()
}

// IncIdempotentReplay увеличивает счетчик ответов из кэша идемпотентности
func (m *billingMetrics) IncIdempotentReplay(operation string) {
	m.idempotentReplays.WithLabelValues(operation).Inc()
}

// IncIdempotencyConflict увеличивает счетчик конфликтов ключей
func (m *billingMetrics) IncIdempotencyConflict(operation string) {
	m.idempotencyConflicts.WithLabelValues(operation).Inc()
}

// IncWebhookEvent увеличивает счетчик обработанных событий вебхука
func (m *billingMetrics) IncWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// IncWebhookDeduped увеличивает счетчик отброшенных дубликатов
func (m *billingMetrics) IncWebhookDeduped(eventType string) {
	m.webhookDeduped.WithLabelValues(eventType).Inc()
}

// ObserveWebhookDuration записывает длительность обработки события
func (m *billingMetrics) ObserveWebhookDuration(eventType string, seconds float64) {
	m.webhookDuration.WithLabelValues(eventType).Observe(seconds)
}
