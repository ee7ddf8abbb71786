package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/engine"
	"github.com/Kovheren/billing-service/internal/integration/stripe"
	"github.com/Kovheren/billing-service/internal/kafka"
	"github.com/Kovheren/billing-service/internal/metrics"
	"github.com/Kovheren/billing-service/internal/repository"
)

const providerName = "stripe"

// ReconcileResult итог обработки одного события вебхука
type ReconcileResult struct {
	Deduped   bool
	EventType string
}

// WebhookReconciler приводит локальное зеркало в соответствие с событиями
// платежного провайдера. События могут приходить не по порядку, с дублями
// и с задержкой, поэтому каждое применение - полная перезапись финансовых
// полей из свежего снимка, а дедупликация фиксируется в той же транзакции,
// что и мутация зеркала.
type WebhookReconciler struct {
	gateway  stripe.PaymentGateway
	events   repository.PaymentEventRepository
	subs     repository.SubscriptionRepository
	invoices repository.InvoiceRepository
	tx       repository.TxManager

	producer    kafka.Producer
	metrics     metrics.BillingMetrics
	invalidator engine.EntitlementInvalidator
	log         *zap.SugaredLogger
}

// NewWebhookReconciler создает новый реконсилятор вебхуков
func NewWebhookReconciler(
	gateway stripe.PaymentGateway,
	events repository.PaymentEventRepository,
	subs repository.SubscriptionRepository,
	invoices repository.InvoiceRepository,
	tx repository.TxManager,
	producer kafka.Producer,
	billingMetrics metrics.BillingMetrics,
	invalidator engine.EntitlementInvalidator,
	log *zap.SugaredLogger,
) *WebhookReconciler {
	return &WebhookReconciler{
		gateway:     gateway,
		events:      events,
		subs:        subs,
		invoices:    invoices,
		tx:          tx,
		producer:    producer,
		metrics:     billingMetrics,
		invalidator: invalidator,
		log:         log,
	}
}

// eventObject общие поля вложенного объекта события
type eventObject struct {
	ID           string            `json:"id"`
	Metadata     map[string]string `json:"metadata"`
	Subscription string            `json:"subscription"`
	Customer     string            `json:"customer"`
}

// Process проверяет подпись, выводит тенанта, дедуплицирует и применяет
// событие. Запись дедупликации и мутация зеркала коммитятся одной
// транзакцией: сбой до коммита оставляет событие доступным для
// переобработки при redelivery.
func (r *WebhookReconciler) Process(ctx context.Context, payload []byte, sigHeader string) (*ReconcileResult, error) {
	started := time.Now()

	event, err := r.gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		r.countEvent("unknown", "rejected")
		return nil, err
	}

	var obj eventObject
	if len(event.Object) == 0 || json.Unmarshal(event.Object, &obj) != nil {
		r.countEvent(event.Type, "rejected")
		return nil, fmt.Errorf("%w: event data.object is missing or not an object", domain.ErrMalformedEvent)
	}

	tenantID, err := r.resolveTenant(ctx, event.Type, &obj)
	if err != nil {
		r.log.Warnw("Dropping webhook event: tenant could not be resolved", "eventID", event.ID, "eventType", event.Type)
		r.countEvent(event.Type, "tenant_unresolved")
		return nil, err
	}

	// Быстрый путь для дублей, чтобы не ходить к провайдеру повторно.
	// Авторитетная проверка все равно выполняется в транзакции ниже.
	if seen, err := r.events.Exists(ctx, providerName, event.ID); err == nil && seen {
		r.countDeduped(event.Type)
		return &ReconcileResult{Deduped: true, EventType: event.Type}, nil
	}

	mutate, err := r.prepareMutation(ctx, event, &obj, tenantID)
	if err != nil {
		r.countEvent(event.Type, "error")
		return nil, err
	}

	deduped := false
	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		recorded, err := r.events.RecordIfNew(ctx, providerName, event.ID, tenantID, event.Type, event.Raw)
		if err != nil {
			return err
		}
		if !recorded {
			deduped = true
			return nil
		}
		if mutate != nil {
			return mutate(ctx)
		}
		return nil
	})
	if err != nil {
		r.countEvent(event.Type, "error")
		return nil, err
	}

	if deduped {
		r.countDeduped(event.Type)
		return &ReconcileResult{Deduped: true, EventType: event.Type}, nil
	}

	r.countEvent(event.Type, "applied")
	if r.metrics != nil {
		r.metrics.ObserveWebhookDuration(event.Type, time.Since(started).Seconds())
	}
	r.log.Infow("Webhook event applied", "eventID", event.ID, "eventType", event.Type, "tenantID", tenantID)
	return &ReconcileResult{Deduped: false, EventType: event.Type}, nil
}

// prepareMutation выполняет все сетевые обращения к провайдеру заранее и
// возвращает чистую мутацию зеркала для выполнения внутри транзакции
func (r *WebhookReconciler) prepareMutation(ctx context.Context, event *domain.WebhookEvent, obj *eventObject, tenantID string) (func(ctx context.Context) error, error) {
	switch event.Type {
	case "checkout.session.completed":
		return r.prepareCheckoutCompleted(ctx, obj, tenantID)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		return r.prepareInvoiceMirror(ctx, event.Object, tenantID)

	case "customer.subscription.updated":
		var snap domain.ProviderSnapshot
		if err := json.Unmarshal(event.Object, &snap); err != nil || snap.ID == "" {
			return nil, fmt.Errorf("%w: subscription object is missing id", domain.ErrMalformedEvent)
		}
		return r.applySnapshotMutation(&snap), nil

	case "customer.subscription.deleted":
		var snap domain.ProviderSnapshot
		if err := json.Unmarshal(event.Object, &snap); err != nil || snap.ID == "" {
			return nil, fmt.Errorf("%w: subscription object is missing id", domain.ErrMalformedEvent)
		}
		// Провайдер мог не проставить терминальный статус в payload удаления
		snap.Status = string(domain.SubscriptionStatusCanceled)
		return r.applySnapshotMutation(&snap), nil

	default:
		// Незнакомые типы фиксируются в журнале дедупликации без мутаций
		return nil, nil
	}
}

// prepareCheckoutCompleted привязывает подписку провайдера к локальной
// pending-строке, созданной при старте checkout-потока
func (r *WebhookReconciler) prepareCheckoutCompleted(ctx context.Context, obj *eventObject, tenantID string) (func(ctx context.Context) error, error) {
	localIDStr := obj.Metadata[engine.MetadataLocalSubIDKey]
	if localIDStr == "" || obj.Subscription == "" {
		// Сессия без нашей разметки: чужой checkout, фиксируем без мутаций
		return nil, nil
	}
	localID, err := uuid.Parse(localIDStr)
	if err != nil {
		return nil, fmt.Errorf("%w: subscription_local_id is not a UUID", domain.ErrMalformedEvent)
	}

	snap, err := r.gateway.RetrieveSubscription(ctx, obj.Subscription)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		sub, err := r.subs.GetByID(ctx, tenantID, localID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.log.Warnw("Checkout completed for unknown local subscription", "localID", localID, "tenantID", tenantID)
				return nil
			}
			return err
		}
		sub.ApplySnapshot(snap)
		if err := r.subs.Update(ctx, sub); err != nil {
			return err
		}
		r.afterSubscriptionChange(ctx, sub)
		return nil
	}, nil
}

// applySnapshotMutation перезаписывает локальную строку снимком провайдера;
// неизвестные подписки молча пропускаются
func (r *WebhookReconciler) applySnapshotMutation(snap *domain.ProviderSnapshot) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sub, err := r.subs.GetByStripeID(ctx, snap.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.log.Debugw("Webhook for unknown subscription, skipping mirror update", "stripeSubscriptionID", snap.ID)
				return nil
			}
			return err
		}
		sub.ApplySnapshot(snap)
		if err := r.subs.Update(ctx, sub); err != nil {
			return err
		}
		r.afterSubscriptionChange(ctx, sub)
		return nil
	}
}

// afterSubscriptionChange сбрасывает кэш прав и публикует доменное событие
func (r *WebhookReconciler) afterSubscriptionChange(ctx context.Context, sub *domain.Subscription) {
	if r.invalidator != nil {
		if err := r.invalidator.InvalidateAccountEntitlements(ctx, sub.TenantID, sub.AccountID); err != nil {
			r.log.Warnw("Failed to invalidate entitlement cache", "error", err, "tenantID", sub.TenantID)
		}
	}
	if r.producer != nil {
		topic := kafka.TopicSubscriptionUpdated
		if sub.Status == domain.SubscriptionStatusCanceled {
			topic = kafka.TopicSubscriptionCanceled
		}
		if err := r.producer.Publish(topic, sub.ID.String(), sub); err != nil {
			r.log.Warnw("Failed to publish subscription event", "error", err, "topic", topic)
		}
	}
}

func (r *WebhookReconciler) countEvent(eventType, outcome string) {
	if r.metrics != nil {
		r.metrics.IncWebhookEvent(eventType, outcome)
	}
}

func (r *WebhookReconciler) countDeduped(eventType string) {
	if r.metrics != nil {
		r.metrics.IncWebhookDeduped(eventType)
	}
}
