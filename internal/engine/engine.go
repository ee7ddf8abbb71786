package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/integration/stripe"
	"github.com/Kovheren/billing-service/internal/kafka"
	"github.com/Kovheren/billing-service/internal/metrics"
	"github.com/Kovheren/billing-service/internal/repository"
)

// Ключи метаданных, которые движок навешивает на объекты провайдера,
// чтобы вебхуки могли восстановить владельца события
const (
	MetadataTenantIDKey       = "tenant_id"
	MetadataAccountIDKey      = "account_id"
	MetadataLocalSubIDKey     = "subscription_local_id"
	defaultCheckoutSuccessURL = "https://example.com/success?session_id={CHECKOUT_SESSION_ID}"
	defaultCheckoutCancelURL  = "https://example.com/cancel"
)

// EntitlementInvalidator сбрасывает кэш прав доступа аккаунта после мутаций
type EntitlementInvalidator interface {
	InvalidateAccountEntitlements(ctx context.Context, tenantID, accountID string) error
}

// CreateCommand параметры команды создания подписки
type CreateCommand struct {
	AccountID string            `json:"accountId" binding:"required"`
	PlanCode  string            `json:"planCode" binding:"required"`
	Quantity  int               `json:"quantity"`
	Email     string            `json:"email"`
	Coupon    string            `json:"coupon"`
	Metadata  map[string]string `json:"metadata"`

	// nil - выбрать безопасный по умолчанию checkout-поток
	Checkout *bool `json:"checkout"`

	// Клиентский идемпотентный ключ, прокидывается провайдеру
	IdempotencyKey string `json:"-"`
}

// ChangePlanCommand параметры команды смены плана
type ChangePlanCommand struct {
	PlanCode          string `json:"planCode" binding:"required"`
	Quantity          int    `json:"quantity"`
	ProrationBehavior string `json:"prorationBehavior"`

	IdempotencyKey string `json:"-"`
}

// Engine исполняет команды жизненного цикла подписок. Провайдер остается
// источником истины для финансовых полей: после каждой мутации локальная
// строка перезаписывается снимком из ответа провайдера.
type Engine struct {
	subs    repository.SubscriptionRepository
	configs repository.ConfigRepository
	tx      repository.TxManager
	gateway stripe.PaymentGateway

	producer    kafka.Producer
	metrics     metrics.BillingMetrics
	invalidator EntitlementInvalidator
	log         *zap.SugaredLogger
}

// NewEngine создает движок подписок
func NewEngine(
	subs repository.SubscriptionRepository,
	configs repository.ConfigRepository,
	tx repository.TxManager,
	gateway stripe.PaymentGateway,
	producer kafka.Producer,
	billingMetrics metrics.BillingMetrics,
	invalidator EntitlementInvalidator,
	log *zap.SugaredLogger,
) *Engine {
	return &Engine{
		subs:        subs,
		configs:     configs,
		tx:          tx,
		gateway:     gateway,
		producer:    producer,
		metrics:     billingMetrics,
		invalidator: invalidator,
		log:         log,
	}
}

// loadPlan загружает последнюю конфигурацию тенанта и ищет план по коду
func (e *Engine) loadPlan(ctx context.Context, tenantID, planCode string) (uuid.UUID, *domain.Plan, error) {
	cv, err := e.configs.GetLatest(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, nil, fmt.Errorf("%w: no config published for this tenant", domain.ErrValidation)
		}
		return uuid.Nil, nil, err
	}

	cfg, err := cv.Parse()
	if err != nil {
		return uuid.Nil, nil, err
	}
	plan, err := cfg.FindPlan(planCode)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if plan.Billing.PriceID == "" {
		return uuid.Nil, nil, fmt.Errorf("%w: plan is missing billing.priceId", domain.ErrValidation)
	}
	if plan.TrialDays < 0 {
		return uuid.Nil, nil, fmt.Errorf("%w: trialDays must be a non-negative integer", domain.ErrValidation)
	}
	return cv.ID, plan, nil
}

// Create создает подписку: checkout-поток оставляет локальную строку в pending
// до подтверждения вебхуком, прямой поток сразу применяет снимок провайдера
func (e *Engine) Create(ctx context.Context, tenantID string, cmd CreateCommand) (*domain.Subscription, error) {
	if cmd.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be >= 1", domain.ErrValidation)
	}

	configVersionID, plan, err := e.loadPlan(ctx, tenantID, cmd.PlanCode)
	if err != nil {
		return nil, err
	}
	bundle := BuildBundle(plan)

	customer, err := e.gateway.EnsureCustomer(ctx, stripe.EnsureCustomerParams{
		TenantID:       tenantID,
		AccountID:      cmd.AccountID,
		Email:          cmd.Email,
		IdempotencyKey: providerToken(tenantID, cmd.IdempotencyKey, "customer"),
	})
	if err != nil {
		return nil, err
	}

	sub := &domain.Subscription{
		TenantID:         tenantID,
		AccountID:        cmd.AccountID,
		PlanCode:         cmd.PlanCode,
		Quantity:         cmd.Quantity,
		Status:           domain.SubscriptionStatusPending,
		ConfigVersionID:  configVersionID,
		StripeCustomerID: &customer.ID,
		Metadata:         domain.JSONMap(cmd.Metadata),
	}
	if err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		return e.subs.Create(ctx, sub)
	}); err != nil {
		return nil, err
	}

	providerMeta := map[string]string{
		MetadataTenantIDKey:   tenantID,
		MetadataAccountIDKey:  cmd.AccountID,
		MetadataLocalSubIDKey: sub.ID.String(),
	}

	// Безопасный поток по умолчанию - hosted checkout
	useCheckout := cmd.Checkout == nil || *cmd.Checkout

	if useCheckout {
		session, err := e.gateway.CreateCheckoutSession(ctx, stripe.CheckoutParams{
			CustomerID:     customer.ID,
			PriceID:        plan.Billing.PriceID,
			Quantity:       int64(cmd.Quantity),
			TrialDays:      int64(plan.TrialDays),
			SuccessURL:     defaultCheckoutSuccessURL,
			CancelURL:      defaultCheckoutCancelURL,
			Coupon:         cmd.Coupon,
			Metadata:       providerMeta,
			IdempotencyKey: providerToken(tenantID, cmd.IdempotencyKey, "checkout"),
		})
		if err != nil {
			return nil, err
		}

		sub.CheckoutURL = &session.URL
		if err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
			return e.subs.Update(ctx, sub)
		}); err != nil {
			return nil, err
		}
	} else {
		snap, err := e.gateway.CreateSubscription(ctx, stripe.CreateSubscriptionParams{
			CustomerID:       customer.ID,
			PriceID:          plan.Billing.PriceID,
			Quantity:         int64(cmd.Quantity),
			TrialDays:        int64(plan.TrialDays),
			CollectionMethod: bundle.Invoicing.CollectionMethod(),
			Metadata:         providerMeta,
			IdempotencyKey:   providerToken(tenantID, cmd.IdempotencyKey, "subscription"),
		})
		if err != nil {
			return nil, err
		}

		sub.ApplySnapshot(snap)
		if err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
			return e.subs.Update(ctx, sub)
		}); err != nil {
			return nil, err
		}
	}

	e.publish(kafka.TopicSubscriptionCreated, sub)
	e.invalidateEntitlements(ctx, tenantID, cmd.AccountID)
	e.countCommand("create", "success")
	e.log.Infow("Subscription created", "subscriptionID", sub.ID, "tenantID", tenantID, "planCode", cmd.PlanCode, "checkout", useCheckout)
	return sub, nil
}

// ChangePlan меняет план существующей подписки через провайдера
func (e *Engine) ChangePlan(ctx context.Context, tenantID string, id uuid.UUID, cmd ChangePlanCommand) (*domain.Subscription, error) {
	if cmd.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be >= 1", domain.ErrValidation)
	}

	sub, err := e.subs.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub.StripeSubscriptionID == nil {
		return nil, fmt.Errorf("%w: provider subscription not set; cannot change plan", domain.ErrPreconditionFailed)
	}

	configVersionID, plan, err := e.loadPlan(ctx, tenantID, cmd.PlanCode)
	if err != nil {
		return nil, err
	}
	bundle := BuildBundle(plan)

	proration := cmd.ProrationBehavior
	if proration == "" {
		proration = bundle.Proration.Behavior()
	}

	snap, err := e.gateway.UpdateSubscription(ctx, stripe.UpdateSubscriptionParams{
		SubscriptionID:    *sub.StripeSubscriptionID,
		PriceID:           plan.Billing.PriceID,
		Quantity:          int64(cmd.Quantity),
		ProrationBehavior: proration,
		IdempotencyKey:    providerToken(tenantID, cmd.IdempotencyKey, "change-plan"),
	})
	if err != nil {
		return nil, err
	}

	sub.PlanCode = cmd.PlanCode
	sub.Quantity = cmd.Quantity
	sub.ConfigVersionID = configVersionID
	sub.ApplySnapshot(snap)
	if err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		return e.subs.Update(ctx, sub)
	}); err != nil {
		return nil, err
	}

	e.publish(kafka.TopicSubscriptionUpdated, sub)
	e.invalidateEntitlements(ctx, tenantID, sub.AccountID)
	e.countCommand("change_plan", "success")
	e.log.Infow("Subscription plan changed", "subscriptionID", sub.ID, "tenantID", tenantID, "planCode", cmd.PlanCode)
	return sub, nil
}

// Cancel отменяет подписку немедленно или в конце периода
func (e *Engine) Cancel(ctx context.Context, tenantID string, id uuid.UUID, atPeriodEnd bool, idempotencyKey string) (*domain.Subscription, error) {
	sub, err := e.subs.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub.StripeSubscriptionID == nil {
		return nil, fmt.Errorf("%w: provider subscription not set; cannot cancel", domain.ErrPreconditionFailed)
	}

	snap, err := e.gateway.CancelSubscription(ctx, *sub.StripeSubscriptionID, atPeriodEnd, providerToken(tenantID, idempotencyKey, "cancel"))
	if err != nil {
		return nil, err
	}

	sub.ApplySnapshot(snap)
	if err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		return e.subs.Update(ctx, sub)
	}); err != nil {
		return nil, err
	}

	e.publish(kafka.TopicSubscriptionCanceled, sub)
	e.invalidateEntitlements(ctx, tenantID, sub.AccountID)
	e.countCommand("cancel", "success")
	e.log.Infow("Subscription canceled", "subscriptionID", sub.ID, "tenantID", tenantID, "atPeriodEnd", atPeriodEnd)
	return sub, nil
}

// Resume снимает запланированную отмену в конце периода
func (e *Engine) Resume(ctx context.Context, tenantID string, id uuid.UUID, idempotencyKey string) (*domain.Subscription, error) {
	sub, err := e.subs.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub.StripeSubscriptionID == nil {
		return nil, fmt.Errorf("%w: provider subscription not set; cannot resume", domain.ErrPreconditionFailed)
	}
	// Окончательно отмененную подписку возобновить нельзя, только создать новую
	if sub.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: subscription is already canceled", domain.ErrInvalidOperation)
	}

	snap, err := e.gateway.ResumeSubscription(ctx, *sub.StripeSubscriptionID, providerToken(tenantID, idempotencyKey, "resume"))
	if err != nil {
		return nil, err
	}

	sub.ApplySnapshot(snap)
	if err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		return e.subs.Update(ctx, sub)
	}); err != nil {
		return nil, err
	}

	e.publish(kafka.TopicSubscriptionUpdated, sub)
	e.invalidateEntitlements(ctx, tenantID, sub.AccountID)
	e.countCommand("resume", "success")
	e.log.Infow("Subscription resumed", "subscriptionID", sub.ID, "tenantID", tenantID)
	return sub, nil
}

// GetByID возвращает подписку тенанта
func (e *Engine) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Subscription, error) {
	return e.subs.GetByID(ctx, tenantID, id)
}

// ListForAccount возвращает подписки аккаунта
func (e *Engine) ListForAccount(ctx context.Context, tenantID, accountID string) ([]domain.Subscription, error) {
	return e.subs.ListForAccount(ctx, tenantID, accountID)
}

// publish отправляет доменное событие; сбой брокера не роняет команду
func (e *Engine) publish(topic string, sub *domain.Subscription) {
	if e.producer == nil {
		return
	}
	if err := e.producer.Publish(topic, sub.ID.String(), sub); err != nil {
		e.log.Warnw("Failed to publish subscription event", "error", err, "topic", topic, "subscriptionID", sub.ID)
	}
}

// invalidateEntitlements сбрасывает кэш прав; сбой кэша не роняет команду
func (e *Engine) invalidateEntitlements(ctx context.Context, tenantID, accountID string) {
	if e.invalidator == nil {
		return
	}
	if err := e.invalidator.InvalidateAccountEntitlements(ctx, tenantID, accountID); err != nil {
		e.log.Warnw("Failed to invalidate entitlement cache", "error", err, "tenantID", tenantID, "accountID", accountID)
	}
}

// countCommand записывает метрику исполненной команды
func (e *Engine) countCommand(operation, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncCommand(operation, outcome)
}

// providerToken выводит идемпотентный токен провайдера из клиентского ключа.
// Повтор команды после сбоя между вызовом провайдера и фиксацией результата
// схлопывается уже на стороне провайдера.
func providerToken(tenantID, key, operation string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", tenantID, key, operation)
}
