package stripe

import (
	"context"

	"github.com/Kovheren/billing-service/internal/domain"
)

// EnsureCustomerParams параметры поиска или создания клиента у провайдера
type EnsureCustomerParams struct {
	TenantID  string
	AccountID string
	Email     string

	// Ключ идемпотентности на стороне провайдера
	IdempotencyKey string
}

// CheckoutParams параметры создания checkout-сессии
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	TrialDays  int64
	SuccessURL string
	CancelURL  string

	// Необязательный промокод провайдера
	Coupon   string
	Metadata map[string]string

	IdempotencyKey string
}

// CreateSubscriptionParams параметры прямого создания подписки
type CreateSubscriptionParams struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	TrialDays  int64

	// charge_automatically или send_invoice
	CollectionMethod string
	Metadata         map[string]string

	IdempotencyKey string
}

// UpdateSubscriptionParams параметры смены плана существующей подписки
type UpdateSubscriptionParams struct {
	SubscriptionID string
	PriceID        string
	Quantity       int64

	// create_prorations, none или always_invoice
	ProrationBehavior string

	IdempotencyKey string
}

// CheckoutSession результат создания checkout-сессии
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentGateway абстракция платежного провайдера.
// Все мутации принимают ключ идемпотентности, который провайдер использует
// для схлопывания повторов после сбоя между вызовом провайдера и фиксацией
// результата в нашей БД.
type PaymentGateway interface {
	EnsureCustomer(ctx context.Context, params EnsureCustomerParams) (*domain.ProviderCustomer, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*domain.ProviderSnapshot, error)
	UpdateSubscription(ctx context.Context, params UpdateSubscriptionParams) (*domain.ProviderSnapshot, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool, idempotencyKey string) (*domain.ProviderSnapshot, error)
	ResumeSubscription(ctx context.Context, subscriptionID, idempotencyKey string) (*domain.ProviderSnapshot, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*domain.ProviderSnapshot, error)
	RetrieveCustomer(ctx context.Context, customerID string) (*domain.ProviderCustomer, error)

	// VerifyWebhook проверяет подпись и разбирает конверт события.
	// Возвращает domain.ErrInvalidSignature при неверной подписи.
	VerifyWebhook(payload []byte, sigHeader string) (*domain.WebhookEvent, error)
}
