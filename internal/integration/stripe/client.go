package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
)

const (
	// Ключи метаданных для связи объектов Stripe с нашими сущностями
	metadataTenantIDKey  = "tenant_id"
	metadataAccountIDKey = "account_id"
)

// stripeGateway реализует PaymentGateway поверх Stripe SDK
type stripeGateway struct {
	client        *client.API
	webhookSecret string
	log           *zap.SugaredLogger
}

// NewStripeGateway создает новый экземпляр шлюза Stripe
func NewStripeGateway(apiKey, webhookSecret string, log *zap.SugaredLogger) PaymentGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &stripeGateway{
		client:        sc,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// EnsureCustomer ищет клиента по (tenant, account) в метаданных через Search API,
// если не находит - создает нового.
func (g *stripeGateway) EnsureCustomer(ctx context.Context, params EnsureCustomerParams) (*domain.ProviderCustomer, error) {
	searchQuery := fmt.Sprintf("metadata['%s']:'%s' AND metadata['%s']:'%s'",
		metadataTenantIDKey, params.TenantID, metadataAccountIDKey, params.AccountID)
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   searchQuery,
			Limit:   stripe.Int64(1),
			Context: ctx,
		},
	}

	customers := g.client.Customers.Search(searchParams)
	if customers.Next() {
		cus := customers.Customer()
		g.log.Infow("Found existing Stripe customer via Search", "stripeCustomerID", cus.ID, "accountID", params.AccountID)
		return &domain.ProviderCustomer{ID: cus.ID, Metadata: cus.Metadata}, nil
	}
	if err := customers.Err(); err != nil {
		logStripeError(g.log, "SearchCustomers", err)
		return nil, fmt.Errorf("stripe: failed to search customer: %w", err)
	}

	createParams := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
		Metadata: map[string]string{
			metadataTenantIDKey:  params.TenantID,
			metadataAccountIDKey: params.AccountID,
		},
	}
	createParams.Context = ctx
	if params.IdempotencyKey != "" {
		createParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	cus, err := g.client.Customers.New(createParams)
	if err != nil {
		logStripeError(g.log, "CreateCustomer", err)
		return nil, fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	g.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "accountID", params.AccountID)
	return &domain.ProviderCustomer{ID: cus.ID, Metadata: cus.Metadata}, nil
}

// CreateCheckoutSession создает hosted checkout-сессию в режиме подписки
func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	quantity := params.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Customer: stripe.String(params.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		},
	}
	if params.TrialDays > 0 {
		sessionParams.SubscriptionData.TrialPeriodDays = stripe.Int64(params.TrialDays)
	}
	if params.Coupon != "" {
		sessionParams.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(params.Coupon)},
		}
	}
	sessionParams.Context = ctx
	if params.IdempotencyKey != "" {
		sessionParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	session, err := g.client.CheckoutSessions.New(sessionParams)
	if err != nil {
		logStripeError(g.log, "CreateCheckoutSession", err)
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	g.log.Infow("Stripe checkout session created", "sessionID", session.ID)
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// CreateSubscription создает подписку напрямую, минуя checkout
func (g *stripeGateway) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*domain.ProviderSnapshot, error) {
	quantity := params.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		Metadata: params.Metadata,
		Params: stripe.Params{
			Context: ctx,
		},
	}
	if params.TrialDays > 0 {
		subParams.TrialPeriodDays = stripe.Int64(params.TrialDays)
	}
	if params.CollectionMethod != "" {
		subParams.CollectionMethod = stripe.String(params.CollectionMethod)
		if params.CollectionMethod == "send_invoice" {
			subParams.DaysUntilDue = stripe.Int64(30)
		}
	}
	if params.IdempotencyKey != "" {
		subParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	sub, err := g.client.Subscriptions.New(subParams)
	if err != nil {
		logStripeError(g.log, "CreateSubscription", err)
		return nil, fmt.Errorf("stripe: failed to create subscription: %w", err)
	}

	g.log.Infow("Stripe subscription created", "stripeSubscriptionID", sub.ID, "status", string(sub.Status))
	return snapshotFromStripe(sub), nil
}

// UpdateSubscription меняет цену единственной позиции подписки
func (g *stripeGateway) UpdateSubscription(ctx context.Context, params UpdateSubscriptionParams) (*domain.ProviderSnapshot, error) {
	current, err := g.client.Subscriptions.Get(params.SubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		logStripeError(g.log, "GetSubscription", err)
		return nil, fmt.Errorf("stripe: failed to get subscription for update: %w", err)
	}
	if len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("stripe: subscription %s has no items", params.SubscriptionID)
	}

	quantity := params.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	updateParams := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(current.Items.Data[0].ID),
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		Params: stripe.Params{Context: ctx},
	}
	if params.ProrationBehavior != "" {
		updateParams.ProrationBehavior = stripe.String(params.ProrationBehavior)
	}
	if params.IdempotencyKey != "" {
		updateParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	sub, err := g.client.Subscriptions.Update(params.SubscriptionID, updateParams)
	if err != nil {
		logStripeError(g.log, "UpdateSubscription", err)
		return nil, fmt.Errorf("stripe: failed to update subscription: %w", err)
	}

	g.log.Infow("Stripe subscription updated", "stripeSubscriptionID", sub.ID, "priceID", params.PriceID)
	return snapshotFromStripe(sub), nil
}

// CancelSubscription отменяет подписку немедленно или в конце периода
func (g *stripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool, idempotencyKey string) (*domain.ProviderSnapshot, error) {
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
			Params:            stripe.Params{Context: ctx},
		}
		if idempotencyKey != "" {
			params.IdempotencyKey = stripe.String(idempotencyKey)
		}
		sub, err := g.client.Subscriptions.Update(subscriptionID, params)
		if err != nil {
			logStripeError(g.log, "CancelSubscriptionAtPeriodEnd", err)
			return nil, fmt.Errorf("stripe: failed to schedule subscription cancel: %w", err)
		}
		g.log.Infow("Stripe subscription scheduled for cancellation", "stripeSubscriptionID", sub.ID)
		return snapshotFromStripe(sub), nil
	}

	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	sub, err := g.client.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			g.log.Warnw("Attempted to cancel already canceled/missing Stripe subscription", "stripeSubscriptionID", subscriptionID)
			return g.RetrieveSubscription(ctx, subscriptionID)
		}
		logStripeError(g.log, "CancelSubscription", err)
		return nil, fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}

	g.log.Infow("Stripe subscription canceled", "stripeSubscriptionID", sub.ID)
	return snapshotFromStripe(sub), nil
}

// ResumeSubscription снимает запланированную отмену в конце периода
func (g *stripeGateway) ResumeSubscription(ctx context.Context, subscriptionID, idempotencyKey string) (*domain.ProviderSnapshot, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
		Params:            stripe.Params{Context: ctx},
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	sub, err := g.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		logStripeError(g.log, "ResumeSubscription", err)
		return nil, fmt.Errorf("stripe: failed to resume subscription: %w", err)
	}

	g.log.Infow("Stripe subscription resumed", "stripeSubscriptionID", sub.ID)
	return snapshotFromStripe(sub), nil
}

// RetrieveSubscription возвращает актуальный снимок подписки у провайдера
func (g *stripeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*domain.ProviderSnapshot, error) {
	sub, err := g.client.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		logStripeError(g.log, "RetrieveSubscription", err)
		return nil, fmt.Errorf("stripe: failed to retrieve subscription: %w", err)
	}
	return snapshotFromStripe(sub), nil
}

// RetrieveCustomer возвращает клиента провайдера с метаданными
func (g *stripeGateway) RetrieveCustomer(ctx context.Context, customerID string) (*domain.ProviderCustomer, error) {
	cus, err := g.client.Customers.Get(customerID, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		logStripeError(g.log, "RetrieveCustomer", err)
		return nil, fmt.Errorf("stripe: failed to retrieve customer: %w", err)
	}
	return &domain.ProviderCustomer{ID: cus.ID, Metadata: cus.Metadata}, nil
}

// VerifyWebhook проверяет подпись Stripe-Signature и разбирает конверт события
func (g *stripeGateway) VerifyWebhook(payload []byte, sigHeader string) (*domain.WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		g.log.Warnw("Webhook signature verification failed", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	return &domain.WebhookEvent{
		ID:     event.ID,
		Type:   string(event.Type),
		Object: event.Data.Raw,
		Raw:    payload,
	}, nil
}

// snapshotFromStripe нормализует объект подписки Stripe в снимок провайдера
func snapshotFromStripe(sub *stripe.Subscription) *domain.ProviderSnapshot {
	snap := &domain.ProviderSnapshot{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialEnd:           sub.TrialEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	return snap
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *zap.SugaredLogger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
