package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/integration/stripe"
	"github.com/Kovheren/billing-service/internal/repository"
)

type memSubscriptionRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]domain.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{byID: make(map[uuid.UUID]domain.Subscription)}
}

func (r *memSubscriptionRepo) Create(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	r.byID[sub.ID] = *sub
	return nil
}

func (r *memSubscriptionRepo) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byID[id]
	if !ok || sub.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	out := sub
	return &out, nil
}

func (r *memSubscriptionRepo) GetByStripeID(_ context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.byID {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == stripeSubscriptionID {
			out := sub
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memSubscriptionRepo) ListForAccount(_ context.Context, tenantID, accountID string) ([]domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range r.byID {
		if sub.TenantID == tenantID && sub.AccountID == accountID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memSubscriptionRepo) Update(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[sub.ID]; !ok {
		return repository.ErrNotFound
	}
	r.byID[sub.ID] = *sub
	return nil
}

type memEventRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{seen: make(map[string]bool)}
}

func (r *memEventRepo) Exists(_ context.Context, provider, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[provider+":"+eventID], nil
}

func (r *memEventRepo) RecordIfNew(_ context.Context, provider, eventID, tenantID, eventType string, payload []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := provider + ":" + eventID
	if r.seen[key] {
		return false, nil
	}
	r.seen[key] = true
	return true, nil
}

type memInvoiceRepo struct {
	mu       sync.Mutex
	byStripe map[string]domain.Invoice
	lines    map[string][]domain.InvoiceLine
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{
		byStripe: make(map[string]domain.Invoice),
		lines:    make(map[string][]domain.InvoiceLine),
	}
}

func (r *memInvoiceRepo) Upsert(_ context.Context, inv *domain.Invoice, lines []domain.InvoiceLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byStripe[inv.StripeInvoiceID]; ok {
		inv.ID = existing.ID
	} else if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	r.byStripe[inv.StripeInvoiceID] = *inv
	r.lines[inv.StripeInvoiceID] = lines
	return nil
}

func (r *memInvoiceRepo) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.byStripe {
		if inv.ID == id && inv.TenantID == tenantID {
			out := inv
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memInvoiceRepo) GetLines(_ context.Context, invoiceID uuid.UUID) ([]domain.InvoiceLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for stripeID, inv := range r.byStripe {
		if inv.ID == invoiceID {
			return r.lines[stripeID], nil
		}
	}
	return nil, nil
}

func (r *memInvoiceRepo) ListForAccount(_ context.Context, tenantID, accountID string, limit, offset int) ([]domain.Invoice, error) {
	return nil, nil
}

type nopTxManager struct{}

func (nopTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type reconcilerFixture struct {
	reconciler *WebhookReconciler
	gateway    *stripe.FakeGateway
	subs       *memSubscriptionRepo
	invoices   *memInvoiceRepo
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	gateway := stripe.NewFakeGateway(log)
	subs := newMemSubscriptionRepo()
	invoices := newMemInvoiceRepo()

	return &reconcilerFixture{
		reconciler: NewWebhookReconciler(gateway, newMemEventRepo(), subs, invoices, nopTxManager{}, nil, nil, nil, log),
		gateway:    gateway,
		subs:       subs,
		invoices:   invoices,
	}
}

func subscriptionEvent(eventID, eventType, subID, status, tenantID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"data": {"object": {
			"id": %q,
			"status": %q,
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"cancel_at_period_end": false,
			"metadata": {"tenant_id": %q}
		}}
	}`, eventID, eventType, subID, status, tenantID))
}

func TestProcessRejectsMalformedEnvelope(t *testing.T) {
	f := newReconcilerFixture(t)

	_, err := f.reconciler.Process(context.Background(), []byte(`{"type": "x"}`), "")
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestProcessRejectsEventWithoutObject(t *testing.T) {
	f := newReconcilerFixture(t)

	_, err := f.reconciler.Process(context.Background(), []byte(`{"id": "evt_1", "type": "customer.subscription.updated"}`), "")
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestProcessRejectsUnresolvableTenant(t *testing.T) {
	f := newReconcilerFixture(t)

	// Без tenant_id в метаданных и без нашей разметки у провайдера
	payload := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_foreign", "status": "active", "metadata": {}}}
	}`)
	_, err := f.reconciler.Process(context.Background(), payload, "")
	assert.ErrorIs(t, err, domain.ErrTenantUnresolved)
}

func TestProcessAppliesSubscriptionSnapshot(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	stripeID := "sub_mirror_1"
	sub := &domain.Subscription{
		TenantID:             "acme",
		AccountID:            "acct-1",
		PlanCode:             "pro",
		Status:               domain.SubscriptionStatusActive,
		StripeSubscriptionID: &stripeID,
	}
	require.NoError(t, f.subs.Create(ctx, sub))

	result, err := f.reconciler.Process(ctx, subscriptionEvent("evt_1", "customer.subscription.updated", stripeID, "past_due", "acme"), "")
	require.NoError(t, err)
	assert.False(t, result.Deduped)

	stored, err := f.subs.GetByID(ctx, "acme", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, stored.Status)
	require.NotNil(t, stored.CurrentPeriodStart)
	assert.Equal(t, int64(1700000000), stored.CurrentPeriodStart.Unix())
}

func TestProcessDeduplicatesRedelivery(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	stripeID := "sub_mirror_2"
	sub := &domain.Subscription{
		TenantID:             "acme",
		AccountID:            "acct-1",
		Status:               domain.SubscriptionStatusActive,
		StripeSubscriptionID: &stripeID,
	}
	require.NoError(t, f.subs.Create(ctx, sub))

	payload := subscriptionEvent("evt_dup", "customer.subscription.updated", stripeID, "past_due", "acme")

	first, err := f.reconciler.Process(ctx, payload, "")
	require.NoError(t, err)
	assert.False(t, first.Deduped)

	second, err := f.reconciler.Process(ctx, payload, "")
	require.NoError(t, err)
	assert.True(t, second.Deduped)
}

func TestProcessDeletedForcesCanceled(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	stripeID := "sub_mirror_3"
	sub := &domain.Subscription{
		TenantID:             "acme",
		AccountID:            "acct-1",
		Status:               domain.SubscriptionStatusActive,
		StripeSubscriptionID: &stripeID,
	}
	require.NoError(t, f.subs.Create(ctx, sub))

	// Payload удаления без терминального статуса
	_, err := f.reconciler.Process(ctx, subscriptionEvent("evt_del", "customer.subscription.deleted", stripeID, "active", "acme"), "")
	require.NoError(t, err)

	stored, err := f.subs.GetByID(ctx, "acme", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, stored.Status)
}

func TestProcessUnknownSubscriptionIsRecordedWithoutMutation(t *testing.T) {
	f := newReconcilerFixture(t)

	result, err := f.reconciler.Process(context.Background(),
		subscriptionEvent("evt_unknown", "customer.subscription.updated", "sub_not_ours", "active", "acme"), "")
	require.NoError(t, err)
	assert.False(t, result.Deduped)
}

func TestProcessUnknownEventTypeIsDedupedOnly(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	payload := []byte(`{
		"id": "evt_odd",
		"type": "customer.updated",
		"data": {"object": {"id": "cus_1", "metadata": {"tenant_id": "acme"}}}
	}`)

	first, err := f.reconciler.Process(ctx, payload, "")
	require.NoError(t, err)
	assert.False(t, first.Deduped)

	second, err := f.reconciler.Process(ctx, payload, "")
	require.NoError(t, err)
	assert.True(t, second.Deduped)
}

func TestProcessCheckoutCompletedAttachesPendingSubscription(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	local := &domain.Subscription{
		TenantID:  "acme",
		AccountID: "acct-1",
		PlanCode:  "pro",
		Status:    domain.SubscriptionStatusPending,
	}
	require.NoError(t, f.subs.Create(ctx, local))

	// Подписка на стороне провайдера с нашей разметкой
	snap, err := f.gateway.CreateSubscription(ctx, stripe.CreateSubscriptionParams{
		CustomerID: "cus_1",
		Metadata: map[string]string{
			"tenant_id":             "acme",
			"account_id":            "acct-1",
			"subscription_local_id": local.ID.String(),
		},
	})
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_checkout",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"subscription": %q,
			"metadata": {"tenant_id": "acme", "subscription_local_id": %q}
		}}
	}`, snap.ID, local.ID))

	result, err := f.reconciler.Process(ctx, payload, "")
	require.NoError(t, err)
	assert.False(t, result.Deduped)

	stored, err := f.subs.GetByID(ctx, "acme", local.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
	require.NotNil(t, stored.StripeSubscriptionID)
	assert.Equal(t, snap.ID, *stored.StripeSubscriptionID)
}

func TestProcessInvoiceMirrorsAmountsFromCents(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	payload := []byte(`{
		"id": "evt_inv",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_1",
			"status": "paid",
			"currency": "usd",
			"subtotal": 4900,
			"total": 4900,
			"hosted_invoice_url": "https://invoice.fake.local/in_1",
			"period_start": 1700000000,
			"period_end": 1702592000,
			"metadata": {"tenant_id": "acme"},
			"lines": {"data": [
				{"type": "subscription", "quantity": 2, "amount": 9800,
				 "price": {"unit_amount": 4900, "nickname": "api_calls"}}
			]}
		}}
	}`)

	result, err := f.reconciler.Process(ctx, payload, "")
	require.NoError(t, err)
	assert.False(t, result.Deduped)

	f.invoices.mu.Lock()
	inv, ok := f.invoices.byStripe["in_1"]
	lines := f.invoices.lines["in_1"]
	f.invoices.mu.Unlock()

	require.True(t, ok)
	assert.Equal(t, "acme", inv.TenantID)
	assert.Equal(t, "paid", inv.Status)
	require.NotNil(t, inv.Total)
	assert.Equal(t, 4900.0, *inv.Total)

	require.Len(t, lines, 1)
	assert.Equal(t, "subscription", lines[0].LineType)
	assert.Equal(t, 2.0, lines[0].Quantity)
	assert.Equal(t, 49.0, lines[0].UnitPrice)
	assert.Equal(t, 98.0, lines[0].Amount)
	require.NotNil(t, lines[0].FeatureKey)
	assert.Equal(t, "api_calls", *lines[0].FeatureKey)
}

func TestProcessInvoiceRefreshesSubscriptionMirror(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	// Провайдерская подписка известна локально
	snap, err := f.gateway.CreateSubscription(ctx, stripe.CreateSubscriptionParams{
		CustomerID: "cus_1",
		Metadata:   map[string]string{"tenant_id": "acme"},
	})
	require.NoError(t, err)

	sub := &domain.Subscription{
		TenantID:             "acme",
		AccountID:            "acct-1",
		Status:               domain.SubscriptionStatusPastDue,
		StripeSubscriptionID: &snap.ID,
	}
	require.NoError(t, f.subs.Create(ctx, sub))

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_inv_2",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"id": "in_2",
			"subscription": %q,
			"status": "paid",
			"metadata": {"tenant_id": "acme"},
			"lines": {"data": []}
		}}
	}`, snap.ID))

	_, err = f.reconciler.Process(ctx, payload, "")
	require.NoError(t, err)

	stored, err := f.subs.GetByID(ctx, "acme", sub.ID)
	require.NoError(t, err)
	// Снимок провайдера авторитетен: статус перезаписан, не смержен
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
}
