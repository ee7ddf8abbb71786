package engine

import (
	"context"
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

type memConfigRepo struct {
	latest *domain.ConfigVersion
}

func (r *memConfigRepo) Create(_ context.Context, cv *domain.ConfigVersion) error {
	if cv.ID == uuid.Nil {
		cv.ID = uuid.New()
	}
	r.latest = cv
	return nil
}

func (r *memConfigRepo) GetLatest(_ context.Context, tenantID string) (*domain.ConfigVersion, error) {
	if r.latest == nil || r.latest.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return r.latest, nil
}

func (r *memConfigRepo) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*domain.ConfigVersion, error) {
	if r.latest == nil || r.latest.ID != id {
		return nil, repository.ErrNotFound
	}
	return r.latest, nil
}

func (r *memConfigRepo) ListVersions(_ context.Context, tenantID string) ([]domain.ConfigVersion, error) {
	if r.latest == nil {
		return nil, nil
	}
	return []domain.ConfigVersion{*r.latest}, nil
}

// nopTxManager исполняет функцию без настоящей транзакции
type nopTxManager struct{}

func (nopTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

const testConfigJSON = `{
  "currency": "usd",
  "plans": [
    {
      "code": "pro",
      "cadence": "monthly",
      "price": 49,
      "trialDays": 0,
      "billing": {"priceId": "price_pro"},
      "features": {"seats": 5, "limits": {"api_calls": 1000}}
    },
    {
      "code": "team",
      "cadence": "monthly",
      "price": 199,
      "trialDays": 14,
      "billing": {"priceId": "price_team"},
      "strategies": {"InvoicingStrategy": "invoice-on-change"},
      "features": {"seats": 25, "limits": {"api_calls": 100000}}
    }
  ]
}`

func newTestEngine(t *testing.T) (*Engine, *memSubscriptionRepo) {
	t.Helper()
	log := zap.NewNop().Sugar()

	configs := &memConfigRepo{latest: &domain.ConfigVersion{
		ID:           uuid.New(),
		TenantID:     "acme",
		VersionLabel: "v1",
		Data:         []byte(testConfigJSON),
	}}
	subs := newMemSubscriptionRepo()
	gateway := stripe.NewFakeGateway(log)

	eng := NewEngine(subs, configs, nopTxManager{}, gateway, nil, nil, nil, log)
	return eng, subs
}

func boolPtr(b bool) *bool { return &b }

func TestCreateDirectFlowAppliesProviderSnapshot(t *testing.T) {
	eng, _ := newTestEngine(t)

	sub, err := eng.Create(context.Background(), "acme", CreateCommand{
		AccountID:      "acct-1",
		PlanCode:       "pro",
		Quantity:       1,
		Checkout:       boolPtr(false),
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.StripeSubscriptionID)
	require.NotNil(t, sub.StripeCustomerID)
	assert.NotNil(t, sub.CurrentPeriodStart)
	assert.NotNil(t, sub.CurrentPeriodEnd)
	assert.Nil(t, sub.CheckoutURL)
}

func TestCreateCheckoutFlowStaysPending(t *testing.T) {
	eng, subs := newTestEngine(t)

	sub, err := eng.Create(context.Background(), "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "pro",
		Quantity:  1,
	})
	require.NoError(t, err)

	// До подтверждения вебхуком локальная строка остается pending
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
	assert.Nil(t, sub.StripeSubscriptionID)
	require.NotNil(t, sub.CheckoutURL)
	assert.Contains(t, *sub.CheckoutURL, "checkout.fake.local")

	stored, err := subs.GetByID(context.Background(), "acme", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, stored.Status)
}

func TestCreateTrialPlanIsTrialing(t *testing.T) {
	eng, _ := newTestEngine(t)

	sub, err := eng.Create(context.Background(), "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "team",
		Quantity:  1,
		Checkout:  boolPtr(false),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusTrialing, sub.Status)
	assert.NotNil(t, sub.TrialEndAt)
}

func TestCreateRejectsUnknownPlan(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Create(context.Background(), "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "enterprise",
		Quantity:  1,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateRejectsZeroQuantity(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Create(context.Background(), "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "pro",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateRejectsTenantWithoutConfig(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Create(context.Background(), "globex", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "pro",
		Quantity:  1,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestChangePlanRequiresProviderSubscription(t *testing.T) {
	eng, _ := newTestEngine(t)

	// Checkout-поток: провайдерская подписка еще не привязана
	sub, err := eng.Create(context.Background(), "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "pro",
		Quantity:  1,
	})
	require.NoError(t, err)

	_, err = eng.ChangePlan(context.Background(), "acme", sub.ID, ChangePlanCommand{
		PlanCode: "team",
		Quantity: 1,
	})
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
}

func TestChangePlanUpdatesLocalMirror(t *testing.T) {
	eng, _ := newTestEngine(t)

	sub, err := eng.Create(context.Background(), "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "pro",
		Quantity:  1,
		Checkout:  boolPtr(false),
	})
	require.NoError(t, err)

	changed, err := eng.ChangePlan(context.Background(), "acme", sub.ID, ChangePlanCommand{
		PlanCode: "team",
		Quantity: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "team", changed.PlanCode)
	assert.Equal(t, 3, changed.Quantity)
}

func TestCancelImmediateAndAtPeriodEnd(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	sub, err := eng.Create(ctx, "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "pro",
		Quantity:  1,
		Checkout:  boolPtr(false),
	})
	require.NoError(t, err)

	scheduled, err := eng.Cancel(ctx, "acme", sub.ID, true, "k-cancel")
	require.NoError(t, err)
	assert.True(t, scheduled.CancelAtPeriodEnd)
	assert.Equal(t, domain.SubscriptionStatusActive, scheduled.Status)

	resumed, err := eng.Resume(ctx, "acme", sub.ID, "k-resume")
	require.NoError(t, err)
	assert.False(t, resumed.CancelAtPeriodEnd)

	canceled, err := eng.Cancel(ctx, "acme", sub.ID, false, "k-cancel-2")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, canceled.Status)
}

func TestCancelUnknownSubscription(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Cancel(context.Background(), "acme", uuid.New(), false, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetByIDIsTenantScoped(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	sub, err := eng.Create(ctx, "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "pro",
		Quantity:  1,
		Checkout:  boolPtr(false),
	})
	require.NoError(t, err)

	_, err = eng.GetByID(ctx, "globex", sub.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProviderToken(t *testing.T) {
	assert.Equal(t, "acme:k1:cancel", providerToken("acme", "k1", "cancel"))
	assert.Empty(t, providerToken("acme", "", "cancel"))
}

func TestResumeRejectsCanceledSubscription(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	sub, err := eng.Create(ctx, "acme", CreateCommand{
		AccountID: "acct-1",
		PlanCode:  "pro",
		Quantity:  1,
		Checkout:  boolPtr(false),
	})
	require.NoError(t, err)

	_, err = eng.Cancel(ctx, "acme", sub.ID, false, "")
	require.NoError(t, err)

	_, err = eng.Resume(ctx, "acme", sub.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}
