package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
)

// FakeGateway детерминированная in-memory реализация PaymentGateway для
// локальной разработки и тестов. Не ходит в сеть и не проверяет подписи.
type FakeGateway struct {
	mu sync.Mutex

	customers     map[string]*domain.ProviderCustomer
	subscriptions map[string]*domain.ProviderSnapshot

	customerSeq int
	subSeq      int
	sessionSeq  int

	log *zap.SugaredLogger
}

// NewFakeGateway создает новый фейковый шлюз
func NewFakeGateway(log *zap.SugaredLogger) *FakeGateway {
	return &FakeGateway{
		customers:     make(map[string]*domain.ProviderCustomer),
		subscriptions: make(map[string]*domain.ProviderSnapshot),
		log:           log,
	}
}

// EnsureCustomer возвращает существующего клиента по (tenant, account) или создает нового
func (g *FakeGateway) EnsureCustomer(_ context.Context, params EnsureCustomerParams) (*domain.ProviderCustomer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, cus := range g.customers {
		if cus.Metadata[metadataTenantIDKey] == params.TenantID && cus.Metadata[metadataAccountIDKey] == params.AccountID {
			return cus, nil
		}
	}

	g.customerSeq++
	cus := &domain.ProviderCustomer{
		ID: fmt.Sprintf("cus_test_%d", g.customerSeq),
		Metadata: map[string]string{
			metadataTenantIDKey:  params.TenantID,
			metadataAccountIDKey: params.AccountID,
		},
	}
	g.customers[cus.ID] = cus
	g.log.Debugw("Fake customer created", "customerID", cus.ID)
	return cus, nil
}

// CreateCheckoutSession создает сессию и сразу подписку в статусе incomplete:
// завершение checkout приходит позже вебхуком checkout.session.completed
func (g *FakeGateway) CreateCheckoutSession(_ context.Context, params CheckoutParams) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sessionSeq++
	sessionID := fmt.Sprintf("cs_test_%d", g.sessionSeq)
	return &CheckoutSession{
		ID:  sessionID,
		URL: fmt.Sprintf("https://checkout.fake.local/pay/%s", sessionID),
	}, nil
}

// CreateSubscription создает подписку сразу в активном или триальном статусе
func (g *FakeGateway) CreateSubscription(_ context.Context, params CreateSubscriptionParams) (*domain.ProviderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.newSubscriptionLocked(params.CustomerID, params.TrialDays, params.Metadata)
	g.log.Debugw("Fake subscription created", "subscriptionID", snap.ID, "status", snap.Status)
	return cloneSnapshot(snap), nil
}

// UpdateSubscription меняет позицию подписки; фейк хранит только метаданные снимка
func (g *FakeGateway) UpdateSubscription(_ context.Context, params UpdateSubscriptionParams) (*domain.ProviderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.ensureSubLocked(params.SubscriptionID)
	return cloneSnapshot(snap), nil
}

// CancelSubscription отменяет подписку немедленно или помечает отмену в конце периода
func (g *FakeGateway) CancelSubscription(_ context.Context, subscriptionID string, atPeriodEnd bool, _ string) (*domain.ProviderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.ensureSubLocked(subscriptionID)
	if atPeriodEnd {
		snap.CancelAtPeriodEnd = true
	} else {
		snap.Status = "canceled"
		snap.CancelAtPeriodEnd = false
	}
	return cloneSnapshot(snap), nil
}

// ResumeSubscription снимает флаг отмены в конце периода
func (g *FakeGateway) ResumeSubscription(_ context.Context, subscriptionID, _ string) (*domain.ProviderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.ensureSubLocked(subscriptionID)
	snap.CancelAtPeriodEnd = false
	return cloneSnapshot(snap), nil
}

// RetrieveSubscription возвращает снимок; неизвестный id синтезируется как активный
func (g *FakeGateway) RetrieveSubscription(_ context.Context, subscriptionID string) (*domain.ProviderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return cloneSnapshot(g.ensureSubLocked(subscriptionID)), nil
}

// RetrieveCustomer возвращает клиента по id
func (g *FakeGateway) RetrieveCustomer(_ context.Context, customerID string) (*domain.ProviderCustomer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cus, ok := g.customers[customerID]; ok {
		return cus, nil
	}
	return &domain.ProviderCustomer{ID: customerID, Metadata: map[string]string{}}, nil
}

// VerifyWebhook в фейковом режиме не проверяет подпись, только разбирает конверт
func (g *FakeGateway) VerifyWebhook(payload []byte, _ string) (*domain.WebhookEvent, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: event is not valid JSON: %v", domain.ErrMalformedEvent, err)
	}
	if envelope.ID == "" || envelope.Type == "" {
		return nil, fmt.Errorf("%w: event missing id or type", domain.ErrMalformedEvent)
	}

	return &domain.WebhookEvent{
		ID:     envelope.ID,
		Type:   envelope.Type,
		Object: envelope.Data.Object,
		Raw:    payload,
	}, nil
}

// newSubscriptionLocked создает снимок подписки с 30-дневным периодом
func (g *FakeGateway) newSubscriptionLocked(customerID string, trialDays int64, metadata map[string]string) *domain.ProviderSnapshot {
	g.subSeq++
	now := time.Now().UTC()

	snap := &domain.ProviderSnapshot{
		ID:                 fmt.Sprintf("sub_test_%d", g.subSeq),
		Status:             "active",
		CurrentPeriodStart: now.Unix(),
		CurrentPeriodEnd:   now.AddDate(0, 0, 30).Unix(),
		CustomerID:         customerID,
		Metadata:           map[string]string{},
	}
	for k, v := range metadata {
		snap.Metadata[k] = v
	}
	if trialDays > 0 {
		snap.Status = "trialing"
		snap.TrialEnd = now.AddDate(0, 0, int(trialDays)).Unix()
	}

	g.subscriptions[snap.ID] = snap
	return snap
}

// ensureSubLocked возвращает снимок по id, синтезируя его для неизвестных id,
// чтобы сценарии с вебхуками от "чужих" подписок были воспроизводимы
func (g *FakeGateway) ensureSubLocked(subscriptionID string) *domain.ProviderSnapshot {
	if snap, ok := g.subscriptions[subscriptionID]; ok {
		return snap
	}
	now := time.Now().UTC()
	snap := &domain.ProviderSnapshot{
		ID:                 subscriptionID,
		Status:             "active",
		CurrentPeriodStart: now.Unix(),
		CurrentPeriodEnd:   now.AddDate(0, 0, 30).Unix(),
		Metadata:           map[string]string{},
	}
	g.subscriptions[subscriptionID] = snap
	return snap
}

func cloneSnapshot(snap *domain.ProviderSnapshot) *domain.ProviderSnapshot {
	out := *snap
	out.Metadata = make(map[string]string, len(snap.Metadata))
	for k, v := range snap.Metadata {
		out.Metadata[k] = v
	}
	return &out
}
