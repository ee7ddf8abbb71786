package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "pending"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// IsTerminal возвращает true, если статус финальный
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled
}

// Subscription представляет собой локальное зеркало подписки.
// Финансовые поля (статус, границы периода, флаг отмены) принадлежат
// платежному провайдеру; локальная запись - это кэш, а не источник истины.
type Subscription struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TenantID string    `db:"tenant_id" json:"tenantId"`

	AccountID string `db:"account_id" json:"accountId"`
	PlanCode  string `db:"plan_code" json:"planCode"`
	Quantity  int    `db:"quantity" json:"quantity"`

	Status          SubscriptionStatus `db:"status" json:"status"`
	ConfigVersionID uuid.UUID          `db:"config_version_id" json:"configVersionId"`

	StripeCustomerID     *string `db:"stripe_customer_id" json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID *string `db:"stripe_subscription_id" json:"stripeSubscriptionId,omitempty"`

	// Nullable до первого подтверждения от провайдера (checkout-поток)
	CurrentPeriodStart *time.Time `db:"current_period_start" json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `db:"current_period_end" json:"currentPeriodEnd,omitempty"`
	TrialEndAt         *time.Time `db:"trial_end_at" json:"trialEndAt,omitempty"`

	CancelAtPeriodEnd bool `db:"cancel_at_period_end" json:"cancelAtPeriodEnd"`

	CheckoutURL *string `db:"checkout_url" json:"checkoutUrl,omitempty"`
	Metadata    JSONMap `db:"metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ApplySnapshot полностью перезаписывает финансовые поля из авторитетного
// снапшота провайдера. Никогда не мержит по полям - это защита от
// lost-update между прямым API-путем и путем вебхуков.
func (s *Subscription) ApplySnapshot(snap *ProviderSnapshot) {
	if snap == nil {
		return
	}
	if snap.ID != "" {
		id := snap.ID
		s.StripeSubscriptionID = &id
	}
	if snap.Status != "" {
		s.Status = SubscriptionStatus(snap.Status)
	}
	s.CurrentPeriodStart = timeFromEpoch(snap.CurrentPeriodStart)
	s.CurrentPeriodEnd = timeFromEpoch(snap.CurrentPeriodEnd)
	s.TrialEndAt = timeFromEpoch(snap.TrialEnd)
	s.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
}

// timeFromEpoch переводит epoch-секунды провайдера в *time.Time (0 == нет значения)
func timeFromEpoch(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
