package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySnapshotOverwritesFinancialFields(t *testing.T) {
	now := time.Now().UTC()
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	sub := &Subscription{
		Status:             SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		TrialEndAt:         &end,
		CancelAtPeriodEnd:  true,
	}

	sub.ApplySnapshot(&ProviderSnapshot{
		ID:                 "sub_1",
		Status:             "past_due",
		CurrentPeriodStart: 1700000000,
		CurrentPeriodEnd:   1702592000,
	})

	assert.Equal(t, SubscriptionStatusPastDue, sub.Status)
	require.NotNil(t, sub.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *sub.StripeSubscriptionID)
	require.NotNil(t, sub.CurrentPeriodStart)
	assert.Equal(t, int64(1700000000), sub.CurrentPeriodStart.Unix())
	// Отсутствующие в снимке поля обнуляются, а не сохраняются
	assert.Nil(t, sub.TrialEndAt)
	assert.False(t, sub.CancelAtPeriodEnd)
}

func TestApplySnapshotKeepsIdentityFields(t *testing.T) {
	sub := &Subscription{
		TenantID:  "acme",
		AccountID: "acct-1",
		PlanCode:  "pro",
		Quantity:  3,
	}

	sub.ApplySnapshot(&ProviderSnapshot{ID: "sub_1", Status: "active"})

	assert.Equal(t, "acme", sub.TenantID)
	assert.Equal(t, "acct-1", sub.AccountID)
	assert.Equal(t, "pro", sub.PlanCode)
	assert.Equal(t, 3, sub.Quantity)
}

func TestApplySnapshotNilIsNoop(t *testing.T) {
	sub := &Subscription{Status: SubscriptionStatusActive}
	sub.ApplySnapshot(nil)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, SubscriptionStatusCanceled.IsTerminal())
	assert.False(t, SubscriptionStatusActive.IsTerminal())
	assert.False(t, SubscriptionStatusPastDue.IsTerminal())
	assert.False(t, SubscriptionStatusPending.IsTerminal())
}
