package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
)

type memUsageRepo struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

func (r *memUsageRepo) Record(_ context.Context, rec *domain.UsageRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.SourceID != nil {
		for _, existing := range r.records {
			if existing.SourceID != nil && *existing.SourceID == *rec.SourceID &&
				existing.AccountID == rec.AccountID && existing.MetricKey == rec.MetricKey {
				return false, nil
			}
		}
	}
	r.records = append(r.records, *rec)
	return true, nil
}

func (r *memUsageRepo) SummarizeWindow(_ context.Context, tenantID, accountID string, from, to time.Time) ([]domain.UsageTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := map[string]float64{}
	for _, rec := range r.records {
		if rec.TenantID != tenantID || rec.AccountID != accountID {
			continue
		}
		if rec.OccurredAt.Before(from) || !rec.OccurredAt.Before(to) {
			continue
		}
		totals[rec.MetricKey] += rec.Quantity
	}
	var out []domain.UsageTotal
	for key, total := range totals {
		out = append(out, domain.UsageTotal{MetricKey: key, Total: total})
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestRecordValidation(t *testing.T) {
	svc := NewUsageService(&memUsageRepo{}, newMemSubscriptionRepo(), zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := svc.Record(ctx, &domain.UsageRecord{TenantID: "acme", MetricKey: "api_calls", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Record(ctx, &domain.UsageRecord{TenantID: "acme", AccountID: "a1", MetricKey: "api_calls"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecordDeduplicatesBySource(t *testing.T) {
	svc := NewUsageService(&memUsageRepo{}, newMemSubscriptionRepo(), zap.NewNop().Sugar())
	ctx := context.Background()

	rec := &domain.UsageRecord{
		TenantID:   "acme",
		AccountID:  "a1",
		MetricKey:  "api_calls",
		Quantity:   10,
		SourceID:   strPtr("evt-1"),
		OccurredAt: time.Now().UTC(),
	}

	created, err := svc.Record(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	again, err := svc.Record(ctx, rec)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestSummarizeDerivesWindowFromSubscription(t *testing.T) {
	usage := &memUsageRepo{}
	subs := newMemSubscriptionRepo()
	svc := NewUsageService(usage, subs, zap.NewNop().Sugar())
	ctx := context.Background()

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, subs.Create(ctx, &domain.Subscription{
		TenantID:           "acme",
		AccountID:          "a1",
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}))

	inWindow := &domain.UsageRecord{TenantID: "acme", AccountID: "a1", MetricKey: "api_calls", Quantity: 5, OccurredAt: start.Add(time.Hour)}
	outOfWindow := &domain.UsageRecord{TenantID: "acme", AccountID: "a1", MetricKey: "api_calls", Quantity: 7, OccurredAt: end.Add(time.Hour)}
	_, err := svc.Record(ctx, inWindow)
	require.NoError(t, err)
	_, err = svc.Record(ctx, outOfWindow)
	require.NoError(t, err)

	summary, err := svc.Summarize(ctx, "acme", "a1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, start, summary.WindowStart)
	assert.Equal(t, end, summary.WindowEnd)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, 5.0, summary.Items[0].Total)
}

func TestSummarizeWithoutSubscriptionRequiresExplicitWindow(t *testing.T) {
	svc := NewUsageService(&memUsageRepo{}, newMemSubscriptionRepo(), zap.NewNop().Sugar())

	_, err := svc.Summarize(context.Background(), "acme", "a1", nil, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
