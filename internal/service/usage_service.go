package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/repository"
)

// UsageSummary агрегированное потребление аккаунта за окно
type UsageSummary struct {
	TenantID    string              `json:"tenantId"`
	AccountID   string              `json:"accountId"`
	WindowStart time.Time           `json:"windowStart"`
	WindowEnd   time.Time           `json:"windowEnd"`
	Items       []domain.UsageTotal `json:"items"`
}

// UsageService принимает события потребления и агрегирует их по
// биллинговому окну подписки
type UsageService struct {
	usage repository.UsageRepository
	subs  repository.SubscriptionRepository
	log   *zap.SugaredLogger
}

// NewUsageService создает новый сервис потребления
func NewUsageService(usage repository.UsageRepository, subs repository.SubscriptionRepository, log *zap.SugaredLogger) *UsageService {
	return &UsageService{usage: usage, subs: subs, log: log}
}

// Record сохраняет событие потребления. Повтор sourceId для
// (tenant, account, metric) схлопывается, created=false.
func (s *UsageService) Record(ctx context.Context, rec *domain.UsageRecord) (bool, error) {
	if rec.AccountID == "" || rec.MetricKey == "" {
		return false, fmt.Errorf("%w: accountId and metricKey are required", domain.ErrValidation)
	}
	if rec.Quantity <= 0 {
		return false, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}

	created, err := s.usage.Record(ctx, rec)
	if err != nil {
		return false, err
	}
	if !created {
		s.log.Debugw("Duplicate usage event skipped", "tenantID", rec.TenantID, "sourceID", rec.SourceID)
	}
	return created, nil
}

// Summarize агрегирует потребление за окно [from, to). Отсутствующие границы
// берутся из текущего периода последней не-отмененной подписки аккаунта.
func (s *UsageService) Summarize(ctx context.Context, tenantID, accountID string, from, to *time.Time) (*UsageSummary, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountId is required", domain.ErrValidation)
	}

	if from == nil || to == nil {
		subs, err := s.subs.ListForAccount(ctx, tenantID, accountID)
		if err != nil {
			return nil, err
		}
		var pick *domain.Subscription
		for i := range subs {
			if !subs[i].Status.IsTerminal() {
				pick = &subs[i]
				break
			}
		}
		if pick == nil && len(subs) > 0 {
			pick = &subs[0]
		}
		if pick == nil || pick.CurrentPeriodStart == nil || pick.CurrentPeriodEnd == nil {
			return nil, fmt.Errorf("%w: provide start/end or ensure subscription has current period", domain.ErrValidation)
		}
		from = pick.CurrentPeriodStart
		to = pick.CurrentPeriodEnd
	}

	items, err := s.usage.SummarizeWindow(ctx, tenantID, accountID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}

	return &UsageSummary{
		TenantID:    tenantID,
		AccountID:   accountID,
		WindowStart: from.UTC(),
		WindowEnd:   to.UTC(),
		Items:       items,
	}, nil
}
