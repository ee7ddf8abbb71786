package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/engine"
	"github.com/Kovheren/billing-service/internal/repository"
)

// EntitlementCache кэш вычисленных прав доступа
type EntitlementCache interface {
	GetCachedEntitlement(ctx context.Context, tenantID, accountID, feature string) (*domain.Entitlement, error)
	CacheEntitlement(ctx context.Context, ent *domain.Entitlement) error
}

// EntitlementService вычисляет права доступа аккаунта к фичам по последней
// активной подписке и политике ее плана. Результат кэшируется в Redis;
// мутации подписок инвалидируют кэш.
type EntitlementService struct {
	subs    repository.SubscriptionRepository
	configs repository.ConfigRepository
	cache   EntitlementCache
	log     *zap.SugaredLogger
}

// NewEntitlementService создает новый сервис прав доступа
func NewEntitlementService(
	subs repository.SubscriptionRepository,
	configs repository.ConfigRepository,
	cache EntitlementCache,
	log *zap.SugaredLogger,
) *EntitlementService {
	return &EntitlementService{subs: subs, configs: configs, cache: cache, log: log}
}

// Check возвращает право доступа аккаунта к фиче
func (s *EntitlementService) Check(ctx context.Context, tenantID, accountID, feature string) (*domain.Entitlement, error) {
	if accountID == "" || feature == "" {
		return nil, fmt.Errorf("%w: accountId and feature are required", domain.ErrValidation)
	}

	if s.cache != nil {
		cached, err := s.cache.GetCachedEntitlement(ctx, tenantID, accountID, feature)
		if err != nil {
			s.log.Warnw("Entitlement cache read failed", "error", err, "tenantID", tenantID)
		} else if cached != nil {
			return cached, nil
		}
	}

	sub, err := s.latestRelevantSubscription(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	cv, err := s.configs.GetLatest(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no config published for this tenant", domain.ErrValidation)
		}
		return nil, err
	}
	cfg, err := cv.Parse()
	if err != nil {
		return nil, err
	}
	plan, err := cfg.FindPlan(sub.PlanCode)
	if err != nil {
		return nil, err
	}

	bundle := engine.BuildBundle(plan)
	ent := &domain.Entitlement{
		TenantID:  tenantID,
		AccountID: accountID,
		Feature:   feature,
		Entitled:  bundle.IsEntitled(feature, plan.Features),
		PlanCode:  sub.PlanCode,
		AsOf:      time.Now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.CacheEntitlement(ctx, ent); err != nil {
			s.log.Warnw("Entitlement cache write failed", "error", err, "tenantID", tenantID)
		}
	}
	return ent, nil
}

// latestRelevantSubscription возвращает последнюю подписку аккаунта,
// предпочитая не-отмененные
func (s *EntitlementService) latestRelevantSubscription(ctx context.Context, tenantID, accountID string) (*domain.Subscription, error) {
	subs, err := s.subs.ListForAccount(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, repository.ErrNotFound
	}
	for i := range subs {
		if !subs[i].Status.IsTerminal() {
			return &subs[i], nil
		}
	}
	return &subs[0], nil
}
