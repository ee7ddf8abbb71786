package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
)

// SubscriptionRepository интерфейс репозитория для работы с подписками
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)
	ListForAccount(ctx context.Context, tenantID, accountID string) ([]domain.Subscription, error)
	Update(ctx context.Context, sub *domain.Subscription) error
}

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewPostgresSubscriptionRepository создает новый экземпляр репозитория подписок
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *zap.SugaredLogger) SubscriptionRepository {
	return &postgresSubscriptionRepo{db: db, log: log}
}

const subscriptionColumns = `
    id, tenant_id, account_id, plan_code, quantity, status, config_version_id,
    stripe_customer_id, stripe_subscription_id,
    current_period_start, current_period_end, trial_end_at,
    cancel_at_period_end, checkout_url, metadata, created_at, updated_at`

// Create сохраняет новую подписку
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	query := `
        INSERT INTO subscriptions (
            id, tenant_id, account_id, plan_code, quantity, status, config_version_id,
            stripe_customer_id, stripe_subscription_id,
            current_period_start, current_period_end, trial_end_at,
            cancel_at_period_end, checkout_url, metadata, created_at, updated_at
        ) VALUES (
            :id, :tenant_id, :account_id, :plan_code, :quantity, :status, :config_version_id,
            :stripe_customer_id, :stripe_subscription_id,
            :current_period_start, :current_period_end, :trial_end_at,
            :cancel_at_period_end, :checkout_url, :metadata, :created_at, :updated_at
        )`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, sub); err != nil {
		r.log.Errorw("Failed to create subscription in DB", "error", err, "tenantID", sub.TenantID, "accountID", sub.AccountID)
		return fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Created subscription in DB", "subscriptionID", sub.ID, "tenantID", sub.TenantID)
	return nil
}

// GetByID возвращает подписку по локальному ID в рамках тенанта
func (r *postgresSubscriptionRepo) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = $1 AND id = $2`

	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &sub, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by ID", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("repository: failed to get subscription by ID: %w", err)
	}
	return &sub, nil
}

// GetByStripeID возвращает подписку по Stripe subscription ID.
// Поиск не ограничен тенантом: вебхуки разрешают владельца по самой записи.
func (r *postgresSubscriptionRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`

	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &sub, query, stripeSubscriptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by Stripe ID", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return nil, fmt.Errorf("repository: failed to get subscription by stripe ID: %w", err)
	}
	return &sub, nil
}

// ListForAccount возвращает подписки аккаунта, новые первыми
func (r *postgresSubscriptionRepo) ListForAccount(ctx context.Context, tenantID, accountID string) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE tenant_id = $1 AND account_id = $2
        ORDER BY created_at DESC`

	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &subs, query, tenantID, accountID); err != nil {
		r.log.Errorw("Failed to list subscriptions for account", "error", err, "tenantID", tenantID, "accountID", accountID)
		return nil, fmt.Errorf("repository: failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// Update перезаписывает изменяемые поля подписки
func (r *postgresSubscriptionRepo) Update(ctx context.Context, sub *domain.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	query := `
        UPDATE subscriptions SET
            plan_code = :plan_code,
            quantity = :quantity,
            status = :status,
            config_version_id = :config_version_id,
            stripe_customer_id = :stripe_customer_id,
            stripe_subscription_id = :stripe_subscription_id,
            current_period_start = :current_period_start,
            current_period_end = :current_period_end,
            trial_end_at = :trial_end_at,
            cancel_at_period_end = :cancel_at_period_end,
            checkout_url = :checkout_url,
            metadata = :metadata,
            updated_at = :updated_at
        WHERE id = :id`

	result, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, sub)
	if err != nil {
		r.log.Errorw("Failed to update subscription in DB", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		r.log.Warnw("Subscription update affected 0 rows", "subscriptionID", sub.ID)
		return ErrNotFound
	}
	return nil
}
