package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
)

// UsageRepository интерфейс репозитория метрируемого потребления
type UsageRepository interface {
	Record(ctx context.Context, rec *domain.UsageRecord) (bool, error)
	SummarizeWindow(ctx context.Context, tenantID, accountID string, from, to time.Time) ([]domain.UsageTotal, error)
}

type postgresUsageRepo struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewPostgresUsageRepository создает новый репозиторий потребления
func NewPostgresUsageRepository(db *sqlx.DB, log *zap.SugaredLogger) UsageRepository {
	return &postgresUsageRepo{db: db, log: log}
}

// Record сохраняет событие потребления. Если задан source_id и такое
// событие уже записано, вставка молча пропускается и возвращается false.
func (r *postgresUsageRepo) Record(ctx context.Context, rec *domain.UsageRecord) (bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	rec.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO usage_records (id, tenant_id, account_id, metric_key, quantity, source_id, occurred_at, metadata, created_at)
        VALUES (:id, :tenant_id, :account_id, :metric_key, :quantity, :source_id, :occurred_at, :metadata, :created_at)
        ON CONFLICT (tenant_id, account_id, metric_key, source_id) DO NOTHING`

	result, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, rec)
	if err != nil {
		r.log.Errorw("Failed to record usage", "error", err, "tenantID", rec.TenantID, "metricKey", rec.MetricKey)
		return false, fmt.Errorf("repository: failed to record usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// SummarizeWindow агрегирует потребление аккаунта по метрикам за окно [from, to)
func (r *postgresUsageRepo) SummarizeWindow(ctx context.Context, tenantID, accountID string, from, to time.Time) ([]domain.UsageTotal, error) {
	totals := []domain.UsageTotal{}
	query := `
        SELECT metric_key, COALESCE(SUM(quantity), 0) AS total
        FROM usage_records
        WHERE tenant_id = $1 AND account_id = $2
          AND occurred_at >= $3 AND occurred_at < $4
        GROUP BY metric_key
        ORDER BY metric_key`

	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &totals, query, tenantID, accountID, from, to); err != nil {
		r.log.Errorw("Failed to summarize usage", "error", err, "tenantID", tenantID, "accountID", accountID)
		return nil, fmt.Errorf("repository: failed to summarize usage: %w", err)
	}
	return totals, nil
}
