package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PaymentEventRepository интерфейс журнала дедупликации событий провайдера.
// Уникальное ограничение (provider, event_id) позволяет отличить
// "я выиграл гонку" от "событие уже обработано".
type PaymentEventRepository interface {
	Exists(ctx context.Context, provider, eventID string) (bool, error)
	RecordIfNew(ctx context.Context, provider, eventID, tenantID, eventType string, payload []byte) (bool, error)
}

type postgresPaymentEventRepo struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewPostgresPaymentEventRepository создает новый репозиторий журнала событий
func NewPostgresPaymentEventRepository(db *sqlx.DB, log *zap.SugaredLogger) PaymentEventRepository {
	return &postgresPaymentEventRepo{db: db, log: log}
}

// Exists проверяет, было ли событие уже записано
func (r *postgresPaymentEventRepo) Exists(ctx context.Context, provider, eventID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM payment_events WHERE provider = $1 AND event_id = $2)`

	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &exists, query, provider, eventID); err != nil {
		r.log.Errorw("Failed to check payment event existence", "error", err, "provider", provider, "eventID", eventID)
		return false, fmt.Errorf("repository: failed to check payment event: %w", err)
	}
	return exists, nil
}

// RecordIfNew вставляет событие, если его еще нет.
// Возвращает false для дубликата - вызывающий код обязан тогда
// не выполнять никаких мутаций зеркала.
func (r *postgresPaymentEventRepo) RecordIfNew(ctx context.Context, provider, eventID, tenantID, eventType string, payload []byte) (bool, error) {
	query := `
        INSERT INTO payment_events (id, tenant_id, provider, event_id, event_type, payload, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, now())
        ON CONFLICT (provider, event_id) DO NOTHING`

	result, err := ext(ctx, r.db).ExecContext(ctx, query, uuid.New(), tenantID, provider, eventID, eventType, payload)
	if err != nil {
		r.log.Errorw("Failed to record payment event", "error", err, "provider", provider, "eventID", eventID)
		return false, fmt.Errorf("repository: failed to record payment event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}
