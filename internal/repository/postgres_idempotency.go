package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
)

// IdempotencyRepository интерфейс репозитория идемпотентных ключей.
// Атомарность "insert-if-absent" обеспечивается уникальным ограничением
// (tenant_id, key): проигравший гонку insert возвращает created=false.
type IdempotencyRepository interface {
	Get(ctx context.Context, tenantID, key string) (*domain.IdempotencyKey, error)
	CreateInProgress(ctx context.Context, tenantID, key, requestHash string) (bool, error)
	Rearm(ctx context.Context, tenantID, key, requestHash string) (bool, error)
	MarkSucceeded(ctx context.Context, tenantID, key string, responseStatus int, responseBody []byte) error
	MarkFailed(ctx context.Context, tenantID, key string, responseStatus int, responseBody []byte) error
}

type postgresIdempotencyRepo struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewPostgresIdempotencyRepository создает новый репозиторий идемпотентных ключей
func NewPostgresIdempotencyRepository(db *sqlx.DB, log *zap.SugaredLogger) IdempotencyRepository {
	return &postgresIdempotencyRepo{db: db, log: log}
}

// Get возвращает запись ключа для (tenant, key)
func (r *postgresIdempotencyRepo) Get(ctx context.Context, tenantID, key string) (*domain.IdempotencyKey, error) {
	var row domain.IdempotencyKey
	query := `
        SELECT tenant_id, key, request_hash, status, response_status, response_body, created_at, updated_at
        FROM idempotency_keys
        WHERE tenant_id = $1 AND key = $2`

	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &row, query, tenantID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get idempotency key", "error", err, "tenantID", tenantID, "key", key)
		return nil, fmt.Errorf("repository: failed to get idempotency key: %w", err)
	}
	return &row, nil
}

// CreateInProgress вставляет новую запись в состоянии in_progress.
// Возвращает false, если запись уже существует (кто-то выиграл гонку).
func (r *postgresIdempotencyRepo) CreateInProgress(ctx context.Context, tenantID, key, requestHash string) (bool, error) {
	query := `
        INSERT INTO idempotency_keys (tenant_id, key, request_hash, status, created_at, updated_at)
        VALUES ($1, $2, $3, 'in_progress', now(), now())
        ON CONFLICT (tenant_id, key) DO NOTHING`

	result, err := ext(ctx, r.db).ExecContext(ctx, query, tenantID, key, requestHash)
	if err != nil {
		r.log.Errorw("Failed to insert idempotency key", "error", err, "tenantID", tenantID, "key", key)
		return false, fmt.Errorf("repository: failed to insert idempotency key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// Rearm переводит запись из failed обратно в in_progress для повторной попытки.
// Возвращает false, если запись уже не в состоянии failed (гонка ретраев).
func (r *postgresIdempotencyRepo) Rearm(ctx context.Context, tenantID, key, requestHash string) (bool, error) {
	query := `
        UPDATE idempotency_keys
        SET status = 'in_progress', request_hash = $3,
            response_status = NULL, response_body = NULL, updated_at = now()
        WHERE tenant_id = $1 AND key = $2 AND status = 'failed'`

	result, err := ext(ctx, r.db).ExecContext(ctx, query, tenantID, key, requestHash)
	if err != nil {
		r.log.Errorw("Failed to rearm idempotency key", "error", err, "tenantID", tenantID, "key", key)
		return false, fmt.Errorf("repository: failed to rearm idempotency key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// MarkSucceeded фиксирует успешный результат и кэширует ответ для реплея
func (r *postgresIdempotencyRepo) MarkSucceeded(ctx context.Context, tenantID, key string, responseStatus int, responseBody []byte) error {
	return r.finalize(ctx, tenantID, key, domain.IdempotencyStatusSucceeded, responseStatus, responseBody)
}

// MarkFailed фиксирует неуспех; ключ становится доступен для ретрая
func (r *postgresIdempotencyRepo) MarkFailed(ctx context.Context, tenantID, key string, responseStatus int, responseBody []byte) error {
	return r.finalize(ctx, tenantID, key, domain.IdempotencyStatusFailed, responseStatus, responseBody)
}

// finalize переводит запись в терминальное состояние ровно один раз
func (r *postgresIdempotencyRepo) finalize(ctx context.Context, tenantID, key string, status domain.IdempotencyStatus, responseStatus int, responseBody []byte) error {
	query := `
        UPDATE idempotency_keys
        SET status = $3, response_status = $4, response_body = $5, updated_at = now()
        WHERE tenant_id = $1 AND key = $2 AND status = 'in_progress'`

	result, err := ext(ctx, r.db).ExecContext(ctx, query, tenantID, key, string(status), responseStatus, responseBody)
	if err != nil {
		r.log.Errorw("Failed to finalize idempotency key", "error", err, "tenantID", tenantID, "key", key, "status", status)
		return fmt.Errorf("repository: failed to finalize idempotency key: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		// Терминальное состояние уже зафиксировано другим путем
		r.log.Warnw("Idempotency key already finalized", "tenantID", tenantID, "key", key)
	}
	return nil
}
