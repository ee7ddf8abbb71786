package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
)

// ConfigRepository интерфейс репозитория версий конфигурации тенанта
type ConfigRepository interface {
	Create(ctx context.Context, cv *domain.ConfigVersion) error
	GetLatest(ctx context.Context, tenantID string) (*domain.ConfigVersion, error)
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.ConfigVersion, error)
	ListVersions(ctx context.Context, tenantID string) ([]domain.ConfigVersion, error)
}

type postgresConfigRepo struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewPostgresConfigRepository создает новый репозиторий конфигураций
func NewPostgresConfigRepository(db *sqlx.DB, log *zap.SugaredLogger) ConfigRepository {
	return &postgresConfigRepo{db: db, log: log}
}

// Create публикует новую версию конфигурации.
// Повтор той же метки версии для тенанта возвращает ErrDuplicate.
func (r *postgresConfigRepo) Create(ctx context.Context, cv *domain.ConfigVersion) error {
	if cv.ID == uuid.Nil {
		cv.ID = uuid.New()
	}
	cv.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO config_versions (id, tenant_id, version_label, data, created_at)
        VALUES (:id, :tenant_id, :version_label, :data, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, cv); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		r.log.Errorw("Failed to create config version", "error", err, "tenantID", cv.TenantID, "versionLabel", cv.VersionLabel)
		return fmt.Errorf("repository: failed to create config version: %w", err)
	}
	return nil
}

// GetLatest возвращает последнюю опубликованную версию конфигурации тенанта
func (r *postgresConfigRepo) GetLatest(ctx context.Context, tenantID string) (*domain.ConfigVersion, error) {
	var cv domain.ConfigVersion
	query := `
        SELECT id, tenant_id, version_label, data, created_at
        FROM config_versions
        WHERE tenant_id = $1
        ORDER BY created_at DESC
        LIMIT 1`

	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &cv, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get latest config version", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("repository: failed to get latest config version: %w", err)
	}
	return &cv, nil
}

// GetByID возвращает конкретную версию конфигурации тенанта
func (r *postgresConfigRepo) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.ConfigVersion, error) {
	var cv domain.ConfigVersion
	query := `
        SELECT id, tenant_id, version_label, data, created_at
        FROM config_versions
        WHERE tenant_id = $1 AND id = $2`

	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &cv, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to get config version: %w", err)
	}
	return &cv, nil
}

// ListVersions возвращает все версии конфигурации тенанта, новые первыми
func (r *postgresConfigRepo) ListVersions(ctx context.Context, tenantID string) ([]domain.ConfigVersion, error) {
	versions := []domain.ConfigVersion{}
	query := `
        SELECT id, tenant_id, version_label, data, created_at
        FROM config_versions
        WHERE tenant_id = $1
        ORDER BY created_at DESC`

	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &versions, query, tenantID); err != nil {
		r.log.Errorw("Failed to list config versions", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("repository: failed to list config versions: %w", err)
	}
	return versions, nil
}
