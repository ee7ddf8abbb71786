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

// InvoiceRepository интерфейс репозитория зеркальных инвойсов
type InvoiceRepository interface {
	Upsert(ctx context.Context, inv *domain.Invoice, lines []domain.InvoiceLine) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Invoice, error)
	GetLines(ctx context.Context, invoiceID uuid.UUID) ([]domain.InvoiceLine, error)
	ListForAccount(ctx context.Context, tenantID, accountID string, limit, offset int) ([]domain.Invoice, error)
}

type postgresInvoiceRepo struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewPostgresInvoiceRepository создает новый репозиторий инвойсов
func NewPostgresInvoiceRepository(db *sqlx.DB, log *zap.SugaredLogger) InvoiceRepository {
	return &postgresInvoiceRepo{db: db, log: log}
}

const invoiceColumns = `
    id, tenant_id, subscription_id, stripe_invoice_id, stripe_customer_id,
    stripe_subscription_id, status, currency, subtotal, total,
    hosted_invoice_url, period_start, period_end, created_at`

// Upsert вставляет или обновляет зеркальный инвойс по stripe_invoice_id
// и заменяет его строки. Локальная подписка разрешается по
// stripe_subscription_id, когда это возможно.
func (r *postgresInvoiceRepo) Upsert(ctx context.Context, inv *domain.Invoice, lines []domain.InvoiceLine) error {
	e := ext(ctx, r.db)

	// Привязываем к локальной подписке, если она известна
	if inv.SubscriptionID == nil && inv.StripeSubscriptionID != nil {
		var localID uuid.UUID
		err := sqlx.GetContext(ctx, e, &localID,
			`SELECT id FROM subscriptions WHERE stripe_subscription_id = $1`, *inv.StripeSubscriptionID)
		if err == nil {
			inv.SubscriptionID = &localID
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("repository: failed to resolve local subscription for invoice: %w", err)
		}
	}

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO invoices (
            id, tenant_id, subscription_id, stripe_invoice_id, stripe_customer_id,
            stripe_subscription_id, status, currency, subtotal, total,
            hosted_invoice_url, period_start, period_end, created_at
        ) VALUES (
            :id, :tenant_id, :subscription_id, :stripe_invoice_id, :stripe_customer_id,
            :stripe_subscription_id, :status, :currency, :subtotal, :total,
            :hosted_invoice_url, :period_start, :period_end, :created_at
        )
        ON CONFLICT (stripe_invoice_id) DO UPDATE SET
            subscription_id = COALESCE(EXCLUDED.subscription_id, invoices.subscription_id),
            stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, invoices.stripe_customer_id),
            stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, invoices.stripe_subscription_id),
            status = EXCLUDED.status,
            currency = COALESCE(EXCLUDED.currency, invoices.currency),
            subtotal = EXCLUDED.subtotal,
            total = EXCLUDED.total,
            hosted_invoice_url = COALESCE(EXCLUDED.hosted_invoice_url, invoices.hosted_invoice_url),
            period_start = EXCLUDED.period_start,
            period_end = EXCLUDED.period_end`

	if _, err := sqlx.NamedExecContext(ctx, e, query, inv); err != nil {
		r.log.Errorw("Failed to upsert invoice", "error", err, "stripeInvoiceID", inv.StripeInvoiceID)
		return fmt.Errorf("repository: failed to upsert invoice: %w", err)
	}

	// После ON CONFLICT локальный id мог не совпасть с уже существующей строкой
	var storedID uuid.UUID
	if err := sqlx.GetContext(ctx, e, &storedID,
		`SELECT id FROM invoices WHERE stripe_invoice_id = $1`, inv.StripeInvoiceID); err != nil {
		return fmt.Errorf("repository: failed to read back invoice id: %w", err)
	}
	inv.ID = storedID

	return r.replaceLines(ctx, storedID, lines)
}

// replaceLines полностью заменяет строки инвойса
func (r *postgresInvoiceRepo) replaceLines(ctx context.Context, invoiceID uuid.UUID, lines []domain.InvoiceLine) error {
	e := ext(ctx, r.db)

	if _, err := e.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("repository: failed to delete invoice lines: %w", err)
	}

	query := `
        INSERT INTO invoice_lines (id, invoice_id, line_type, feature_key, quantity, unit_price, amount)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i := range lines {
		line := &lines[i]
		line.ID = uuid.New()
		line.InvoiceID = invoiceID
		if _, err := e.ExecContext(ctx, query,
			line.ID, line.InvoiceID, line.LineType, line.FeatureKey, line.Quantity, line.UnitPrice, line.Amount); err != nil {
			return fmt.Errorf("repository: failed to insert invoice line: %w", err)
		}
	}
	return nil
}

// GetByID возвращает инвойс по локальному ID в рамках тенанта
func (r *postgresInvoiceRepo) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Invoice, error) {
	var inv domain.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 AND id = $2`

	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &inv, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get invoice by ID", "error", err, "invoiceID", id)
		return nil, fmt.Errorf("repository: failed to get invoice: %w", err)
	}
	return &inv, nil
}

// GetLines возвращает строки инвойса
func (r *postgresInvoiceRepo) GetLines(ctx context.Context, invoiceID uuid.UUID) ([]domain.InvoiceLine, error) {
	lines := []domain.InvoiceLine{}
	query := `
        SELECT id, invoice_id, line_type, feature_key, quantity, unit_price, amount
        FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`

	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &lines, query, invoiceID); err != nil {
		return nil, fmt.Errorf("repository: failed to get invoice lines: %w", err)
	}
	return lines, nil
}

// ListForAccount возвращает инвойсы по подпискам аккаунта, новые первыми
func (r *postgresInvoiceRepo) ListForAccount(ctx context.Context, tenantID, accountID string, limit, offset int) ([]domain.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	invoices := []domain.Invoice{}
	query := `
        SELECT ` + invoiceColumns + `
        FROM invoices
        WHERE tenant_id = $1
          AND stripe_subscription_id IN (
              SELECT stripe_subscription_id FROM subscriptions
              WHERE tenant_id = $1 AND account_id = $2 AND stripe_subscription_id IS NOT NULL
          )
        ORDER BY created_at DESC
        LIMIT $3 OFFSET $4`

	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &invoices, query, tenantID, accountID, limit, offset); err != nil {
		r.log.Errorw("Failed to list invoices for account", "error", err, "tenantID", tenantID, "accountID", accountID)
		return nil, fmt.Errorf("repository: failed to list invoices: %w", err)
	}
	return invoices, nil
}
