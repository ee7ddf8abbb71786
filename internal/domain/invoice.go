package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invoice зеркальная (read-only) проекция инвойса провайдера
type Invoice struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TenantID string    `db:"tenant_id" json:"tenantId"`

	// Локальная подписка, если ее удалось разрешить по stripe_subscription_id
	SubscriptionID *uuid.UUID `db:"subscription_id" json:"subscriptionId,omitempty"`

	StripeInvoiceID      string  `db:"stripe_invoice_id" json:"stripeInvoiceId"`
	StripeCustomerID     *string `db:"stripe_customer_id" json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID *string `db:"stripe_subscription_id" json:"stripeSubscriptionId,omitempty"`

	Status           string   `db:"status" json:"status"`
	Currency         *string  `db:"currency" json:"currency,omitempty"`
	Subtotal         *float64 `db:"subtotal" json:"subtotal,omitempty"`
	Total            *float64 `db:"total" json:"total,omitempty"`
	HostedInvoiceURL *string  `db:"hosted_invoice_url" json:"hostedInvoiceUrl,omitempty"`

	PeriodStart *time.Time `db:"period_start" json:"periodStart,omitempty"`
	PeriodEnd   *time.Time `db:"period_end" json:"periodEnd,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// InvoiceLine строка зеркального инвойса
type InvoiceLine struct {
	ID        uuid.UUID `db:"id" json:"id"`
	InvoiceID uuid.UUID `db:"invoice_id" json:"invoiceId"`

	LineType   string  `db:"line_type" json:"lineType"` // например 'subscription', 'invoiceitem'
	FeatureKey *string `db:"feature_key" json:"featureKey,omitempty"`
	Quantity   float64 `db:"quantity" json:"quantity"`
	UnitPrice  float64 `db:"unit_price" json:"unitPrice"`
	Amount     float64 `db:"amount" json:"amount"`
}
