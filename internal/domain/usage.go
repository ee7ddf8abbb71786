package domain

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord событие метрируемого потребления.
// Дедуплицируется по (tenant, account, metric, source_id), когда source_id задан.
type UsageRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenantId"`
	AccountID string    `db:"account_id" json:"accountId"`

	MetricKey string  `db:"metric_key" json:"metricKey"`
	Quantity  float64 `db:"quantity" json:"quantity"`

	// Необязательный внешний id для идемпотентности
	SourceID *string `db:"source_id" json:"sourceId,omitempty"`

	OccurredAt time.Time `db:"occurred_at" json:"occurredAt"`
	Metadata   JSONMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// UsageTotal агрегат потребления по одной метрике за окно
type UsageTotal struct {
	MetricKey string  `db:"metric_key" json:"metricKey"`
	Total     float64 `db:"total" json:"total"`
}
