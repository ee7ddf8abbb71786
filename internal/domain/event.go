package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEvent append-only журнал дедупликации и аудита событий провайдера.
// Инвариант: не более одной строки на (provider, event_id).
type PaymentEvent struct {
	ID        uuid.UUID `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Provider  string    `db:"provider"`
	EventID   string    `db:"event_id"`
	EventType string    `db:"event_type"`
	Payload   []byte    `db:"payload"`

	ReceivedAt time.Time `db:"received_at"`
}
