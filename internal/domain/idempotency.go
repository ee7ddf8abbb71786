package domain

import "time"

// IdempotencyStatus состояние записи идемпотентного ключа
type IdempotencyStatus string

const (
	IdempotencyStatusInProgress IdempotencyStatus = "in_progress"
	IdempotencyStatusSucceeded  IdempotencyStatus = "succeeded"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// IdempotencyKey запись идемпотентного ключа для (tenant, key).
// Создается в состоянии in_progress ДО выполнения операции; переход в
// терминальное состояние происходит ровно один раз. Запись с succeeded
// используется только для реплея закэшированного ответа.
type IdempotencyKey struct {
	TenantID    string            `db:"tenant_id"`
	Key         string            `db:"key"`
	RequestHash string            `db:"request_hash"`
	Status      IdempotencyStatus `db:"status"`

	// Закэшированный ответ (статус + тело), nullable до завершения
	ResponseStatus *int   `db:"response_status"`
	ResponseBody   []byte `db:"response_body"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
