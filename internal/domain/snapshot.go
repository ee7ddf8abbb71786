package domain

import "encoding/json"

// ProviderSnapshot авторитетное состояние подписки на стороне платежного
// провайдера в момент времени. Временные поля - epoch-секунды, как их отдает
// Stripe; 0 означает отсутствие значения.
type ProviderSnapshot struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CustomerID         string            `json:"customer"`
	Metadata           map[string]string `json:"metadata"`
}

// ProviderCustomer нормализованное представление клиента у провайдера
type ProviderCustomer struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// WebhookEvent распарсенное и проверенное событие вебхука
type WebhookEvent struct {
	ID     string          // id события, выданный провайдером
	Type   string          // тип события, например "invoice.payment_failed"
	Object json.RawMessage // вложенный объект (data.object)
	Raw    []byte          // полное сырое тело для журнала аудита
}
