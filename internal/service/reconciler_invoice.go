package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/kafka"
	"github.com/Kovheren/billing-service/internal/repository"
)

// invoicePayload подмножество полей инвойса провайдера, зеркалируемых локально
type invoicePayload struct {
	ID               string   `json:"id"`
	Customer         string   `json:"customer"`
	Subscription     string   `json:"subscription"`
	Status           string   `json:"status"`
	Currency         string   `json:"currency"`
	Subtotal         *float64 `json:"subtotal"`
	Total            *float64 `json:"total"`
	HostedInvoiceURL string   `json:"hosted_invoice_url"`
	PeriodStart      int64    `json:"period_start"`
	PeriodEnd        int64    `json:"period_end"`

	Lines struct {
		Data []invoiceLinePayload `json:"data"`
	} `json:"lines"`
}

type invoiceLinePayload struct {
	Type     string            `json:"type"`
	Quantity *float64          `json:"quantity"`
	Amount   *float64          `json:"amount"`
	Metadata map[string]string `json:"metadata"`

	Price *struct {
		UnitAmount *float64 `json:"unit_amount"`
		Nickname   string   `json:"nickname"`
	} `json:"price"`
	Plan *struct {
		Nickname string `json:"nickname"`
	} `json:"plan"`
}

// prepareInvoiceMirror строит зеркальную запись инвойса из payload события и
// готовит мутацию: upsert инвойса со строками плюс обновление локальной
// подписки свежим снимком провайдера
func (r *WebhookReconciler) prepareInvoiceMirror(ctx context.Context, object json.RawMessage, tenantID string) (func(ctx context.Context) error, error) {
	var payload invoicePayload
	if err := json.Unmarshal(object, &payload); err != nil || payload.ID == "" {
		return nil, fmt.Errorf("%w: invoice object is missing id", domain.ErrMalformedEvent)
	}

	inv, lines := mirrorFromPayload(&payload, tenantID)

	// Свежий снимок подписки до открытия транзакции
	var snap *domain.ProviderSnapshot
	if payload.Subscription != "" {
		var err error
		snap, err = r.gateway.RetrieveSubscription(ctx, payload.Subscription)
		if err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context) error {
		if err := r.invoices.Upsert(ctx, inv, lines); err != nil {
			return err
		}

		if snap != nil {
			sub, err := r.subs.GetByStripeID(ctx, payload.Subscription)
			switch {
			case err == nil:
				sub.ApplySnapshot(snap)
				if err := r.subs.Update(ctx, sub); err != nil {
					return err
				}
				r.afterSubscriptionChange(ctx, sub)
			case errors.Is(err, repository.ErrNotFound):
				r.log.Debugw("Invoice for unknown subscription", "stripeSubscriptionID", payload.Subscription)
			default:
				return err
			}
		}

		if r.producer != nil {
			if err := r.producer.Publish(kafka.TopicInvoiceMirrored, inv.StripeInvoiceID, inv); err != nil {
				r.log.Warnw("Failed to publish invoice event", "error", err, "stripeInvoiceID", inv.StripeInvoiceID)
			}
		}
		return nil
	}, nil
}

// mirrorFromPayload переводит payload провайдера в доменную модель инвойса
func mirrorFromPayload(payload *invoicePayload, tenantID string) (*domain.Invoice, []domain.InvoiceLine) {
	status := payload.Status
	if status == "" {
		status = "open"
	}

	inv := &domain.Invoice{
		TenantID:        tenantID,
		StripeInvoiceID: payload.ID,
		Status:          status,
		Subtotal:        payload.Subtotal,
		Total:           payload.Total,
		PeriodStart:     timePtrFromEpoch(payload.PeriodStart),
		PeriodEnd:       timePtrFromEpoch(payload.PeriodEnd),
	}
	if payload.Customer != "" {
		inv.StripeCustomerID = &payload.Customer
	}
	if payload.Subscription != "" {
		inv.StripeSubscriptionID = &payload.Subscription
	}
	if payload.Currency != "" {
		inv.Currency = &payload.Currency
	}
	if payload.HostedInvoiceURL != "" {
		inv.HostedInvoiceURL = &payload.HostedInvoiceURL
	}

	lines := make([]domain.InvoiceLine, 0, len(payload.Lines.Data))
	for i := range payload.Lines.Data {
		lines = append(lines, lineFromPayload(&payload.Lines.Data[i]))
	}
	return inv, lines
}

// lineFromPayload переводит строку инвойса; денежные значения провайдера
// приходят в центах
func lineFromPayload(li *invoiceLinePayload) domain.InvoiceLine {
	lineType := li.Type
	if lineType == "" {
		lineType = "unknown"
	}

	quantity := 1.0
	if li.Quantity != nil && *li.Quantity > 0 {
		quantity = *li.Quantity
	}

	unitPrice := 0.0
	switch {
	case li.Price != nil && li.Price.UnitAmount != nil:
		unitPrice = *li.Price.UnitAmount / 100.0
	case li.Amount != nil:
		unitPrice = math.Round(*li.Amount/quantity) / 100.0
	}

	amount := 0.0
	if li.Amount != nil {
		amount = *li.Amount / 100.0
	}

	return domain.InvoiceLine{
		LineType:   lineType,
		FeatureKey: extractFeatureKey(li),
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		Amount:     amount,
	}
}

// extractFeatureKey достает ключ фичи из метаданных строки либо из
// nickname цены/плана
func extractFeatureKey(li *invoiceLinePayload) *string {
	if key, ok := li.Metadata["feature_key"]; ok && key != "" {
		return &key
	}
	if li.Price != nil && li.Price.Nickname != "" {
		return &li.Price.Nickname
	}
	if li.Plan != nil && li.Plan.Nickname != "" {
		return &li.Plan.Nickname
	}
	return nil
}
