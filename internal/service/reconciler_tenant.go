package service

import (
	"context"
	"strings"
	"time"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/engine"
)

// resolveTenant определяет тенанта события. Порядок: явный tenant_id в
// метаданных объекта, затем метаданные подписки у провайдера, затем
// метаданные клиента. Событие без тенанта отклоняется: некорректная
// привязка хуже потерянного события.
func (r *WebhookReconciler) resolveTenant(ctx context.Context, eventType string, obj *eventObject) (string, error) {
	if tenantID := obj.Metadata[engine.MetadataTenantIDKey]; tenantID != "" {
		return tenantID, nil
	}

	switch {
	case strings.HasPrefix(eventType, "invoice."):
		if tenantID := r.tenantFromSubscription(ctx, obj.Subscription); tenantID != "" {
			return tenantID, nil
		}
		if tenantID := r.tenantFromCustomer(ctx, obj.Customer); tenantID != "" {
			return tenantID, nil
		}

	case strings.HasPrefix(eventType, "customer.subscription."):
		if tenantID := r.tenantFromSubscription(ctx, obj.ID); tenantID != "" {
			return tenantID, nil
		}

	case eventType == "checkout.session.completed":
		if tenantID := r.tenantFromSubscription(ctx, obj.Subscription); tenantID != "" {
			return tenantID, nil
		}
		if tenantID := r.tenantFromCustomer(ctx, obj.Customer); tenantID != "" {
			return tenantID, nil
		}
	}

	return "", domain.ErrTenantUnresolved
}

// tenantFromSubscription пытается достать tenant_id из метаданных подписки
// провайдера, с fallback на метаданные ее клиента
func (r *WebhookReconciler) tenantFromSubscription(ctx context.Context, subscriptionID string) string {
	if subscriptionID == "" {
		return ""
	}
	snap, err := r.gateway.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		r.log.Debugw("Failed to retrieve subscription for tenant inference", "error", err, "stripeSubscriptionID", subscriptionID)
		return ""
	}
	if tenantID := snap.Metadata[engine.MetadataTenantIDKey]; tenantID != "" {
		return tenantID
	}
	return r.tenantFromCustomer(ctx, snap.CustomerID)
}

// tenantFromCustomer пытается достать tenant_id из метаданных клиента
func (r *WebhookReconciler) tenantFromCustomer(ctx context.Context, customerID string) string {
	if customerID == "" {
		return ""
	}
	cus, err := r.gateway.RetrieveCustomer(ctx, customerID)
	if err != nil {
		r.log.Debugw("Failed to retrieve customer for tenant inference", "error", err, "stripeCustomerID", customerID)
		return ""
	}
	return cus.Metadata[engine.MetadataTenantIDKey]
}

// timePtrFromEpoch переводит epoch-секунды в *time.Time (0 == нет значения)
func timePtrFromEpoch(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
