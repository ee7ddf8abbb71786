package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/service"
)

// WebhookHandler принимает события платежного провайдера
type WebhookHandler struct {
	reconciler *service.WebhookReconciler
	log        *zap.SugaredLogger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(reconciler *service.WebhookReconciler, log *zap.SugaredLogger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, log: log}
}

// HandleStripeWebhook обрабатывает событие Stripe. Бизнес-отказы отдаются
// как 4xx: redelivery провайдера ретраит только 5xx, и ретраить невалидное
// событие бессмысленно.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondValidation(c, "failed to read request body")
		return
	}

	result, err := h.reconciler.Process(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"deduped": result.Deduped,
		"type":    result.EventType,
	})
}
