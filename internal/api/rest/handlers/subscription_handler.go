package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/engine"
	"github.com/Kovheren/billing-service/internal/middleware"
)

// SubscriptionHandler обработчик команд жизненного цикла подписок
type SubscriptionHandler struct {
	engine *engine.Engine
	log    *zap.SugaredLogger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(eng *engine.Engine, log *zap.SugaredLogger) *SubscriptionHandler {
	return &SubscriptionHandler{engine: eng, log: log}
}

type cancelRequest struct {
	AtPeriodEnd bool `json:"atPeriodEnd"`
}

// CreateSubscription создает новую подписку
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var cmd engine.CreateCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		respondValidation(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	cmd.IdempotencyKey = middleware.IdempotencyKey(c)

	sub, err := h.engine.Create(c.Request.Context(), middleware.TenantID(c), cmd)
	if err != nil {
		h.log.Warnw("Failed to create subscription", "error", err, "tenantID", middleware.TenantID(c))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetSubscription возвращает подписку по ID
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidation(c, "invalid subscription ID format")
		return
	}

	sub, err := h.engine.GetByID(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListSubscriptions возвращает подписки аккаунта
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	accountID := c.Query("accountId")
	if accountID == "" {
		respondValidation(c, "accountId query parameter is required")
		return
	}

	subs, err := h.engine.ListForAccount(c.Request.Context(), middleware.TenantID(c), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": subs})
}

// ChangePlan меняет план существующей подписки
func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidation(c, "invalid subscription ID format")
		return
	}

	var cmd engine.ChangePlanCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		respondValidation(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	cmd.IdempotencyKey = middleware.IdempotencyKey(c)

	sub, err := h.engine.ChangePlan(c.Request.Context(), middleware.TenantID(c), id, cmd)
	if err != nil {
		h.log.Warnw("Failed to change plan", "error", err, "subscriptionID", id)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// CancelSubscription отменяет подписку немедленно или в конце периода
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidation(c, "invalid subscription ID format")
		return
	}

	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	sub, err := h.engine.Cancel(c.Request.Context(), middleware.TenantID(c), id, req.AtPeriodEnd, middleware.IdempotencyKey(c))
	if err != nil {
		h.log.Warnw("Failed to cancel subscription", "error", err, "subscriptionID", id)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ResumeSubscription снимает запланированную отмену подписки
func (h *SubscriptionHandler) ResumeSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidation(c, "invalid subscription ID format")
		return
	}

	sub, err := h.engine.Resume(c.Request.Context(), middleware.TenantID(c), id, middleware.IdempotencyKey(c))
	if err != nil {
		h.log.Warnw("Failed to resume subscription", "error", err, "subscriptionID", id)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
