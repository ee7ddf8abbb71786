package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/middleware"
	"github.com/Kovheren/billing-service/internal/service"
)

// EntitlementHandler отдает права доступа аккаунта к фичам
type EntitlementHandler struct {
	entitlements *service.EntitlementService
	log          *zap.SugaredLogger
}

// NewEntitlementHandler создает новый обработчик прав доступа
func NewEntitlementHandler(entitlements *service.EntitlementService, log *zap.SugaredLogger) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements, log: log}
}

// CheckEntitlement возвращает право доступа аккаунта к фиче
func (h *EntitlementHandler) CheckEntitlement(c *gin.Context) {
	accountID := c.Query("accountId")
	feature := c.Query("feature")
	if accountID == "" || feature == "" {
		respondValidation(c, "accountId and feature query parameters are required")
		return
	}

	ent, err := h.entitlements.Check(c.Request.Context(), middleware.TenantID(c), accountID, feature)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ent)
}
