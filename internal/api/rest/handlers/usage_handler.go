package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/middleware"
	"github.com/Kovheren/billing-service/internal/service"
)

// UsageHandler принимает события потребления и отдает агрегаты
type UsageHandler struct {
	usage *service.UsageService
	log   *zap.SugaredLogger
}

// NewUsageHandler создает новый обработчик потребления
func NewUsageHandler(usage *service.UsageService, log *zap.SugaredLogger) *UsageHandler {
	return &UsageHandler{usage: usage, log: log}
}

type usageEventRequest struct {
	AccountID  string            `json:"accountId" binding:"required"`
	MetricKey  string            `json:"metricKey" binding:"required"`
	Quantity   float64           `json:"quantity"`
	OccurredAt *time.Time        `json:"occurredAt"`
	SourceID   *string           `json:"sourceId"`
	Metadata   map[string]string `json:"metadata"`
}

// RecordUsage записывает одно событие потребления.
// Повтор sourceId для (account, metric) идемпотентен.
func (h *UsageHandler) RecordUsage(c *gin.Context) {
	var req usageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	rec := &domain.UsageRecord{
		TenantID:  middleware.TenantID(c),
		AccountID: req.AccountID,
		MetricKey: req.MetricKey,
		Quantity:  req.Quantity,
		SourceID:  req.SourceID,
		Metadata:  domain.JSONMap(req.Metadata),
	}
	if req.OccurredAt != nil {
		rec.OccurredAt = req.OccurredAt.UTC()
	}

	created, err := h.usage.Record(c.Request.Context(), rec)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, rec)
}

// UsageSummary возвращает агрегаты потребления за окно [start, end)
func (h *UsageHandler) UsageSummary(c *gin.Context) {
	accountID := c.Query("accountId")
	if accountID == "" {
		respondValidation(c, "accountId query parameter is required")
		return
	}

	from, err := parseTimeQuery(c.Query("start"))
	if err != nil {
		respondValidation(c, "start must be RFC3339")
		return
	}
	to, err := parseTimeQuery(c.Query("end"))
	if err != nil {
		respondValidation(c, "end must be RFC3339")
		return
	}

	summary, err := h.usage.Summarize(c.Request.Context(), middleware.TenantID(c), accountID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func parseTimeQuery(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
