package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/middleware"
	"github.com/Kovheren/billing-service/internal/repository"
)

// ConfigHandler публикует и отдает версии конфигурации тенанта
type ConfigHandler struct {
	configs repository.ConfigRepository
	log     *zap.SugaredLogger
}

// NewConfigHandler создает новый обработчик конфигураций
func NewConfigHandler(configs repository.ConfigRepository, log *zap.SugaredLogger) *ConfigHandler {
	return &ConfigHandler{configs: configs, log: log}
}

type publishConfigRequest struct {
	VersionLabel string          `json:"versionLabel" binding:"required"`
	JSON         json.RawMessage `json:"json" binding:"required"`
}

type configResponse struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     string          `json:"tenantId"`
	VersionLabel string          `json:"versionLabel"`
	JSON         json.RawMessage `json:"json"`
}

// PublishConfig публикует новую версию конфигурации.
// Метка версии уникальна в рамках тенанта, повтор дает 409.
func (h *ConfigHandler) PublishConfig(c *gin.Context) {
	var req publishConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	cv := &domain.ConfigVersion{
		TenantID:     middleware.TenantID(c),
		VersionLabel: req.VersionLabel,
		Data:         req.JSON,
	}
	if err := validateConfig(cv); err != nil {
		respondError(c, err)
		return
	}

	if err := h.configs.Create(c.Request.Context(), cv); err != nil {
		h.log.Warnw("Failed to publish config", "error", err, "tenantID", cv.TenantID, "versionLabel", cv.VersionLabel)
		respondError(c, err)
		return
	}

	h.log.Infow("Config version published", "tenantID", cv.TenantID, "versionLabel", cv.VersionLabel, "configVersionID", cv.ID)
	c.Header("ETag", etagOf(cv.Data))
	c.JSON(http.StatusCreated, toConfigResponse(cv))
}

// GetLatestConfig возвращает последнюю опубликованную версию
func (h *ConfigHandler) GetLatestConfig(c *gin.Context) {
	cv, err := h.configs.GetLatest(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("ETag", etagOf(cv.Data))
	c.JSON(http.StatusOK, toConfigResponse(cv))
}

// GetConfigVersion возвращает конкретную версию конфигурации
func (h *ConfigHandler) GetConfigVersion(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidation(c, "invalid config version ID format")
		return
	}

	cv, err := h.configs.GetByID(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("ETag", etagOf(cv.Data))
	c.JSON(http.StatusOK, toConfigResponse(cv))
}

// ListConfigVersions возвращает все версии конфигурации тенанта
func (h *ConfigHandler) ListConfigVersions(c *gin.Context) {
	versions, err := h.configs.ListVersions(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]configResponse, 0, len(versions))
	for i := range versions {
		items = append(items, toConfigResponse(&versions[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// validateConfig проверяет, что конфигурация разбирается и все планы
// пригодны для биллинга
func validateConfig(cv *domain.ConfigVersion) error {
	cfg, err := cv.Parse()
	if err != nil {
		return err
	}
	if len(cfg.Plans) == 0 {
		return fmt.Errorf("%w: config must define at least one plan", domain.ErrValidation)
	}
	for i := range cfg.Plans {
		plan := &cfg.Plans[i]
		if plan.Code == "" {
			return fmt.Errorf("%w: every plan must have a code", domain.ErrValidation)
		}
		if plan.Billing.PriceID == "" {
			return fmt.Errorf("%w: plan '%s' is missing billing.priceId", domain.ErrValidation, plan.Code)
		}
		if plan.TrialDays < 0 {
			return fmt.Errorf("%w: plan '%s' trialDays must be non-negative", domain.ErrValidation, plan.Code)
		}
	}
	return nil
}

// etagOf считает стабильный ETag содержимого конфигурации
func etagOf(data []byte) string {
	var value any
	if err := json.Unmarshal(data, &value); err == nil {
		if canonical, err := json.Marshal(value); err == nil {
			data = canonical
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func toConfigResponse(cv *domain.ConfigVersion) configResponse {
	return configResponse{
		ID:           cv.ID,
		TenantID:     cv.TenantID,
		VersionLabel: cv.VersionLabel,
		JSON:         json.RawMessage(cv.Data),
	}
}
