package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConfigVersion опубликованная версия конфигурации тенанта.
// Data хранит сырой JSON: схемная валидация выполняется снаружи.
type ConfigVersion struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenantId"`
	VersionLabel string    `db:"version_label" json:"versionLabel"`
	Data         []byte    `db:"data" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// TenantConfig распарсенное содержимое версии конфигурации
type TenantConfig struct {
	Currency string `json:"currency"`
	Plans    []Plan `json:"plans"`
}

// Plan определение тарифного плана из конфигурации тенанта
type Plan struct {
	Code       string            `json:"code"`
	Cadence    string            `json:"cadence"` // например "monthly"
	Price      float64           `json:"price"`
	TrialDays  int               `json:"trialDays"`
	Billing    PlanBilling       `json:"billing"`
	Strategies map[string]string `json:"strategies"`
	Features   PlanFeatures      `json:"features"`
}

// PlanBilling платежные атрибуты плана
type PlanBilling struct {
	PriceID string `json:"priceId"` // id цены на стороне провайдера
}

// PlanFeatures лимиты и места, зашитые в план
type PlanFeatures struct {
	Seats  int                `json:"seats"`
	Limits map[string]float64 `json:"limits"`
}

// Parse разбирает сырые данные версии конфигурации
func (c *ConfigVersion) Parse() (*TenantConfig, error) {
	var cfg TenantConfig
	if err := json.Unmarshal(c.Data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: config is not valid JSON: %v", ErrValidation, err)
	}
	return &cfg, nil
}

// FindPlan ищет план по коду
func (c *TenantConfig) FindPlan(code string) (*Plan, error) {
	for i := range c.Plans {
		if c.Plans[i].Code == code {
			return &c.Plans[i], nil
		}
	}
	return nil, fmt.Errorf("%w: planCode '%s' not found", ErrValidation, code)
}

// Entitlement результат проверки права доступа к фиче
type Entitlement struct {
	TenantID  string    `json:"tenantId"`
	AccountID string    `json:"accountId"`
	Feature   string    `json:"feature"`
	Entitled  bool      `json:"entitled"`
	PlanCode  string    `json:"planCode,omitempty"`
	AsOf      time.Time `json:"asOf"`
}
