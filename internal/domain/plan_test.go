package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigVersionParse(t *testing.T) {
	cv := &ConfigVersion{Data: []byte(`{
		"currency": "usd",
		"plans": [{"code": "pro", "trialDays": 7, "billing": {"priceId": "price_1"}}]
	}`)}

	cfg, err := cv.Parse()
	require.NoError(t, err)
	assert.Equal(t, "usd", cfg.Currency)
	require.Len(t, cfg.Plans, 1)
	assert.Equal(t, "price_1", cfg.Plans[0].Billing.PriceID)
}

func TestConfigVersionParseInvalidJSON(t *testing.T) {
	cv := &ConfigVersion{Data: []byte(`{not json`)}
	_, err := cv.Parse()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFindPlan(t *testing.T) {
	cfg := &TenantConfig{Plans: []Plan{{Code: "pro"}, {Code: "team"}}}

	plan, err := cfg.FindPlan("team")
	require.NoError(t, err)
	assert.Equal(t, "team", plan.Code)

	_, err = cfg.FindPlan("enterprise")
	assert.ErrorIs(t, err, ErrValidation)
}
