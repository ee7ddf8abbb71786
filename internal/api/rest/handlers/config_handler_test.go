package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kovheren/billing-service/internal/domain"
)

func TestValidateConfig(t *testing.T) {
	valid := &domain.ConfigVersion{Data: []byte(`{
		"plans": [{"code": "pro", "trialDays": 7, "billing": {"priceId": "price_1"}}]
	}`)}
	require.NoError(t, validateConfig(valid))

	noPlans := &domain.ConfigVersion{Data: []byte(`{"plans": []}`)}
	assert.ErrorIs(t, validateConfig(noPlans), domain.ErrValidation)

	noPrice := &domain.ConfigVersion{Data: []byte(`{"plans": [{"code": "pro"}]}`)}
	assert.ErrorIs(t, validateConfig(noPrice), domain.ErrValidation)

	negativeTrial := &domain.ConfigVersion{Data: []byte(`{
		"plans": [{"code": "pro", "trialDays": -1, "billing": {"priceId": "price_1"}}]
	}`)}
	assert.ErrorIs(t, validateConfig(negativeTrial), domain.ErrValidation)

	invalid := &domain.ConfigVersion{Data: []byte(`not json`)}
	assert.ErrorIs(t, validateConfig(invalid), domain.ErrValidation)
}

func TestEtagIsStableAcrossKeyOrder(t *testing.T) {
	a := etagOf([]byte(`{"a":1,"b":2}`))
	b := etagOf([]byte(`{"b":2,"a":1}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, etagOf([]byte(`{"a":1,"b":3}`)))
}
