package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Kovheren/billing-service/internal/domain"
)

func TestBuildBundleDefaults(t *testing.T) {
	bundle := BuildBundle(&domain.Plan{Code: "basic"})

	assert.Equal(t, ProrationLinear, bundle.Proration)
	assert.Equal(t, InvoicingAutoCharge, bundle.Invoicing)
	assert.Equal(t, EntitlementStatic, bundle.Entitlement)
	assert.Equal(t, MeteringMonthlyWindow, bundle.Metering)
	assert.Equal(t, SeatsPooled, bundle.Seats)
}

func TestBuildBundleFromStrategies(t *testing.T) {
	plan := &domain.Plan{
		Code: "pro",
		Strategies: map[string]string{
			"ProrationStrategy": "none",
			"InvoicingStrategy": "invoice-on-change",
			"MeteringStrategy":  "monthly-window",
			"SeatStrategy":      "pooled-seats",
		},
	}
	bundle := BuildBundle(plan)

	assert.Equal(t, ProrationNone, bundle.Proration)
	assert.Equal(t, InvoicingSendInvoice, bundle.Invoicing)
}

func TestBuildBundleUnknownKeysFallBackToDefaults(t *testing.T) {
	plan := &domain.Plan{
		Code: "pro",
		Strategies: map[string]string{
			"ProrationStrategy": "quadratic",
			"InvoicingStrategy": "carrier-pigeon",
		},
	}
	bundle := BuildBundle(plan)

	assert.Equal(t, ProrationLinear, bundle.Proration)
	assert.Equal(t, InvoicingAutoCharge, bundle.Invoicing)
}

func TestProrationBehavior(t *testing.T) {
	assert.Equal(t, "create_prorations", ProrationLinear.Behavior())
	assert.Equal(t, "none", ProrationNone.Behavior())
	assert.Equal(t, "always_invoice", ProrationAlwaysInvoice.Behavior())
}

func TestInvoicingCollectionMethod(t *testing.T) {
	assert.Equal(t, "charge_automatically", InvoicingAutoCharge.CollectionMethod())
	assert.Equal(t, "send_invoice", InvoicingSendInvoice.CollectionMethod())
}

func TestIsEntitled(t *testing.T) {
	features := domain.PlanFeatures{
		Seats: 5,
		Limits: map[string]float64{
			"api_calls": 1000,
			"exports":   0,
		},
	}
	bundle := BuildBundle(&domain.Plan{Code: "pro"})

	assert.True(t, bundle.IsEntitled("seats", features))
	assert.True(t, bundle.IsEntitled("api_calls", features))
	assert.False(t, bundle.IsEntitled("exports", features))
	// Фичи вне лимитов плана разрешены
	assert.True(t, bundle.IsEntitled("dashboard", features))

	assert.False(t, bundle.IsEntitled("seats", domain.PlanFeatures{Seats: 0}))
}

func TestSeatPolicy(t *testing.T) {
	assert.Equal(t, 5, SeatsPooled.IncludedSeats(domain.PlanFeatures{Seats: 5}))
	assert.Equal(t, 0, SeatsPooled.IncludedSeats(domain.PlanFeatures{Seats: -1}))
	assert.True(t, SeatsPooled.WithinSeats(5, 5))
	assert.False(t, SeatsPooled.WithinSeats(6, 5))
}
