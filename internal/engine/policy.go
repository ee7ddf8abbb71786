package engine

import (
	"github.com/Kovheren/billing-service/internal/domain"
)

// Политики плана - закрытые перечисления, выбираемые строковым ключом из
// конфигурации тенанта. Набор мал и фиксирован, поэтому вместо динамической
// диспетчеризации используются статические таблицы соответствия.

// ProrationPolicy политика перерасчета при смене плана
type ProrationPolicy string

const (
	ProrationLinear        ProrationPolicy = "linear"
	ProrationNone          ProrationPolicy = "none"
	ProrationAlwaysInvoice ProrationPolicy = "always_invoice"
)

// Behavior возвращает значение proration_behavior в терминах провайдера
func (p ProrationPolicy) Behavior() string {
	switch p {
	case ProrationNone:
		return "none"
	case ProrationAlwaysInvoice:
		return "always_invoice"
	default:
		return "create_prorations"
	}
}

// InvoicingPolicy политика выставления счетов
type InvoicingPolicy string

const (
	InvoicingAutoCharge  InvoicingPolicy = "charge-automatically"
	InvoicingSendInvoice InvoicingPolicy = "invoice-on-change"
)

// CollectionMethod возвращает collection_method в терминах провайдера
func (p InvoicingPolicy) CollectionMethod() string {
	if p == InvoicingSendInvoice {
		return "send_invoice"
	}
	return "charge_automatically"
}

// EntitlementPolicy политика вычисления прав доступа
type EntitlementPolicy string

const (
	EntitlementStatic EntitlementPolicy = "static"
)

// MeteringPolicy политика агрегации потребления
type MeteringPolicy string

const (
	MeteringMonthlyWindow MeteringPolicy = "monthly-window"
)

// Aggregation возвращает способ агрегации метрики
func (p MeteringPolicy) Aggregation(metricKey string) string {
	return "sum"
}

// SeatPolicy политика учета мест
type SeatPolicy string

const (
	SeatsPooled SeatPolicy = "pooled-seats"
)

// IncludedSeats возвращает число мест, включенных в план
func (p SeatPolicy) IncludedSeats(features domain.PlanFeatures) int {
	if features.Seats < 0 {
		return 0
	}
	return features.Seats
}

// WithinSeats проверяет, что занятые места не превышают включенные
func (p SeatPolicy) WithinSeats(used, included int) bool {
	if included < 0 {
		return true
	}
	return used <= included
}

// PolicyBundle разрешенный набор политик плана
type PolicyBundle struct {
	Proration   ProrationPolicy
	Invoicing   InvoicingPolicy
	Entitlement EntitlementPolicy
	Metering    MeteringPolicy
	Seats       SeatPolicy
}

// Ключи выбора политик в plan.strategies
const (
	strategyKeyProration   = "ProrationStrategy"
	strategyKeyInvoicing   = "InvoicingStrategy"
	strategyKeyEntitlement = "EntitlementStrategy"
	strategyKeyMetering    = "MeteringStrategy"
	strategyKeySeats       = "SeatStrategy"
)

var (
	prorationPolicies = map[string]ProrationPolicy{
		"linear":         ProrationLinear,
		"none":           ProrationNone,
		"always_invoice": ProrationAlwaysInvoice,
	}
	invoicingPolicies = map[string]InvoicingPolicy{
		"charge-automatically": InvoicingAutoCharge,
		"auto":                 InvoicingAutoCharge,
		"invoice-on-change":    InvoicingSendInvoice,
	}
	entitlementPolicies = map[string]EntitlementPolicy{
		"static": EntitlementStatic,
	}
	meteringPolicies = map[string]MeteringPolicy{
		"monthly-window": MeteringMonthlyWindow,
	}
	seatPolicies = map[string]SeatPolicy{
		"pooled-seats": SeatsPooled,
	}
)

// BuildBundle разрешает политики плана по строковым ключам из конфигурации.
// Неизвестные или отсутствующие ключи заменяются умолчаниями.
func BuildBundle(plan *domain.Plan) PolicyBundle {
	strategies := plan.Strategies
	if strategies == nil {
		strategies = map[string]string{}
	}

	bundle := PolicyBundle{
		Proration:   ProrationLinear,
		Invoicing:   InvoicingAutoCharge,
		Entitlement: EntitlementStatic,
		Metering:    MeteringMonthlyWindow,
		Seats:       SeatsPooled,
	}
	if p, ok := prorationPolicies[strategies[strategyKeyProration]]; ok {
		bundle.Proration = p
	}
	if p, ok := invoicingPolicies[strategies[strategyKeyInvoicing]]; ok {
		bundle.Invoicing = p
	}
	if p, ok := entitlementPolicies[strategies[strategyKeyEntitlement]]; ok {
		bundle.Entitlement = p
	}
	if p, ok := meteringPolicies[strategies[strategyKeyMetering]]; ok {
		bundle.Metering = p
	}
	if p, ok := seatPolicies[strategies[strategyKeySeats]]; ok {
		bundle.Seats = p
	}
	return bundle
}

// IsEntitled вычисляет право доступа к фиче по статической политике:
// лимит > 0 дает доступ, неизвестные фичи разрешены по умолчанию
func (b PolicyBundle) IsEntitled(featureKey string, features domain.PlanFeatures) bool {
	if featureKey == "seats" {
		return features.Seats > 0
	}
	if limit, ok := features.Limits[featureKey]; ok {
		return limit > 0
	}
	return true
}
