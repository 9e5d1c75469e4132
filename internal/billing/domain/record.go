package billing

import (
	"time"

	"github.com/shopspring/decimal"

	energy "turpe-billing/internal/energy/domain"
	"turpe-billing/internal/parisdate"
	readings "turpe-billing/internal/readings/domain"
	subscription "turpe-billing/internal/subscription/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

// SubscriptionLine is a subscription period with its fixed cost.
type SubscriptionLine struct {
	Period subscription.Period
	Cost   tariff.FixedCost
}

// EnergyLine is an energy period with its variable cost.
type EnergyLine struct {
	Period energy.Period
	Cost   tariff.VariableCost
}

// MonthlyRecord is the billing row of one contract and delivery point for
// one calendar month.
type MonthlyRecord struct {
	ContractID    string
	ContractRef   string
	DeliveryPoint string
	Month         time.Time
	Formula       string

	PowerKVA            float64
	TierPowers          *tariff.TierPowers
	PowerMemo           string
	SubscriptionDays    int
	SubscriptionPeriods int
	FixedCost           decimal.Decimal

	Energy          map[readings.Channel]float64
	Totals          map[readings.Channel]float64
	EnergyDays      int
	EnergyPeriods   int
	// VariableCost is the energy charge alone; the overrun penalty is kept
	// apart in OverrunPenalty and VariableTotal adds both.
	VariableCost    decimal.Decimal
	OverrunPenalty  decimal.Decimal
	MissingReadings int
	Irregular       bool

	HasChange            bool
	SubscriptionCoverage float64
	EnergyCoverage       float64
	DataComplete         bool

	StartLabel string
	EndLabel   string
}

// MonthKey returns the "2006-01" key of the record month.
func (r MonthlyRecord) MonthKey() string { return parisdate.MonthKey(r.Month) }

// VariableTotal is the energy charge plus the overrun penalty.
func (r MonthlyRecord) VariableTotal() decimal.Decimal {
	return r.VariableCost.Add(r.OverrunPenalty)
}

// TotalCost is the fixed cost plus VariableTotal.
func (r MonthlyRecord) TotalCost() decimal.Decimal {
	return r.FixedCost.Add(r.VariableTotal())
}

// Validate checks the record identity.
func (r MonthlyRecord) Validate() error {
	if r.ContractID == "" {
		return ErrEmptyContractID
	}
	if r.Month.IsZero() {
		return ErrInvalidMonth
	}
	return nil
}
