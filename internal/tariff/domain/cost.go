package tariff

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	readings "turpe-billing/internal/readings/domain"
)

var (
	daysPerYear  = decimal.NewFromInt(365)
	centsPerEuro = decimal.NewFromInt(100)
)

// FixedCost is the subscription component of one period.
type FixedCost struct {
	Annual decimal.Decimal
	Daily  decimal.Decimal
	Period decimal.Decimal
}

// AnnualFixed returns the yearly subscription cost of power under rule.
// C4 powers use the marginal tier formula
// b1*P1 + b2*(P2-P1) + b3*(P3-P2) + b4*(P4-P3) + cg + cc.
func AnnualFixed(rule Rule, power Power) (decimal.Decimal, error) {
	flat := rule.CG.Add(rule.CC)
	if !power.IsTiered() {
		return rule.B.Mul(decimal.NewFromFloat(power.KVA)).Add(flat), nil
	}
	if err := power.Tiers.Validate(); err != nil {
		return decimal.Zero, err
	}
	if rule.Tiers == nil {
		return decimal.Zero, errors.Wrapf(ErrMissingTierCoefficients, "formula %s", rule.Formula)
	}
	p1 := decimal.NewFromFloat(power.Tiers.HPH)
	p2 := decimal.NewFromFloat(power.Tiers.HCH)
	p3 := decimal.NewFromFloat(power.Tiers.HPB)
	p4 := decimal.NewFromFloat(power.Tiers.HCB)
	annual := rule.Tiers.HPH.Mul(p1).
		Add(rule.Tiers.HCH.Mul(p2.Sub(p1))).
		Add(rule.Tiers.HPB.Mul(p3.Sub(p2))).
		Add(rule.Tiers.HCB.Mul(p4.Sub(p3)))
	return annual.Add(flat), nil
}

// ComputeFixed prorates the annual cost over days: round(annual/365*days, 2).
func ComputeFixed(rule Rule, power Power, days int) (FixedCost, error) {
	if days < 0 {
		return FixedCost{}, ErrNegativeDays
	}
	annual, err := AnnualFixed(rule, power)
	if err != nil {
		return FixedCost{}, err
	}
	daily := annual.Div(daysPerYear)
	return FixedCost{
		Annual: annual,
		Daily:  daily,
		Period: ProrateDaily(daily, days),
	}, nil
}

// ProrateDaily returns round(daily*days, 2).
func ProrateDaily(daily decimal.Decimal, days int) decimal.Decimal {
	return daily.Mul(decimal.NewFromInt(int64(days))).Round(2)
}

// VariableCost is the energy component of one period.
type VariableCost struct {
	// ByChannel holds unrounded energy*rate/100 contributions.
	ByChannel map[readings.Channel]decimal.Decimal
	Energy    decimal.Decimal
	Overrun   decimal.Decimal
	Total     decimal.Decimal
}

// ComputeVariable sums energy*rate/100 over every channel that has both a
// quantity and a rate, so native bands and the BASE/HP/HC totals are priced
// by whichever coefficients the formula defines. The overrun penalty is added
// when the rule carries an hourly coefficient.
func ComputeVariable(rule Rule, energy map[readings.Channel]float64, overrunHours *float64) (VariableCost, error) {
	channels := make([]readings.Channel, 0, len(energy))
	for c := range energy {
		if _, ok := rule.Rates[c]; ok {
			channels = append(channels, c)
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	out := VariableCost{ByChannel: make(map[readings.Channel]decimal.Decimal, len(channels))}
	sum := decimal.Zero
	for _, c := range channels {
		contribution := decimal.NewFromFloat(energy[c]).Mul(rule.Rates[c]).Div(centsPerEuro)
		out.ByChannel[c] = contribution
		sum = sum.Add(contribution)
	}
	out.Energy = sum.Round(2)
	out.Overrun = decimal.Zero
	if rule.CMDPS != nil && overrunHours != nil {
		out.Overrun = decimal.NewFromFloat(*overrunHours).Mul(*rule.CMDPS).Round(2)
	}
	out.Total = out.Energy.Add(out.Overrun)
	return out, nil
}
