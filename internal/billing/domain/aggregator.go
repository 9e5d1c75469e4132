package billing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"turpe-billing/internal/parisdate"
	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

type monthKey struct {
	contractID    string
	deliveryPoint string
	month         int64
}

func keyOf(contractID, deliveryPoint string, month time.Time) monthKey {
	return monthKey{contractID: contractID, deliveryPoint: deliveryPoint, month: month.Unix()}
}

// slice is the part of a period falling inside one month.
type slice struct {
	month time.Time
	start time.Time
	end   time.Time
	days  int
}

// monthSlices cuts [start, end) at local month boundaries.
func monthSlices(start, end time.Time) []slice {
	var out []slice
	for m := parisdate.MonthStart(start); m.Before(end); m = m.AddDate(0, 1, 0) {
		next := m.AddDate(0, 1, 0)
		from := maxTime(start, m)
		to := minTime(end, next)
		out = append(out, slice{month: m, start: from, end: to, days: parisdate.DaysBetween(from, to)})
	}
	return out
}

type subscriptionAcc struct {
	contractRef  string
	formula      string
	days         int
	count        int
	fixed        decimal.Decimal
	weighted     float64
	tierWeighted tariff.TierPowers
	tiered       bool
	memo         []string
	first        time.Time
	last         time.Time
}

type energyAcc struct {
	contractRef string
	formula     string
	days        int
	coveredDays int
	count       int
	missing     int
	irregular   bool
	energy      map[readings.Channel]float64
	totals      map[readings.Channel]float64
	variable    decimal.Decimal
	overrun     decimal.Decimal
	first       time.Time
	last        time.Time
}

// aggregateSubscriptions folds billable subscription lines into months.
// A line wholly inside a month keeps its own cost; a line crossing a month
// boundary contributes round(daily * days, 2) to each month it touches.
func aggregateSubscriptions(lines []SubscriptionLine) map[monthKey]*subscriptionAcc {
	out := make(map[monthKey]*subscriptionAcc)
	for _, line := range lines {
		p := line.Period
		if !p.Billable() {
			continue
		}
		for _, s := range monthSlices(p.Start, *p.End) {
			if s.days == 0 {
				continue
			}
			k := keyOf(p.ContractID, p.DeliveryPoint, s.month)
			acc, ok := out[k]
			if !ok {
				acc = &subscriptionAcc{fixed: decimal.Zero, first: s.start, last: s.end}
				out[k] = acc
			}
			cost := line.Cost.Period
			if s.days != *p.NbDays {
				cost = tariff.ProrateDaily(line.Cost.Daily, s.days)
			}
			acc.fixed = acc.fixed.Add(cost)
			acc.days += s.days
			acc.count++
			acc.weighted += p.Power.KVA * float64(s.days)
			if p.Power.IsTiered() {
				acc.tiered = true
				d := float64(s.days)
				acc.tierWeighted.HPH += p.Power.Tiers.HPH * d
				acc.tierWeighted.HCH += p.Power.Tiers.HCH * d
				acc.tierWeighted.HPB += p.Power.Tiers.HPB * d
				acc.tierWeighted.HCB += p.Power.Tiers.HCB * d
			}
			acc.memo = append(acc.memo, fmt.Sprintf("%dj à %s", s.days, p.Power.String()))
			acc.formula = p.Formula
			if p.ContractRef != "" {
				acc.contractRef = p.ContractRef
			}
			acc.first = minTime(acc.first, s.start)
			acc.last = maxTime(acc.last, s.end)
		}
	}
	return out
}

// aggregateEnergy folds energy lines into months, prorating energy and
// cost by the share of days inside each month.
func aggregateEnergy(lines []EnergyLine) map[monthKey]*energyAcc {
	out := make(map[monthKey]*energyAcc)
	for _, line := range lines {
		p := line.Period
		for _, s := range monthSlices(p.Start, p.End) {
			if s.days == 0 && p.NbDays != 0 {
				continue
			}
			fraction := 1.0
			if p.NbDays > 0 {
				fraction = float64(s.days) / float64(p.NbDays)
			}
			k := keyOf(p.ContractID, p.DeliveryPoint, s.month)
			acc, ok := out[k]
			if !ok {
				acc = &energyAcc{
					energy:   make(map[readings.Channel]float64),
					totals:   make(map[readings.Channel]float64),
					variable: decimal.Zero,
					overrun:  decimal.Zero,
					first:    s.start,
					last:     s.end,
				}
				out[k] = acc
			}
			for c, v := range p.Energy {
				acc.energy[c] += v * fraction
			}
			for c, v := range p.Totals {
				acc.totals[c] += v * fraction
			}
			if fraction == 1 {
				acc.variable = acc.variable.Add(line.Cost.Energy)
				acc.overrun = acc.overrun.Add(line.Cost.Overrun)
			} else {
				f := decimal.NewFromFloat(fraction)
				acc.variable = acc.variable.Add(line.Cost.Energy.Mul(f).Round(2))
				acc.overrun = acc.overrun.Add(line.Cost.Overrun.Mul(f).Round(2))
			}
			acc.days += s.days
			if p.DataComplete {
				acc.coveredDays += s.days
			}
			if p.MissingReading {
				acc.missing++
			}
			acc.irregular = acc.irregular || p.Irregular
			acc.count++
			if p.Formula != "" {
				acc.formula = p.Formula
			}
			if p.ContractRef != "" {
				acc.contractRef = p.ContractRef
			}
			acc.first = minTime(acc.first, s.start)
			acc.last = maxTime(acc.last, s.end)
		}
	}
	return out
}

// Aggregate builds one record per (contract, delivery point, month) from
// the outer join of the subscription and energy sides. A side with no data
// contributes zeros and zero coverage. Records are sorted by contract,
// delivery point and month.
func Aggregate(subscriptions []SubscriptionLine, energies []EnergyLine) []MonthlyRecord {
	subs := aggregateSubscriptions(subscriptions)
	nrj := aggregateEnergy(energies)

	keys := lo.Uniq(append(lo.Keys(subs), lo.Keys(nrj)...))
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.contractID != b.contractID {
			return a.contractID < b.contractID
		}
		if a.deliveryPoint != b.deliveryPoint {
			return a.deliveryPoint < b.deliveryPoint
		}
		return a.month < b.month
	})

	out := make([]MonthlyRecord, 0, len(keys))
	for _, k := range keys {
		month := time.Unix(k.month, 0).In(parisdate.Location())
		daysInMonth := float64(parisdate.DaysInMonth(month))
		rec := MonthlyRecord{
			ContractID:     k.contractID,
			DeliveryPoint:  k.deliveryPoint,
			Month:          month,
			FixedCost:      decimal.Zero,
			VariableCost:   decimal.Zero,
			OverrunPenalty: decimal.Zero,
			Energy:         map[readings.Channel]float64{},
			Totals:         map[readings.Channel]float64{},
		}

		var first, last time.Time
		if s, ok := subs[k]; ok {
			rec.ContractRef = s.contractRef
			rec.Formula = s.formula
			rec.SubscriptionDays = s.days
			rec.SubscriptionPeriods = s.count
			rec.FixedCost = s.fixed
			if s.days > 0 {
				d := float64(s.days)
				rec.PowerKVA = s.weighted / d
				if s.tiered {
					rec.TierPowers = &tariff.TierPowers{
						HPH: s.tierWeighted.HPH / d,
						HCH: s.tierWeighted.HCH / d,
						HPB: s.tierWeighted.HPB / d,
						HCB: s.tierWeighted.HCB / d,
					}
				}
			}
			if s.count > 1 {
				rec.PowerMemo = strings.Join(s.memo, ", ")
			}
			rec.SubscriptionCoverage = clip(float64(s.days) / daysInMonth)
			first, last = s.first, s.last
		}
		if e, ok := nrj[k]; ok {
			if rec.ContractRef == "" {
				rec.ContractRef = e.contractRef
			}
			if rec.Formula == "" {
				rec.Formula = e.formula
			}
			rec.Energy = e.energy
			rec.Totals = e.totals
			rec.EnergyDays = e.days
			rec.EnergyPeriods = e.count
			rec.VariableCost = e.variable
			rec.OverrunPenalty = e.overrun
			rec.MissingReadings = e.missing
			rec.Irregular = e.irregular
			rec.EnergyCoverage = clip(float64(e.coveredDays) / daysInMonth)
			if first.IsZero() {
				first, last = e.first, e.last
			}
		}
		rec.HasChange = rec.SubscriptionPeriods > 1
		rec.DataComplete = rec.SubscriptionCoverage == 1 && rec.EnergyCoverage == 1
		rec.StartLabel = parisdate.FrenchLabel(first)
		rec.EndLabel = parisdate.FrenchLabel(last)
		out = append(out, rec)
	}
	return out
}

func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
