package http

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	billing "turpe-billing/internal/billing/domain"
	"turpe-billing/internal/parisdate"
	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

const dateLayout = "2006-01-02"

type tiersDTO struct {
	HPH float64 `json:"hph"`
	HCH float64 `json:"hch"`
	HPB float64 `json:"hpb"`
	HCB float64 `json:"hcb"`
}

type recordDTO struct {
	ContractID    string `json:"contract_id"`
	ContractRef   string `json:"contract_ref,omitempty"`
	DeliveryPoint string `json:"delivery_point"`
	Month         string `json:"month"`
	Formula       string `json:"formula"`

	PowerKVA            float64   `json:"power_kva"`
	TierPowers          *tiersDTO `json:"tier_powers,omitempty"`
	PowerMemo           string    `json:"power_memo,omitempty"`
	SubscriptionDays    int       `json:"subscription_days"`
	SubscriptionPeriods int       `json:"subscription_periods"`
	FixedCost           string    `json:"fixed_cost"`

	Energy          map[string]float64 `json:"energy_kwh"`
	EnergyDays      int                `json:"energy_days"`
	EnergyPeriods   int                `json:"energy_periods"`
	VariableCost    string             `json:"variable_cost"`
	OverrunPenalty  string             `json:"overrun_penalty"`
	VariableTotal   string             `json:"variable_total"`
	MissingReadings int                `json:"missing_readings"`
	Irregular       bool               `json:"irregular"`

	HasChange            bool    `json:"has_change"`
	SubscriptionCoverage float64 `json:"subscription_coverage"`
	EnergyCoverage       float64 `json:"energy_coverage"`
	DataComplete         bool    `json:"data_complete"`

	TotalCost  string `json:"total_cost"`
	StartLabel string `json:"start_label"`
	EndLabel   string `json:"end_label"`
}

func toRecordDTO(rec billing.MonthlyRecord) recordDTO {
	out := recordDTO{
		ContractID:           rec.ContractID,
		ContractRef:          rec.ContractRef,
		DeliveryPoint:        rec.DeliveryPoint,
		Month:                rec.MonthKey(),
		Formula:              rec.Formula,
		PowerKVA:             rec.PowerKVA,
		PowerMemo:            rec.PowerMemo,
		SubscriptionDays:     rec.SubscriptionDays,
		SubscriptionPeriods:  rec.SubscriptionPeriods,
		FixedCost:            rec.FixedCost.StringFixed(2),
		Energy:               make(map[string]float64, len(rec.Energy)),
		EnergyDays:           rec.EnergyDays,
		EnergyPeriods:        rec.EnergyPeriods,
		VariableCost:         rec.VariableCost.StringFixed(2),
		OverrunPenalty:       rec.OverrunPenalty.StringFixed(2),
		VariableTotal:        rec.VariableTotal().StringFixed(2),
		MissingReadings:      rec.MissingReadings,
		Irregular:            rec.Irregular,
		HasChange:            rec.HasChange,
		SubscriptionCoverage: rec.SubscriptionCoverage,
		EnergyCoverage:       rec.EnergyCoverage,
		DataComplete:         rec.DataComplete,
		TotalCost:            rec.TotalCost().StringFixed(2),
		StartLabel:           rec.StartLabel,
		EndLabel:             rec.EndLabel,
	}
	if rec.TierPowers != nil {
		out.TierPowers = &tiersDTO{
			HPH: rec.TierPowers.HPH,
			HCH: rec.TierPowers.HCH,
			HPB: rec.TierPowers.HPB,
			HCB: rec.TierPowers.HCB,
		}
	}
	for c, v := range rec.Energy {
		out.Energy[string(c)] = v
	}
	return out
}

type runDTO struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Horizon    string `json:"horizon"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	Contracts  int    `json:"contracts"`
	Records    int    `json:"records"`
	Failures   int    `json:"failures"`
	Warnings   int    `json:"warnings"`
	Error      string `json:"error,omitempty"`
}

func toRunDTO(run billing.Run) runDTO {
	out := runDTO{
		ID:        run.ID,
		TenantID:  run.TenantID,
		StartedAt: run.StartedAt.UTC().Format(time.RFC3339),
		Status:    run.Status,
		Contracts: run.Contracts,
		Records:   run.Records,
		Failures:  run.Failures,
		Warnings:  run.Warnings,
		Error:     run.Error,
	}
	if !run.Horizon.IsZero() {
		out.Horizon = run.Horizon.In(parisdate.Location()).Format(dateLayout)
	}
	if !run.FinishedAt.IsZero() {
		out.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return out
}

type ruleDTO struct {
	Formula string            `json:"formula"`
	Start   string            `json:"start"`
	End     string            `json:"end,omitempty"`
	B       string            `json:"b"`
	CG      string            `json:"cg"`
	CC      string            `json:"cc"`
	Tiers   map[string]string `json:"tiers,omitempty"`
	Rates   map[string]string `json:"rates"`
	CMDPS   string            `json:"cmdps,omitempty"`
}

func toRuleDTO(rule tariff.Rule) ruleDTO {
	loc := parisdate.Location()
	out := ruleDTO{
		Formula: rule.Formula,
		Start:   rule.Start.In(loc).Format(dateLayout),
		B:       rule.B.String(),
		CG:      rule.CG.String(),
		CC:      rule.CC.String(),
		Rates:   lo.MapEntries(rule.Rates, func(c readings.Channel, v decimal.Decimal) (string, string) { return string(c), v.String() }),
	}
	if rule.End != nil {
		out.End = rule.End.In(loc).Format(dateLayout)
	}
	if rule.Tiers != nil {
		out.Tiers = map[string]string{
			"hph": rule.Tiers.HPH.String(),
			"hch": rule.Tiers.HCH.String(),
			"hpb": rule.Tiers.HPB.String(),
			"hcb": rule.Tiers.HCB.String(),
		}
	}
	if rule.CMDPS != nil {
		out.CMDPS = rule.CMDPS.String()
	}
	return out
}

type runRequest struct {
	Horizon string `json:"horizon"`
}

type powerDTO struct {
	KVA   float64   `json:"kva"`
	Tiers *tiersDTO `json:"tiers,omitempty"`
}

func (p *powerDTO) toDomain() *tariff.Power {
	if p == nil {
		return nil
	}
	if p.Tiers != nil {
		power := tariff.TieredPower(p.Tiers.HPH, p.Tiers.HCH, p.Tiers.HPB, p.Tiers.HCB)
		return &power
	}
	power := tariff.SinglePower(p.KVA)
	return &power
}

type sideDTO struct {
	Power        *powerDTO          `json:"power,omitempty"`
	Formula      string             `json:"formula,omitempty"`
	Calendar     string             `json:"calendar,omitempty"`
	Indexes      map[string]float64 `json:"indexes,omitempty"`
	OverrunHours *float64           `json:"overrun_hours,omitempty"`
}

type eventDTO struct {
	ContractID    string  `json:"contract_id"`
	ContractRef   string  `json:"contract_ref"`
	DeliveryPoint string  `json:"delivery_point"`
	At            string  `json:"at"`
	Code          string  `json:"code"`
	Type          string  `json:"type,omitempty"`
	Before        sideDTO `json:"before"`
	After         sideDTO `json:"after"`
}

type eventBatch struct {
	Events []eventDTO `json:"events"`
}

type readingDTO struct {
	DeliveryPoint string             `json:"delivery_point"`
	ContractRef   string             `json:"contract_ref,omitempty"`
	At            string             `json:"at"`
	Formula       string             `json:"formula,omitempty"`
	CalendarID    string             `json:"calendar_id,omitempty"`
	Indexes       map[string]float64 `json:"indexes"`
	OverrunHours  *float64           `json:"overrun_hours,omitempty"`
}

type readingBatch struct {
	Readings []readingDTO `json:"readings"`
}

type ingestResponse struct {
	Accepted int `json:"accepted"`
}
