package interfaces

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	billing "turpe-billing/internal/billing/domain"
	readings "turpe-billing/internal/readings/domain"
)

const (
	monthlySheet = "monthly"
	summarySheet = "summary"
)

var monthlyHeader = []string{
	"contract_id", "contract_ref", "delivery_point", "month", "formula",
	"power_kva", "power_memo", "subscription_days", "fixed_cost_eur",
	"energy_days", "variable_cost_eur", "overrun_penalty_eur", "total_eur",
	"subscription_coverage", "energy_coverage", "has_change", "data_complete",
	"missing_readings", "irregular", "start", "end",
}

// BuildMonthlyXLSX renders monthly records as a workbook with one row per
// record plus a per-month summary sheet.
func BuildMonthlyXLSX(records []billing.MonthlyRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", monthlySheet); err != nil {
		return nil, errors.Wrap(err, "export: rename sheet")
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, errors.Wrap(err, "export: new sheet")
	}

	channels := usedChannels(records)
	header := append([]string{}, monthlyHeader...)
	for _, c := range channels {
		header = append(header, "energy_"+strings.ToLower(string(c))+"_kwh")
	}
	if err := f.SetSheetRow(monthlySheet, "A1", &header); err != nil {
		return nil, errors.Wrap(err, "export: header")
	}

	for i, rec := range records {
		row := []any{
			rec.ContractID, rec.ContractRef, rec.DeliveryPoint, rec.MonthKey(), rec.Formula,
			rec.PowerKVA, rec.PowerMemo, rec.SubscriptionDays, money(rec.FixedCost),
			rec.EnergyDays, money(rec.VariableCost), money(rec.OverrunPenalty), money(rec.TotalCost()),
			rec.SubscriptionCoverage, rec.EnergyCoverage, rec.HasChange, rec.DataComplete,
			rec.MissingReadings, rec.Irregular, rec.StartLabel, rec.EndLabel,
		}
		for _, c := range channels {
			if v, ok := rec.Energy[c]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, errors.Wrap(err, "export: cell name")
		}
		if err := f.SetSheetRow(monthlySheet, cell, &row); err != nil {
			return nil, errors.Wrapf(err, "export: row %d", i+2)
		}
	}

	if err := writeSummary(f, records); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, errors.Wrap(err, "export: write")
	}
	return buf.Bytes(), nil
}

type monthTotals struct {
	records    int
	incomplete int
	fixed      decimal.Decimal
	variable   decimal.Decimal
	overrun    decimal.Decimal
}

func writeSummary(f *excelize.File, records []billing.MonthlyRecord) error {
	_ = f.SetCellValue(summarySheet, "A1", "month")
	_ = f.SetCellValue(summarySheet, "B1", "records")
	_ = f.SetCellValue(summarySheet, "C1", "incomplete")
	_ = f.SetCellValue(summarySheet, "D1", "fixed_cost_eur")
	_ = f.SetCellValue(summarySheet, "E1", "variable_cost_eur")
	_ = f.SetCellValue(summarySheet, "F1", "overrun_penalty_eur")
	_ = f.SetCellValue(summarySheet, "G1", "total_eur")

	var months []string
	totals := make(map[string]*monthTotals)
	for _, rec := range records {
		key := rec.MonthKey()
		t, ok := totals[key]
		if !ok {
			t = &monthTotals{}
			totals[key] = t
			months = append(months, key)
		}
		t.records++
		if !rec.DataComplete {
			t.incomplete++
		}
		t.fixed = t.fixed.Add(rec.FixedCost)
		t.variable = t.variable.Add(rec.VariableCost)
		t.overrun = t.overrun.Add(rec.OverrunPenalty)
	}
	sort.Strings(months)

	for i, key := range months {
		t := totals[key]
		row := i + 2
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), key)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), t.records)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), t.incomplete)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), money(t.fixed))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("E%d", row), money(t.variable))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("F%d", row), money(t.overrun))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("G%d", row), money(t.fixed.Add(t.variable).Add(t.overrun)))
	}
	return nil
}

func usedChannels(records []billing.MonthlyRecord) []readings.Channel {
	seen := make(map[readings.Channel]bool)
	for _, rec := range records {
		for c := range rec.Energy {
			seen[c] = true
		}
	}
	var out []readings.Channel
	for _, c := range readings.AllChannels {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
