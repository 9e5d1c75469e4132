package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billing "turpe-billing/internal/billing/domain"
	"turpe-billing/internal/parisdate"
	perimeter "turpe-billing/internal/perimeter/domain"
	readings "turpe-billing/internal/readings/domain"
	"turpe-billing/internal/readings/infrastructure/memory"
	tariff "turpe-billing/internal/tariff/domain"
)

func day(y int, m time.Month, d int) time.Time { return parisdate.At(y, m, d) }

func power(v float64) *tariff.Power {
	p := tariff.SinglePower(v)
	return &p
}

func base(v float64) readings.Indexes { return readings.Indexes{readings.ChannelBase: v} }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func ruleF1(start time.Time) tariff.Rule {
	return tariff.Rule{
		Formula: "F1",
		Start:   start,
		B:       decimal.RequireFromString("10.44"),
		CG:      decimal.RequireFromString("16.2"),
		CC:      decimal.RequireFromString("20.88"),
		Rates:   map[readings.Channel]decimal.Decimal{readings.ChannelBase: decimal.RequireFromString("4.58")},
	}
}

func historyC1() []perimeter.ContractEvent {
	return []perimeter.ContractEvent{
		{ContractID: "C1", DeliveryPoint: "PDL1", At: day(2024, 1, 1), Code: "CFNE",
			AfterPower: power(6), AfterFormula: "F1", AfterIndexes: base(0)},
		{ContractID: "C1", DeliveryPoint: "PDL1", At: day(2024, 4, 1), Code: "MCT",
			BeforePower: power(6), AfterPower: power(9), BeforeFormula: "F1", AfterFormula: "F1",
			BeforeIndexes: base(3000), AfterIndexes: base(3000)},
		{ContractID: "C1", DeliveryPoint: "PDL1", At: day(2024, 6, 1), Code: "RES",
			BeforeIndexes: base(5000)},
	}
}

func storeC1(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	for at, v := range map[time.Time]float64{
		day(2024, 2, 1): 1000,
		day(2024, 3, 1): 2000,
		day(2024, 5, 1): 4000,
	} {
		require.NoError(t, store.Put(readings.Reading{DeliveryPoint: "PDL1", At: at, Source: readings.SourcePeriodic, Indexes: base(v)}))
	}
	return store
}

func newPipeline(t *testing.T, store readings.Store) *Pipeline {
	t.Helper()
	p, err := NewPipeline(store, WithWorkers(2), WithClock(fixedClock{now: day(2024, 7, 15)}))
	require.NoError(t, err)
	return p
}

func table(t *testing.T, rules ...tariff.Rule) *tariff.RuleTable {
	t.Helper()
	tbl, err := tariff.NewRuleTable(rules)
	require.NoError(t, err)
	return tbl
}

func TestPipelineEndToEnd(t *testing.T) {
	p := newPipeline(t, storeC1(t))

	result, err := p.Run(context.Background(), table(t, ruleF1(day(2020, 1, 1))), historyC1(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, day(2024, 7, 1), result.Horizon)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Records, 5)

	for _, rec := range result.Records {
		assert.True(t, rec.DataComplete, rec.MonthKey())
		assert.Equal(t, 1, rec.SubscriptionPeriods, rec.MonthKey())
		assert.Equal(t, 1, rec.EnergyPeriods, rec.MonthKey())
		assert.InDelta(t, 1000, rec.Energy[readings.ChannelBase], 1e-9, rec.MonthKey())
		assert.Equal(t, "45.80", rec.VariableCost.StringFixed(2), rec.MonthKey())
	}

	jan, feb, apr := result.Records[0], result.Records[1], result.Records[3]
	assert.Equal(t, "2024-01", jan.MonthKey())
	assert.Equal(t, "8.47", jan.FixedCost.StringFixed(2))
	assert.Equal(t, "7.92", feb.FixedCost.StringFixed(2))
	assert.Equal(t, 9.0, apr.PowerKVA)
	assert.Equal(t, "10.77", apr.FixedCost.StringFixed(2))
	assert.True(t, jan.Irregular)
	assert.False(t, feb.Irregular)

	kinds := map[string]int{}
	for _, f := range result.Flags {
		kinds[f.Kind]++
	}
	assert.Equal(t, 0, kinds[FlagMissingReading])
	assert.Equal(t, 4, kinds[FlagMixedSources])
}

func TestPipelineIsIdempotent(t *testing.T) {
	p := newPipeline(t, storeC1(t))
	rules := table(t, ruleF1(day(2020, 1, 1)))

	first, err := p.Run(context.Background(), rules, historyC1(), day(2024, 7, 1))
	require.NoError(t, err)
	second, err := p.Run(context.Background(), rules, historyC1(), day(2024, 7, 1))
	require.NoError(t, err)
	assert.Equal(t, first.Records, second.Records)
}

func TestPipelineMissingRuleAbortsBatch(t *testing.T) {
	p := newPipeline(t, storeC1(t))

	_, err := p.Run(context.Background(), table(t, ruleF1(day(2024, 3, 1))), historyC1(), day(2024, 7, 1))
	require.Error(t, err)

	var miss *tariff.MissingRulesError
	require.ErrorAs(t, err, &miss)
	assert.Contains(t, err.Error(), "F1 (2024-01-01)")
	assert.Contains(t, err.Error(), "F1 (2024-02-01)")
	assert.ErrorIs(t, err, billing.ErrConfiguration)
}

func TestPipelineIsolatesContractFailures(t *testing.T) {
	bad := tariff.TieredPower(60, 36, 60, 60)
	events := append(historyC1(),
		perimeter.ContractEvent{ContractID: "C4", DeliveryPoint: "PDL4", At: day(2024, 1, 1), Code: "CFNE",
			AfterPower: &bad, AfterFormula: "HTALU5"},
	)
	p := newPipeline(t, storeC1(t))

	result, err := p.Run(context.Background(), table(t, ruleF1(day(2020, 1, 1))), events, day(2024, 7, 1))
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "C4", result.Failures[0].ContractID)
	assert.Equal(t, FailureConfiguration, result.Failures[0].Kind)
	assert.ErrorIs(t, result.Failures[0].Err, tariff.ErrNonMonotonicTiers)
	assert.Len(t, result.Records, 5)
	assert.Equal(t, 2, result.Contracts)
}

func TestPipelineFlagsUnknownEventsAndMissingReadings(t *testing.T) {
	events := append(historyC1(), perimeter.ContractEvent{
		ContractID: "C1", DeliveryPoint: "PDL1", At: day(2024, 2, 10), Code: "AMEN",
	})
	p := newPipeline(t, memory.NewStore())

	result, err := p.Run(context.Background(), table(t, ruleF1(day(2020, 1, 1))), events, day(2024, 7, 1))
	require.NoError(t, err)

	kinds := map[string]int{}
	for _, f := range result.Flags {
		kinds[f.Kind]++
	}
	assert.Equal(t, 1, kinds[FlagUnknownEvent])
	assert.Positive(t, kinds[FlagMissingReading])

	jan := result.Records[0]
	assert.Equal(t, 1.0, jan.SubscriptionCoverage)
	assert.Equal(t, 0.0, jan.EnergyCoverage)
	assert.False(t, jan.DataComplete)
	assert.Equal(t, 1, jan.MissingReadings)
}

func TestPipelinePricesBaseFormulaOnPeakOffPeakMeter(t *testing.T) {
	events := []perimeter.ContractEvent{
		{ContractID: "C2", DeliveryPoint: "PDL2", At: day(2024, 1, 1), Code: "CFNE",
			AfterPower: power(6), AfterFormula: "F1",
			AfterIndexes: readings.Indexes{readings.ChannelHP: 0, readings.ChannelHC: 0}},
		{ContractID: "C2", DeliveryPoint: "PDL2", At: day(2024, 2, 1), Code: "RES",
			BeforeIndexes: readings.Indexes{readings.ChannelHP: 600, readings.ChannelHC: 400}},
	}
	p := newPipeline(t, memory.NewStore())

	result, err := p.Run(context.Background(), table(t, ruleF1(day(2020, 1, 1))), events, day(2024, 7, 1))
	require.NoError(t, err)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Records, 1)

	jan := result.Records[0]
	assert.Equal(t, "2024-01", jan.MonthKey())
	assert.Equal(t, "8.47", jan.FixedCost.StringFixed(2))
	assert.InDelta(t, 1000, jan.Totals[readings.ChannelBase], 1e-9)
	// 1000 kWh BASE total * 4.58 / 100, HP/HC have no rate under F1
	assert.Equal(t, "45.80", jan.VariableCost.StringFixed(2))
}

func TestPipelinePeriodicReadingsInheritEventFormula(t *testing.T) {
	store := memory.NewStore()
	for at, v := range map[time.Time]float64{
		day(2024, 1, 1): 100,
		day(2024, 2, 1): 400,
		day(2024, 3, 1): 700,
	} {
		require.NoError(t, store.Put(readings.Reading{DeliveryPoint: "PDL3", At: at, Source: readings.SourcePeriodic, Indexes: base(v)}))
	}
	events := []perimeter.ContractEvent{
		{ContractID: "C3", DeliveryPoint: "PDL3", At: day(2024, 1, 1), Code: "CFNE",
			AfterPower: power(6), AfterFormula: "F1"},
	}
	p := newPipeline(t, store)

	result, err := p.Run(context.Background(), table(t, ruleF1(day(2020, 1, 1))), events, day(2024, 3, 1))
	require.NoError(t, err)
	assert.Empty(t, result.Failures)
	require.NotEmpty(t, result.Records)

	jan := result.Records[0]
	assert.Equal(t, "2024-01", jan.MonthKey())
	assert.Equal(t, "8.47", jan.FixedCost.StringFixed(2))
	assert.InDelta(t, 300, jan.Energy[readings.ChannelBase], 1e-9)
	assert.Equal(t, "13.74", jan.VariableCost.StringFixed(2))
	assert.Equal(t, "F1", jan.Formula)
}

func TestNewPipelineRequiresStore(t *testing.T) {
	_, err := NewPipeline(nil)
	assert.Error(t, err)
}
