package energy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turpe-billing/internal/parisdate"
	perimeter "turpe-billing/internal/perimeter/domain"
	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

func day(y int, m time.Month, d int) time.Time { return parisdate.At(y, m, d) }

func kva(v float64) *tariff.Power {
	p := tariff.SinglePower(v)
	return &p
}

func hours(v float64) *float64 { return &v }

type fakeStore map[string]readings.Reading

func key(pdl string, at time.Time) string { return pdl + "|" + at.UTC().Format(time.RFC3339) }

func (s fakeStore) Lookup(_ context.Context, pdl string, at time.Time) (readings.Reading, bool, error) {
	rd, ok := s[key(pdl, at)]
	return rd, ok, nil
}

func (s fakeStore) put(pdl string, at time.Time, ix readings.Indexes) {
	s[key(pdl, at)] = readings.Reading{DeliveryPoint: pdl, At: at, Source: readings.SourcePeriodic, Indexes: ix}
}

func TestMergeEventReadingWinsAtSameInstant(t *testing.T) {
	at := day(2024, 3, 1)
	derived := []readings.Reading{{
		ContractID: "C1", At: at, Order: readings.OrderAfter, Source: readings.SourceEvent,
		Indexes: readings.Indexes{readings.ChannelBase: 1200}, Formula: "F1",
	}}
	periodic := []readings.Reading{{
		ContractID: "C1", At: at, Source: readings.SourcePeriodic,
		Indexes: readings.Indexes{readings.ChannelBase: 1185},
	}}

	got := Merge(derived, periodic)
	require.Len(t, got, 1)
	assert.Equal(t, readings.SourceEvent, got[0].Source)
	assert.Equal(t, 1200.0, got[0].Indexes[readings.ChannelBase])
}

func TestMergeKeepsBeforeAndAfterOfOneEvent(t *testing.T) {
	at := day(2024, 3, 1)
	got := Merge([]readings.Reading{
		{At: at, Order: readings.OrderAfter, Source: readings.SourceEvent, Indexes: readings.Indexes{readings.ChannelBase: 0}},
		{At: at, Order: readings.OrderBefore, Source: readings.SourceEvent, Indexes: readings.Indexes{readings.ChannelBase: 9000}},
		{At: at, Order: readings.OrderBefore, Source: readings.SourceEvent, Indexes: readings.Indexes{readings.ChannelBase: 9001}},
	}, nil)
	require.Len(t, got, 2)
	assert.Equal(t, readings.OrderBefore, got[0].Order)
	assert.Equal(t, 9000.0, got[0].Indexes[readings.ChannelBase], "first duplicate wins")
	assert.Equal(t, readings.OrderAfter, got[1].Order)
}

func TestMergeForwardFillsDescriptiveFieldsOnly(t *testing.T) {
	got := Merge(
		[]readings.Reading{{
			At: day(2024, 1, 1), Order: readings.OrderAfter, Source: readings.SourceEvent,
			Formula: "BTINFCU4", ContractRef: "REF-1", CalendarID: "DI000001",
			Indexes: readings.Indexes{readings.ChannelHP: 10, readings.ChannelHC: 20},
		}},
		[]readings.Reading{
			{At: day(2024, 2, 1), Source: readings.SourcePeriodic, Indexes: readings.Indexes{readings.ChannelHP: 15}},
			{At: day(2024, 3, 1), Source: readings.SourcePeriodic, Missing: true},
			{At: day(2023, 12, 1), Source: readings.SourcePeriodic, Indexes: readings.Indexes{readings.ChannelHP: 5}},
		},
	)
	require.Len(t, got, 4)
	assert.Empty(t, got[0].Formula, "nothing to carry before the first event reading")
	for _, rd := range got[2:] {
		assert.Equal(t, "BTINFCU4", rd.Formula)
		assert.Equal(t, "REF-1", rd.ContractRef)
		assert.Equal(t, "DI000001", rd.CalendarID)
	}
	_, hasHC := got[2].Indexes[readings.ChannelHC]
	assert.False(t, hasHC, "indexes are never filled")
	assert.Nil(t, got[3].Indexes)
}

func contractHistory() []perimeter.ContractEvent {
	return []perimeter.ContractEvent{
		{
			ContractID: "C1", ContractRef: "REF-1", DeliveryPoint: "PDL1", At: day(2024, 1, 1), Type: perimeter.EventEntry,
			AfterPower: kva(6), AfterFormula: "F1", AfterIndexes: readings.Indexes{readings.ChannelBase: 1000},
		},
		{
			ContractID: "C1", DeliveryPoint: "PDL1", At: day(2024, 2, 15), Type: perimeter.EventPowerChange,
			BeforePower: kva(6), AfterPower: kva(9), BeforeFormula: "F1", AfterFormula: "F1",
			BeforeIndexes: readings.Indexes{readings.ChannelBase: 1450}, AfterIndexes: readings.Indexes{readings.ChannelBase: 1450},
		},
	}
}

func TestReconcileAndGenerate(t *testing.T) {
	store := fakeStore{}
	store.put("PDL1", day(2024, 2, 1), readings.Indexes{readings.ChannelBase: 1300})
	store.put("PDL1", day(2024, 2, 15), readings.Indexes{readings.ChannelBase: 1440})
	// no reading on 2024-03-01

	events := perimeter.InsertBillingBoundaries(contractHistory(), day(2024, 4, 1))
	rec, err := NewReconciler(store)
	require.NoError(t, err)

	series, err := rec.Reconcile(context.Background(), events)
	require.NoError(t, err)

	require.Len(t, series, 6)
	assert.Equal(t, readings.SourceEvent, series[0].Source)
	assert.Equal(t, readings.SourcePeriodic, series[1].Source)
	assert.Equal(t, "F1", series[1].Formula)
	assert.Equal(t, "REF-1", series[1].ContractRef)
	assert.Equal(t, readings.SourceEvent, series[2].Source, "periodic reading at event instant is dropped")
	assert.Equal(t, readings.OrderBefore, series[2].Order)
	assert.Equal(t, readings.OrderAfter, series[3].Order)
	assert.True(t, series[4].Missing)
	assert.Equal(t, day(2024, 3, 1), series[4].At)
	assert.True(t, series[5].Missing)

	periods := Generate(series)
	require.Len(t, periods, 4)
	require.NoError(t, ValidateContiguity(periods))

	jan := periods[0]
	assert.Equal(t, 31, jan.NbDays)
	assert.Equal(t, 300.0, jan.Energy[readings.ChannelBase])
	assert.True(t, jan.Irregular, "event to periodic")
	assert.True(t, jan.DataComplete)

	feb1 := periods[1]
	assert.Equal(t, 14, feb1.NbDays)
	assert.Equal(t, 150.0, feb1.Energy[readings.ChannelBase])
	assert.True(t, feb1.Irregular)

	feb2 := periods[2]
	assert.Equal(t, day(2024, 2, 15), feb2.Start)
	assert.True(t, feb2.MissingReading)
	assert.False(t, feb2.DataComplete)
	assert.Nil(t, feb2.Energy)
	assert.Equal(t, "F1", feb2.Formula)

	assert.True(t, periods[3].MissingReading)
}

func TestReconcilePeriodicReadingsTakeEventTariffContext(t *testing.T) {
	store := fakeStore{}
	store.put("PDL9", day(2024, 1, 1), readings.Indexes{readings.ChannelBase: 100})
	store.put("PDL9", day(2024, 2, 1), readings.Indexes{readings.ChannelBase: 400})

	entry := perimeter.ContractEvent{
		ContractID: "C9", ContractRef: "REF-9", DeliveryPoint: "PDL9", At: day(2024, 1, 1), Code: "CFNE",
		AfterPower: kva(6), AfterFormula: "F1", AfterCalendar: "CAL-1",
	}
	events := perimeter.InsertBillingBoundaries([]perimeter.ContractEvent{entry}, day(2024, 3, 1))
	rec, err := NewReconciler(store)
	require.NoError(t, err)

	series, err := rec.Reconcile(context.Background(), events)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(series), 2)
	for _, rd := range series {
		assert.Equal(t, readings.SourcePeriodic, rd.Source)
		assert.Equal(t, "F1", rd.Formula, rd.At)
		assert.Equal(t, "CAL-1", rd.CalendarID, rd.At)
		assert.Equal(t, "REF-9", rd.ContractRef, rd.At)
	}

	periods := Generate(series)
	require.NotEmpty(t, periods)
	assert.Equal(t, "F1", periods[0].Formula)
	assert.Equal(t, 300.0, periods[0].Energy[readings.ChannelBase])
}

func TestGenerateFlagsNegativeDelta(t *testing.T) {
	series := []readings.Reading{
		{At: day(2024, 1, 1), Source: readings.SourcePeriodic, Indexes: readings.Indexes{readings.ChannelHP: 500, readings.ChannelHC: 300}},
		{At: day(2024, 2, 1), Source: readings.SourcePeriodic, Indexes: readings.Indexes{readings.ChannelHP: 450, readings.ChannelHC: 340}},
	}
	periods := Generate(series)
	require.Len(t, periods, 1)
	p := periods[0]
	assert.True(t, p.NegativeDelta)
	assert.True(t, p.Irregular)
	assert.False(t, p.DataComplete)
	assert.Equal(t, []readings.Channel{readings.ChannelHP}, p.NegativeChannels)
	_, hasHP := p.Energy[readings.ChannelHP]
	assert.False(t, hasHP, "not clipped to zero")
	assert.Equal(t, 40.0, p.Energy[readings.ChannelHC])
	assert.Equal(t, 40.0, p.Totals[readings.ChannelBase])
}

func TestGenerateOverrunAndTotals(t *testing.T) {
	series := []readings.Reading{
		{At: day(2024, 1, 1), Source: readings.SourceEvent, OverrunHours: hours(10),
			Indexes: readings.Indexes{readings.ChannelHPH: 100, readings.ChannelHCH: 50, readings.ChannelHPB: 10, readings.ChannelHCB: 5}},
		{At: day(2024, 2, 1), Source: readings.SourceEvent, OverrunHours: hours(12.5),
			Indexes: readings.Indexes{readings.ChannelHPH: 300, readings.ChannelHCH: 150, readings.ChannelHPB: 40, readings.ChannelHCB: 25}},
	}
	periods := Generate(series)
	require.Len(t, periods, 1)
	p := periods[0]
	assert.False(t, p.Irregular)
	assert.True(t, p.DataComplete)
	require.NotNil(t, p.OverrunHours)
	assert.Equal(t, 2.5, *p.OverrunHours)
	assert.Equal(t, 230.0, p.Totals[readings.ChannelHP])
	assert.Equal(t, 120.0, p.Totals[readings.ChannelHC])
	assert.Equal(t, 350.0, p.Totals[readings.ChannelBase])
}

func TestGenerateSkipsOutOfPortfolioGap(t *testing.T) {
	series := []readings.Reading{
		{At: day(2024, 1, 1), Source: readings.SourceEvent, Event: string(perimeter.EventEntry), Indexes: readings.Indexes{readings.ChannelBase: 0}},
		{At: day(2024, 2, 1), Source: readings.SourceEvent, Event: string(perimeter.EventExit), Indexes: readings.Indexes{readings.ChannelBase: 100}},
		{At: day(2024, 5, 1), Source: readings.SourceEvent, Event: string(perimeter.EventEntry), Indexes: readings.Indexes{readings.ChannelBase: 100}},
		{At: day(2024, 6, 1), Source: readings.SourceEvent, Event: string(perimeter.EventBillingCycle), Indexes: readings.Indexes{readings.ChannelBase: 180}},
	}
	periods := Generate(series)
	require.Len(t, periods, 2)
	assert.Equal(t, day(2024, 5, 1), periods[1].Start)
	assert.NoError(t, ValidateContiguity(periods))
}

func TestNewReconcilerRequiresStore(t *testing.T) {
	_, err := NewReconciler(nil)
	assert.ErrorIs(t, err, readings.ErrNilStore)
}
