package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turpe-billing/internal/parisdate"
	perimeter "turpe-billing/internal/perimeter/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

func day(y int, m time.Month, d int) time.Time { return parisdate.At(y, m, d) }

func kva(v float64) *tariff.Power {
	p := tariff.SinglePower(v)
	return &p
}

func scenarioEvents() []perimeter.ContractEvent {
	return []perimeter.ContractEvent{
		{ContractID: "C1", DeliveryPoint: "PDL1", At: day(2024, 1, 1), Type: perimeter.EventEntry, AfterPower: kva(6), AfterFormula: "F1"},
		{ContractID: "C1", DeliveryPoint: "PDL1", At: day(2024, 4, 1), Type: perimeter.EventPowerChange, BeforePower: kva(6), AfterPower: kva(9)},
		{ContractID: "C1", DeliveryPoint: "PDL1", At: day(2024, 6, 1), Type: perimeter.EventExit},
	}
}

func TestScenarioEntryChangeExit(t *testing.T) {
	ruptures, err := perimeter.DetectRuptures(scenarioEvents())
	require.NoError(t, err)

	raw := Pair(ruptures)
	require.Len(t, raw, 3)
	assert.True(t, raw[2].IsOpen())
	require.NotNil(t, raw[2].NbDays)
	assert.Equal(t, 0, *raw[2].NbDays)

	periods := Generate(ruptures)
	require.Len(t, periods, 2, "zero-length trailing period is filtered")

	assert.Equal(t, day(2024, 1, 1), periods[0].Start)
	assert.Equal(t, day(2024, 4, 1), *periods[0].End)
	assert.Equal(t, 6.0, periods[0].Power.KVA)
	assert.Equal(t, 91, *periods[0].NbDays)
	assert.Equal(t, "F1", periods[0].Formula)

	assert.Equal(t, day(2024, 4, 1), periods[1].Start)
	assert.Equal(t, day(2024, 6, 1), *periods[1].End)
	assert.Equal(t, 9.0, periods[1].Power.KVA)
	assert.Equal(t, 61, *periods[1].NbDays)
	assert.Equal(t, perimeter.EventExit, periods[1].ClosedBy)

	assert.NoError(t, ValidateContiguity(periods))
}

func TestGenerateKeepsOngoingPeriod(t *testing.T) {
	ruptures, err := perimeter.DetectRuptures(scenarioEvents()[:2])
	require.NoError(t, err)

	periods := Generate(ruptures)
	require.Len(t, periods, 2)
	last := periods[1]
	assert.True(t, last.IsOpen())
	assert.Nil(t, last.NbDays, "ongoing")
	assert.False(t, last.Billable())
	assert.True(t, periods[0].Billable())
}

func TestGenerateSplitsAtMonthBoundaries(t *testing.T) {
	events := perimeter.InsertBillingBoundaries(scenarioEvents(), day(2024, 12, 1))
	ruptures, err := perimeter.DetectRuptures(events)
	require.NoError(t, err)

	periods := Generate(ruptures)
	require.Len(t, periods, 5)
	for i, p := range periods {
		require.NotNil(t, p.End, "period %d", i)
		assert.Equal(t, p.Start.AddDate(0, 1, 0), *p.End)
	}
	assert.Equal(t, 9.0, periods[4].Power.KVA)
	assert.NoError(t, ValidateContiguity(periods))
}

func TestValidateContiguityReportsContract(t *testing.T) {
	end1 := day(2024, 2, 1)
	end2 := day(2024, 3, 1)
	gap := []Period{
		{ContractID: "C7", Start: day(2024, 1, 1), End: &end1},
		{ContractID: "C7", Start: day(2024, 2, 2), End: &end2},
	}
	err := ValidateContiguity(gap)
	var structural *StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "C7", structural.ContractID)
	assert.ErrorIs(t, err, ErrGap)

	overlap := []Period{
		{ContractID: "C7", Start: day(2024, 1, 1), End: &end2},
		{ContractID: "C7", Start: day(2024, 2, 1), End: &end2},
	}
	assert.ErrorIs(t, ValidateContiguity(overlap), ErrOverlap)

	openFirst := []Period{
		{ContractID: "C7", Start: day(2024, 1, 1)},
		{ContractID: "C7", Start: day(2024, 2, 1), End: &end2},
	}
	assert.ErrorIs(t, ValidateContiguity(openFirst), ErrOpenNotLast)
}
