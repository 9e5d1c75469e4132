package parisdate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetweenIgnoresDST(t *testing.T) {
	// 2024-03-31 is the spring-forward day in Paris.
	assert.Equal(t, 31, DaysBetween(At(2024, time.March, 1), At(2024, time.April, 1)))
	assert.Equal(t, 31, DaysBetween(At(2024, time.October, 1), At(2024, time.November, 1)))
	assert.Equal(t, 0, DaysBetween(At(2024, time.June, 1), At(2024, time.June, 1).Add(5*time.Hour)))
}

func TestDateUsesParisCalendarDay(t *testing.T) {
	// 23:30 UTC on Jan 31 is already Feb 1 in Paris.
	ts := time.Date(2025, time.January, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, At(2025, time.February, 1), Date(ts))
	assert.Equal(t, At(2025, time.February, 1), MonthStart(ts))
	assert.Equal(t, At(2025, time.March, 1), NextMonth(ts))
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, DaysInMonth(At(2024, time.February, 10)))
	assert.Equal(t, 28, DaysInMonth(At(2025, time.February, 10)))
	assert.Equal(t, 30, DaysInMonth(At(2025, time.April, 30)))
}

func TestParseMonthRoundTrip(t *testing.T) {
	month, err := ParseMonth("2025-03")
	require.NoError(t, err)
	assert.Equal(t, At(2025, time.March, 1), month)
	assert.Equal(t, "2025-03", MonthKey(month))

	_, err = ParseMonth("03/2025")
	assert.Error(t, err)
}

func TestFrenchLabel(t *testing.T) {
	assert.Equal(t, "1 mars 2025", FrenchLabel(At(2025, time.March, 1)))
	assert.Equal(t, "15 août 2024", FrenchLabel(At(2024, time.August, 15)))
	assert.Equal(t, "", FrenchLabel(time.Time{}))
}
