package tariff

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turpe-billing/internal/parisdate"
	readings "turpe-billing/internal/readings/domain"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func day(y int, m time.Month, dd int) time.Time { return parisdate.At(y, m, dd) }

func ptrTime(t time.Time) *time.Time { return &t }

func baseRule(formula string, start time.Time, end *time.Time) Rule {
	return Rule{
		Formula: formula,
		Start:   start,
		End:     end,
		B:       d("10.44"),
		CG:      d("16.2"),
		CC:      d("20.88"),
		Rates:   map[readings.Channel]decimal.Decimal{readings.ChannelBase: d("4.58")},
	}
}

func TestLookupHalfOpenWindows(t *testing.T) {
	table, err := NewRuleTable([]Rule{
		baseRule("BTINFCU4", day(2023, 8, 1), ptrTime(day(2024, 2, 1))),
		baseRule("BTINFCU4", day(2024, 2, 1), nil),
	})
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	rule, err := table.Lookup("BTINFCU4", day(2024, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, day(2023, 8, 1), rule.Start)

	rule, err = table.Lookup("BTINFCU4", day(2024, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 2, 1), rule.Start, "end is exclusive")

	rule, err = table.Lookup("BTINFCU4", day(2030, 1, 1))
	require.NoError(t, err)
	assert.Nil(t, rule.End)

	_, err = table.Lookup("BTINFCU4", day(2023, 7, 31))
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestNewRuleTableRejectsOverlap(t *testing.T) {
	_, err := NewRuleTable([]Rule{
		baseRule("BTINFMU4", day(2024, 1, 1), ptrTime(day(2024, 9, 1))),
		baseRule("BTINFMU4", day(2024, 8, 1), nil),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverlappingRules)
	assert.Contains(t, err.Error(), "BTINFMU4")
}

func TestNewRuleTableRejectsInvertedWindow(t *testing.T) {
	_, err := NewRuleTable([]Rule{baseRule("F1", day(2024, 5, 1), ptrTime(day(2024, 4, 1)))})
	assert.ErrorIs(t, err, ErrInvalidValidity)

	_, err = NewRuleTable([]Rule{baseRule("", day(2024, 5, 1), nil)})
	assert.ErrorIs(t, err, ErrEmptyFormula)
}

func TestResolveAllNamesEveryMissingKey(t *testing.T) {
	table, err := NewRuleTable([]Rule{baseRule("F1", day(2024, 1, 1), nil)})
	require.NoError(t, err)

	_, err = table.ResolveAll([]RuleKey{
		NewRuleKey("F1", day(2024, 3, 1)),
		NewRuleKey("F2", day(2024, 3, 1)),
		NewRuleKey("F1", day(2023, 6, 1)),
		NewRuleKey("F2", day(2024, 3, 1)),
	})
	require.Error(t, err)

	var miss *MissingRulesError
	require.True(t, errors.As(err, &miss))
	require.Len(t, miss.Keys, 2)
	assert.Equal(t, "F1", miss.Keys[0].Formula)
	assert.Equal(t, "F2", miss.Keys[1].Formula)
	assert.Contains(t, err.Error(), "F2 (2024-03-01)")
	assert.Contains(t, err.Error(), "known formulas: F1")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestResolveAllReturnsRulesByKey(t *testing.T) {
	table, err := NewRuleTable([]Rule{baseRule("F1", day(2024, 1, 1), nil)})
	require.NoError(t, err)

	key := NewRuleKey("F1", day(2024, 3, 1))
	got, err := table.ResolveAll([]RuleKey{key, key})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "F1", got[key].Formula)
}
