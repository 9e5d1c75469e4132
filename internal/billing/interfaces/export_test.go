package interfaces

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"turpe-billing/internal/billing/application"
	billing "turpe-billing/internal/billing/domain"
	"turpe-billing/internal/parisdate"
	readings "turpe-billing/internal/readings/domain"
)

func sampleRecords() []billing.MonthlyRecord {
	return []billing.MonthlyRecord{
		{
			ContractID: "C1", DeliveryPoint: "PDL1", Month: parisdate.At(2024, 1, 1), Formula: "BTINFCUST",
			PowerKVA: 6, SubscriptionDays: 31, FixedCost: decimal.RequireFromString("8.47"),
			Energy: map[readings.Channel]float64{readings.ChannelBase: 1000}, EnergyDays: 31,
			VariableCost: decimal.RequireFromString("45.80"), DataComplete: true,
			SubscriptionCoverage: 1, EnergyCoverage: 1,
		},
		{
			ContractID: "C2", DeliveryPoint: "PDL2", Month: parisdate.At(2024, 1, 1), Formula: "BTINFMUDT",
			PowerKVA: 9, SubscriptionDays: 20, FixedCost: decimal.RequireFromString("6.10"),
			Energy: map[readings.Channel]float64{readings.ChannelHP: 250, readings.ChannelHC: 120}, EnergyDays: 20,
			VariableCost: decimal.RequireFromString("16.80"), SubscriptionCoverage: 0.645,
		},
	}
}

func TestBuildMonthlyXLSX(t *testing.T) {
	data, err := BuildMonthlyXLSX(sampleRecords())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(monthlySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	header := rows[0]
	assert.Equal(t, "contract_id", header[0])
	assert.Equal(t, []string{"energy_base_kwh", "energy_hp_kwh", "energy_hc_kwh"}, header[len(monthlyHeader):])
	assert.Equal(t, "C1", rows[1][0])
	assert.Equal(t, "2024-01", rows[1][3])
	assert.Equal(t, "54.27", rows[1][12])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, []string{"2024-01", "2", "1", "14.57", "62.6", "0", "77.17"}, summary[1])
}

func TestBuildMonthlyXLSXEmpty(t *testing.T) {
	data, err := BuildMonthlyXLSX(nil)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(monthlySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLoggingPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLoggingPublisher(zap.New(core))
	require.NoError(t, pub.PublishRunCompleted(context.Background(), application.RunCompleted{
		RunID: "run-1", TenantID: "t", Status: billing.RunStatusPartial, Records: 3, Failures: 1,
		Horizon: parisdate.At(2024, 7, 1),
	}))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "partial", fields["status"])
	assert.Equal(t, "2024-07-01", fields["horizon"])

	var nilPub *LoggingPublisher
	assert.Error(t, nilPub.PublishRunCompleted(context.Background(), application.RunCompleted{}))
}
