package postgres

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

func TestPowerEncoding(t *testing.T) {
	kva, tiers, err := encodePower(nil)
	require.NoError(t, err)
	assert.False(t, kva.Valid)
	assert.Nil(t, tiers)

	single := tariff.SinglePower(9)
	kva, tiers, err = encodePower(&single)
	require.NoError(t, err)
	decoded, err := decodePower(kva, tiers)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, decoded.Equal(single))

	tiered := tariff.TieredPower(36, 36, 60, 60)
	kva, tiers, err = encodePower(&tiered)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hph":36,"hch":36,"hpb":60,"hcb":60}`, string(tiers))
	decoded, err = decodePower(kva, tiers)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(tiered))

	decoded, err = decodePower(sql.NullFloat64{}, nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestIndexesEncoding(t *testing.T) {
	data, err := encodeIndexes(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	idx := readings.Indexes{readings.ChannelHP: 1200.5, readings.ChannelHC: 800}
	data, err = encodeIndexes(idx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"HP":1200.5,"HC":800}`, string(data))

	decoded, err := decodeIndexes(data)
	require.NoError(t, err)
	assert.Equal(t, idx, decoded)

	decoded, err = decodeIndexes([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestOverrunPointers(t *testing.T) {
	v := 3.5
	assert.Equal(t, sql.NullFloat64{Float64: 3.5, Valid: true}, nullFloat(&v))
	assert.False(t, nullFloat(nil).Valid)
	assert.Nil(t, floatPtr(sql.NullFloat64{}))
	assert.Equal(t, 3.5, *floatPtr(sql.NullFloat64{Float64: 3.5, Valid: true}))
}
