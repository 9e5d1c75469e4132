package readings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexesFamily(t *testing.T) {
	assert.Equal(t, FamilyNone, Indexes{}.Family())
	assert.Equal(t, FamilySingle, Indexes{ChannelBase: 10}.Family())
	assert.Equal(t, FamilyPeakOffPeak, Indexes{ChannelHP: 1, ChannelHC: 2}.Family())
	assert.Equal(t, FamilyFourBand, Indexes{ChannelHPH: 1, ChannelHCB: 2}.Family())
	assert.Equal(t, FamilyMixed, Indexes{ChannelBase: 1, ChannelHP: 2}.Family())
}

func TestSynthesizeFourBand(t *testing.T) {
	got := Synthesize(map[Channel]float64{
		ChannelHPH: 100, ChannelHCH: 50, ChannelHPB: 80, ChannelHCB: 40,
	})
	assert.Equal(t, map[Channel]float64{
		ChannelHP:   180,
		ChannelHC:   90,
		ChannelBase: 270,
	}, got)
}

func TestSynthesizeSingleKeepsBaseOnly(t *testing.T) {
	got := Synthesize(map[Channel]float64{ChannelBase: 42})
	assert.Equal(t, map[Channel]float64{ChannelBase: 42}, got)
	assert.Empty(t, Synthesize(nil))
}

func TestParseChannel(t *testing.T) {
	c, ok := ParseChannel("hph")
	assert.True(t, ok)
	assert.Equal(t, ChannelHPH, c)

	_, ok = ParseChannel("EJP")
	assert.False(t, ok)
}

func TestIndexesChannelsOrdered(t *testing.T) {
	ix := Indexes{ChannelHCB: 1, ChannelHPH: 2, ChannelHPB: 3, ChannelHCH: 4}
	assert.Equal(t, []Channel{ChannelHPH, ChannelHCH, ChannelHPB, ChannelHCB}, ix.Channels())
}
