package readings

import (
	"sort"
	"strings"
)

// Channel is a time-of-use metering band (cadran).
type Channel string

const (
	ChannelBase Channel = "BASE"
	ChannelHP   Channel = "HP"
	ChannelHC   Channel = "HC"
	ChannelHPH  Channel = "HPH"
	ChannelHCH  Channel = "HCH"
	ChannelHPB  Channel = "HPB"
	ChannelHCB  Channel = "HCB"
)

// Family groups channels that a meter reports together.
type Family int

const (
	FamilyNone Family = iota
	FamilySingle
	FamilyPeakOffPeak
	FamilyFourBand
	// FamilyMixed flags readings carrying channels of several families.
	FamilyMixed
)

var familyChannels = map[Family][]Channel{
	FamilySingle:      {ChannelBase},
	FamilyPeakOffPeak: {ChannelHP, ChannelHC},
	FamilyFourBand:    {ChannelHPH, ChannelHCH, ChannelHPB, ChannelHCB},
}

// AllChannels lists every channel in display order.
var AllChannels = []Channel{ChannelBase, ChannelHP, ChannelHC, ChannelHPH, ChannelHCH, ChannelHPB, ChannelHCB}

// Channels returns the channels of a family.
func (f Family) Channels() []Channel {
	return familyChannels[f]
}

func (f Family) String() string {
	switch f {
	case FamilySingle:
		return "single"
	case FamilyPeakOffPeak:
		return "peak_offpeak"
	case FamilyFourBand:
		return "four_band"
	case FamilyMixed:
		return "mixed"
	default:
		return "none"
	}
}

// FamilyOf returns the family a channel belongs to.
func FamilyOf(c Channel) Family {
	switch c {
	case ChannelBase:
		return FamilySingle
	case ChannelHP, ChannelHC:
		return FamilyPeakOffPeak
	case ChannelHPH, ChannelHCH, ChannelHPB, ChannelHCB:
		return FamilyFourBand
	default:
		return FamilyNone
	}
}

// ParseChannel maps a column suffix (case-insensitive) to a channel.
func ParseChannel(value string) (Channel, bool) {
	for _, c := range AllChannels {
		if strings.EqualFold(string(c), value) {
			return c, true
		}
	}
	return "", false
}

// Indexes holds cumulative index values per channel. Absent channels are
// not applicable (null), never zero.
type Indexes map[Channel]float64

// Empty reports whether no channel carries a value.
func (ix Indexes) Empty() bool { return len(ix) == 0 }

// Family returns the channel family populated in ix.
func (ix Indexes) Family() Family {
	family := FamilyNone
	for c := range ix {
		f := FamilyOf(c)
		if family == FamilyNone {
			family = f
			continue
		}
		if f != family {
			return FamilyMixed
		}
	}
	return family
}

// Clone returns an independent copy.
func (ix Indexes) Clone() Indexes {
	if ix == nil {
		return nil
	}
	out := make(Indexes, len(ix))
	for c, v := range ix {
		out[c] = v
	}
	return out
}

// Channels returns the populated channels in display order.
func (ix Indexes) Channels() []Channel {
	out := make([]Channel, 0, len(ix))
	for c := range ix {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return channelRank(out[i]) < channelRank(out[j]) })
	return out
}

func channelRank(c Channel) int {
	for i, v := range AllChannels {
		if v == c {
			return i
		}
	}
	return len(AllChannels)
}

// Synthesize derives the aggregated BASE/HP/HC quantities from any family:
// HC = HC+HCH+HCB, HP = HP+HPH+HPB, BASE = BASE+HP+HC. A total is present
// only when at least one of its components is present.
func Synthesize(q map[Channel]float64) map[Channel]float64 {
	out := make(map[Channel]float64, 3)
	hc, hasHC := sumPresent(q, ChannelHC, ChannelHCH, ChannelHCB)
	hp, hasHP := sumPresent(q, ChannelHP, ChannelHPH, ChannelHPB)
	if hasHC {
		out[ChannelHC] = hc
	}
	if hasHP {
		out[ChannelHP] = hp
	}
	base, hasBase := q[ChannelBase]
	if hasBase || hasHC || hasHP {
		out[ChannelBase] = base + hp + hc
	}
	return out
}

func sumPresent(q map[Channel]float64, channels ...Channel) (float64, bool) {
	var total float64
	var found bool
	for _, c := range channels {
		if v, ok := q[c]; ok {
			total += v
			found = true
		}
	}
	return total, found
}
