package energy

import (
	"time"

	"github.com/cockroachdb/errors"

	"turpe-billing/internal/parisdate"
	perimeter "turpe-billing/internal/perimeter/domain"
	readings "turpe-billing/internal/readings/domain"
)

// Period is the consumption between two consecutive readings. Energy holds
// the native channels only; a channel is absent when it cannot be computed.
// Totals holds the BASE/HP/HC aggregates synthesized from Energy.
type Period struct {
	ContractID    string
	ContractRef   string
	DeliveryPoint string
	Formula       string
	Start         time.Time
	End           time.Time
	NbDays        int
	Energy        map[readings.Channel]float64
	Totals        map[readings.Channel]float64
	OverrunHours  *float64
	SourceStart   readings.Source
	SourceEnd     readings.Source
	EventStart    string
	EventEnd      string

	// Irregular flags mixed-origin endpoints or a negative delta.
	Irregular        bool
	NegativeDelta    bool
	NegativeChannels []readings.Channel
	MissingReading   bool
	DataComplete     bool
}

// Quantities returns the native channels together with the synthesized
// BASE/HP/HC totals, the set of quantities a tariff rule may price.
func (p Period) Quantities() map[readings.Channel]float64 {
	out := make(map[readings.Channel]float64, len(p.Energy)+len(p.Totals))
	for c, v := range p.Energy {
		out[c] = v
	}
	for c, v := range p.Totals {
		out[c] = v
	}
	return out
}

// Generate emits one period per consecutive pair of a reconciled series.
// Pairs sharing an instant (the before/after readings of one event) are
// skipped, so the output stays contiguous. A pair opened by an exit spans
// time out of the portfolio and is skipped as well.
func Generate(series []readings.Reading) []Period {
	var out []Period
	for i := 0; i+1 < len(series); i++ {
		start, end := series[i], series[i+1]
		if !end.At.After(start.At) {
			continue
		}
		if start.Event == string(perimeter.EventExit) {
			continue
		}
		out = append(out, newPeriod(start, end))
	}
	return out
}

func newPeriod(start, end readings.Reading) Period {
	p := Period{
		ContractID:    firstNonEmpty(start.ContractID, end.ContractID),
		ContractRef:   firstNonEmpty(start.ContractRef, end.ContractRef),
		DeliveryPoint: firstNonEmpty(start.DeliveryPoint, end.DeliveryPoint),
		Formula:       firstNonEmpty(start.Formula, end.Formula),
		Start:         start.At,
		End:           end.At,
		NbDays:        parisdate.DaysBetween(start.At, end.At),
		SourceStart:   start.Source,
		SourceEnd:     end.Source,
		EventStart:    start.Event,
		EventEnd:      end.Event,
	}
	p.Irregular = start.Source != end.Source

	if start.Missing || end.Missing {
		p.MissingReading = true
		return p
	}

	p.Energy = make(map[readings.Channel]float64, len(end.Indexes))
	complete := len(end.Indexes) > 0
	for _, c := range end.Indexes.Channels() {
		before, ok := start.Indexes[c]
		if !ok {
			complete = false
			continue
		}
		delta := end.Indexes[c] - before
		if delta < 0 {
			p.NegativeDelta = true
			p.NegativeChannels = append(p.NegativeChannels, c)
			complete = false
			continue
		}
		p.Energy[c] = delta
	}
	for c := range start.Indexes {
		if _, ok := end.Indexes[c]; !ok {
			complete = false
		}
	}
	if p.NegativeDelta {
		p.Irregular = true
	}
	p.Totals = readings.Synthesize(p.Energy)

	if start.OverrunHours != nil && end.OverrunHours != nil {
		if delta := *end.OverrunHours - *start.OverrunHours; delta >= 0 {
			p.OverrunHours = &delta
		}
	}
	p.DataComplete = complete
	return p
}

// ValidateContiguity checks that one contract's energy periods chain
// end-to-start without overlap. The only admitted gap follows an exit.
func ValidateContiguity(periods []Period) error {
	for i := 1; i < len(periods); i++ {
		prev, cur := periods[i-1], periods[i]
		if cur.Start.Before(prev.End) || (!cur.Start.Equal(prev.End) && prev.EventEnd != string(perimeter.EventExit)) {
			return errors.Wrapf(ErrNotContiguous, "contract %s: %s then %s",
				cur.ContractID, prev.End.Format(time.RFC3339), cur.Start.Format(time.RFC3339))
		}
		if !cur.End.After(cur.Start) {
			return errors.Wrapf(ErrUnordered, "contract %s at %s", cur.ContractID, cur.Start.Format(time.RFC3339))
		}
	}
	return nil
}
