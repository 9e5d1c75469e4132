package perimeter

import (
	"sort"
	"time"

	"turpe-billing/internal/parisdate"
)

// SortEvents orders one contract's events by timestamp, then by priority,
// keeping input order for full ties.
func SortEvents(events []ContractEvent) []ContractEvent {
	out := append([]ContractEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return priority(out[i]) < priority(out[j])
	})
	return out
}

type activeSpan struct {
	from time.Time
	to   time.Time
}

// InsertBillingBoundaries returns the contract's events plus one synthetic
// billing-cycle marker at local midnight of every month start strictly after
// an entry and up to the matching exit, or up to horizon while the contract
// is still in the portfolio. Markers carry the state in force at their
// instant. Instants already holding a real billing-cycle event get no marker.
func InsertBillingBoundaries(events []ContractEvent, horizon time.Time) []ContractEvent {
	sorted := SortEvents(events)
	if len(sorted) == 0 {
		return sorted
	}

	var spans []activeSpan
	var open *time.Time
	existing := make(map[int64]struct{})
	for _, e := range sorted {
		switch e.Type {
		case EventEntry:
			if open == nil {
				at := e.At
				open = &at
			}
		case EventExit:
			if open != nil {
				spans = append(spans, activeSpan{from: *open, to: e.At})
				open = nil
			}
		case EventBillingCycle:
			if !e.Synthetic {
				existing[e.At.UnixNano()] = struct{}{}
			}
		}
	}
	if open != nil && horizon.After(*open) {
		spans = append(spans, activeSpan{from: *open, to: horizon})
	}

	var markers []ContractEvent
	for _, span := range spans {
		for m := parisdate.NextMonth(span.from); !m.After(span.to); m = m.AddDate(0, 1, 0) {
			if _, ok := existing[m.UnixNano()]; ok {
				continue
			}
			markers = append(markers, markerAt(sorted, m))
		}
	}
	if len(markers) == 0 {
		return sorted
	}
	return SortEvents(append(sorted, markers...))
}

// markerAt builds a synthetic marker carrying the state of the last event
// strictly before at.
func markerAt(sorted []ContractEvent, at time.Time) ContractEvent {
	marker := ContractEvent{
		At:        at,
		Type:      EventBillingCycle,
		Code:      CodeBillingCycle,
		Synthetic: true,
	}
	st := state{}
	for _, e := range sorted {
		if !e.At.Before(at) {
			break
		}
		st.apply(e)
		marker.ContractID = e.ContractID
		marker.ContractRef = e.ContractRef
		marker.DeliveryPoint = e.DeliveryPoint
	}
	if st.power != nil {
		p := *st.power
		marker.BeforePower, marker.AfterPower = &p, &p
	}
	marker.BeforeFormula, marker.AfterFormula = st.formula, st.formula
	marker.BeforeCalendar, marker.AfterCalendar = st.calendar, st.calendar
	return marker
}
