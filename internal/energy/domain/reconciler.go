package energy

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	perimeter "turpe-billing/internal/perimeter/domain"
	readings "turpe-billing/internal/readings/domain"
)

// Reconciler builds one chronological reading series per contract from
// event-carried readings and the periodic store.
type Reconciler struct {
	store readings.Store
}

// NewReconciler constructs a reconciler.
func NewReconciler(store readings.Store) (*Reconciler, error) {
	if store == nil {
		return nil, readings.ErrNilStore
	}
	return &Reconciler{store: store}, nil
}

// Reconcile returns the reconciled series of one contract. Events must
// already include billing-cycle markers.
func (r *Reconciler) Reconcile(ctx context.Context, events []perimeter.ContractEvent) ([]readings.Reading, error) {
	if r == nil || r.store == nil {
		return nil, readings.ErrNilStore
	}
	sorted := perimeter.SortEvents(events)
	derived, err := EventReadings(sorted)
	if err != nil {
		return nil, err
	}

	covered := make(map[int64]struct{}, len(derived))
	for _, rd := range derived {
		covered[rd.At.UnixNano()] = struct{}{}
	}

	var periodic []readings.Reading
	requested := make(map[int64]struct{})
	for _, e := range sorted {
		if !perimeter.Classify(e).ImpactsEnergy {
			continue
		}
		key := e.At.UnixNano()
		if _, ok := covered[key]; ok {
			continue
		}
		if _, ok := requested[key]; ok {
			continue
		}
		requested[key] = struct{}{}

		rd, found, err := r.store.Lookup(ctx, e.DeliveryPoint, e.At)
		if err != nil {
			return nil, errors.Wrapf(err, "lookup %s at %s", e.DeliveryPoint, e.At.Format(time.RFC3339))
		}
		if !found {
			rd = readings.MissingReading(e.ContractID, e.DeliveryPoint, e.At)
		}
		rd.ContractID = e.ContractID
		if rd.ContractRef == "" {
			rd.ContractRef = e.ContractRef
		}
		if rd.Formula == "" {
			rd.Formula = firstNonEmpty(e.AfterFormula, e.BeforeFormula)
		}
		if rd.CalendarID == "" {
			rd.CalendarID = firstNonEmpty(e.AfterCalendar, e.BeforeCalendar)
		}
		rd.Source = readings.SourcePeriodic
		rd.Order = readings.OrderBefore
		periodic = append(periodic, rd)
	}
	return Merge(derived, periodic), nil
}

// EventReadings extracts the before/after readings carried by
// energy-impacting events. Sides without any index are dropped.
func EventReadings(events []perimeter.ContractEvent) ([]readings.Reading, error) {
	var out []readings.Reading
	for _, e := range events {
		if !perimeter.Classify(e).ImpactsEnergy {
			continue
		}
		code := string(e.Type)
		sides := []struct {
			order    readings.Order
			indexes  readings.Indexes
			overrun  *float64
			formula  string
			calendar string
		}{
			{readings.OrderBefore, e.BeforeIndexes, e.BeforeOverrun, firstNonEmpty(e.BeforeFormula, e.AfterFormula), firstNonEmpty(e.BeforeCalendar, e.AfterCalendar)},
			{readings.OrderAfter, e.AfterIndexes, e.AfterOverrun, firstNonEmpty(e.AfterFormula, e.BeforeFormula), firstNonEmpty(e.AfterCalendar, e.BeforeCalendar)},
		}
		for _, side := range sides {
			if side.indexes.Empty() {
				continue
			}
			if side.indexes.Family() == readings.FamilyMixed {
				return nil, errors.Wrapf(readings.ErrMixedFamilies, "contract %s event %s at %s",
					e.ContractID, code, e.At.Format(time.RFC3339))
			}
			out = append(out, readings.Reading{
				ContractID:    e.ContractID,
				ContractRef:   e.ContractRef,
				DeliveryPoint: e.DeliveryPoint,
				At:            e.At,
				Order:         side.order,
				Source:        readings.SourceEvent,
				Event:         code,
				Indexes:       side.indexes.Clone(),
				OverrunHours:  side.overrun,
				Formula:       side.formula,
				CalendarID:    side.calendar,
			})
		}
	}
	return out, nil
}

// Merge unions event-derived and periodic readings into one chronological
// series. At a given instant event-derived readings always win: periodic
// readings there are discarded, and only one reading per (instant, order)
// survives. Formula, contract reference and calendar are then carried
// forward from the latest event-derived reading onto readings lacking them;
// index values are never filled.
func Merge(derived, periodic []readings.Reading) []readings.Reading {
	all := make([]readings.Reading, 0, len(derived)+len(periodic))
	all = append(all, derived...)
	all = append(all, periodic...)
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.Source.Priority() != b.Source.Priority() {
			return a.Source.Priority() < b.Source.Priority()
		}
		if a.Missing != b.Missing {
			return !a.Missing
		}
		return a.Order < b.Order
	})

	out := make([]readings.Reading, 0, len(all))
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].At.Equal(all[i].At) {
			j++
		}
		best := all[i].Source.Priority()
		seen := make(map[readings.Order]struct{}, 2)
		for _, rd := range all[i:j] {
			if rd.Source.Priority() != best {
				continue
			}
			if _, dup := seen[rd.Order]; dup {
				continue
			}
			seen[rd.Order] = struct{}{}
			out = append(out, rd)
		}
		i = j
	}

	var carried readings.Reading
	var hasCarried bool
	for i := range out {
		rd := &out[i]
		if hasCarried {
			if rd.Formula == "" {
				rd.Formula = carried.Formula
			}
			if rd.ContractRef == "" {
				rd.ContractRef = carried.ContractRef
			}
			if rd.CalendarID == "" {
				rd.CalendarID = carried.CalendarID
			}
		}
		if rd.Source == readings.SourceEvent {
			carried = *rd
			hasCarried = true
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
