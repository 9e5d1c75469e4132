package perimeter

import (
	"time"

	"github.com/cockroachdb/errors"

	tariff "turpe-billing/internal/tariff/domain"
)

// Rupture is an instant where subscription terms may change. Power and
// Formula are the terms in force from At onwards.
type Rupture struct {
	ContractID    string
	ContractRef   string
	DeliveryPoint string
	At            time.Time
	Type          EventType
	Synthetic     bool
	Power         tariff.Power
	Formula       string
	CalendarID    string
	// Merged counts the subscription-impacting events folded into this point.
	Merged int
}

// state is the carried subscription state of a contract.
type state struct {
	power    *tariff.Power
	formula  string
	calendar string
}

// apply folds the after-values of a real event into the state. Synthetic
// markers only echo the state and never change it.
func (s *state) apply(e ContractEvent) {
	if e.Synthetic {
		return
	}
	switch {
	case e.AfterPower != nil:
		p := *e.AfterPower
		s.power = &p
	case s.power == nil && e.BeforePower != nil:
		p := *e.BeforePower
		s.power = &p
	}
	switch {
	case e.AfterFormula != "":
		s.formula = e.AfterFormula
	case s.formula == "":
		s.formula = e.BeforeFormula
	}
	switch {
	case e.AfterCalendar != "":
		s.calendar = e.AfterCalendar
	case s.calendar == "":
		s.calendar = e.BeforeCalendar
	}
}

// DetectRuptures scans one contract's events and emits a rupture at every
// subscription-impacting event. Events sharing a timestamp merge into a
// single point: an exit names the point if present, otherwise the
// highest-priority event does, and the state is the one after applying the
// whole tie group in priority order.
func DetectRuptures(events []ContractEvent) ([]Rupture, error) {
	if err := checkSingleContract(events); err != nil {
		return nil, err
	}
	sorted := SortEvents(events)

	var (
		out []Rupture
		st  state
	)
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].At.Equal(sorted[i].At) {
			j++
		}
		group := sorted[i:j]
		i = j

		var (
			impacting int
			kind      EventType
			synthetic = true
			last      ContractEvent
		)
		for _, e := range group {
			st.apply(e)
			last = e
			if !Classify(e).ImpactsSubscription {
				continue
			}
			impacting++
			if kind == "" || e.Type == EventExit {
				kind = e.Type
			}
			if !e.Synthetic {
				synthetic = false
			}
		}
		if impacting == 0 {
			continue
		}
		r := Rupture{
			ContractID:    last.ContractID,
			ContractRef:   last.ContractRef,
			DeliveryPoint: last.DeliveryPoint,
			At:            last.At,
			Type:          kind,
			Synthetic:     synthetic,
			Formula:       st.formula,
			CalendarID:    st.calendar,
			Merged:        impacting,
		}
		if st.power != nil {
			r.Power = *st.power
		}
		out = append(out, r)
	}
	return out, nil
}

func checkSingleContract(events []ContractEvent) error {
	if len(events) == 0 {
		return nil
	}
	id := events[0].ContractID
	if id == "" {
		return ErrEmptyContractID
	}
	for _, e := range events {
		if e.ContractID != id {
			return errors.Wrapf(ErrMixedContracts, "%s and %s", id, e.ContractID)
		}
		if e.At.IsZero() {
			return errors.Wrapf(ErrZeroTimestamp, "contract %s event %s", id, e.Code)
		}
	}
	return nil
}
