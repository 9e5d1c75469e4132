package subscription

import (
	"time"

	"turpe-billing/internal/parisdate"
	perimeter "turpe-billing/internal/perimeter/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

// Period is a run of constant subscription terms. End is exclusive; a nil
// End means the period is still open. NbDays is nil while the period is
// ongoing, except for a period opened by an exit, which lasts zero days.
type Period struct {
	ContractID    string
	ContractRef   string
	DeliveryPoint string
	Start         time.Time
	End           *time.Time
	Power         tariff.Power
	Formula       string
	NbDays        *int
	OpenedBy      perimeter.EventType
	ClosedBy      perimeter.EventType
}

// IsOpen reports whether the period has no end yet.
func (p Period) IsOpen() bool { return p.End == nil }

// InPortfolio reports whether the contract is supplied during the period.
func (p Period) InPortfolio() bool { return p.OpenedBy != perimeter.EventExit }

// Billable reports whether the period receives a fixed cost.
func (p Period) Billable() bool {
	return p.InPortfolio() && !p.IsOpen() && p.NbDays != nil
}

// Pair turns consecutive ruptures into periods, without filtering.
func Pair(ruptures []perimeter.Rupture) []Period {
	out := make([]Period, 0, len(ruptures))
	for i, r := range ruptures {
		p := Period{
			ContractID:    r.ContractID,
			ContractRef:   r.ContractRef,
			DeliveryPoint: r.DeliveryPoint,
			Start:         r.At,
			Power:         r.Power,
			Formula:       r.Formula,
			OpenedBy:      r.Type,
		}
		if i+1 < len(ruptures) {
			next := ruptures[i+1]
			end := next.At
			days := parisdate.DaysBetween(r.At, end)
			p.End = &end
			p.NbDays = &days
			p.ClosedBy = next.Type
		} else if r.Type == perimeter.EventExit {
			zero := 0
			p.NbDays = &zero
		}
		out = append(out, p)
	}
	return out
}

// Generate pairs ruptures and drops the zero-length trailing artifact left
// by an exit: an open period whose duration is zero days.
func Generate(ruptures []perimeter.Rupture) []Period {
	paired := Pair(ruptures)
	out := paired[:0]
	for _, p := range paired {
		if p.IsOpen() && p.NbDays != nil && *p.NbDays == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ValidateContiguity checks that one contract's periods are ordered,
// contiguous and non-overlapping, with at most one open period, last.
func ValidateContiguity(periods []Period) error {
	for i, p := range periods {
		if p.End != nil && p.End.Before(p.Start) {
			return &StructuralError{ContractID: p.ContractID, At: p.Start, Err: ErrInvertedPeriod}
		}
		if i == 0 {
			continue
		}
		prev := periods[i-1]
		switch {
		case prev.End == nil:
			return &StructuralError{ContractID: p.ContractID, At: prev.Start, Err: ErrOpenNotLast}
		case p.Start.Before(*prev.End):
			return &StructuralError{ContractID: p.ContractID, At: p.Start, Err: ErrOverlap}
		case !p.Start.Equal(*prev.End):
			return &StructuralError{ContractID: p.ContractID, At: *prev.End, Err: ErrGap}
		}
	}
	return nil
}
