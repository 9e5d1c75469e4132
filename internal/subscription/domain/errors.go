package subscription

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrGap is returned when a period does not start where the previous one ended.
	ErrGap = errors.New("subscription: periods are not contiguous")
	// ErrOverlap is returned when a period starts before the previous one ended.
	ErrOverlap = errors.New("subscription: periods overlap")
	// ErrOpenNotLast is returned when an open period is followed by another period.
	ErrOpenNotLast = errors.New("subscription: open period is not the last one")
	// ErrInvertedPeriod is returned when a period ends before it starts.
	ErrInvertedPeriod = errors.New("subscription: period ends before it starts")
)

// StructuralError reports a reconstruction defect on one contract. It must
// halt processing of that contract rather than produce double-billed periods.
type StructuralError struct {
	ContractID string
	At         time.Time
	Err        error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("subscription: contract %s at %s: %v", e.ContractID, e.At.Format(time.RFC3339), e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }
