package energy

import "github.com/cockroachdb/errors"

var (
	// ErrNotContiguous is returned when energy periods leave a gap or overlap.
	ErrNotContiguous = errors.New("energy: periods are not contiguous")
	// ErrUnordered is returned when a reading series is not chronological.
	ErrUnordered = errors.New("energy: readings out of order")
)
