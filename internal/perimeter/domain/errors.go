package perimeter

import "github.com/cockroachdb/errors"

var (
	// ErrEmptyContractID is returned when an event has no contract id.
	ErrEmptyContractID = errors.New("perimeter: empty contract id")
	// ErrEmptyDeliveryPoint is returned when an event has no delivery point.
	ErrEmptyDeliveryPoint = errors.New("perimeter: empty delivery point")
	// ErrMixedContracts is returned when a per-contract scan receives several contracts.
	ErrMixedContracts = errors.New("perimeter: events of several contracts")
	// ErrZeroTimestamp is returned when an event has no timestamp.
	ErrZeroTimestamp = errors.New("perimeter: zero event timestamp")
)
