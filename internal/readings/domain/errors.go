package readings

import "github.com/cockroachdb/errors"

var (
	// ErrNilStore is returned when no reading store is configured.
	ErrNilStore = errors.New("readings: nil store")
	// ErrEmptyDeliveryPoint is returned when a reading has no delivery point.
	ErrEmptyDeliveryPoint = errors.New("readings: empty delivery point")
	// ErrMixedFamilies is returned when a reading mixes channel families.
	ErrMixedFamilies = errors.New("readings: mixed channel families")
)
