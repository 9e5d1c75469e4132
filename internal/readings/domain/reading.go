package readings

import (
	"context"
	"time"
)

// Source tags the origin of a reading.
type Source string

const (
	// SourceEvent marks readings carried by contractual events (C15 flux).
	SourceEvent Source = "flux_C15"
	// SourcePeriodic marks readings from the automatic periodic store (R151 flux).
	SourcePeriodic Source = "flux_R151"
)

// Priority orders sources at the same instant; lower wins.
func (s Source) Priority() int {
	switch s {
	case SourceEvent:
		return 0
	case SourcePeriodic:
		return 1
	default:
		return 2
	}
}

// Order distinguishes the two readings an event carries.
type Order int

const (
	OrderBefore Order = 0
	OrderAfter  Order = 1
)

// Reading is one meter-index reading. Event is the event code that produced
// the reading (empty for periodic readings) and OverrunHours the cumulative
// overrun counter of large-power meters.
type Reading struct {
	ContractID    string
	ContractRef   string
	DeliveryPoint string
	At            time.Time
	Order         Order
	Source        Source
	Event         string
	Indexes       Indexes
	OverrunHours  *float64
	Formula       string
	CalendarID    string
	Missing       bool
}

// Store is the external periodic meter-reading store.
type Store interface {
	// Lookup returns the periodic reading of a delivery point at exactly at.
	Lookup(ctx context.Context, deliveryPoint string, at time.Time) (Reading, bool, error)
}

// Sink stores periodic readings handed over by the flux collaborator.
type Sink interface {
	SaveReadings(ctx context.Context, tenantID string, list []Reading) error
}

// Snapshotter returns a tenant-scoped Store covering the given delivery points,
// loaded once for a batch run.
type Snapshotter interface {
	Snapshot(ctx context.Context, tenantID string, deliveryPoints []string) (Store, error)
}

// MissingReading builds the explicit placeholder for an absent reading.
func MissingReading(contractID, deliveryPoint string, at time.Time) Reading {
	return Reading{
		ContractID:    contractID,
		DeliveryPoint: deliveryPoint,
		At:            at,
		Source:        SourcePeriodic,
		Missing:       true,
	}
}
