package memory

import (
	"context"
	"sync"
	"time"

	readings "turpe-billing/internal/readings/domain"
)

type key struct {
	deliveryPoint string
	at            int64
}

// Store is an in-memory periodic reading store keyed by delivery point and
// exact instant.
type Store struct {
	mu   sync.RWMutex
	data map[key]readings.Reading
}

// NewStore constructs a store.
func NewStore() *Store {
	return &Store{data: make(map[key]readings.Reading)}
}

// Put stores a reading, overwriting any reading at the same instant.
func (s *Store) Put(rd readings.Reading) error {
	if rd.DeliveryPoint == "" {
		return readings.ErrEmptyDeliveryPoint
	}
	if rd.Indexes.Family() == readings.FamilyMixed {
		return readings.ErrMixedFamilies
	}
	rd.Indexes = rd.Indexes.Clone()
	s.mu.Lock()
	s.data[key{deliveryPoint: rd.DeliveryPoint, at: rd.At.UnixNano()}] = rd
	s.mu.Unlock()
	return nil
}

// PutAll stores several readings.
func (s *Store) PutAll(list []readings.Reading) error {
	for _, rd := range list {
		if err := s.Put(rd); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the reading of deliveryPoint at exactly at.
func (s *Store) Lookup(ctx context.Context, deliveryPoint string, at time.Time) (readings.Reading, bool, error) {
	_ = ctx
	s.mu.RLock()
	rd, ok := s.data[key{deliveryPoint: deliveryPoint, at: at.UnixNano()}]
	s.mu.RUnlock()
	if !ok {
		return readings.Reading{}, false, nil
	}
	rd.Indexes = rd.Indexes.Clone()
	return rd, true, nil
}

// Len returns the number of stored readings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Tenants holds one Store per tenant.
type Tenants struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewTenants constructs an empty multi-tenant store.
func NewTenants() *Tenants {
	return &Tenants{stores: make(map[string]*Store)}
}

// For returns the store of tenantID, creating it on first use.
func (t *Tenants) For(tenantID string) *Store {
	t.mu.Lock()
	defer t.mu.Unlock()
	store, ok := t.stores[tenantID]
	if !ok {
		store = NewStore()
		t.stores[tenantID] = store
	}
	return store
}

// SaveReadings implements readings.Sink.
func (t *Tenants) SaveReadings(ctx context.Context, tenantID string, list []readings.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.For(tenantID).PutAll(list)
}

// Snapshot implements readings.Snapshotter. The live store is returned since
// lookups are already in memory.
func (t *Tenants) Snapshot(ctx context.Context, tenantID string, _ []string) (readings.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.For(tenantID), nil
}
