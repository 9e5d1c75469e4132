package memory

import (
	"context"
	"sync"

	perimeter "turpe-billing/internal/perimeter/domain"
)

// EventStore keeps contractual events per tenant in memory.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]perimeter.ContractEvent
}

// NewEventStore constructs an empty store.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string][]perimeter.ContractEvent)}
}

// AppendEvents implements perimeter.EventSink.
func (s *EventStore) AppendEvents(ctx context.Context, tenantID string, events []perimeter.ContractEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.events[tenantID] = append(s.events[tenantID], events...)
	s.mu.Unlock()
	return nil
}

// ListEvents implements perimeter.EventSource.
func (s *EventStore) ListEvents(ctx context.Context, tenantID string) ([]perimeter.ContractEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]perimeter.ContractEvent, len(s.events[tenantID]))
	copy(out, s.events[tenantID])
	return out, nil
}
