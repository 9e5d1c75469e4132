package interfaces

import (
	"context"

	"turpe-billing/internal/billing/application"
	"turpe-billing/internal/eventing"
)

// OutboxPublisher writes run completion events to the outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher}
}

// PublishRunCompleted stores the event under the run's tenant, correlated by run id.
func (p *OutboxPublisher) PublishRunCompleted(ctx context.Context, event application.RunCompleted) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	ctx = eventing.WithTenantID(ctx, event.TenantID)
	ctx = eventing.WithCorrelationID(ctx, event.RunID)
	_, err := p.publisher.Publish(ctx, event)
	return err
}

// MultiPublisher fans an event out to several publishers and returns the
// first error after trying all of them.
type MultiPublisher []application.RunPublisher

// PublishRunCompleted forwards event to every publisher.
func (m MultiPublisher) PublishRunCompleted(ctx context.Context, event application.RunCompleted) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishRunCompleted(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
