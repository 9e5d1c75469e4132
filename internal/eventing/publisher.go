package eventing

import (
	"context"

	"github.com/cockroachdb/errors"
)

// OutboxWriter inserts envelopes into the outbox.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher writes events to the outbox; a relay outside this process
// delivers them downstream.
type Publisher struct {
	outbox   OutboxWriter
	tenantID string
}

// NewPublisher constructs a publisher. tenantID is used when the context
// carries none.
func NewPublisher(outbox OutboxWriter, tenantID string) *Publisher {
	return &Publisher{outbox: outbox, tenantID: tenantID}
}

// Publish stores event in the outbox.
func (p *Publisher) Publish(ctx context.Context, event any) (Envelope, error) {
	if p == nil || p.outbox == nil {
		return Envelope{}, nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx, p.tenantID))
	if err != nil {
		return Envelope{}, err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return env, errors.Wrapf(err, "eventing: outbox insert %s", env.EventType)
	}
	return env, nil
}
