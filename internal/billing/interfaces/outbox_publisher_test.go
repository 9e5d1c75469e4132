package interfaces

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turpe-billing/internal/billing/application"
	"turpe-billing/internal/eventing"
	"turpe-billing/internal/parisdate"
)

type captureOutbox struct {
	envelopes []eventing.Envelope
}

func (c *captureOutbox) Insert(_ context.Context, env eventing.Envelope) (string, error) {
	c.envelopes = append(c.envelopes, env)
	return "ob-" + env.EventID, nil
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) PublishRunCompleted(context.Context, application.RunCompleted) error {
	f.calls++
	return errors.New("broker down")
}

func TestOutboxPublisherStampsTenantAndRun(t *testing.T) {
	outbox := &captureOutbox{}
	pub := NewOutboxPublisher(eventing.NewPublisher(outbox, "fallback"))
	event := application.RunCompleted{
		RunID: "run-42", TenantID: "tenant-a", Status: "succeeded", Records: 5,
		Horizon: parisdate.At(2024, 7, 1), OccurredAt: parisdate.At(2024, 7, 15),
	}
	require.NoError(t, pub.PublishRunCompleted(context.Background(), event))

	require.Len(t, outbox.envelopes, 1)
	env := outbox.envelopes[0]
	assert.Equal(t, "tenant-a", env.TenantID)
	assert.Equal(t, "run-42", env.CorrelationID)
	assert.Equal(t, "application.RunCompleted", env.EventType)
	assert.True(t, env.OccurredAt.Equal(event.OccurredAt))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "run-42", payload["run_id"])
	assert.EqualValues(t, 5, payload["records"])
}

func TestMultiPublisherTriesEveryPublisher(t *testing.T) {
	first := &failingPublisher{}
	outbox := &captureOutbox{}
	multi := MultiPublisher{first, nil, NewOutboxPublisher(eventing.NewPublisher(outbox, ""))}

	err := multi.PublishRunCompleted(context.Background(), application.RunCompleted{RunID: "run-1", TenantID: "t"})
	require.Error(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Len(t, outbox.envelopes, 1)
}
