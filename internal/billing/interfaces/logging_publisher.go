package interfaces

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"turpe-billing/internal/billing/application"
)

// LoggingPublisher logs billing run completion events.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *zap.Logger) *LoggingPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingPublisher{logger: logger.Named("billing.events")}
}

// PublishRunCompleted logs the event.
func (p *LoggingPublisher) PublishRunCompleted(ctx context.Context, event application.RunCompleted) error {
	_ = ctx
	if p == nil {
		return errors.New("billing publisher: nil publisher")
	}
	p.logger.Info("billing run completed",
		zap.String("run_id", event.RunID),
		zap.String("tenant_id", event.TenantID),
		zap.String("status", event.Status),
		zap.String("horizon", event.Horizon.Format("2006-01-02")),
		zap.Int("records", event.Records),
		zap.Int("failures", event.Failures),
		zap.Int("flags", event.Flags))
	return nil
}
