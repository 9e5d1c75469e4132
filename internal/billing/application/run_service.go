package application

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	billing "turpe-billing/internal/billing/domain"
	"turpe-billing/internal/observability/metrics"
	perimeter "turpe-billing/internal/perimeter/domain"
	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

// RunCompleted is emitted after a run has been persisted.
type RunCompleted struct {
	RunID      string    `json:"run_id"`
	TenantID   string    `json:"tenant_id"`
	Status     string    `json:"status"`
	Horizon    time.Time `json:"horizon"`
	Records    int       `json:"records"`
	Failures   int       `json:"failures"`
	Flags      int       `json:"flags"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RunPublisher emits run completion events.
type RunPublisher interface {
	PublishRunCompleted(ctx context.Context, event RunCompleted) error
}

// RunService loads a tenant's inputs, runs the pipeline and stores the
// resulting records.
type RunService struct {
	events    perimeter.EventSource
	readings  readings.Snapshotter
	rules     tariff.RuleSource
	repo      billing.RecordRepository
	publisher RunPublisher
	clock     Clock
	workers   int
	base      *zap.Logger
	logger    *zap.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

// ServiceOption configures the run service.
type ServiceOption func(*RunService)

// WithServiceWorkers sets the pipeline worker count.
func WithServiceWorkers(n int) ServiceOption {
	return func(s *RunService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *RunService) {
		if logger != nil {
			s.base = logger
		}
	}
}

// WithServiceClock overrides the clock.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *RunService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublisher sets the completion publisher.
func WithPublisher(publisher RunPublisher) ServiceOption {
	return func(s *RunService) {
		s.publisher = publisher
	}
}

// NewRunService constructs the service.
func NewRunService(
	events perimeter.EventSource,
	snapshots readings.Snapshotter,
	rules tariff.RuleSource,
	repo billing.RecordRepository,
	opts ...ServiceOption,
) (*RunService, error) {
	if events == nil {
		return nil, errors.New("run service: nil event source")
	}
	if snapshots == nil {
		return nil, errors.New("run service: nil reading snapshotter")
	}
	if rules == nil {
		return nil, errors.New("run service: nil rule source")
	}
	if repo == nil {
		return nil, errors.New("run service: nil record repository")
	}
	s := &RunService{
		events:   events,
		readings: snapshots,
		rules:    rules,
		repo:     repo,
		clock:    SystemClock{},
		workers:  defaultWorkers,
		base:     zap.NewNop(),
		running:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.base.Named("billing.run")
	return s, nil
}

// Trigger executes one run for tenantID. The run row is stored even when the
// run fails; records are replaced only when it does not. The returned error
// is non-nil exactly when the run status is failed.
func (s *RunService) Trigger(ctx context.Context, tenantID string, horizon time.Time) (*billing.Run, *Result, error) {
	if tenantID == "" {
		return nil, nil, billing.ErrEmptyTenantID
	}
	if !s.acquire(tenantID) {
		return nil, nil, errors.Wrapf(billing.ErrRunInProgress, "tenant %s", tenantID)
	}
	defer s.release(tenantID)

	started := s.clock.Now().UTC()
	run := billing.Run{
		ID:        billing.BuildRunID(tenantID, started),
		TenantID:  tenantID,
		Horizon:   horizon,
		StartedAt: started,
	}
	logger := s.logger.With(zap.String("run_id", run.ID), zap.String("tenant_id", tenantID))

	result, err := s.execute(ctx, tenantID, horizon, logger)
	run.FinishedAt = s.clock.Now().UTC()
	duration := run.FinishedAt.Sub(started)
	if err != nil {
		run.Status = billing.RunStatusFailed
		run.Error = err.Error()
		if saveErr := s.repo.SaveRun(ctx, run, nil); saveErr != nil {
			logger.Error("failed run not recorded", zap.Error(saveErr))
		}
		metrics.ObserveRun(metrics.ResultError, duration)
		logger.Error("billing run failed", zap.Error(err))
		s.publish(ctx, run, nil, logger)
		return &run, nil, err
	}

	run.Horizon = result.Horizon
	run.Contracts = result.Contracts
	run.Records = len(result.Records)
	run.Failures = len(result.Failures)
	run.Warnings = len(result.Flags)
	run.Status = billing.RunStatusSucceeded
	if run.Failures > 0 {
		run.Status = billing.RunStatusPartial
	}
	if err := s.repo.SaveRun(ctx, run, result.Records); err != nil {
		metrics.ObserveRun(metrics.ResultError, duration)
		return &run, result, errors.Wrap(err, "run service: save records")
	}
	metrics.AddRecordsWritten(len(result.Records))
	metrics.ObserveRun(metrics.ResultSuccess, duration)
	logger.Info("billing run stored",
		zap.String("status", run.Status),
		zap.Int("records", run.Records),
		zap.Int("failures", run.Failures),
		zap.Duration("duration", duration))
	s.publish(ctx, run, result, logger)
	return &run, result, nil
}

func (s *RunService) execute(ctx context.Context, tenantID string, horizon time.Time, logger *zap.Logger) (*Result, error) {
	table, err := tariff.LoadTable(ctx, s.rules)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "load tariff rules"), billing.ErrConfiguration)
	}
	events, err := s.events.ListEvents(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	pdls := lo.Uniq(lo.Map(events, func(e perimeter.ContractEvent, _ int) string { return e.DeliveryPoint }))
	store, err := s.readings.Snapshot(ctx, tenantID, pdls)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot readings")
	}
	logger.Debug("inputs loaded",
		zap.Int("events", len(events)),
		zap.Int("delivery_points", len(pdls)),
		zap.Int("rules", table.Len()))

	pipeline, err := NewPipeline(store, WithWorkers(s.workers), WithLogger(s.base), WithClock(s.clock))
	if err != nil {
		return nil, err
	}
	return pipeline.Run(ctx, table, events, horizon)
}

func (s *RunService) publish(ctx context.Context, run billing.Run, result *Result, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}
	event := RunCompleted{
		RunID:      run.ID,
		TenantID:   run.TenantID,
		Status:     run.Status,
		Horizon:    run.Horizon,
		Records:    run.Records,
		Failures:   run.Failures,
		OccurredAt: run.FinishedAt,
	}
	if result != nil {
		event.Flags = len(result.Flags)
	}
	if err := s.publisher.PublishRunCompleted(ctx, event); err != nil {
		logger.Warn("run completion not published", zap.Error(err))
	}
}

// Records lists stored records.
func (s *RunService) Records(ctx context.Context, filter billing.RecordFilter) ([]billing.MonthlyRecord, error) {
	if filter.TenantID == "" {
		return nil, billing.ErrEmptyTenantID
	}
	return s.repo.List(ctx, filter)
}

// Run returns a stored run.
func (s *RunService) Run(ctx context.Context, tenantID, runID string) (*billing.Run, error) {
	return s.repo.GetRun(ctx, tenantID, runID)
}

// Runs lists the tenant's latest runs.
func (s *RunService) Runs(ctx context.Context, tenantID string, limit int) ([]billing.Run, error) {
	return s.repo.ListRuns(ctx, tenantID, limit)
}

// Rules returns the current reference table.
func (s *RunService) Rules(ctx context.Context) (*tariff.RuleTable, error) {
	return tariff.LoadTable(ctx, s.rules)
}

func (s *RunService) acquire(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[tenantID]; busy {
		return false
	}
	s.running[tenantID] = struct{}{}
	return true
}

func (s *RunService) release(tenantID string) {
	s.mu.Lock()
	delete(s.running, tenantID)
	s.mu.Unlock()
}
