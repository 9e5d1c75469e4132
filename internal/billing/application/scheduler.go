package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"turpe-billing/internal/parisdate"
)

// Scheduler triggers the daily billing run for each configured tenant at a
// Europe/Paris wall-clock time.
type Scheduler struct {
	service *RunService
	tenants []string
	hour    int
	minute  int
	logger  *zap.Logger
	lastRun string
}

// NewScheduler constructs a Scheduler firing at hour:minute Paris time.
func NewScheduler(service *RunService, tenants []string, hour, minute int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		service: service,
		tenants: tenants,
		hour:    hour,
		minute:  minute,
		logger:  logger.Named("billing.scheduler"),
	}
}

// Start begins the scheduler loop and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.service == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now) {
				continue
			}
			s.runOnce(ctx, now)
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	local := now.In(parisdate.Location())
	if local.Hour() != s.hour || local.Minute() != s.minute {
		return false
	}
	return s.lastRun != local.Format("2006-01-02")
}

// runOnce bills every tenant up to the first day of the current Paris month.
func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	s.lastRun = now.In(parisdate.Location()).Format("2006-01-02")
	horizon := parisdate.MonthStart(now)
	for _, tenantID := range s.tenants {
		if tenantID == "" {
			continue
		}
		run, _, err := s.service.Trigger(ctx, tenantID, horizon)
		if err != nil {
			s.logger.Error("scheduled run failed", zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		s.logger.Info("scheduled run done",
			zap.String("tenant_id", tenantID),
			zap.String("run_id", run.ID),
			zap.String("status", run.Status))
	}
}
