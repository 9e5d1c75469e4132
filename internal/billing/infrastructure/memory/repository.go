package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	billing "turpe-billing/internal/billing/domain"
)

// RecordRepository keeps the latest run's records per tenant in memory.
type RecordRepository struct {
	mu      sync.RWMutex
	records map[string][]billing.MonthlyRecord
	runs    map[string]map[string]billing.Run
}

// NewRecordRepository constructs an empty repository.
func NewRecordRepository() *RecordRepository {
	return &RecordRepository{
		records: make(map[string][]billing.MonthlyRecord),
		runs:    make(map[string]map[string]billing.Run),
	}
}

// SaveRun stores the run and replaces the tenant's records.
func (r *RecordRepository) SaveRun(ctx context.Context, run billing.Run, records []billing.MonthlyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" || run.TenantID == "" {
		return errors.New("record repo: run id and tenant id required")
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
	}
	cp := make([]billing.MonthlyRecord, len(records))
	copy(cp, records)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[run.TenantID] == nil {
		r.runs[run.TenantID] = make(map[string]billing.Run)
	}
	r.runs[run.TenantID][run.ID] = run
	if run.Status != billing.RunStatusFailed {
		r.records[run.TenantID] = cp
	}
	return nil
}

// List returns the tenant's records matching filter.
func (r *RecordRepository) List(ctx context.Context, filter billing.RecordFilter) ([]billing.MonthlyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []billing.MonthlyRecord
	for _, rec := range r.records[filter.TenantID] {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetRun returns a run by id.
func (r *RecordRepository) GetRun(ctx context.Context, tenantID, runID string) (*billing.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[tenantID][runID]
	if !ok {
		return nil, errors.Wrapf(billing.ErrRunNotFound, "run %s", runID)
	}
	return &run, nil
}

// ListRuns returns the tenant's runs, latest first.
func (r *RecordRepository) ListRuns(ctx context.Context, tenantID string, limit int) ([]billing.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]billing.Run, 0, len(r.runs[tenantID]))
	for _, run := range r.runs[tenantID] {
		out = append(out, run)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
