package billing

import (
	"context"
	"time"
)

// RecordFilter narrows a record listing. Zero fields match everything.
type RecordFilter struct {
	TenantID   string
	ContractID string
	Month      time.Time
}

// Matches reports whether rec passes the contract and month criteria.
func (f RecordFilter) Matches(rec MonthlyRecord) bool {
	if f.ContractID != "" && rec.ContractID != f.ContractID {
		return false
	}
	if !f.Month.IsZero() && !rec.Month.Equal(f.Month) {
		return false
	}
	return true
}

// RecordRepository persists monthly billing records. Records are derived
// from scratch on every run: SaveRun replaces the tenant's previous records.
type RecordRepository interface {
	SaveRun(ctx context.Context, run Run, records []MonthlyRecord) error
	List(ctx context.Context, filter RecordFilter) ([]MonthlyRecord, error)
	GetRun(ctx context.Context, tenantID, runID string) (*Run, error)
	ListRuns(ctx context.Context, tenantID string, limit int) ([]Run, error)
}
