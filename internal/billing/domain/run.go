package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Run statuses.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// Run describes one execution of the pipeline.
type Run struct {
	ID         string
	TenantID   string
	Horizon    time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Contracts  int
	Records    int
	Failures   int
	Warnings   int
	Error      string
}

// BuildRunID derives a run id from the tenant and start instant.
func BuildRunID(tenantID string, startedAt time.Time) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + strconv.FormatInt(startedAt.UnixNano(), 10)))
	return "run-" + hex.EncodeToString(sum[:8])
}

// RecordID derives the stable identity of a monthly record.
func RecordID(tenantID string, rec MonthlyRecord) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + rec.ContractID + "|" + rec.DeliveryPoint + "|" + rec.MonthKey()))
	return hex.EncodeToString(sum[:16])
}
