package billing

import "github.com/cockroachdb/errors"

var (
	// ErrConfiguration marks failures caused by reference data or contract terms.
	ErrConfiguration = errors.New("billing: configuration error")
	// ErrStructural marks reconstruction defects (overlapping or unordered periods).
	ErrStructural = errors.New("billing: structural violation")
	// ErrEmptyContractID is returned when a record has no contract id.
	ErrEmptyContractID = errors.New("billing: empty contract id")
	// ErrInvalidMonth is returned when a record month is zero.
	ErrInvalidMonth = errors.New("billing: invalid month")
	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("billing: run not found")
	// ErrRunInProgress is returned when a tenant already has a run executing.
	ErrRunInProgress = errors.New("billing: run already in progress")
	// ErrEmptyTenantID is returned when a run is triggered without a tenant.
	ErrEmptyTenantID = errors.New("billing: empty tenant id")
)
