package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	billing "turpe-billing/internal/billing/domain"
	"turpe-billing/internal/parisdate"
	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

// RecordRepository persists billing runs and their monthly records.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository constructs a repository.
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// SaveRun inserts the run and, unless it failed, replaces the tenant's
// records in the same transaction.
func (r *RecordRepository) SaveRun(ctx context.Context, run billing.Run, records []billing.MonthlyRecord) error {
	if r == nil || r.db == nil {
		return errors.New("record repo: nil db")
	}
	if run.ID == "" || run.TenantID == "" {
		return errors.New("record repo: run id and tenant id required")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "record repo: begin")
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO billing_runs (
	id, tenant_id, horizon, started_at, finished_at, status, contracts, records, failures, warnings, error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, run.TenantID, run.Horizon.UTC(), run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Status,
		run.Contracts, run.Records, run.Failures, run.Warnings, run.Error)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "record repo: insert run")
	}
	if run.Status == billing.RunStatusFailed {
		return errors.Wrap(tx.Commit(), "record repo: commit")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM billing_monthly_records WHERE tenant_id = $1`, run.TenantID); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "record repo: delete records")
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := insertRecord(ctx, tx, run, rec); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "record repo: commit")
}

func insertRecord(ctx context.Context, tx *sql.Tx, run billing.Run, rec billing.MonthlyRecord) error {
	tiers, err := encodeJSON(rec.TierPowers)
	if err != nil {
		return err
	}
	energy, err := encodeJSON(rec.Energy)
	if err != nil {
		return err
	}
	totals, err := encodeJSON(rec.Totals)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO billing_monthly_records (
	id, tenant_id, run_id, contract_id, contract_ref, delivery_point, month, formula,
	power_kva, tier_powers, power_memo, subscription_days, subscription_periods, fixed_cost,
	energy, totals, energy_days, energy_periods, variable_cost, overrun_penalty,
	missing_readings, irregular, has_change, subscription_coverage, energy_coverage, data_complete,
	start_label, end_label
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28
)`,
		billing.RecordID(run.TenantID, rec), run.TenantID, run.ID, rec.ContractID, rec.ContractRef, rec.DeliveryPoint,
		civilMonth(rec.Month), rec.Formula,
		rec.PowerKVA, tiers, rec.PowerMemo, rec.SubscriptionDays, rec.SubscriptionPeriods, rec.FixedCost,
		energy, totals, rec.EnergyDays, rec.EnergyPeriods, rec.VariableCost, rec.OverrunPenalty,
		rec.MissingReadings, rec.Irregular, rec.HasChange, rec.SubscriptionCoverage, rec.EnergyCoverage, rec.DataComplete,
		rec.StartLabel, rec.EndLabel,
	)
	return errors.Wrapf(err, "record repo: insert %s %s", rec.ContractID, rec.MonthKey())
}

// List returns the tenant's records matching filter, ordered by contract,
// delivery point and month.
func (r *RecordRepository) List(ctx context.Context, filter billing.RecordFilter) ([]billing.MonthlyRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("record repo: nil db")
	}
	var contract, month any
	if filter.ContractID != "" {
		contract = filter.ContractID
	}
	if !filter.Month.IsZero() {
		month = civilMonth(filter.Month)
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT contract_id, contract_ref, delivery_point, month, formula,
	power_kva, tier_powers, power_memo, subscription_days, subscription_periods, fixed_cost,
	energy, totals, energy_days, energy_periods, variable_cost, overrun_penalty,
	missing_readings, irregular, has_change, subscription_coverage, energy_coverage, data_complete,
	start_label, end_label
FROM billing_monthly_records
WHERE tenant_id = $1
	AND ($2::text IS NULL OR contract_id = $2)
	AND ($3::date IS NULL OR month = $3)
ORDER BY contract_id ASC, delivery_point ASC, month ASC`, filter.TenantID, contract, month)
	if err != nil {
		return nil, errors.Wrap(err, "record repo: query")
	}
	defer rows.Close()

	var result []billing.MonthlyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "record repo: rows")
	}
	return result, nil
}

// GetRun fetches a run.
func (r *RecordRepository) GetRun(ctx context.Context, tenantID, runID string) (*billing.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("record repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, horizon, started_at, finished_at, status, contracts, records, failures, warnings, error
FROM billing_runs
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, tenantID, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(billing.ErrRunNotFound, "run %s", runID)
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the tenant's latest runs.
func (r *RecordRepository) ListRuns(ctx context.Context, tenantID string, limit int) ([]billing.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("record repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, horizon, started_at, finished_at, status, contracts, records, failures, warnings, error
FROM billing_runs
WHERE tenant_id = $1
ORDER BY started_at DESC
LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "record repo: query runs")
	}
	defer rows.Close()

	var result []billing.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "record repo: rows")
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (billing.Run, error) {
	var run billing.Run
	err := row.Scan(&run.ID, &run.TenantID, &run.Horizon, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.Contracts, &run.Records, &run.Failures, &run.Warnings, &run.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, errors.Wrap(err, "record repo: scan run")
	}
	run.Horizon = run.Horizon.UTC()
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return run, nil
}

func scanRecord(row rowScanner) (billing.MonthlyRecord, error) {
	var rec billing.MonthlyRecord
	var month time.Time
	var tiers, energy, totals []byte
	var fixed, variable, overrun decimal.Decimal
	err := row.Scan(
		&rec.ContractID, &rec.ContractRef, &rec.DeliveryPoint, &month, &rec.Formula,
		&rec.PowerKVA, &tiers, &rec.PowerMemo, &rec.SubscriptionDays, &rec.SubscriptionPeriods, &fixed,
		&energy, &totals, &rec.EnergyDays, &rec.EnergyPeriods, &variable, &overrun,
		&rec.MissingReadings, &rec.Irregular, &rec.HasChange, &rec.SubscriptionCoverage, &rec.EnergyCoverage, &rec.DataComplete,
		&rec.StartLabel, &rec.EndLabel,
	)
	if err != nil {
		return rec, errors.Wrap(err, "record repo: scan record")
	}
	rec.Month = parisdate.At(month.Year(), month.Month(), 1)
	rec.FixedCost = fixed
	rec.VariableCost = variable
	rec.OverrunPenalty = overrun
	if len(tiers) > 0 && string(tiers) != "null" {
		var tp tariff.TierPowers
		if err := json.Unmarshal(tiers, &tp); err != nil {
			return rec, errors.Wrap(err, "record repo: decode tier powers")
		}
		rec.TierPowers = &tp
	}
	if rec.Energy, err = decodeChannels(energy); err != nil {
		return rec, err
	}
	if rec.Totals, err = decodeChannels(totals); err != nil {
		return rec, err
	}
	return rec, nil
}

func civilMonth(t time.Time) time.Time {
	local := t.In(parisdate.Location())
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.Wrap(err, "record repo: encode json")
}

func decodeChannels(data []byte) (map[readings.Channel]float64, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var out map[readings.Channel]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "record repo: decode channels")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
