package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	perimeter "turpe-billing/internal/perimeter/domain"
	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

const defaultEventsTable = "contract_events"

// EventRepository persists the normalized contractual history.
type EventRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*EventRepository)

// WithTable overrides the events table name.
func WithTable(table string) Option {
	return func(r *EventRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *sql.DB, opts ...Option) *EventRepository {
	r := &EventRepository{db: db, table: defaultEventsTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListEvents implements perimeter.EventSource.
func (r *EventRepository) ListEvents(ctx context.Context, tenantID string) ([]perimeter.ContractEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("event repo: empty tenant id")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT contract_id, contract_ref, delivery_point, occurred_at, event_type, event_code,
	before_power_kva, before_tiers, after_power_kva, after_tiers,
	before_formula, after_formula, before_calendar, after_calendar,
	before_indexes, after_indexes, before_overrun_hours, after_overrun_hours
FROM %s
WHERE tenant_id = $1
ORDER BY contract_id ASC, occurred_at ASC, id ASC`, r.table), tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "event repo: query")
	}
	defer rows.Close()

	var result []perimeter.ContractEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "event repo: rows")
	}
	return result, nil
}

// AppendEvents implements perimeter.EventSink.
func (r *EventRepository) AppendEvents(ctx context.Context, tenantID string, events []perimeter.ContractEvent) error {
	if r == nil || r.db == nil {
		return errors.New("event repo: nil db")
	}
	if tenantID == "" {
		return errors.New("event repo: empty tenant id")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "event repo: begin")
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id, contract_id, contract_ref, delivery_point, occurred_at, event_type, event_code,
	before_power_kva, before_tiers, after_power_kva, after_tiers,
	before_formula, after_formula, before_calendar, after_calendar,
	before_indexes, after_indexes, before_overrun_hours, after_overrun_hours
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`, r.table)
	for _, e := range events {
		if err := e.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		beforeKVA, beforeTiers, err := encodePower(e.BeforePower)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		afterKVA, afterTiers, err := encodePower(e.AfterPower)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		beforeIdx, err := encodeIndexes(e.BeforeIndexes)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		afterIdx, err := encodeIndexes(e.AfterIndexes)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, insert,
			tenantID, e.ContractID, e.ContractRef, e.DeliveryPoint, e.At.UTC(), string(e.Type), e.Code,
			beforeKVA, beforeTiers, afterKVA, afterTiers,
			e.BeforeFormula, e.AfterFormula, e.BeforeCalendar, e.AfterCalendar,
			beforeIdx, afterIdx, nullFloat(e.BeforeOverrun), nullFloat(e.AfterOverrun),
		); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "event repo: insert contract %s", e.ContractID)
		}
	}
	return errors.Wrap(tx.Commit(), "event repo: commit")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (perimeter.ContractEvent, error) {
	var e perimeter.ContractEvent
	var eventType string
	var at time.Time
	var beforeKVA, afterKVA, beforeOverrun, afterOverrun sql.NullFloat64
	var beforeTiers, afterTiers, beforeIdx, afterIdx []byte
	if err := row.Scan(
		&e.ContractID, &e.ContractRef, &e.DeliveryPoint, &at, &eventType, &e.Code,
		&beforeKVA, &beforeTiers, &afterKVA, &afterTiers,
		&e.BeforeFormula, &e.AfterFormula, &e.BeforeCalendar, &e.AfterCalendar,
		&beforeIdx, &afterIdx, &beforeOverrun, &afterOverrun,
	); err != nil {
		return e, errors.Wrap(err, "event repo: scan")
	}
	e.At = at.UTC()
	e.Type = perimeter.EventType(eventType)

	var err error
	if e.BeforePower, err = decodePower(beforeKVA, beforeTiers); err != nil {
		return e, err
	}
	if e.AfterPower, err = decodePower(afterKVA, afterTiers); err != nil {
		return e, err
	}
	if e.BeforeIndexes, err = decodeIndexes(beforeIdx); err != nil {
		return e, err
	}
	if e.AfterIndexes, err = decodeIndexes(afterIdx); err != nil {
		return e, err
	}
	e.BeforeOverrun = floatPtr(beforeOverrun)
	e.AfterOverrun = floatPtr(afterOverrun)
	return e, nil
}

type tierJSON struct {
	HPH float64 `json:"hph"`
	HCH float64 `json:"hch"`
	HPB float64 `json:"hpb"`
	HCB float64 `json:"hcb"`
}

func encodePower(p *tariff.Power) (sql.NullFloat64, []byte, error) {
	if p == nil {
		return sql.NullFloat64{}, nil, nil
	}
	kva := sql.NullFloat64{Float64: p.KVA, Valid: true}
	if p.Tiers == nil {
		return kva, nil, nil
	}
	data, err := json.Marshal(tierJSON{HPH: p.Tiers.HPH, HCH: p.Tiers.HCH, HPB: p.Tiers.HPB, HCB: p.Tiers.HCB})
	if err != nil {
		return kva, nil, errors.Wrap(err, "event repo: encode tiers")
	}
	return kva, data, nil
}

func decodePower(kva sql.NullFloat64, tiers []byte) (*tariff.Power, error) {
	if len(tiers) > 0 && string(tiers) != "null" {
		var t tierJSON
		if err := json.Unmarshal(tiers, &t); err != nil {
			return nil, errors.Wrap(err, "event repo: decode tiers")
		}
		p := tariff.TieredPower(t.HPH, t.HCH, t.HPB, t.HCB)
		return &p, nil
	}
	if !kva.Valid {
		return nil, nil
	}
	p := tariff.SinglePower(kva.Float64)
	return &p, nil
}

func encodeIndexes(idx readings.Indexes) ([]byte, error) {
	if idx.Empty() {
		return nil, nil
	}
	data, err := json.Marshal(idx)
	return data, errors.Wrap(err, "event repo: encode indexes")
}

func decodeIndexes(data []byte) (readings.Indexes, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var idx readings.Indexes
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errors.Wrap(err, "event repo: decode indexes")
	}
	return idx, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
