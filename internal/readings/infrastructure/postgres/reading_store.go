package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	readings "turpe-billing/internal/readings/domain"
	"turpe-billing/internal/readings/infrastructure/memory"
)

const defaultReadingsTable = "meter_readings"

// ReadingStore reads and writes periodic meter readings.
type ReadingStore struct {
	db       *sql.DB
	tenantID string
	table    string
}

// Option configures the store.
type Option func(*ReadingStore)

// WithTenantID scopes Lookup to a tenant.
func WithTenantID(tenantID string) Option {
	return func(s *ReadingStore) {
		if tenantID != "" {
			s.tenantID = tenantID
		}
	}
}

// WithTable overrides the readings table name.
func WithTable(table string) Option {
	return func(s *ReadingStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewReadingStore constructs a store.
func NewReadingStore(db *sql.DB, opts ...Option) *ReadingStore {
	s := &ReadingStore{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup implements readings.Store for the configured tenant.
func (s *ReadingStore) Lookup(ctx context.Context, deliveryPoint string, at time.Time) (readings.Reading, bool, error) {
	if s == nil || s.db == nil {
		return readings.Reading{}, false, errors.New("reading store: nil db")
	}
	if s.tenantID == "" {
		return readings.Reading{}, false, errors.New("reading store: empty tenant id")
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT delivery_point, read_at, contract_ref, formula, calendar_id, indexes, overrun_hours
FROM %s
WHERE tenant_id = $1 AND delivery_point = $2 AND read_at = $3
LIMIT 1`, s.table), s.tenantID, deliveryPoint, at.UTC())
	rd, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return readings.Reading{}, false, nil
		}
		return readings.Reading{}, false, err
	}
	return rd, true, nil
}

// SaveReadings implements readings.Sink. Readings at an existing instant replace it.
func (s *ReadingStore) SaveReadings(ctx context.Context, tenantID string, list []readings.Reading) error {
	if s == nil || s.db == nil {
		return errors.New("reading store: nil db")
	}
	if tenantID == "" {
		return errors.New("reading store: empty tenant id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "reading store: begin")
	}
	upsert := fmt.Sprintf(`
INSERT INTO %s (tenant_id, delivery_point, read_at, contract_ref, formula, calendar_id, indexes, overrun_hours)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (tenant_id, delivery_point, read_at)
DO UPDATE SET contract_ref = EXCLUDED.contract_ref, formula = EXCLUDED.formula,
	calendar_id = EXCLUDED.calendar_id, indexes = EXCLUDED.indexes, overrun_hours = EXCLUDED.overrun_hours`, s.table)
	for _, rd := range list {
		if rd.DeliveryPoint == "" {
			_ = tx.Rollback()
			return readings.ErrEmptyDeliveryPoint
		}
		if rd.Indexes.Family() == readings.FamilyMixed {
			_ = tx.Rollback()
			return errors.Wrapf(readings.ErrMixedFamilies, "delivery point %s at %s", rd.DeliveryPoint, rd.At.Format(time.RFC3339))
		}
		idx, err := json.Marshal(rd.Indexes)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "reading store: encode indexes")
		}
		var overrun sql.NullFloat64
		if rd.OverrunHours != nil {
			overrun = sql.NullFloat64{Float64: *rd.OverrunHours, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, upsert, tenantID, rd.DeliveryPoint, rd.At.UTC(),
			rd.ContractRef, rd.Formula, rd.CalendarID, idx, overrun); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "reading store: upsert %s", rd.DeliveryPoint)
		}
	}
	return errors.Wrap(tx.Commit(), "reading store: commit")
}

// Snapshot implements readings.Snapshotter: every reading of the delivery
// points is loaded into memory so a batch run issues one query.
func (s *ReadingStore) Snapshot(ctx context.Context, tenantID string, deliveryPoints []string) (readings.Store, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("reading store: nil db")
	}
	snapshot := memory.NewStore()
	if len(deliveryPoints) == 0 {
		return snapshot, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT delivery_point, read_at, contract_ref, formula, calendar_id, indexes, overrun_hours
FROM %s
WHERE tenant_id = $1 AND delivery_point = ANY($2)
ORDER BY delivery_point ASC, read_at ASC`, s.table), tenantID, deliveryPoints)
	if err != nil {
		return nil, errors.Wrap(err, "reading store: snapshot query")
	}
	defer rows.Close()

	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		if err := snapshot.Put(rd); err != nil {
			return nil, errors.Wrapf(err, "reading store: snapshot %s", rd.DeliveryPoint)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading store: snapshot rows")
	}
	return snapshot, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (readings.Reading, error) {
	rd := readings.Reading{Source: readings.SourcePeriodic}
	var at time.Time
	var idx []byte
	var overrun sql.NullFloat64
	if err := row.Scan(&rd.DeliveryPoint, &at, &rd.ContractRef, &rd.Formula, &rd.CalendarID, &idx, &overrun); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rd, err
		}
		return rd, errors.Wrap(err, "reading store: scan")
	}
	rd.At = at.UTC()
	if len(idx) > 0 {
		if err := json.Unmarshal(idx, &rd.Indexes); err != nil {
			return rd, errors.Wrap(err, "reading store: decode indexes")
		}
	}
	if overrun.Valid {
		v := overrun.Float64
		rd.OverrunHours = &v
	}
	return rd, nil
}
