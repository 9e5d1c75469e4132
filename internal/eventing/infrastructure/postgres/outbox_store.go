package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"turpe-billing/internal/eventing"
)

const defaultOutboxTable = "event_outbox"

// Outbox record statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var errNilDB = errors.New("outbox store: nil db")

// OutboxStore persists envelopes for an external relay.
type OutboxStore struct {
	db    *sql.DB
	table string
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, table: defaultOutboxTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Insert writes env as a pending record. Re-inserting the same event id is a no-op.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errNilDB
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", errors.Wrap(err, "outbox store: marshal envelope")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, event_id, event_type, tenant_id, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
ON CONFLICT (event_id) DO NOTHING`, s.table)
	id := eventing.NewEventID()
	if _, err := s.db.ExecContext(ctx, query, id, env.EventID, env.EventType, env.TenantID, payload, StatusPending, env.OccurredAt); err != nil {
		return "", errors.Wrap(err, "outbox store: insert")
	}
	return id, nil
}

// ListPending returns pending records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, payload
FROM %s
WHERE status = $1
ORDER BY created_at ASC, id ASC
LIMIT $2`, s.table)
	rows, err := s.db.QueryContext(ctx, query, StatusPending, limit)
	if err != nil {
		return nil, errors.Wrap(err, "outbox store: list pending")
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, errors.Wrapf(err, "outbox store: decode %s", id)
		}
		result = append(result, eventing.OutboxRecord{ID: id, Envelope: env})
	}
	return result, rows.Err()
}

// MarkSent marks a record as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $1, sent_at = $2 WHERE id = $3`, s.table)
	_, err := s.db.ExecContext(ctx, query, StatusSent, time.Now().UTC(), id)
	return err
}

// MarkFailed marks a record as failed and counts the attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $1, attempts = attempts + 1 WHERE id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, StatusFailed, id)
	return err
}
