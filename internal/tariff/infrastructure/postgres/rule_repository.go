package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"turpe-billing/internal/parisdate"
	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

const defaultRulesTable = "turpe_rules"

// RuleRepository loads and stores the TURPE reference table.
type RuleRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*RuleRepository)

// WithTable overrides the rules table name.
func WithTable(table string) Option {
	return func(r *RuleRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB, opts ...Option) *RuleRepository {
	r := &RuleRepository{db: db, table: defaultRulesTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadRules implements tariff.RuleSource.
func (r *RuleRepository) LoadRules(ctx context.Context) ([]tariff.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT formula, start_date, end_date, b, cg, cc, b_hph, b_hch, b_hpb, b_hcb, rates, cmdps
FROM %s
ORDER BY formula ASC, start_date ASC`, r.table))
	if err != nil {
		return nil, errors.Wrap(err, "rule repo: query")
	}
	defer rows.Close()

	var result []tariff.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rule repo: rows")
	}
	return result, nil
}

// ReplaceAll swaps the whole reference table in one transaction.
func (r *RuleRepository) ReplaceAll(ctx context.Context, rules []tariff.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if _, err := tariff.NewRuleTable(rules); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "rule repo: begin")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, r.table)); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "rule repo: delete")
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (formula, start_date, end_date, b, cg, cc, b_hph, b_hch, b_hpb, b_hcb, rates, cmdps)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, r.table)
	for _, rule := range rules {
		rates, err := encodeRates(rule.Rates)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		var hph, hch, hpb, hcb decimal.NullDecimal
		if rule.Tiers != nil {
			hph = decimal.NewNullDecimal(rule.Tiers.HPH)
			hch = decimal.NewNullDecimal(rule.Tiers.HCH)
			hpb = decimal.NewNullDecimal(rule.Tiers.HPB)
			hcb = decimal.NewNullDecimal(rule.Tiers.HCB)
		}
		var cmdps decimal.NullDecimal
		if rule.CMDPS != nil {
			cmdps = decimal.NewNullDecimal(*rule.CMDPS)
		}
		var end any
		if rule.End != nil {
			end = civilDate(*rule.End)
		}
		if _, err := tx.ExecContext(ctx, insert,
			rule.Formula, civilDate(rule.Start), end, rule.B, rule.CG, rule.CC,
			hph, hch, hpb, hcb, rates, cmdps,
		); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "rule repo: insert %s", rule.Formula)
		}
	}
	return errors.Wrap(tx.Commit(), "rule repo: commit")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (tariff.Rule, error) {
	var rule tariff.Rule
	var start time.Time
	var end sql.NullTime
	var hph, hch, hpb, hcb, cmdps decimal.NullDecimal
	var rates []byte
	if err := row.Scan(&rule.Formula, &start, &end, &rule.B, &rule.CG, &rule.CC,
		&hph, &hch, &hpb, &hcb, &rates, &cmdps); err != nil {
		return rule, errors.Wrap(err, "rule repo: scan")
	}
	rule.Start = fromCivilDate(start)
	if end.Valid {
		e := fromCivilDate(end.Time)
		rule.End = &e
	}
	if hph.Valid || hch.Valid || hpb.Valid || hcb.Valid {
		rule.Tiers = &tariff.TierCoefficients{
			HPH: hph.Decimal,
			HCH: hch.Decimal,
			HPB: hpb.Decimal,
			HCB: hcb.Decimal,
		}
	}
	if cmdps.Valid {
		value := cmdps.Decimal
		rule.CMDPS = &value
	}
	decoded, err := decodeRates(rates)
	if err != nil {
		return rule, errors.Wrapf(err, "rule repo: formula %s", rule.Formula)
	}
	rule.Rates = decoded
	return rule, nil
}

// civilDate maps a Paris midnight onto the DATE column value.
func civilDate(t time.Time) time.Time {
	local := t.In(parisdate.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func fromCivilDate(t time.Time) time.Time {
	return parisdate.At(t.Year(), t.Month(), t.Day())
}

func encodeRates(rates map[readings.Channel]decimal.Decimal) ([]byte, error) {
	raw := make(map[string]string, len(rates))
	for channel, value := range rates {
		raw[string(channel)] = value.String()
	}
	data, err := json.Marshal(raw)
	return data, errors.Wrap(err, "rule repo: encode rates")
}

func decodeRates(data []byte) (map[readings.Channel]decimal.Decimal, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode rates")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	rates := make(map[readings.Channel]decimal.Decimal, len(raw))
	for key, value := range raw {
		channel, ok := readings.ParseChannel(key)
		if !ok {
			return nil, errors.Newf("unknown rate channel %q", key)
		}
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return nil, errors.Wrapf(err, "rate %s", key)
		}
		rates[channel] = parsed
	}
	return rates, nil
}
