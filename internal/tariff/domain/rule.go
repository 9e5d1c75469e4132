package tariff

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	readings "turpe-billing/internal/readings/domain"
)

// TierCoefficients are the b_hph..b_hcb power coefficients of C4 formulas.
type TierCoefficients struct {
	HPH decimal.Decimal
	HCH decimal.Decimal
	HPB decimal.Decimal
	HCB decimal.Decimal
}

// Rule is one versioned TURPE rate row. Coefficients are in EUR/kVA/year
// (B, tiers), EUR/year (CG, CC), c€/kWh (Rates) and EUR/h (CMDPS).
type Rule struct {
	Formula string
	Start   time.Time
	End     *time.Time
	B       decimal.Decimal
	CG      decimal.Decimal
	CC      decimal.Decimal
	Tiers   *TierCoefficients
	Rates   map[readings.Channel]decimal.Decimal
	// CMDPS is the hourly overrun coefficient; nil when not applicable.
	CMDPS *decimal.Decimal
}

// Contains reports start <= at < end, with a nil end open.
func (r Rule) Contains(at time.Time) bool {
	if at.Before(r.Start) {
		return false
	}
	return r.End == nil || at.Before(*r.End)
}

func (r Rule) overlaps(o Rule) bool {
	startsBeforeOtherEnds := o.End == nil || r.Start.Before(*o.End)
	otherStartsBeforeEnd := r.End == nil || o.Start.Before(*r.End)
	return startsBeforeOtherEnds && otherStartsBeforeEnd
}

func (r Rule) validate() error {
	if r.Formula == "" {
		return ErrEmptyFormula
	}
	if r.Start.IsZero() {
		return errors.Wrapf(ErrInvalidValidity, "formula %s: zero start", r.Formula)
	}
	if r.End != nil && !r.End.After(r.Start) {
		return errors.Wrapf(ErrInvalidValidity, "formula %s: end %s not after start %s",
			r.Formula, r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// RuleTable is an immutable snapshot of the reference table for one run.
type RuleTable struct {
	byFormula map[string][]Rule
}

// NewRuleTable validates rules and indexes them by formula.
func NewRuleTable(rules []Rule) (*RuleTable, error) {
	byFormula := make(map[string][]Rule)
	for _, rule := range rules {
		if err := rule.validate(); err != nil {
			return nil, err
		}
		byFormula[rule.Formula] = append(byFormula[rule.Formula], rule)
	}
	for formula, list := range byFormula {
		sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
		for i := 1; i < len(list); i++ {
			if list[i-1].overlaps(list[i]) {
				return nil, errors.Wrapf(ErrOverlappingRules, "formula %s: windows starting %s and %s",
					formula, list[i-1].Start.Format("2006-01-02"), list[i].Start.Format("2006-01-02"))
			}
		}
		byFormula[formula] = list
	}
	return &RuleTable{byFormula: byFormula}, nil
}

// Len returns the number of rules.
func (t *RuleTable) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, list := range t.byFormula {
		n += len(list)
	}
	return n
}

// Formulas returns the known formulas, sorted.
func (t *RuleTable) Formulas() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.byFormula))
	for f := range t.byFormula {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Versions returns the rules of formula ordered by start.
func (t *RuleTable) Versions(formula string) []Rule {
	if t == nil {
		return nil
	}
	return append([]Rule(nil), t.byFormula[formula]...)
}

// Lookup returns the unique rule of formula whose window contains at.
func (t *RuleTable) Lookup(formula string, at time.Time) (Rule, error) {
	if t == nil {
		return Rule{}, ErrNilTable
	}
	var (
		found Rule
		hits  int
	)
	for _, rule := range t.byFormula[formula] {
		if rule.Contains(at) {
			found = rule
			hits++
		}
	}
	switch hits {
	case 0:
		return Rule{}, newMissingRulesError([]RuleKey{NewRuleKey(formula, at)}, t.Formulas())
	case 1:
		return found, nil
	default:
		return Rule{}, errors.Wrapf(ErrOverlappingRules, "formula %s at %s", formula, at.Format("2006-01-02"))
	}
}

// ResolveAll looks every key up and reports all misses in one error.
func (t *RuleTable) ResolveAll(keys []RuleKey) (map[RuleKey]Rule, error) {
	if t == nil {
		return nil, ErrNilTable
	}
	resolved := make(map[RuleKey]Rule, len(keys))
	var missing []RuleKey
	for _, key := range keys {
		if _, ok := resolved[key]; ok {
			continue
		}
		rule, err := t.Lookup(key.Formula, key.At)
		if err != nil {
			var miss *MissingRulesError
			if errors.As(err, &miss) {
				missing = append(missing, key)
				continue
			}
			return nil, err
		}
		resolved[key] = rule
	}
	if len(missing) > 0 {
		return nil, newMissingRulesError(dedupeKeys(missing), t.Formulas())
	}
	return resolved, nil
}

func dedupeKeys(keys []RuleKey) []RuleKey {
	seen := make(map[RuleKey]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
