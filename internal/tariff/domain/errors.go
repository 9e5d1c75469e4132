package tariff

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"turpe-billing/internal/parisdate"
)

var (
	// ErrEmptyFormula is returned when a rule or period has no tariff formula.
	ErrEmptyFormula = errors.New("tariff: empty formula")
	// ErrInvalidValidity is returned when a rule ends before it starts.
	ErrInvalidValidity = errors.New("tariff: invalid validity window")
	// ErrOverlappingRules is returned when two rules of one formula overlap.
	ErrOverlappingRules = errors.New("tariff: overlapping validity windows")
	// ErrRuleNotFound is returned when no rule covers a (formula, instant) pair.
	ErrRuleNotFound = errors.New("tariff: rule not found")
	// ErrNonMonotonicTiers is returned when tier powers decrease along HPH, HCH, HPB, HCB.
	ErrNonMonotonicTiers = errors.New("tariff: tier powers must be non-decreasing")
	// ErrMissingTierCoefficients is returned when a tiered power meets a rule without b_hph..b_hcb.
	ErrMissingTierCoefficients = errors.New("tariff: rule has no tier coefficients")
	// ErrNegativeDays is returned when a period has a negative duration.
	ErrNegativeDays = errors.New("tariff: negative number of days")
	// ErrNilTable is returned when the engine has no rule table.
	ErrNilTable = errors.New("tariff: nil rule table")
)

// RuleKey identifies a lookup: one formula at one instant.
type RuleKey struct {
	Formula string
	At      time.Time
}

// NewRuleKey normalizes the instant so keys compare by value.
func NewRuleKey(formula string, at time.Time) RuleKey {
	return RuleKey{Formula: formula, At: at.UTC()}
}

func (k RuleKey) String() string {
	return fmt.Sprintf("%s@%s", k.Formula, k.At.Format(time.RFC3339))
}

// MissingRulesError lists every lookup that found no rule. It aborts the
// whole batch: the reference table must be completed before re-running.
type MissingRulesError struct {
	Keys  []RuleKey
	Known []string
}

func (e *MissingRulesError) Error() string {
	keys := make([]string, 0, len(e.Keys))
	for _, k := range e.Keys {
		keys = append(keys, fmt.Sprintf("%s (%s)", k.Formula, k.At.In(parisdate.Location()).Format("2006-01-02")))
	}
	msg := "tariff: no rule for " + strings.Join(keys, ", ")
	if len(e.Known) > 0 {
		msg += "; known formulas: " + strings.Join(e.Known, ", ")
	}
	return msg
}

// Is makes errors.Is(err, ErrRuleNotFound) hold.
func (e *MissingRulesError) Is(target error) bool { return target == ErrRuleNotFound }

func newMissingRulesError(keys []RuleKey, known []string) *MissingRulesError {
	sorted := append([]RuleKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Formula != sorted[j].Formula {
			return sorted[i].Formula < sorted[j].Formula
		}
		return sorted[i].At.Before(sorted[j].At)
	})
	return &MissingRulesError{Keys: sorted, Known: known}
}

// ConfigurationError reports a contract whose terms cannot be priced.
type ConfigurationError struct {
	Formula string
	At      time.Time
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tariff: formula %s at %s: %v", e.Formula, e.At.In(parisdate.Location()).Format("2006-01-02"), e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
