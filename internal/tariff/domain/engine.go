package tariff

import (
	"time"

	"github.com/cockroachdb/errors"

	readings "turpe-billing/internal/readings/domain"
)

// Engine prices periods against one immutable rule table.
type Engine struct {
	rules *RuleTable
}

// NewEngine constructs an engine.
func NewEngine(rules *RuleTable) (*Engine, error) {
	if rules == nil {
		return nil, ErrNilTable
	}
	return &Engine{rules: rules}, nil
}

// Rules exposes the underlying table.
func (e *Engine) Rules() *RuleTable { return e.rules }

// PriceSubscription matches the rule in force at start and computes the
// fixed cost for days. Pricing failures come back as *ConfigurationError,
// a missing rule as *MissingRulesError.
func (e *Engine) PriceSubscription(formula string, start time.Time, power Power, days int) (Rule, FixedCost, error) {
	rule, err := e.lookup(formula, start)
	if err != nil {
		return Rule{}, FixedCost{}, err
	}
	cost, err := ComputeFixed(rule, power, days)
	if err != nil {
		return Rule{}, FixedCost{}, &ConfigurationError{Formula: formula, At: start, Err: err}
	}
	return rule, cost, nil
}

// PriceEnergy matches the rule in force at start and computes the variable cost.
func (e *Engine) PriceEnergy(formula string, start time.Time, energy map[readings.Channel]float64, overrunHours *float64) (VariableCost, error) {
	rule, err := e.lookup(formula, start)
	if err != nil {
		return VariableCost{}, err
	}
	cost, err := ComputeVariable(rule, energy, overrunHours)
	if err != nil {
		return VariableCost{}, &ConfigurationError{Formula: formula, At: start, Err: err}
	}
	return cost, nil
}

func (e *Engine) lookup(formula string, at time.Time) (Rule, error) {
	if e == nil || e.rules == nil {
		return Rule{}, ErrNilTable
	}
	if formula == "" {
		return Rule{}, &ConfigurationError{At: at, Err: ErrEmptyFormula}
	}
	rule, err := e.rules.Lookup(formula, at)
	if err != nil {
		var miss *MissingRulesError
		if errors.As(err, &miss) {
			return Rule{}, miss
		}
		return Rule{}, &ConfigurationError{Formula: formula, At: at, Err: err}
	}
	return rule, nil
}
