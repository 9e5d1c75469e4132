package tariff

import "context"

// RuleSource loads the reference table for a run.
type RuleSource interface {
	LoadRules(ctx context.Context) ([]Rule, error)
}

// LoadTable loads rules from source and builds a fresh snapshot.
func LoadTable(ctx context.Context, source RuleSource) (*RuleTable, error) {
	rules, err := source.LoadRules(ctx)
	if err != nil {
		return nil, err
	}
	return NewRuleTable(rules)
}
