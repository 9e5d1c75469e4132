// Package yamlfile loads the TURPE reference table from a YAML document.
package yamlfile

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"turpe-billing/internal/parisdate"
	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

type document struct {
	Rules []ruleRow `yaml:"rules"`
}

type ruleRow struct {
	Formula string            `yaml:"formula"`
	Start   string            `yaml:"start"`
	End     string            `yaml:"end"`
	B       string            `yaml:"b"`
	CG      string            `yaml:"cg"`
	CC      string            `yaml:"cc"`
	Tiers   *tierRow          `yaml:"tiers"`
	Rates   map[string]string `yaml:"rates"`
	CMDPS   string            `yaml:"cmdps"`
}

type tierRow struct {
	HPH string `yaml:"hph"`
	HCH string `yaml:"hch"`
	HPB string `yaml:"hpb"`
	HCB string `yaml:"hcb"`
}

// Source reads rules from a file on every LoadRules call.
type Source struct {
	path string
}

// NewSource constructs a file-backed rule source.
func NewSource(path string) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("tariff yaml: empty path")
	}
	return &Source{path: path}, nil
}

// LoadRules implements tariff.RuleSource.
func (s *Source) LoadRules(ctx context.Context) ([]tariff.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "tariff yaml: read %s", s.path)
	}
	return Parse(data)
}

// Parse decodes a YAML rule document. Dates are civil dates in Europe/Paris.
func Parse(data []byte) ([]tariff.Rule, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "tariff yaml: decode")
	}
	rules := make([]tariff.Rule, 0, len(doc.Rules))
	for i, row := range doc.Rules {
		rule, err := row.toRule()
		if err != nil {
			return nil, errors.Wrapf(err, "tariff yaml: rule #%d (%s)", i+1, row.Formula)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (r ruleRow) toRule() (tariff.Rule, error) {
	rule := tariff.Rule{Formula: strings.TrimSpace(r.Formula)}
	start, err := parseDate(r.Start)
	if err != nil {
		return rule, errors.Wrap(err, "start")
	}
	rule.Start = start
	if strings.TrimSpace(r.End) != "" {
		end, err := parseDate(r.End)
		if err != nil {
			return rule, errors.Wrap(err, "end")
		}
		rule.End = &end
	}

	for name, pair := range map[string]struct {
		raw string
		dst *decimal.Decimal
	}{
		"b":  {r.B, &rule.B},
		"cg": {r.CG, &rule.CG},
		"cc": {r.CC, &rule.CC},
	} {
		value, err := parseDecimal(pair.raw)
		if err != nil {
			return rule, errors.Wrap(err, name)
		}
		*pair.dst = value
	}

	if r.Tiers != nil {
		tiers := &tariff.TierCoefficients{}
		for name, pair := range map[string]struct {
			raw string
			dst *decimal.Decimal
		}{
			"tiers.hph": {r.Tiers.HPH, &tiers.HPH},
			"tiers.hch": {r.Tiers.HCH, &tiers.HCH},
			"tiers.hpb": {r.Tiers.HPB, &tiers.HPB},
			"tiers.hcb": {r.Tiers.HCB, &tiers.HCB},
		} {
			value, err := parseDecimal(pair.raw)
			if err != nil {
				return rule, errors.Wrap(err, name)
			}
			*pair.dst = value
		}
		rule.Tiers = tiers
	}

	if len(r.Rates) > 0 {
		rule.Rates = make(map[readings.Channel]decimal.Decimal, len(r.Rates))
		for key, raw := range r.Rates {
			channel, ok := readings.ParseChannel(key)
			if !ok {
				return rule, errors.Newf("unknown rate channel %q", key)
			}
			value, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return rule, errors.Wrapf(err, "rate %s", key)
			}
			rule.Rates[channel] = value
		}
	}

	if strings.TrimSpace(r.CMDPS) != "" {
		value, err := decimal.NewFromString(strings.TrimSpace(r.CMDPS))
		if err != nil {
			return rule, errors.Wrap(err, "cmdps")
		}
		rule.CMDPS = &value
	}
	return rule, nil
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), parisdate.Location())
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid date %q", raw)
	}
	return t, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
