package classifier

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"tollgate/pkg/core"
)

// RuleSpec is the declarative form of a Fixed, Scaled or Tiered rule.
type RuleSpec struct {
	Operation string `yaml:"op"`
	Category  string `yaml:"category"`
	// Param selects a Tiered rule when Steps is set, or a Scaled rule by count otherwise.
	Param    string `yaml:"param,omitempty"`
	Fallback int64  `yaml:"fallback,omitempty"`
	// Factor charges a constant multiple of the category template.
	Factor         int64  `yaml:"factor,omitempty"`
	Steps          []Step `yaml:"steps,omitempty"`
	ChargeOnReject *bool  `yaml:"charge_on_reject,omitempty"`
}

// Rule converts s into a Rule.
func (s RuleSpec) Rule() Rule {
	switch {
	case len(s.Steps) > 0:
		fallback := s.Fallback
		if fallback == 0 {
			fallback = 1
		}
		return Tiered(s.Category, s.Param, fallback, s.Steps...)
	case s.Param != "":
		return Scaled(s.Category, ByCount(s.Param))
	case s.Factor > 1:
		factor := s.Factor
		return Scaled(s.Category, func(core.Params) int64 { return factor })
	default:
		return Fixed(s.Category)
	}
}

type ruleFile struct {
	Operations []RuleSpec `yaml:"operations"`
}

// LoadRules decodes a YAML rule table and registers every entry on r.
//
//	operations:
//	  - op: GET /api/v3/depth
//	    category: request
//	    param: limit
//	    steps: [{up_to: 100, factor: 1}, {up_to: 500, factor: 5}]
func (r *Registry) LoadRules(in io.Reader) error {
	var f ruleFile
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return core.NewConfigurationError("decode rules", err)
	}

	return r.RegisterSpecs(f.Operations)
}

// RegisterSpecs registers every spec on r, stopping at the first failure.
func (r *Registry) RegisterSpecs(specs []RuleSpec) error {
	for i, spec := range specs {
		if spec.Operation == "" || spec.Category == "" {
			return core.NewConfigurationError(fmt.Sprintf("rule %d: op and category are required", i), nil)
		}
		var opts []Option
		if spec.ChargeOnReject != nil {
			opts = append(opts, ChargeOnReject(*spec.ChargeOnReject))
		}
		if err := r.Register(spec.Operation, spec.Rule(), opts...); err != nil {
			return err
		}
	}
	return nil
}
