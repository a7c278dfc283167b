package classifier

import (
	"cmp"
	"fmt"
	"slices"

	"tollgate/pkg/core"
)

// Rule computes the cost of one call from its parameters.
// Rules are bound to a TierProfile when registered; use the constructors in this package.
type Rule interface {
	bind(profile *core.TierProfile) (costFunc, error)
}

type costFunc func(params core.Params) (category string, cost core.CostVector, err error)

func template(profile *core.TierProfile, category string) (core.CostVector, error) {
	c, ok := profile.Category(category)
	if !ok {
		return core.CostVector{}, fmt.Errorf("%w: %q", core.ErrUnknownCategory, category)
	}
	return c.CostVector()
}

type fixedRule struct {
	category string
}

// Fixed charges the category template on every call.
func Fixed(category string) Rule {
	return fixedRule{category: category}
}

func (r fixedRule) bind(profile *core.TierProfile) (costFunc, error) {
	cv, err := template(profile, r.category)
	if err != nil {
		return nil, err
	}
	return func(core.Params) (string, core.CostVector, error) {
		return r.category, cv, nil
	}, nil
}

type scaledRule struct {
	category string
	factor   func(core.Params) int64
}

// Scaled charges the category template multiplied by factor(params), at least once.
// Batch endpoints use it with the number of items in the batch.
func Scaled(category string, factor func(core.Params) int64) Rule {
	return scaledRule{category: category, factor: factor}
}

// ByCount returns a factor reading an integer or the length of a list parameter.
func ByCount(param string) func(core.Params) int64 {
	return func(p core.Params) int64 {
		n, _ := p.Int(param)
		return n
	}
}

func (r scaledRule) bind(profile *core.TierProfile) (costFunc, error) {
	if r.factor == nil {
		return nil, fmt.Errorf("scaled rule for %q: factor is required", r.category)
	}
	cv, err := template(profile, r.category)
	if err != nil {
		return nil, err
	}
	return func(p core.Params) (string, core.CostVector, error) {
		return r.category, cv.Scale(max(1, r.factor(p))), nil
	}, nil
}

// Step maps parameter values up to and including UpTo onto a template multiplier.
type Step struct {
	UpTo   int64 `json:"up_to" yaml:"up_to"`
	Factor int64 `json:"factor" yaml:"factor"`
}

type tieredRule struct {
	category string
	param    string
	fallback int64
	steps    []Step
}

// Tiered charges the category template scaled by the first step covering params[param].
// Values above the last step use the last step. When the parameter is absent the
// fallback factor applies, matching the venue's default page size.
func Tiered(category, param string, fallback int64, steps ...Step) Rule {
	return tieredRule{category: category, param: param, fallback: fallback, steps: steps}
}

func (r tieredRule) bind(profile *core.TierProfile) (costFunc, error) {
	if len(r.steps) == 0 {
		return nil, fmt.Errorf("tiered rule for %q: at least one step is required", r.category)
	}
	if !slices.IsSortedFunc(r.steps, func(a, b Step) int { return cmp.Compare(a.UpTo, b.UpTo) }) {
		return nil, fmt.Errorf("tiered rule for %q: steps must be ordered by up_to", r.category)
	}
	for _, s := range r.steps {
		if s.Factor < 1 {
			return nil, fmt.Errorf("tiered rule for %q: step factor must be positive", r.category)
		}
	}
	if r.fallback < 1 {
		return nil, fmt.Errorf("tiered rule for %q: fallback factor must be positive", r.category)
	}
	cv, err := template(profile, r.category)
	if err != nil {
		return nil, err
	}
	steps := slices.Clone(r.steps)

	return func(p core.Params) (string, core.CostVector, error) {
		v, ok := p.Int(r.param)
		if !ok {
			return r.category, cv.Scale(r.fallback), nil
		}
		factor := steps[len(steps)-1].Factor
		for _, s := range steps {
			if v <= s.UpTo {
				factor = s.Factor
				break
			}
		}
		return r.category, cv.Scale(factor), nil
	}, nil
}

type whenRule struct {
	pred      func(core.Params) bool
	then      Rule
	otherwise Rule
}

// When picks then if pred(params) holds and otherwise if not.
func When(pred func(core.Params) bool, then, otherwise Rule) Rule {
	return whenRule{pred: pred, then: then, otherwise: otherwise}
}

// Conditional picks mutating for POST, PUT, PATCH and DELETE calls and read for everything else.
func Conditional(mutating, read Rule) Rule {
	return When(core.Params.IsMutating, mutating, read)
}

func (r whenRule) bind(profile *core.TierProfile) (costFunc, error) {
	if r.pred == nil || r.then == nil || r.otherwise == nil {
		return nil, fmt.Errorf("conditional rule: predicate and both branches are required")
	}
	then, err := r.then.bind(profile)
	if err != nil {
		return nil, err
	}
	otherwise, err := r.otherwise.bind(profile)
	if err != nil {
		return nil, err
	}
	return func(p core.Params) (string, core.CostVector, error) {
		if r.pred(p) {
			return then(p)
		}
		return otherwise(p)
	}, nil
}

type customRule struct {
	category string
	fn       func(core.Params) (core.CostVector, error)
}

// Custom delegates the cost to fn. The result is checked against the profile on every call.
func Custom(category string, fn func(core.Params) (core.CostVector, error)) Rule {
	return customRule{category: category, fn: fn}
}

func (r customRule) bind(profile *core.TierProfile) (costFunc, error) {
	if r.fn == nil {
		return nil, fmt.Errorf("custom rule for %q: function is required", r.category)
	}
	return func(p core.Params) (string, core.CostVector, error) {
		cv, err := r.fn(p)
		if err != nil {
			return "", core.CostVector{}, err
		}
		if err := profile.CheckCost(cv); err != nil {
			return "", core.CostVector{}, err
		}
		return r.category, cv, nil
	}, nil
}
