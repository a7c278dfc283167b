// Package classifier maps operation identifiers and their parameters onto cost vectors.
//
// A Registry is bound to one TierProfile. Rules are checked against the profile when they
// are registered, so a Classify call can only fail for unknown operations or for costs
// computed by Custom rules.
package classifier

import (
	"fmt"
	"slices"
	"sync"

	"tollgate/pkg/core"
)

// Classification is the cost of one call.
type Classification struct {
	Operation string
	Category  string
	Cost      core.CostVector
	// ChargeOnReject is false when the venue does not bill calls it rejects in pre-validation.
	ChargeOnReject bool
}

// Option configures a single registration.
type Option func(*entry)

// NoChargeOnReject marks the operation as free when the venue rejects it before execution.
func NoChargeOnReject() Option {
	return func(e *entry) {
		e.chargeOnReject = false
	}
}

// ChargeOnReject sets whether rejected calls of the operation still consume quota.
func ChargeOnReject(charge bool) Option {
	return func(e *entry) {
		e.chargeOnReject = charge
	}
}

type entry struct {
	cost           costFunc
	chargeOnReject bool
}

type Registry struct {
	mu      sync.RWMutex
	profile *core.TierProfile
	rules   map[string]entry
}

// NewRegistry creates an empty registry for the given profile. The profile is validated
// and copied.
func NewRegistry(profile *core.TierProfile) (*Registry, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		profile: profile.Clone(),
		rules:   make(map[string]entry),
	}, nil
}

// Profile returns a copy of the profile the registry is bound to.
func (r *Registry) Profile() *core.TierProfile {
	return r.profile.Clone()
}

// Register binds rule to op. Registering an operation twice replaces the earlier rule.
func (r *Registry) Register(op string, rule Rule, opts ...Option) error {
	if op == "" {
		return core.NewConfigurationError("operation identifier is required", nil)
	}
	if rule == nil {
		return core.NewConfigurationError("rule is required", nil).WithOperation(op)
	}
	fn, err := rule.bind(r.profile)
	if err != nil {
		return core.NewConfigurationError("register rule", err).WithOperation(op)
	}

	e := entry{cost: fn, chargeOnReject: true}
	for _, opt := range opts {
		opt(&e)
	}

	r.mu.Lock()
	r.rules[op] = e
	r.mu.Unlock()
	return nil
}

// MustRegister is like Register but panics on error. It is intended for static tables.
func (r *Registry) MustRegister(op string, rule Rule, opts ...Option) *Registry {
	if err := r.Register(op, rule, opts...); err != nil {
		panic(err)
	}
	return r
}

// Classify computes the cost of op with params. Unregistered operations fail with a
// configuration error instead of falling back to a default cost.
func (r *Registry) Classify(op string, params core.Params) (Classification, error) {
	r.mu.RLock()
	e, ok := r.rules[op]
	r.mu.RUnlock()
	if !ok {
		return Classification{}, core.NewUnknownOperationError(op)
	}

	category, cv, err := e.cost(params)
	if err != nil {
		return Classification{}, core.NewConfigurationError(fmt.Sprintf("classify %s", op), err).WithOperation(op)
	}
	return Classification{
		Operation:      op,
		Category:       category,
		Cost:           cv,
		ChargeOnReject: e.chargeOnReject,
	}, nil
}

// Has reports whether op has a registered rule.
func (r *Registry) Has(op string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rules[op]
	return ok
}

// Operations returns the registered operation identifiers in sorted order.
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.rules))
	for op := range r.rules {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}
