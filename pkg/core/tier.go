package core

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Shape selects the window accounting algorithm for a dimension.
type Shape string

// Window shapes.
const (
	// ShapeFixed resets consumption at each window boundary.
	ShapeFixed Shape = "fixed"
	// ShapeRolling keeps a timestamped event log and drops events older than the window.
	ShapeRolling Shape = "rolling"
	// ShapeBucket refills credits continuously up to capacity.
	ShapeBucket Shape = "bucket"
)

// DimensionSpec describes one quota axis granted by a tier.
type DimensionSpec struct {
	// Name identifies the dimension in cost vectors and feedback (e.g. "weight", "orders_10s").
	Name string `json:"name" yaml:"name" validate:"required"`
	// Shape selects fixed, rolling or token-bucket accounting.
	Shape Shape `json:"shape" yaml:"shape" validate:"required,oneof=fixed rolling bucket"`
	// Capacity is the maximum consumption within one window, or the bucket size.
	Capacity int64 `json:"capacity" yaml:"capacity" validate:"min=1"`
	// Window is the measurement span for fixed and rolling dimensions.
	Window time.Duration `json:"window" yaml:"window" validate:"min=0"`
	// RefillRate is the credits added per second for bucket dimensions.
	RefillRate float64 `json:"refill_rate" yaml:"refill_rate" validate:"min=0"`
}

// FixedWindow returns a fixed-window dimension spec.
func FixedWindow(name string, capacity int64, window time.Duration) DimensionSpec {
	return DimensionSpec{Name: name, Shape: ShapeFixed, Capacity: capacity, Window: window}
}

// RollingWindow returns a rolling-log dimension spec.
func RollingWindow(name string, capacity int64, window time.Duration) DimensionSpec {
	return DimensionSpec{Name: name, Shape: ShapeRolling, Capacity: capacity, Window: window}
}

// TokenBucket returns a credit-bucket dimension spec refilling refillRate credits per second.
func TokenBucket(name string, capacity int64, refillRate float64) DimensionSpec {
	return DimensionSpec{Name: name, Shape: ShapeBucket, Capacity: capacity, RefillRate: refillRate}
}

// Category is a named group of operations sharing one cost template.
type Category struct {
	Name string           `json:"name" yaml:"name" validate:"required"`
	Cost map[string]int64 `json:"cost" yaml:"cost" validate:"required,min=1"`
}

// CostVector returns the category template as an immutable CostVector.
func (c Category) CostVector() (CostVector, error) {
	return NewCostVector(c.Cost)
}

// TierProfile is the full set of capacities and windows granted to one account class.
// A governor copies its profile at construction; switching tiers requires a new governor.
type TierProfile struct {
	Name       string          `json:"name" yaml:"name" validate:"required"`
	Dimensions []DimensionSpec `json:"dimensions" yaml:"dimensions" validate:"required,min=1,dive"`
	Categories []Category      `json:"categories" yaml:"categories" validate:"dive"`
}

// Validate checks struct tags and the cross-field rules the tags cannot express.
// Failures are returned as configuration errors wrapping ErrInvalidProfile.
func (p *TierProfile) Validate() error {
	if p == nil {
		return NewConfigurationError("tier profile is required", ErrInvalidProfile)
	}
	if err := validate.Struct(p); err != nil {
		return NewConfigurationError("tier profile "+p.Name, errors.Join(ErrInvalidProfile, err))
	}

	seen := make(map[string]struct{}, len(p.Dimensions))
	for _, d := range p.Dimensions {
		if _, dup := seen[d.Name]; dup {
			return NewConfigurationError(fmt.Sprintf("duplicate dimension %q", d.Name), ErrInvalidProfile)
		}
		seen[d.Name] = struct{}{}

		switch d.Shape {
		case ShapeFixed, ShapeRolling:
			if d.Window <= 0 {
				return NewConfigurationError(fmt.Sprintf("dimension %q: window must be positive", d.Name), ErrInvalidProfile)
			}
		case ShapeBucket:
			if d.RefillRate <= 0 {
				return NewConfigurationError(fmt.Sprintf("dimension %q: refill rate must be positive", d.Name), ErrInvalidProfile)
			}
		}
	}

	cats := make(map[string]struct{}, len(p.Categories))
	for _, c := range p.Categories {
		if _, dup := cats[c.Name]; dup {
			return NewConfigurationError(fmt.Sprintf("duplicate category %q", c.Name), ErrInvalidProfile)
		}
		cats[c.Name] = struct{}{}

		cv, err := c.CostVector()
		if err != nil {
			return NewConfigurationError(fmt.Sprintf("category %q", c.Name), errors.Join(ErrInvalidProfile, err))
		}
		if err := p.CheckCost(cv); err != nil {
			return NewConfigurationError(fmt.Sprintf("category %q", c.Name), err)
		}
	}
	return nil
}

// CheckCost verifies that every dimension of cv is declared and that no single charge exceeds capacity.
func (p *TierProfile) CheckCost(cv CostVector) error {
	for _, dim := range cv.Dimensions() {
		spec, ok := p.Dimension(dim)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDimension, dim)
		}
		if cv.Get(dim) > spec.Capacity {
			return fmt.Errorf("%w: %q charges %d of %d", ErrCostExceedsCapacity, dim, cv.Get(dim), spec.Capacity)
		}
	}
	return nil
}

// Dimension returns the declaration of the named dimension.
func (p *TierProfile) Dimension(name string) (DimensionSpec, bool) {
	for _, d := range p.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return DimensionSpec{}, false
}

// Category returns the named category.
func (p *TierProfile) Category(name string) (Category, bool) {
	for _, c := range p.Categories {
		if c.Name == name {
			return Category{Name: c.Name, Cost: maps.Clone(c.Cost)}, true
		}
	}
	return Category{}, false
}

// DimensionNames returns all declared dimension names in declaration order.
func (p *TierProfile) DimensionNames() []string {
	names := make([]string, 0, len(p.Dimensions))
	for _, d := range p.Dimensions {
		names = append(names, d.Name)
	}
	return names
}

// Clone returns a deep copy of the profile.
func (p *TierProfile) Clone() *TierProfile {
	out := &TierProfile{
		Name:       p.Name,
		Dimensions: slices.Clone(p.Dimensions),
		Categories: make([]Category, 0, len(p.Categories)),
	}
	for _, c := range p.Categories {
		out.Categories = append(out.Categories, Category{Name: c.Name, Cost: maps.Clone(c.Cost)})
	}
	return out
}

// LoadTierProfile decodes a YAML tier profile and validates it.
// Durations are written as Go duration strings ("10s", "1m").
func LoadTierProfile(r io.Reader) (*TierProfile, error) {
	var p TierProfile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, NewConfigurationError("decode tier profile", errors.Join(ErrInvalidProfile, err))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
