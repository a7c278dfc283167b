package core

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// CostVector is the per-dimension charge incurred by one logical operation.
// It is immutable once constructed; use NewCostVector to build one.
type CostVector struct {
	amounts map[string]int64
}

// NewCostVector creates a CostVector from a dimension → magnitude map.
// The input map is copied. Zero magnitudes are dropped; negative magnitudes are rejected.
func NewCostVector(amounts map[string]int64) (CostVector, error) {
	cv := CostVector{amounts: make(map[string]int64, len(amounts))}
	for dim, n := range amounts {
		if dim == "" {
			return CostVector{}, fmt.Errorf("cost vector: empty dimension name")
		}
		if n < 0 {
			return CostVector{}, fmt.Errorf("cost vector: negative cost %d for %q", n, dim)
		}
		if n > 0 {
			cv.amounts[dim] = n
		}
	}
	return cv, nil
}

// MustCostVector is like NewCostVector but panics on invalid input.
// It is intended for static tables.
func MustCostVector(amounts map[string]int64) CostVector {
	cv, err := NewCostVector(amounts)
	if err != nil {
		panic(err)
	}
	return cv
}

// Get returns the magnitude charged on the given dimension.
func (c CostVector) Get(dim string) int64 {
	return c.amounts[dim]
}

// Dimensions returns the touched dimension names in sorted order.
func (c CostVector) Dimensions() []string {
	return slices.Sorted(maps.Keys(c.amounts))
}

// Len returns the number of touched dimensions.
func (c CostVector) Len() int {
	return len(c.amounts)
}

// IsZero reports whether the vector charges nothing.
func (c CostVector) IsZero() bool {
	return len(c.amounts) == 0
}

// Each calls fn for every touched dimension in sorted order.
func (c CostVector) Each(fn func(dim string, n int64)) {
	for _, dim := range c.Dimensions() {
		fn(dim, c.amounts[dim])
	}
}

// Scale returns a new vector with every magnitude multiplied by factor, saturating at
// math.MaxInt64. A factor below one yields the zero vector.
func (c CostVector) Scale(factor int64) CostVector {
	out := CostVector{amounts: make(map[string]int64, len(c.amounts))}
	if factor < 1 {
		return out
	}
	for dim, n := range c.amounts {
		out.amounts[dim] = mulSat(n, factor)
	}
	return out
}

// Plus returns a new vector charging both c and other, saturating at math.MaxInt64.
func (c CostVector) Plus(other CostVector) CostVector {
	out := CostVector{amounts: maps.Clone(c.amounts)}
	if out.amounts == nil {
		out.amounts = make(map[string]int64, len(other.amounts))
	}
	for dim, n := range other.amounts {
		out.amounts[dim] = addSat(out.amounts[dim], n)
	}
	return out
}

// mulSat and addSat operate on non-negative magnitudes.
func mulSat(a, b int64) int64 {
	if a != 0 && b > math.MaxInt64/a {
		return math.MaxInt64
	}
	return a * b
}

func addSat(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// Map returns a copy of the underlying amounts.
func (c CostVector) Map() map[string]int64 {
	return maps.Clone(c.amounts)
}

// String renders the vector as "dim=n,dim=n" in sorted order.
func (c CostVector) String() string {
	parts := make([]string, 0, len(c.amounts))
	c.Each(func(dim string, n int64) {
		parts = append(parts, fmt.Sprintf("%s=%d", dim, n))
	})
	return strings.Join(parts, ",")
}
