// Package ratelimit implements the per-dimension window accountants used by the governor.
//
// Three shapes are provided: FixedWindow, RollingLog and TokenBucket. Accountants take
// the current time as an argument instead of reading a clock, so a single injected clock
// drives every decision. They are not safe for concurrent use; the governor serializes
// access with a per-dimension lock.
package ratelimit

import (
	"fmt"
	"math"
	"time"

	"tollgate/pkg/core"
)

// Never is returned by TimeUntilAvailable when a cost can never be admitted.
const Never time.Duration = math.MaxInt64

// Accountant tracks consumption of one quota dimension.
type Accountant interface {
	// Capacity returns the configured capacity.
	Capacity() int64
	// Consumed returns the amount counted against the current window.
	Consumed(now time.Time) int64
	// Remaining returns the amount that may still be committed now.
	Remaining(now time.Time) int64
	// TimeUntilAvailable returns how long until cost could be committed, zero if now.
	TimeUntilAvailable(now time.Time, cost int64) time.Duration
	// Commit debits cost. Callers must check TimeUntilAvailable first.
	Commit(now time.Time, cost int64)
	// Raise lifts consumption to the reported value if it is higher. It never lowers it.
	Raise(now time.Time, consumed int64) bool
	// Refund returns a debit of cost committed at time at, if it still counts.
	Refund(now, at time.Time, cost int64) bool
	// ResetsIn returns the time until the window fully drains.
	ResetsIn(now time.Time) time.Duration
}

// New creates an accountant for the given dimension spec, starting at now.
func New(spec core.DimensionSpec, now time.Time) (Accountant, error) {
	switch spec.Shape {
	case core.ShapeFixed:
		return NewFixedWindow(spec.Capacity, spec.Window, now), nil
	case core.ShapeRolling:
		return NewRollingLog(spec.Capacity, spec.Window), nil
	case core.ShapeBucket:
		return NewTokenBucket(spec.Capacity, spec.RefillRate, now), nil
	default:
		return nil, fmt.Errorf("unsupported window shape %q for %q", spec.Shape, spec.Name)
	}
}

func remaining(capacity, consumed int64) int64 {
	if consumed >= capacity {
		return 0
	}
	return capacity - consumed
}

func until(now, at time.Time) time.Duration {
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
