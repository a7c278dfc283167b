package governor

import (
	"fmt"
	"sync"
	"time"

	"tollgate/internal/circuitbreaker"
	"tollgate/internal/ratelimit"
	"tollgate/pkg/core"
)

// dimension is one independently locked entry of the ledger arena.
// The accountant is guarded by mu; the breaker has its own lock.
type dimension struct {
	name       string
	mu         sync.Mutex
	accountant ratelimit.Accountant
	breaker    *circuitbreaker.Breaker
}

// decision is the outcome of one evaluate+commit pass over a cost vector.
type decision struct {
	admitted  bool
	at        time.Time
	wait      time.Duration
	dimension string
	// exhausted is set when the blocking dimension has nothing left or is cooling down;
	// the waiter then sleeps the full wait instead of polling.
	exhausted bool
	cooldown  bool
}

// dimension returns the ledger entry for name, creating it on first touch.
func (g *Governor) dimension(name string) (*dimension, error) {
	if v, ok := g.dims.Load(name); ok {
		return v.(*dimension), nil
	}

	spec, ok := g.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownDimension, name)
	}
	acc, err := ratelimit.New(spec, g.clock.Now())
	if err != nil {
		return nil, err
	}
	d := &dimension{
		name:       name,
		accountant: acc,
		breaker:    circuitbreaker.New(g.breaker),
	}
	actual, loaded := g.dims.LoadOrStore(name, d)
	if !loaded {
		g.metrics.dimensions.Add(1)
		g.logger.Debug().Str("dimension", name).Str("shape", string(spec.Shape)).Int64("capacity", spec.Capacity).Msg("dimension created")
	}
	return actual.(*dimension), nil
}

// loaded returns the entry for name without creating it.
func (g *Governor) loaded(name string) (*dimension, bool) {
	v, ok := g.dims.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*dimension), true
}

func (g *Governor) resolve(cost core.CostVector) ([]*dimension, error) {
	names := cost.Dimensions()
	out := make([]*dimension, 0, len(names))
	for _, name := range names {
		d, err := g.dimension(name)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// tryCommit evaluates cost against every touched dimension and commits it to all of them
// if none has to wait. The touched dimensions are locked in sorted order for the whole
// evaluate+commit pair, so concurrent callers never interleave partial commits.
func (g *Governor) tryCommit(cost core.CostVector) (decision, error) {
	dims, err := g.resolve(cost)
	if err != nil {
		return decision{}, err
	}
	for _, d := range dims {
		d.mu.Lock()
	}
	defer func() {
		for _, d := range dims {
			d.mu.Unlock()
		}
	}()

	now := g.clock.Now()
	var dec decision
	for _, d := range dims {
		c := cost.Get(d.name)
		if c < 0 {
			return decision{}, fmt.Errorf("%w: %q charges %d", core.ErrNegativeCost, d.name, c)
		}
		wait := d.accountant.TimeUntilAvailable(now, c)
		if wait == ratelimit.Never {
			return decision{}, fmt.Errorf("%w: %q charges %d of %d", core.ErrCostExceedsCapacity, d.name, c, d.accountant.Capacity())
		}
		exhausted := wait > 0 && d.accountant.Remaining(now) == 0
		cooldown := false
		if cd := d.breaker.Remaining(now); cd > 0 && cd >= wait {
			wait, exhausted, cooldown = cd, true, true
		}
		if wait > dec.wait {
			dec.wait, dec.dimension, dec.exhausted, dec.cooldown = wait, d.name, exhausted, cooldown
		}
	}
	if dec.wait > 0 {
		return dec, nil
	}

	for _, d := range dims {
		d.accountant.Commit(now, cost.Get(d.name))
	}
	return decision{admitted: true, at: now}, nil
}

// refund returns a committed debit to every touched dimension and reports how many accepted it.
func (g *Governor) refund(cost core.CostVector, at time.Time) int {
	now := g.clock.Now()
	n := 0
	cost.Each(func(name string, c int64) {
		d, ok := g.loaded(name)
		if !ok {
			return
		}
		d.mu.Lock()
		if d.accountant.Refund(now, at, c) {
			n++
		}
		d.mu.Unlock()
	})
	return n
}
