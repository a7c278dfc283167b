package governor

import (
	"time"

	"tollgate/internal/circuitbreaker"
)

// DimensionUsage is the observable state of one dimension.
type DimensionUsage struct {
	Consumed  int64         `json:"consumed"`
	Capacity  int64         `json:"capacity"`
	Remaining int64         `json:"remaining"`
	ResetsIn  time.Duration `json:"resets_in"`
	// CooldownFor is the time left on a violation or ban cooldown.
	CooldownFor time.Duration `json:"cooldown_for,omitempty"`
	State       string        `json:"state"`
	// Streak is the number of consecutive violations still counted towards backoff.
	Streak       int   `json:"streak,omitempty"`
	Violations   int64 `json:"violations"`
	Bans         int64 `json:"bans"`
	StateChanges int64 `json:"state_changes"`
}

// Snapshot returns the usage of every declared dimension. Dimensions not touched yet
// report zero consumption.
func (g *Governor) Snapshot() map[string]DimensionUsage {
	now := g.clock.Now()
	out := make(map[string]DimensionUsage, len(g.specs))
	for name, spec := range g.specs {
		d, ok := g.loaded(name)
		if !ok {
			out[name] = DimensionUsage{
				Capacity:  spec.Capacity,
				Remaining: spec.Capacity,
				State:     circuitbreaker.StateClosed.String(),
			}
			continue
		}

		d.mu.Lock()
		u := DimensionUsage{
			Consumed:  d.accountant.Consumed(now),
			Capacity:  d.accountant.Capacity(),
			Remaining: d.accountant.Remaining(now),
			ResetsIn:  d.accountant.ResetsIn(now),
		}
		d.mu.Unlock()
		u.CooldownFor = d.breaker.Remaining(now)
		u.State = d.breaker.State(now).String()
		u.Streak = d.breaker.Streak(now)
		m := d.breaker.Metrics()
		u.Violations, u.Bans, u.StateChanges = m.Violations, m.Bans, m.StateChanges
		out[name] = u
	}
	return out
}
