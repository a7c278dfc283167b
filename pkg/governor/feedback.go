package governor

import (
	"slices"

	"tollgate/pkg/feedback"
)

// OnResponse reconciles the governor with the metadata of a completed call of op.
// Callers holding a Permit should use Permit.Complete instead, which also handles refunds.
//
// Reported usage only ever raises local consumption, so applying the same metadata twice
// has no further effect. Usage for dimensions the profile does not declare is ignored.
func (g *Governor) OnResponse(op string, meta feedback.Metadata) {
	g.apply(op, g.touched(op), meta)
}

// touched returns the dimensions op charges with default params, or every declared
// dimension when the operation cannot be priced without params.
func (g *Governor) touched(op string) []string {
	c, err := g.registry.Classify(op, nil)
	if err != nil || c.Cost.IsZero() {
		return g.profile.DimensionNames()
	}
	return c.Cost.Dimensions()
}

func (g *Governor) apply(op string, touched []string, meta feedback.Metadata) {
	now := g.clock.Now()

	for name, consumed := range meta.Usage {
		if _, declared := g.specs[name]; !declared {
			g.logger.Debug().Str("op", op).Str("dimension", name).Msg("ignoring usage for undeclared dimension")
			continue
		}
		d, err := g.dimension(name)
		if err != nil {
			continue
		}
		d.mu.Lock()
		raised := d.accountant.Raise(now, consumed)
		d.mu.Unlock()
		if raised {
			g.metrics.raises.Add(1)
			g.logger.Debug().Str("op", op).Str("dimension", name).Int64("consumed", consumed).Msg("usage raised from feedback")
		}
	}

	switch meta.Violation {
	case feedback.ViolationRateLimited:
		targets := g.targets(meta.Dimensions, touched)
		for _, name := range targets {
			d, err := g.dimension(name)
			if err != nil {
				continue
			}
			cooldown := d.breaker.Trip(now, meta.RetryAfter)
			g.logger.Warn().Str("op", op).Str("dimension", name).Dur("retry_after", meta.RetryAfter).Dur("cooldown", cooldown).Msg("venue rate limit")
		}
		g.metrics.violations.Add(1)
	case feedback.ViolationBanned:
		targets := g.targets(meta.Dimensions, g.profile.DimensionNames())
		cooldown := max(meta.RetryAfter, g.config.BanCooldown)
		for _, name := range targets {
			d, err := g.dimension(name)
			if err != nil {
				continue
			}
			d.breaker.Ban(now, cooldown)
		}
		g.metrics.bans.Add(1)
		g.logger.Warn().Str("op", op).Strs("dimensions", targets).Dur("cooldown", cooldown).Msg("venue ban")
	default:
		if !meta.Succeeded() {
			return
		}
		for _, name := range touched {
			if d, ok := g.loaded(name); ok {
				d.breaker.Record(now, true)
			}
		}
	}
}

// targets keeps the declared names from explicit, falling back to fallback when none remain.
func (g *Governor) targets(explicit, fallback []string) []string {
	var out []string
	for _, name := range explicit {
		if _, ok := g.specs[name]; ok && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
