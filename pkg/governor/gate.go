package governor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tollgate/pkg/classifier"
	"tollgate/pkg/core"
)

// Acquire blocks until op with params is admitted or ctx ends.
// Unknown operations and costs larger than a dimension's capacity fail with a
// configuration error. A canceled wait returns a Canceled error and commits nothing.
func (g *Governor) Acquire(ctx context.Context, op string, params core.Params) (*Permit, error) {
	return g.acquire(ctx, op, params, 0)
}

// AcquireWithin is like Acquire but gives up with a TimedOut error once maxWait has
// elapsed, or as soon as the required wait is known to exceed it.
func (g *Governor) AcquireWithin(ctx context.Context, op string, params core.Params, maxWait time.Duration) (*Permit, error) {
	if maxWait <= 0 {
		return g.TryAcquire(op, params)
	}
	return g.acquire(ctx, op, params, maxWait)
}

// TryAcquire admits op only if its budget is available now. Otherwise it returns a
// WouldExceed error without blocking; when the blocking dimension is cooling down after
// a venue violation the error wraps a RemoteRateLimited cause.
func (g *Governor) TryAcquire(op string, params core.Params) (*Permit, error) {
	c, err := g.classify(op, params)
	if err != nil {
		return nil, err
	}

	dec, err := g.tryCommit(c.Cost)
	if err != nil {
		return nil, g.configError(op, err)
	}
	if dec.admitted {
		return g.admit(c, dec, 0), nil
	}

	g.metrics.rejected.Add(1)
	rejection := core.NewWouldExceedError(op, dec.dimension, dec.wait)
	if dec.cooldown {
		rejection.Err = core.NewRemoteRateLimitedError(dec.dimension, dec.wait)
	}
	g.logger.Debug().Str("op", op).Str("dimension", dec.dimension).Dur("retry_after", dec.wait).Msg("would exceed")
	return nil, rejection
}

func (g *Governor) acquire(ctx context.Context, op string, params core.Params, maxWait time.Duration) (*Permit, error) {
	c, err := g.classify(op, params)
	if err != nil {
		return nil, err
	}

	start := g.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			g.metrics.canceled.Add(1)
			return nil, core.NewCanceledError(op, err)
		}

		dec, err := g.tryCommit(c.Cost)
		if err != nil {
			return nil, g.configError(op, err)
		}
		if dec.admitted {
			return g.admit(c, dec, dec.at.Sub(start)), nil
		}

		sleep := dec.wait
		if !dec.exhausted {
			sleep = min(sleep, g.config.PollInterval)
		}
		if maxWait > 0 {
			left := maxWait - g.clock.Since(start)
			if left <= 0 || dec.wait > left {
				g.metrics.timedOut.Add(1)
				g.logger.Debug().Str("op", op).Str("dimension", dec.dimension).Dur("wait", dec.wait).Dur("max_wait", maxWait).Msg("admission timed out")
				return nil, core.NewTimedOutError(op, maxWait).WithDimension(dec.dimension).WithRetryAfter(dec.wait)
			}
			sleep = min(sleep, left)
		}

		g.logger.Debug().Str("op", op).Str("dimension", dec.dimension).Dur("wait", dec.wait).Dur("sleep", sleep).Bool("cooldown", dec.cooldown).Msg("waiting for budget")

		timer := g.clock.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.metrics.canceled.Add(1)
			return nil, core.NewCanceledError(op, ctx.Err())
		case <-timer.Chan():
		}
	}
}

func (g *Governor) classify(op string, params core.Params) (classifier.Classification, error) {
	c, err := g.registry.Classify(op, params)
	if err != nil {
		g.metrics.configErrors.Add(1)
		g.logger.Error().Err(err).Str("op", op).Msg("classify failed")
		return classifier.Classification{}, err
	}
	return c, nil
}

func (g *Governor) configError(op string, err error) error {
	g.metrics.configErrors.Add(1)
	g.logger.Error().Err(err).Str("op", op).Msg("cost can never be admitted")
	return core.NewConfigurationError("admit", err).WithOperation(op)
}

func (g *Governor) admit(c classifier.Classification, dec decision, waited time.Duration) *Permit {
	g.metrics.admitted.Add(1)
	if waited > 0 {
		g.metrics.waited.Add(1)
		g.metrics.waitNanos.Add(int64(waited))
	}
	p := &Permit{
		ID:             uuid.New(),
		Operation:      c.Operation,
		Category:       c.Category,
		Cost:           c.Cost,
		AdmittedAt:     dec.at,
		Waited:         waited,
		chargeOnReject: c.ChargeOnReject,
		gov:            g,
	}
	g.logger.Debug().Str("op", c.Operation).Str("permit", p.ID.String()).Stringer("cost", c.Cost).Dur("waited", waited).Msg("admitted")
	return p
}
