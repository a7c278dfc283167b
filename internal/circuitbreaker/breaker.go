// Package circuitbreaker holds the per-dimension violation breaker.
//
// A Breaker opens when the server reports that a quota was exceeded and stays open for
// max(retryAfter, backoff), where backoff doubles with every consecutive violation up to a
// ceiling. After the cooldown it is half-open for one more backoff period; a violation then
// keeps the streak, silence or a successful call closes it.
package circuitbreaker

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
	StateBanned
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateBanned:
		return "BANNED"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	BackoffBase    time.Duration `json:"backoff_base"`
	BackoffCeiling time.Duration `json:"backoff_ceiling"`
	JitterFraction float64       `json:"jitter_fraction"`
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64 `json:"-"`
}

type Breaker struct {
	mu          sync.Mutex
	base        time.Duration
	ceiling     time.Duration
	jitter      float64
	rand        func() float64
	streak      int
	lastBackoff time.Duration
	openUntil   time.Time
	banUntil    time.Time
	state       atomic.Int32
	metrics     *Metrics
}

type Metrics struct {
	violations   atomic.Int64
	bans         atomic.Int64
	stateChanges atomic.Int64
}

func New(config Config) *Breaker {
	b := &Breaker{
		base:    config.BackoffBase,
		ceiling: config.BackoffCeiling,
		jitter:  config.JitterFraction,
		rand:    config.Rand,
		metrics: &Metrics{},
	}
	if b.rand == nil {
		b.rand = rand.Float64
	}
	if b.ceiling < b.base {
		b.ceiling = b.base
	}
	b.state.Store(int32(StateClosed))
	return b
}

// Backoff returns min(base*2^(attempt-1), ceiling). Attempts below one yield zero.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return min(d, ceiling)
}

// Trip records a violation at now and returns the cooldown applied. An existing longer
// cooldown is never shortened.
func (b *Breaker) Trip(now time.Time, retryAfter time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.settle(now)
	b.streak++
	backoff := Backoff(b.streak, b.base, b.ceiling)
	if b.jitter > 0 {
		backoff = min(backoff+time.Duration(b.rand()*b.jitter*float64(backoff)), b.ceiling)
	}
	b.lastBackoff = backoff

	cooldown := max(retryAfter, backoff)
	if until := now.Add(cooldown); until.After(b.openUntil) {
		b.openUntil = until
	}
	b.metrics.violations.Add(1)
	b.transitionTo(b.stateAt(now))
	return cooldown
}

// Ban sets a cooldown of d that later trips and successes cannot reduce.
func (b *Breaker) Ban(now time.Time, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if until := now.Add(d); until.After(b.banUntil) {
		b.banUntil = until
	}
	b.metrics.bans.Add(1)
	b.transitionTo(b.stateAt(now))
}

// Record reports the outcome of a completed call. A success resets the violation streak
// but leaves a running cooldown in place.
func (b *Breaker) Record(now time.Time, success bool) {
	if !success {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streak = 0
	b.lastBackoff = 0
	b.transitionTo(b.stateAt(now))
}

// Remaining returns how long admissions on the dimension must still wait.
func (b *Breaker) Remaining(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	var d time.Duration
	if now.Before(b.openUntil) {
		d = b.openUntil.Sub(now)
	}
	if now.Before(b.banUntil) {
		d = max(d, b.banUntil.Sub(now))
	}
	return d
}

// State evaluates the breaker at now.
func (b *Breaker) State(now time.Time) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.settle(now)
	s := b.stateAt(now)
	b.transitionTo(s)
	return s
}

func (b *Breaker) Streak(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.settle(now)
	return b.streak
}

// settle drops the streak once the half-open quiet period has passed.
func (b *Breaker) settle(now time.Time) {
	if b.streak == 0 || now.Before(b.openUntil.Add(b.lastBackoff)) {
		return
	}
	b.streak = 0
	b.lastBackoff = 0
}

func (b *Breaker) stateAt(now time.Time) State {
	switch {
	case now.Before(b.banUntil):
		return StateBanned
	case now.Before(b.openUntil):
		return StateOpen
	case b.streak > 0:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (b *Breaker) transitionTo(newState State) {
	if State(b.state.Swap(int32(newState))) != newState {
		b.metrics.stateChanges.Add(1)
	}
}

// Metrics returns the breaker's lifetime counters.
func (b *Breaker) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Violations:   b.metrics.violations.Load(),
		Bans:         b.metrics.bans.Load(),
		StateChanges: b.metrics.stateChanges.Load(),
	}
}

type MetricsSnapshot struct {
	Violations int64
	Bans       int64
	// StateChanges counts observed transitions, including those noticed lazily by State.
	StateChanges int64
}
