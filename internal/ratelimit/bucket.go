package ratelimit

import (
	"math"
	"time"
)

// TokenBucket is a credit pool refilled continuously at a fixed rate up to capacity.
// Available credits may go negative after a feedback raise; admission then waits for the debt to refill.
type TokenBucket struct {
	capacity  int64
	rate      float64
	available float64
	last      time.Time
}

// NewTokenBucket creates a full bucket refilling rate credits per second.
func NewTokenBucket(capacity int64, rate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:  capacity,
		rate:      rate,
		available: float64(capacity),
		last:      now,
	}
}

func (b *TokenBucket) refill(now time.Time) {
	if !now.After(b.last) {
		return
	}
	b.available = math.Min(float64(b.capacity), b.available+now.Sub(b.last).Seconds()*b.rate)
	b.last = now
}

// Available returns the fractional credit balance at now.
func (b *TokenBucket) Available(now time.Time) float64 {
	b.refill(now)
	return b.available
}

func (b *TokenBucket) Capacity() int64 {
	return b.capacity
}

func (b *TokenBucket) Consumed(now time.Time) int64 {
	b.refill(now)
	return int64(math.Ceil(float64(b.capacity) - b.available))
}

func (b *TokenBucket) Remaining(now time.Time) int64 {
	b.refill(now)
	if b.available <= 0 {
		return 0
	}
	return int64(math.Floor(b.available))
}

func (b *TokenBucket) TimeUntilAvailable(now time.Time, cost int64) time.Duration {
	if cost > b.capacity {
		return Never
	}
	b.refill(now)
	need := float64(cost) - b.available
	if need <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(need / b.rate * float64(time.Second)))
}

func (b *TokenBucket) Commit(now time.Time, cost int64) {
	b.refill(now)
	b.available -= float64(cost)
}

func (b *TokenBucket) Raise(now time.Time, consumed int64) bool {
	b.refill(now)
	if float64(consumed) <= float64(b.capacity)-b.available {
		return false
	}
	b.available = float64(b.capacity - consumed)
	return true
}

func (b *TokenBucket) Refund(now, _ time.Time, cost int64) bool {
	b.refill(now)
	b.available = math.Min(float64(b.capacity), b.available+float64(cost))
	return true
}

// ResetsIn returns the time until the bucket is full again.
func (b *TokenBucket) ResetsIn(now time.Time) time.Duration {
	b.refill(now)
	missing := float64(b.capacity) - b.available
	if missing <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(missing / b.rate * float64(time.Second)))
}
