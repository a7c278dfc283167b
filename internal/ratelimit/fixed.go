package ratelimit

import "time"

// FixedWindow counts consumption within a window that restarts at the first query after it elapses.
type FixedWindow struct {
	capacity int64
	window   time.Duration
	start    time.Time
	consumed int64
}

// NewFixedWindow creates a fixed window whose first span starts at now.
func NewFixedWindow(capacity int64, window time.Duration, now time.Time) *FixedWindow {
	return &FixedWindow{
		capacity: capacity,
		window:   window,
		start:    now,
	}
}

func (w *FixedWindow) roll(now time.Time) {
	if now.Sub(w.start) >= w.window {
		w.consumed = 0
		w.start = now
	}
}

func (w *FixedWindow) Capacity() int64 {
	return w.capacity
}

func (w *FixedWindow) Consumed(now time.Time) int64 {
	w.roll(now)
	return w.consumed
}

func (w *FixedWindow) Remaining(now time.Time) int64 {
	w.roll(now)
	return remaining(w.capacity, w.consumed)
}

func (w *FixedWindow) TimeUntilAvailable(now time.Time, cost int64) time.Duration {
	if cost > w.capacity {
		return Never
	}
	w.roll(now)
	if w.consumed+cost <= w.capacity {
		return 0
	}
	return until(now, w.start.Add(w.window))
}

func (w *FixedWindow) Commit(now time.Time, cost int64) {
	w.roll(now)
	w.consumed += cost
}

func (w *FixedWindow) Raise(now time.Time, consumed int64) bool {
	w.roll(now)
	if consumed <= w.consumed {
		return false
	}
	w.consumed = consumed
	return true
}

// Refund only applies while the window that received the debit is still open.
func (w *FixedWindow) Refund(now, at time.Time, cost int64) bool {
	w.roll(now)
	if at.Before(w.start) {
		return false
	}
	w.consumed = max(0, w.consumed-cost)
	return true
}

func (w *FixedWindow) ResetsIn(now time.Time) time.Duration {
	w.roll(now)
	return until(now, w.start.Add(w.window))
}
