package ratelimit

import (
	"sort"
	"time"
)

type event struct {
	at   time.Time
	cost int64
}

// RollingLog keeps every debit with its timestamp and counts those younger than the window.
// It prevents the boundary bursts a fixed window allows.
type RollingLog struct {
	capacity int64
	window   time.Duration
	events   []event
	sum      int64
}

// NewRollingLog creates an empty rolling log.
func NewRollingLog(capacity int64, window time.Duration) *RollingLog {
	return &RollingLog{
		capacity: capacity,
		window:   window,
	}
}

// prune drops events whose age has reached the window.
func (l *RollingLog) prune(now time.Time) {
	i := 0
	for i < len(l.events) && now.Sub(l.events[i].at) >= l.window {
		l.sum -= l.events[i].cost
		i++
	}
	if i > 0 {
		l.events = append(l.events[:0], l.events[i:]...)
	}
	if len(l.events) == 0 {
		l.sum = 0
	}
}

// insert keeps events ordered by timestamp; equal timestamps keep insertion order.
func (l *RollingLog) insert(e event) {
	i := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].at.After(e.at)
	})
	l.events = append(l.events, event{})
	copy(l.events[i+1:], l.events[i:])
	l.events[i] = e
	l.sum += e.cost
}

func (l *RollingLog) Capacity() int64 {
	return l.capacity
}

func (l *RollingLog) Consumed(now time.Time) int64 {
	l.prune(now)
	return max(0, l.sum)
}

func (l *RollingLog) Remaining(now time.Time) int64 {
	l.prune(now)
	return remaining(l.capacity, max(0, l.sum))
}

// TimeUntilAvailable walks the log from the oldest event until enough cost has aged out.
func (l *RollingLog) TimeUntilAvailable(now time.Time, cost int64) time.Duration {
	if cost > l.capacity {
		return Never
	}
	l.prune(now)
	excess := l.sum + cost - l.capacity
	if excess <= 0 {
		return 0
	}
	// Refunds share their debit's timestamp, so only whole timestamp groups are compared.
	var freed int64
	for i, e := range l.events {
		freed += e.cost
		if i+1 < len(l.events) && l.events[i+1].at.Equal(e.at) {
			continue
		}
		if freed >= excess {
			return until(now, e.at.Add(l.window))
		}
	}
	return until(now, l.events[len(l.events)-1].at.Add(l.window))
}

func (l *RollingLog) Commit(now time.Time, cost int64) {
	l.prune(now)
	l.insert(event{at: now, cost: cost})
}

// Raise records the unaccounted difference as one event at now.
func (l *RollingLog) Raise(now time.Time, consumed int64) bool {
	l.prune(now)
	if consumed <= l.sum {
		return false
	}
	l.insert(event{at: now, cost: consumed - l.sum})
	return true
}

// Refund cancels a debit with a negative event at the original timestamp so both age out together.
func (l *RollingLog) Refund(now, at time.Time, cost int64) bool {
	l.prune(now)
	if now.Sub(at) >= l.window {
		return false
	}
	l.insert(event{at: at, cost: -cost})
	return true
}

func (l *RollingLog) ResetsIn(now time.Time) time.Duration {
	l.prune(now)
	if len(l.events) == 0 {
		return 0
	}
	return until(now, l.events[len(l.events)-1].at.Add(l.window))
}

// Len returns the number of retained events.
func (l *RollingLog) Len(now time.Time) int {
	l.prune(now)
	return len(l.events)
}
