package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"tollgate/pkg/core"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		spec core.DimensionSpec
		want any
	}{
		{"fixed", core.FixedWindow("weight", 10, time.Second), &FixedWindow{}},
		{"rolling", core.RollingWindow("orders", 10, time.Second), &RollingLog{}},
		{"bucket", core.TokenBucket("credits", 10, 1), &TokenBucket{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := New(tt.spec, epoch)
			require.NoError(t, err)
			assert.IsType(t, tt.want, acc)
			assert.Equal(t, int64(10), acc.Capacity())
			assert.Equal(t, int64(10), acc.Remaining(epoch))
		})
	}

	_, err := New(core.DimensionSpec{Name: "x", Shape: "leaky", Capacity: 1}, epoch)
	assert.Error(t, err)
}

func TestFixedWindow_Admission(t *testing.T) {
	w := NewFixedWindow(10, time.Second, epoch)

	assert.Zero(t, w.TimeUntilAvailable(epoch, 4))
	w.Commit(epoch, 4)
	assert.Zero(t, w.TimeUntilAvailable(epoch, 4))
	w.Commit(epoch, 4)

	now := epoch.Add(300 * time.Millisecond)
	assert.Equal(t, 700*time.Millisecond, w.TimeUntilAvailable(now, 4))
	assert.Equal(t, int64(2), w.Remaining(now))
	assert.Equal(t, Never, w.TimeUntilAvailable(now, 11))
}

func TestFixedWindow_ResetsExactlyAtBoundary(t *testing.T) {
	w := NewFixedWindow(10, time.Second, epoch)
	w.Commit(epoch, 7)

	justBefore := epoch.Add(time.Second - time.Nanosecond)
	assert.Equal(t, int64(7), w.Consumed(justBefore))

	after := epoch.Add(time.Second + time.Millisecond)
	assert.Equal(t, int64(0), w.Consumed(after))
	w.Commit(after, 2)
	assert.Equal(t, int64(2), w.Consumed(after.Add(time.Millisecond)))
	assert.Equal(t, time.Second-time.Millisecond, w.ResetsIn(after.Add(time.Millisecond)))
}

func TestFixedWindow_RaiseAndRefund(t *testing.T) {
	w := NewFixedWindow(10, time.Second, epoch)
	w.Commit(epoch, 3)

	assert.True(t, w.Raise(epoch, 9))
	assert.Equal(t, int64(9), w.Consumed(epoch))
	assert.False(t, w.Raise(epoch, 5))
	assert.Equal(t, int64(9), w.Consumed(epoch))

	assert.True(t, w.Refund(epoch, epoch, 4))
	assert.Equal(t, int64(5), w.Consumed(epoch))

	later := epoch.Add(2 * time.Second)
	assert.False(t, w.Refund(later, epoch, 4), "refund for a closed window is dropped")
	assert.Equal(t, int64(0), w.Consumed(later))
}

func TestRollingLog_DropsOldEvents(t *testing.T) {
	l := NewRollingLog(10, 10*time.Second)
	l.Commit(epoch, 4)
	l.Commit(epoch.Add(3*time.Second), 4)

	now := epoch.Add(5 * time.Second)
	assert.Equal(t, int64(8), l.Consumed(now))
	assert.Equal(t, 5*time.Second, l.TimeUntilAvailable(now, 6))
	assert.Equal(t, 8*time.Second, l.TimeUntilAvailable(now, 10))
	assert.Zero(t, l.TimeUntilAvailable(now, 2))

	now = epoch.Add(10 * time.Second)
	assert.Equal(t, int64(4), l.Consumed(now))
	assert.Equal(t, 1, l.Len(now))
	assert.Equal(t, 3*time.Second, l.ResetsIn(now))
}

func TestRollingLog_NoBoundaryBurst(t *testing.T) {
	l := NewRollingLog(10, time.Second)
	l.Commit(epoch.Add(900*time.Millisecond), 10)

	// A fixed window starting at epoch would reset at 1s; the rolling log still holds the burst.
	now := epoch.Add(1100 * time.Millisecond)
	assert.Equal(t, int64(0), l.Remaining(now))
	assert.Equal(t, 800*time.Millisecond, l.TimeUntilAvailable(now, 1))
}

func TestRollingLog_RaiseAndRefund(t *testing.T) {
	l := NewRollingLog(10, time.Second)
	l.Commit(epoch, 3)

	assert.True(t, l.Raise(epoch, 9))
	assert.Equal(t, int64(9), l.Consumed(epoch))
	assert.False(t, l.Raise(epoch, 9))

	assert.True(t, l.Refund(epoch.Add(100*time.Millisecond), epoch, 3))
	assert.Equal(t, int64(6), l.Consumed(epoch.Add(100*time.Millisecond)))

	assert.Equal(t, int64(0), l.Consumed(epoch.Add(time.Second)))
	assert.False(t, l.Refund(epoch.Add(time.Second), epoch, 3))
}

func TestRollingLog_RefundedDebitFreesNothing(t *testing.T) {
	l := NewRollingLog(10, 10*time.Second)
	l.Commit(epoch, 5)
	require.True(t, l.Refund(epoch, epoch, 5))
	l.Commit(epoch.Add(time.Second), 6)
	l.Commit(epoch.Add(2*time.Second), 4)

	now := epoch.Add(2 * time.Second)
	assert.Equal(t, int64(10), l.Consumed(now))
	assert.Equal(t, 9*time.Second, l.TimeUntilAvailable(now, 3))

	later := now.Add(8 * time.Second)
	assert.Equal(t, time.Second, l.TimeUntilAvailable(later, 3))
	assert.Zero(t, l.TimeUntilAvailable(later.Add(time.Second), 3))
}

func TestTokenBucket_Refill(t *testing.T) {
	b := NewTokenBucket(100, 10, epoch)
	b.Commit(epoch, 80)

	assert.InDelta(t, 20.0, b.Available(epoch), 1e-9)
	assert.InDelta(t, 25.0, b.Available(epoch.Add(500*time.Millisecond)), 1e-9)
	assert.InDelta(t, 100.0, b.Available(epoch.Add(time.Hour)), 1e-9)
}

func TestTokenBucket_Admission(t *testing.T) {
	b := NewTokenBucket(100, 10, epoch)
	b.Commit(epoch, 95)

	assert.Zero(t, b.TimeUntilAvailable(epoch, 5))
	assert.Equal(t, time.Second, b.TimeUntilAvailable(epoch, 15))
	assert.Equal(t, Never, b.TimeUntilAvailable(epoch, 101))
	assert.Equal(t, int64(95), b.Consumed(epoch))
	assert.Equal(t, int64(5), b.Remaining(epoch))
	assert.Equal(t, 9500*time.Millisecond, b.ResetsIn(epoch))
}

func TestTokenBucket_RaiseIntoDebt(t *testing.T) {
	b := NewTokenBucket(10, 1, epoch)

	assert.True(t, b.Raise(epoch, 12))
	assert.Equal(t, int64(0), b.Remaining(epoch))
	assert.Equal(t, 3*time.Second, b.TimeUntilAvailable(epoch, 1))
	assert.False(t, b.Raise(epoch, 12))

	assert.True(t, b.Refund(epoch, epoch, 50))
	assert.InDelta(t, 10.0, b.Available(epoch), 1e-9)
}

func TestTokenBucket_RefillProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.Int64Range(1, 100000).Draw(rt, "capacity")
		rate := rapid.Float64Range(0.1, 10000).Draw(rt, "rate")
		spent := rapid.Int64Range(0, capacity).Draw(rt, "spent")
		elapsedMs := rapid.Int64Range(0, 3_600_000).Draw(rt, "elapsed_ms")

		b := NewTokenBucket(capacity, rate, epoch)
		b.Commit(epoch, spent)
		before := b.Available(epoch)

		elapsed := time.Duration(elapsedMs) * time.Millisecond
		want := min(float64(capacity), before+elapsed.Seconds()*rate)
		got := b.Available(epoch.Add(elapsed))
		if diff := got - want; diff > 1e-6 || diff < -1e-6 {
			rt.Fatalf("available after %s = %f, want %f", elapsed, got, want)
		}
	})
}

func TestAccountants_RaiseIsMonotonicAndIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		shape := rapid.SampledFrom([]core.Shape{core.ShapeFixed, core.ShapeRolling, core.ShapeBucket}).Draw(rt, "shape")
		spec := core.DimensionSpec{Name: "d", Shape: shape, Capacity: 1000, Window: time.Minute, RefillRate: 5}
		acc, err := New(spec, epoch)
		if err != nil {
			rt.Fatal(err)
		}

		reports := rapid.SliceOfN(rapid.Int64Range(0, 2000), 1, 20).Draw(rt, "reports")
		for _, r := range reports {
			before := acc.Consumed(epoch)
			acc.Raise(epoch, r)
			after := acc.Consumed(epoch)
			if after < before {
				rt.Fatalf("consumed decreased from %d to %d", before, after)
			}
			if after < r {
				rt.Fatalf("consumed %d below reported %d", after, r)
			}
			if acc.Raise(epoch, r) {
				rt.Fatalf("re-applying %d changed state", r)
			}
			if again := acc.Consumed(epoch); again != after {
				rt.Fatalf("re-applying %d moved consumed from %d to %d", r, after, again)
			}
		}
	})
}
