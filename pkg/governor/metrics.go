package governor

import (
	"sync/atomic"
	"time"
)

// Metrics tracks statistics about admissions and feedback.
type Metrics struct {
	admitted     atomic.Int64
	waited       atomic.Int64
	waitNanos    atomic.Int64
	rejected     atomic.Int64
	timedOut     atomic.Int64
	canceled     atomic.Int64
	configErrors atomic.Int64
	raises       atomic.Int64
	violations   atomic.Int64
	bans         atomic.Int64
	refunds      atomic.Int64
	dimensions   atomic.Int32
}

// Metrics returns a snapshot of the current governor statistics.
func (g *Governor) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Admitted:     g.metrics.admitted.Load(),
		Waited:       g.metrics.waited.Load(),
		TotalWait:    time.Duration(g.metrics.waitNanos.Load()),
		Rejected:     g.metrics.rejected.Load(),
		TimedOut:     g.metrics.timedOut.Load(),
		Canceled:     g.metrics.canceled.Load(),
		ConfigErrors: g.metrics.configErrors.Load(),
		Raises:       g.metrics.raises.Load(),
		Violations:   g.metrics.violations.Load(),
		Bans:         g.metrics.bans.Load(),
		Refunds:      g.metrics.refunds.Load(),
		Dimensions:   g.metrics.dimensions.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of governor statistics.
type MetricsSnapshot struct {
	// Admitted is the number of permits issued.
	Admitted int64
	// Waited is the number of admissions that had to wait first.
	Waited int64
	// TotalWait is the summed wait of those admissions.
	TotalWait time.Duration
	// Rejected is the number of try-mode rejections.
	Rejected int64
	TimedOut int64
	Canceled int64
	// ConfigErrors counts unknown operations and unadmittable costs.
	ConfigErrors int64
	// Raises is the number of feedback reports that raised local consumption.
	Raises     int64
	Violations int64
	Bans       int64
	Refunds    int64
	// Dimensions is the number of dimensions touched so far.
	Dimensions int32
}
