package governor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a governor's snapshot and counters as Prometheus metrics.
// Register it once per governor:
//
//	prometheus.MustRegister(governor.NewCollector(gov))
type Collector struct {
	gov *Governor

	consumed  *prometheus.Desc
	capacity  *prometheus.Desc
	resetsIn  *prometheus.Desc
	cooldown  *prometheus.Desc
	dimViol   *prometheus.Desc
	dimBans   *prometheus.Desc
	dimStates *prometheus.Desc
	admitted  *prometheus.Desc
	waited    *prometheus.Desc
	rejected  *prometheus.Desc
	timedOut  *prometheus.Desc
	canceled  *prometheus.Desc
	feedbacks *prometheus.Desc
	refunds   *prometheus.Desc
}

// NewCollector creates a collector for gov. Every metric carries a constant "tier" label.
func NewCollector(gov *Governor) *Collector {
	tier := prometheus.Labels{"tier": gov.profile.Name}
	dim := []string{"dimension"}
	return &Collector{
		gov:       gov,
		consumed:  prometheus.NewDesc("tollgate_dimension_consumed", "Consumption counted against the current window.", dim, tier),
		capacity:  prometheus.NewDesc("tollgate_dimension_capacity", "Configured capacity of the dimension.", dim, tier),
		resetsIn:  prometheus.NewDesc("tollgate_dimension_resets_in_seconds", "Time until the dimension's window fully drains.", dim, tier),
		cooldown:  prometheus.NewDesc("tollgate_dimension_cooldown_seconds", "Time left on a violation or ban cooldown.", dim, tier),
		dimViol:   prometheus.NewDesc("tollgate_dimension_violations_total", "Venue rate limit violations recorded on the dimension.", dim, tier),
		dimBans:   prometheus.NewDesc("tollgate_dimension_bans_total", "Venue bans recorded on the dimension.", dim, tier),
		dimStates: prometheus.NewDesc("tollgate_dimension_state_changes_total", "Breaker state transitions on the dimension.", dim, tier),
		admitted:  prometheus.NewDesc("tollgate_admitted_total", "Permits issued.", nil, tier),
		waited:    prometheus.NewDesc("tollgate_waited_total", "Admissions that had to wait.", nil, tier),
		rejected:  prometheus.NewDesc("tollgate_rejected_total", "Try-mode rejections.", nil, tier),
		timedOut:  prometheus.NewDesc("tollgate_timed_out_total", "Acquires that exceeded their max wait.", nil, tier),
		canceled:  prometheus.NewDesc("tollgate_canceled_total", "Acquires canceled while waiting.", nil, tier),
		feedbacks: prometheus.NewDesc("tollgate_feedback_total", "Feedback events by kind.", []string{"kind"}, tier),
		refunds:   prometheus.NewDesc("tollgate_refunds_total", "Debits returned for rejected calls.", nil, tier),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.consumed
	ch <- c.capacity
	ch <- c.resetsIn
	ch <- c.cooldown
	ch <- c.dimViol
	ch <- c.dimBans
	ch <- c.dimStates
	ch <- c.admitted
	ch <- c.waited
	ch <- c.rejected
	ch <- c.timedOut
	ch <- c.canceled
	ch <- c.feedbacks
	ch <- c.refunds
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, u := range c.gov.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.consumed, prometheus.GaugeValue, float64(u.Consumed), name)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(u.Capacity), name)
		ch <- prometheus.MustNewConstMetric(c.resetsIn, prometheus.GaugeValue, u.ResetsIn.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(c.cooldown, prometheus.GaugeValue, u.CooldownFor.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(c.dimViol, prometheus.CounterValue, float64(u.Violations), name)
		ch <- prometheus.MustNewConstMetric(c.dimBans, prometheus.CounterValue, float64(u.Bans), name)
		ch <- prometheus.MustNewConstMetric(c.dimStates, prometheus.CounterValue, float64(u.StateChanges), name)
	}

	m := c.gov.Metrics()
	ch <- prometheus.MustNewConstMetric(c.admitted, prometheus.CounterValue, float64(m.Admitted))
	ch <- prometheus.MustNewConstMetric(c.waited, prometheus.CounterValue, float64(m.Waited))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(m.Rejected))
	ch <- prometheus.MustNewConstMetric(c.timedOut, prometheus.CounterValue, float64(m.TimedOut))
	ch <- prometheus.MustNewConstMetric(c.canceled, prometheus.CounterValue, float64(m.Canceled))
	ch <- prometheus.MustNewConstMetric(c.feedbacks, prometheus.CounterValue, float64(m.Raises), "raise")
	ch <- prometheus.MustNewConstMetric(c.feedbacks, prometheus.CounterValue, float64(m.Violations), "violation")
	ch <- prometheus.MustNewConstMetric(c.feedbacks, prometheus.CounterValue, float64(m.Bans), "ban")
	ch <- prometheus.MustNewConstMetric(c.refunds, prometheus.CounterValue, float64(m.Refunds))
}
