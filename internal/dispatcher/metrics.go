package dispatcher

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics are a point-in-time snapshot of the dispatcher's counters,
// surfaced through debug/performance.json in the VFS.
type Metrics struct {
	TotalRequests  int64
	CacheHits      int64
	PolicyHits     int64
	PatternHits    int64
	ExpertHits     int64
	ExpertTimeouts int64
	QueueFullDrops int64
	RateLimited    int64
	AvgLatencyNS   int64
}

// counters backs Metrics with real prometheus.Counter/Gauge
// collectors, registered against the Dispatcher's own Registerer (see
// Config.Registerer) the way luxfi-consensus's nova.newMetrics
// registers its block counters against a prometheus.Registerer.
type counters struct {
	totalRequests  prometheus.Counter
	cacheHits      prometheus.Counter
	policyHits     prometheus.Counter
	patternHits    prometheus.Counter
	expertHits     prometheus.Counter
	expertTimeouts prometheus.Counter
	queueFullDrops prometheus.Counter
	rateLimited    prometheus.Counter

	// avgLatencyNS backs the EMA's compare-and-swap update loop, which
	// has no prometheus.Gauge equivalent; avgLatencyGauge mirrors it for
	// scraping.
	avgLatencyNS    atomic.Int64
	avgLatencyGauge prometheus.Gauge
}

func newCounters(reg prometheus.Registerer) *counters {
	c := &counters{
		totalRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdhub_dispatcher_total_requests", Help: "Total validation requests received.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdhub_dispatcher_cache_hits", Help: "Requests served from the L1 cache.",
		}),
		policyHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdhub_dispatcher_policy_hits", Help: "Requests resolved by the L2 policy engine.",
		}),
		patternHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdhub_dispatcher_pattern_hits", Help: "Requests resolved by the L3 pattern engine.",
		}),
		expertHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdhub_dispatcher_expert_hits", Help: "Requests resolved by expert escalation.",
		}),
		expertTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdhub_dispatcher_expert_timeouts", Help: "Expert escalations that timed out.",
		}),
		queueFullDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdhub_dispatcher_queue_full_drops", Help: "Escalations dropped because the expert queue was full.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdhub_dispatcher_rate_limited", Help: "Requests rejected by the rate limiter.",
		}),
		avgLatencyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cmdhub_dispatcher_avg_latency_ns", Help: "Exponential moving average of request latency, in nanoseconds.",
		}),
	}
	reg.MustRegister(
		c.totalRequests, c.cacheHits, c.policyHits, c.patternHits,
		c.expertHits, c.expertTimeouts, c.queueFullDrops, c.rateLimited,
		c.avgLatencyGauge,
	)
	return c
}

func (c *counters) recordLatency(ns int64) {
	const alpha = 0.2
	for {
		old := c.avgLatencyNS.Load()
		var next int64
		if old == 0 {
			next = ns
		} else {
			next = int64(alpha*float64(ns) + (1-alpha)*float64(old))
		}
		if c.avgLatencyNS.CompareAndSwap(old, next) {
			c.avgLatencyGauge.Set(float64(next))
			return
		}
	}
}

// readCounter extracts a prometheus.Counter's current value the way
// prometheus/testutil.ToFloat64 does, via the Metric.Write wire format,
// since prometheus.Counter exposes no direct getter.
func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func (c *counters) snapshot() Metrics {
	return Metrics{
		TotalRequests:  int64(readCounter(c.totalRequests)),
		CacheHits:      int64(readCounter(c.cacheHits)),
		PolicyHits:     int64(readCounter(c.policyHits)),
		PatternHits:    int64(readCounter(c.patternHits)),
		ExpertHits:     int64(readCounter(c.expertHits)),
		ExpertTimeouts: int64(readCounter(c.expertTimeouts)),
		QueueFullDrops: int64(readCounter(c.queueFullDrops)),
		RateLimited:    int64(readCounter(c.rateLimited)),
		AvgLatencyNS:   c.avgLatencyNS.Load(),
	}
}
