// Package dispatcher implements the speed-layer orchestrator from
// spec.md §4.5: rate-limit gate -> L1 -> L2 -> L3 -> expert -> safe
// default, with per-stage circuit breakers and bounded expert handoff.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/cmdhub/cmdhub/internal/breaker"
	"github.com/cmdhub/cmdhub/internal/cache"
	"github.com/cmdhub/cmdhub/internal/model"
	"github.com/cmdhub/cmdhub/internal/pattern"
	"github.com/cmdhub/cmdhub/internal/policy"
)

const (
	l1TTLOnPolicyMatch   = 300 * time.Second
	l1TTLOnPatternMatch  = 600 * time.Second
	l1TTLOnExpertDecision = 3600 * time.Second

	adaptiveRateFactor     = 0.7
	adaptiveLatencyTrigger = 50 * time.Millisecond
)

// Config configures a Dispatcher. Zero values fall back to the defaults
// from spec.md §6's configuration table.
type Config struct {
	RatePerSecond         float64
	L1Capacity            int
	PolicyRules           []policy.RuleSpec
	L3ConfidenceThreshold float64
	ExpertTimeout         time.Duration
	ExpertQueueCapacity   int

	// Registerer is where the dispatcher's prometheus counters and
	// gauges are registered. Defaults to a fresh prometheus.NewRegistry
	// per Dispatcher so independent instances (e.g. in tests) never
	// collide on metric names; pass a shared Registerer to scrape every
	// dispatcher from one endpoint.
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 1000
	}
	if c.L1Capacity <= 0 {
		c.L1Capacity = 10_000
	}
	if c.L3ConfidenceThreshold <= 0 {
		c.L3ConfidenceThreshold = 0.8
	}
	if c.ExpertTimeout <= 0 {
		c.ExpertTimeout = 30 * time.Second
	}
	if c.ExpertQueueCapacity <= 0 {
		c.ExpertQueueCapacity = 100
	}
	if c.PolicyRules == nil {
		c.PolicyRules = policy.DefaultRules()
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.NewRegistry()
	}
	return c
}

// Dispatcher is the speed-layer orchestrator. It implements the
// aggregate's Validator port (see internal/aggregate) so the aggregate
// depends only on a narrow interface, not on this package, breaking the
// cyclic aggregate<->dispatcher reference noted in spec.md §9.
type Dispatcher struct {
	cfg Config

	l1 *cache.Cache
	l2 *policy.Engine
	l3 *pattern.Engine

	limiter  *rate.Limiter
	limiterMu sync.Mutex
	baseRate float64

	breakerL1     *breaker.Breaker
	breakerL2     *breaker.Breaker
	breakerL3     *breaker.Breaker
	breakerExpert *breaker.Breaker

	expert *expertQueue

	counters *counters
}

func New(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()

	bcL1 := breaker.DefaultConfig()
	bcL1.AdaptiveLatencyTarget = time.Millisecond
	bcL2 := breaker.DefaultConfig()
	bcL2.AdaptiveLatencyTarget = 5 * time.Millisecond
	bcL3 := breaker.DefaultConfig()
	bcL3.AdaptiveLatencyTarget = 10 * time.Millisecond
	bcExpert := breaker.DefaultConfig()

	return &Dispatcher{
		cfg:           cfg,
		l1:            cache.New(cfg.L1Capacity, cache.Capabilities{Bloom: true, HotSet: true}),
		l2:            policy.New(cfg.PolicyRules, nil),
		l3:            pattern.New(cfg.L3ConfidenceThreshold),
		limiter:       rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)),
		baseRate:      cfg.RatePerSecond,
		breakerL1:     breaker.New(bcL1),
		breakerL2:     breaker.New(bcL2),
		breakerL3:     breaker.New(bcL3),
		breakerExpert: breaker.New(bcExpert),
		expert:        newExpertQueue(cfg.ExpertQueueCapacity),
		counters:      newCounters(cfg.Registerer),
	}
}

// Validate runs the full speed-layer pipeline. It never returns an error
// to the caller and never blocks longer than cfg.ExpertTimeout: every
// internal failure is caught, counted, and folded into the returned
// result (spec.md §4.5, §7).
func (d *Dispatcher) Validate(ctx context.Context, req model.Request) model.Result {
	start := time.Now()
	d.counters.totalRequests.Inc()
	d.adjustRateLimiter()

	finish := func(result model.Result) model.Result {
		result.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
		d.counters.recordLatency(time.Since(start).Nanoseconds())
		return result
	}

	if !d.limiter.Allow() {
		d.counters.rateLimited.Inc()
		return finish(model.Result{
			Decision: model.Blocked, Confidence: model.High,
			Reason: "rate limit exceeded", Layer: model.LayerRateLimit,
		})
	}

	fp := req.Fingerprint()

	if result, ok := d.tryL1(fp); ok {
		d.counters.cacheHits.Inc()
		return finish(result)
	}

	if result, ok := d.tryL2(req); ok {
		d.counters.policyHits.Inc()
		d.l1.Set(fp, result, l1TTLOnPolicyMatch)
		return finish(result)
	}

	if result, ok := d.tryL3(req); ok {
		d.counters.patternHits.Inc()
		if result.Confidence == model.High {
			d.l1.Set(fp, result, l1TTLOnPatternMatch)
		}
		return finish(result)
	}

	return finish(d.escalate(ctx, req, fp))
}

func (d *Dispatcher) tryL1(fp string) (result model.Result, ok bool) {
	if !d.breakerL1.Allow() {
		return model.Result{}, false
	}
	stageStart := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.breakerL1.RecordFailure()
			ok = false
		}
	}()
	result, hit := d.l1.Get(fp)
	d.breakerL1.RecordSuccess(time.Since(stageStart))
	if !hit {
		return model.Result{}, false
	}
	result.CacheHit = true
	result.Layer = model.LayerMemory
	return result, true
}

func (d *Dispatcher) tryL2(req model.Request) (result model.Result, ok bool) {
	if !d.breakerL2.Allow() {
		return model.Result{}, false
	}
	stageStart := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.breakerL2.RecordFailure()
			ok = false
		}
	}()
	result, matched := d.l2.Evaluate(req)
	d.breakerL2.RecordSuccess(time.Since(stageStart))
	if !matched {
		return model.Result{}, false
	}
	result.Layer = model.LayerPolicy
	return result, true
}

func (d *Dispatcher) tryL3(req model.Request) (result model.Result, ok bool) {
	if !d.breakerL3.Allow() {
		return model.Result{}, false
	}
	stageStart := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.breakerL3.RecordFailure()
			ok = false
		}
	}()
	result, confident := d.l3.Predict(req)
	d.breakerL3.RecordSuccess(time.Since(stageStart))
	if !confident {
		return model.Result{}, false
	}
	result.Layer = model.LayerPattern
	return result, true
}

// escalate implements the ESCALATED branch of the per-request state
// machine in spec.md §4.5: enqueue, wait with timeout, and on
// TIMED_OUT/QUEUE_FULL fall back to the safe default.
func (d *Dispatcher) escalate(ctx context.Context, req model.Request, fp string) model.Result {
	id := uuid.NewString()
	pe, ok := d.expert.enqueue(id, req)
	if !ok {
		d.counters.queueFullDrops.Inc()
		return d.safeDefault(req, "expert queue full")
	}

	timeout := d.cfg.ExpertTimeout
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-pe.promise:
		d.breakerExpert.RecordSuccess(0)
		result.Layer = model.LayerExpert
		d.counters.expertHits.Inc()
		d.l1.Set(fp, result, l1TTLOnExpertDecision)
		d.l3.Learn(req, result.Decision)
		return result
	case <-waitCtx.Done():
		d.expert.cancel(id)
		d.breakerExpert.RecordFailure()
		d.counters.expertTimeouts.Inc()
		return d.safeDefault(req, fmt.Sprintf("expert escalation timed out after %s", timeout))
	}
}

func (d *Dispatcher) safeDefault(req model.Request, reason string) model.Result {
	return model.Result{
		Decision:       model.SafeDefault(req.ToolName),
		Confidence:     model.ConfidenceUnknown,
		Reason:         reason,
		Layer:          model.LayerSafeDefault,
		ExpertRequired: true,
	}
}

// ProvideExpertResponse unblocks a waiter registered by a prior
// escalation. It is the dispatcher interface's external entry point for
// the human/expert subsystem (out of core scope, spec.md §1).
func (d *Dispatcher) ProvideExpertResponse(requestID string, result model.Result) bool {
	return d.expert.resolve(requestID, result)
}

// PendingEscalations exposes the queue the external expert subsystem
// drains.
func (d *Dispatcher) PendingEscalations() <-chan *Escalation {
	return d.expert.Pending()
}

// Metrics returns a point-in-time snapshot of dispatcher counters.
func (d *Dispatcher) Metrics() Metrics {
	return d.counters.snapshot()
}

// InvalidateCache removes L1 entries whose fingerprint key contains
// substr.
func (d *Dispatcher) InvalidateCache(substr string) {
	d.l1.Invalidate(substr)
}

// adjustRateLimiter implements the "adaptive reduction to 70% when
// rolling avg latency > 50ms" resource cap from spec.md §5.
func (d *Dispatcher) adjustRateLimiter() {
	avgNS := d.counters.avgLatencyNS.Load()
	d.limiterMu.Lock()
	defer d.limiterMu.Unlock()

	target := d.baseRate
	if avgNS > 0 && time.Duration(avgNS) > adaptiveLatencyTrigger {
		target = d.baseRate * adaptiveRateFactor
	}
	if float64(d.limiter.Limit()) != target {
		d.limiter.SetLimit(rate.Limit(target))
	}
}
