// Package breaker implements the per-stage circuit breaker from
// spec.md §4.5: closed -> open after N consecutive failures within a
// window, half-open after a doubling backoff, closed again on a single
// half-open success. An adaptive variant also opens on sustained latency
// above a per-stage target.
package breaker

import (
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config configures a single breaker instance.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	Window           time.Duration // consecutive-failure window
	BaseBackoff      time.Duration // initial open->half-open backoff
	MaxBackoff       time.Duration // backoff doubling cap

	// AdaptiveLatencyTarget, when non-zero, additionally trips the
	// breaker when the rolling average latency exceeds it (the
	// "adaptive variant" from spec.md §4.5).
	AdaptiveLatencyTarget time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           10 * time.Second,
		BaseBackoff:      1 * time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// Breaker guards a single dispatcher stage.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state            State
	consecutiveFails int
	windowStart      time.Time
	openedAt         time.Time
	backoff          time.Duration

	avgLatencyNS float64

	trips int64
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a call may proceed. A call in the Open state is
// rejected until the backoff elapses, at which point the breaker moves to
// HalfOpen and allows exactly one trial call through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.backoff {
			b.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		// Only one trial call is let through at a time; subsequent
		// concurrent callers are rejected until the trial resolves.
		return false
	default:
		return true
	}
}

// RecordSuccess reports a successful call outcome and its latency.
func (b *Breaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.updateLatencyLocked(latency)

	switch b.state {
	case HalfOpen:
		b.closeLocked()
	case Closed:
		b.consecutiveFails = 0
	}

	if b.cfg.AdaptiveLatencyTarget > 0 && b.avgLatencyNS > float64(b.cfg.AdaptiveLatencyTarget.Nanoseconds()) {
		b.tripLocked()
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.tripLocked()
		return
	}

	now := time.Now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.cfg.Window {
		b.windowStart = now
		b.consecutiveFails = 0
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.cfg.FailureThreshold {
		b.tripLocked()
	}
}

func (b *Breaker) updateLatencyLocked(latency time.Duration) {
	const alpha = 0.2
	ns := float64(latency.Nanoseconds())
	if b.avgLatencyNS == 0 {
		b.avgLatencyNS = ns
	} else {
		b.avgLatencyNS = alpha*ns + (1-alpha)*b.avgLatencyNS
	}
}

// tripLocked opens the breaker and doubles the backoff (capped at
// MaxBackoff). Must be called with b.mu held.
func (b *Breaker) tripLocked() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFails = 0
	b.trips++
	if b.backoff == 0 {
		b.backoff = b.cfg.BaseBackoff
	} else {
		b.backoff *= 2
	}
	if b.backoff > b.cfg.MaxBackoff {
		b.backoff = b.cfg.MaxBackoff
	}
}

func (b *Breaker) closeLocked() {
	b.state = Closed
	b.consecutiveFails = 0
	b.backoff = 0
}

// CurrentState returns the current breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trips returns the cumulative number of times the breaker has opened.
func (b *Breaker) Trips() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}
