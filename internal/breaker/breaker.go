// Package breaker implements a generic three-state circuit breaker
// (closed/open/half-open) used to fast-fail calls to a fragile dependency —
// in this codebase, the outbound bus connection. The timed-state/mutex
// shape follows the teacher's risk manager (a cooldown that expires on its
// own). The recovery timeout is checked only on the hot path, when a call
// asks to be admitted; there is no background sweep.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = errors.New("breaker: open")

// Config tunes the breaker's trip/recovery behavior.
type Config struct {
	FailureThreshold int           // consecutive failures before tripping, default 5
	RecoveryTimeout  time.Duration // time spent open before probing, default 60s
}

// Metrics is a point-in-time snapshot of breaker counters.
type Metrics struct {
	State       State
	Total       int64
	Failures    int64
	Successes   int64
	SuccessRate float64
	LastFailure time.Time
	LastSuccess time.Time
}

// Breaker wraps calls to a fragile dependency and trips open after
// consecutive failures, matching the source's circuit_breaker.py shape.
type Breaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	consecutiveFails int
	trippedAt        time.Time
	halfOpenInFlight bool

	total       int64
	failures    int64
	successes   int64
	lastFailure time.Time
	lastSuccess time.Time
}

// New creates a Breaker starting Closed. Zero values in cfg fall back to
// the spec defaults.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// Call executes fn, tracking success/failure and applying the breaker's
// fast-fail behavior. Returns ErrOpen without invoking fn if the breaker is
// open (or half-open and already has a probe in flight).
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.admit() {
		return ErrOpen
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

// admit decides whether a call may proceed, transitioning Open → Half-Open
// once the recovery timeout has elapsed.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.trippedAt) >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	}
	return false
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	now := time.Now()

	if success {
		b.successes++
		b.lastSuccess = now
		b.consecutiveFails = 0
		b.halfOpenInFlight = false
		b.state = Closed
		return
	}

	b.failures++
	b.lastFailure = now
	b.halfOpenInFlight = false

	if b.state == HalfOpen {
		b.state = Open
		b.trippedAt = now
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.cfg.FailureThreshold {
		b.state = Open
		b.trippedAt = now
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker's counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rate float64
	if b.total > 0 {
		rate = float64(b.successes) / float64(b.total)
	}

	return Metrics{
		State:       b.state,
		Total:       b.total,
		Failures:    b.failures,
		Successes:   b.successes,
		SuccessRate: rate,
		LastFailure: b.lastFailure,
		LastSuccess: b.lastSuccess,
	}
}

// Reset clears all counters and returns the breaker to Closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFails = 0
	b.halfOpenInFlight = false
	b.total, b.failures, b.successes = 0, 0, 0
	b.lastFailure, b.lastSuccess, b.trippedAt = time.Time{}, time.Time{}, time.Time{}
}

// ForceOpen manually trips the breaker.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Open
	b.trippedAt = time.Now()
	b.halfOpenInFlight = false
}

// ForceClose manually resets the breaker to Closed without clearing counters.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFails = 0
	b.halfOpenInFlight = false
}
