// Package circuitbreaker implements a three-state (closed/open/half-open)
// circuit breaker over lock-free atomics. The Open → HalfOpen promotion is
// a single compare-and-swap: two goroutines observing the reset timeout
// expire at once must not both win the transition and both reset the trial
// counters, so exactly one caller performs it.
package circuitbreaker

import (
	"sync/atomic"
	"time"
)

// State is the circuit breaker's current mode.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker gates calls to a possibly-failing downstream. Closed, all calls
// pass. Once failureCount reaches failureThreshold, it opens and rejects
// everything until resetTimeout has elapsed, then allows up to
// halfOpenQuota trial calls through; halfOpenQuota consecutive successes
// close it again, any failure reopens it.
type Breaker struct {
	failureThreshold int64
	resetTimeout     time.Duration
	halfOpenQuota    int64

	state            atomic.Int32
	failureCount     atomic.Int64
	successCount     atomic.Int64
	halfOpenInFlight atomic.Int64
	lastFailureNanos atomic.Int64
}

// Config tunes a Breaker. Zero values fall back to the defaults:
// 5 failures, 5s reset, 3 half-open trials.
type Config struct {
	FailureThreshold int64
	ResetTimeout     time.Duration
	HalfOpenQuota    int64
}

// New creates a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 5 * time.Second
	}
	if cfg.HalfOpenQuota <= 0 {
		cfg.HalfOpenQuota = 3
	}
	b := &Breaker{
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenQuota:    cfg.HalfOpenQuota,
	}
	b.lastFailureNanos.Store(time.Now().UnixNano())
	return b
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// CanPass reports whether a new call should be attempted.
func (b *Breaker) CanPass() bool {
	switch State(b.state.Load()) {
	case Closed:
		return true

	case Open:
		elapsed := time.Since(time.Unix(0, b.lastFailureNanos.Load()))
		if elapsed < b.resetTimeout {
			return false
		}
		// Exactly one goroutine wins the Open -> HalfOpen transition.
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			b.halfOpenInFlight.Store(0)
			b.successCount.Store(0)
		}
		return b.admitHalfOpen()

	case HalfOpen:
		return b.admitHalfOpen()

	default:
		return false
	}
}

func (b *Breaker) admitHalfOpen() bool {
	if b.halfOpenInFlight.Add(1) <= b.halfOpenQuota {
		return true
	}
	b.halfOpenInFlight.Add(-1)
	return false
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.successCount.Add(1)
	if State(b.state.Load()) == HalfOpen && b.successCount.Load() >= b.halfOpenQuota {
		if b.state.CompareAndSwap(int32(HalfOpen), int32(Closed)) {
			b.resetCounters()
		}
	}
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	b.failureCount.Add(1)
	b.lastFailureNanos.Store(time.Now().UnixNano())

	switch State(b.state.Load()) {
	case Closed:
		if b.failureCount.Load() >= b.failureThreshold {
			b.state.CompareAndSwap(int32(Closed), int32(Open))
		}
	case HalfOpen:
		if b.state.CompareAndSwap(int32(HalfOpen), int32(Open)) {
			b.resetCounters()
		}
	}
}

func (b *Breaker) resetCounters() {
	b.failureCount.Store(0)
	b.successCount.Store(0)
	b.halfOpenInFlight.Store(0)
}
