package automation

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a dispatch is short-circuited by an open
// breaker. It marks the action skipped, not failed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker gates dispatches to one actuator family. Consecutive failures
// trip it open; after the cooldown it admits exactly one probe, whose
// outcome decides between closing and re-opening.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	onStateChange func(name string, from, to BreakerState)
	now           func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	probing     bool
}

// BreakerSnapshot is the externally visible breaker state.
type BreakerSnapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnStateChange registers a transition callback, invoked outside the lock.
func (b *Breaker) OnStateChange(fn func(name string, from, to BreakerState)) {
	b.onStateChange = fn
}

func (b *Breaker) Name() string { return b.name }

// Allow reports whether a dispatch may proceed. In the open state it
// returns ErrCircuitOpen until the cooldown elapses, then admits a single
// half-open probe; concurrent dispatches during the probe are rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case BreakerClosed:
		b.mu.Unlock()
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		b.mu.Unlock()
		return nil
	case BreakerHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return nil
}

// RecordSuccess closes the breaker and clears the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
	b.mu.Unlock()
}

// RecordFailure extends the failure streak. At the threshold, or on a
// failed half-open probe, the breaker opens.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	b.lastFailure = b.now()
	b.probing = false

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
	b.mu.Unlock()
}

// Execute wraps a dispatch with the allow/record cycle. ErrCircuitOpen
// passes through untouched so callers can tell skip from failure.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state, applying the cooldown transition so
// callers observe half_open rather than a stale open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:          b.name,
		State:         state.String(),
		FailureCount:  b.failures,
		LastFailureAt: b.lastFailure,
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		go b.onStateChange(b.name, from, to)
	}
}
