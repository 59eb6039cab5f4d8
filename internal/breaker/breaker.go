// Package breaker implements a consecutive-failure circuit breaker.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // normal operation, calls pass through
	StateOpen     State = 1 // tripped, calls rejected immediately
	StateHalfOpen State = 2 // one trial call in flight, others rejected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker is open.
var ErrOpen = errors.New("breaker: circuit open")

// Breaker opens after maxFailures consecutive failures and rejects calls for
// resetTimeout. It then lets one trial call through while rejecting the
// rest: success closes it, failure reopens it.
type Breaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	trialActive  bool

	// IsFailure decides which errors count toward tripping. Nil counts all.
	IsFailure func(error) bool
	// OnStateChange is called with the lock held on every transition.
	OnStateChange func(name string, from, to State)

	now func() time.Time
}

// New creates a breaker. maxFailures below 1 is treated as 1.
func New(name string, maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn through the breaker. Errors not counted by IsFailure are
// returned as is and reset the failure streak like a success. While half-open
// only the single trial call runs; concurrent callers get ErrOpen.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) <= b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}
	trial := false
	if b.state == StateHalfOpen {
		if b.trialActive {
			b.mu.Unlock()
			return ErrOpen
		}
		b.trialActive, trial = true, true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialActive = false
	}

	if err != nil && (b.IsFailure == nil || b.IsFailure(err)) {
		b.failures++
		b.lastFailure = b.now()
		if trial || b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
		return err
	}

	if trial {
		b.transition(StateClosed)
	}
	b.failures = 0
	return err
}

// CurrentState returns the current state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil && from != to {
		b.OnStateChange(b.name, from, to)
	}
}
