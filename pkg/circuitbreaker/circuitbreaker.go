// Package circuitbreaker stops calling a dependency that keeps failing. The
// bot wraps the remote document store and the Telegram API with it so a dead
// backend costs one fast rejection instead of a timeout per request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state.
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

var (
	// ErrCircuitOpen rejects calls while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the half-open probe budget.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings configure a breaker. Zero values take the defaults noted below.
type Settings struct {
	Name string

	// FailureThreshold consecutive failures open the breaker. Default 5.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open before probing. Default 30s.
	OpenTimeout time.Duration

	// HalfOpenProbes calls are let through while half-open; that many
	// successes close the breaker again. Default 1.
	HalfOpenProbes int

	// IsFailure decides which errors count. Nil counts every error.
	IsFailure func(error) bool

	// OnStateChange is called outside the lock.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// Counts are reset on every state change.
type Counts struct {
	Requests             int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenProbes <= 0 {
		s.HalfOpenProbes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &CircuitBreaker{settings: s}
}

// Execute runs fn unless the breaker rejects the call. A result that arrives
// after the breaker changed state is not counted.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(gen, err)
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	state, change := cb.currentLocked()
	gen := cb.generation

	var err error
	switch state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.settings.HalfOpenProbes {
			err = ErrTooManyRequests
		}
	}
	if err == nil {
		cb.counts.Requests++
	}
	cb.mu.Unlock()

	change.notify(cb.settings)
	return gen, err
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	failed := err != nil
	if failed && cb.settings.IsFailure != nil {
		failed = cb.settings.IsFailure(err)
	}

	cb.mu.Lock()
	state, change := cb.currentLocked()
	if gen != cb.generation {
		cb.mu.Unlock()
		change.notify(cb.settings)
		return
	}

	if failed {
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		if state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.FailureThreshold {
			change = cb.setLocked(StateOpen)
		}
	} else {
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.settings.HalfOpenProbes {
			change = cb.setLocked(StateClosed)
		}
	}
	cb.mu.Unlock()

	change.notify(cb.settings)
}

type transition struct {
	from, to State
	ok       bool
}

func (t transition) notify(s Settings) {
	if t.ok && s.OnStateChange != nil {
		s.OnStateChange(s.Name, t.from, t.to)
	}
}

// currentLocked moves an expired open breaker to half-open.
func (cb *CircuitBreaker) currentLocked() (State, transition) {
	if cb.state == StateOpen && cb.settings.Now().Sub(cb.openedAt) >= cb.settings.OpenTimeout {
		return StateHalfOpen, cb.setLocked(StateHalfOpen)
	}
	return cb.state, transition{}
}

func (cb *CircuitBreaker) setLocked(to State) transition {
	if cb.state == to {
		return transition{}
	}
	t := transition{from: cb.state, to: to, ok: true}
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	if to == StateOpen {
		cb.openedAt = cb.settings.Now()
	}
	return t
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	state, change := cb.currentLocked()
	cb.mu.Unlock()
	change.notify(cb.settings)
	return state
}

// Counts returns the counts of the current state.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// StorageBreaker guards the remote document store. Only unavailability
// counts; a missing document or a version conflict is a normal answer.
func StorageBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             "document-store",
		FailureThreshold: 3,
		OpenTimeout:      15 * time.Second,
		HalfOpenProbes:   1,
		IsFailure:        isFailure,
		OnStateChange:    onStateChange,
	})
}

// TelegramAPIBreaker guards the Bot API. Blocked recipients and bad requests
// are not failures of the API.
func TelegramAPIBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             "telegram-api",
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenProbes:   2,
		IsFailure:        isFailure,
		OnStateChange:    onStateChange,
	})
}
