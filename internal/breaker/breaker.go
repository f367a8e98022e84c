// Package breaker guards a remote dependency with a three-state circuit breaker.
//
// One Breaker is constructed per dependency and injected into its callers, so
// failures seen by one document protect calls made for the next.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/loan-extractor/internal/common"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	DefaultFailMax      = 3
	DefaultResetTimeout = 60 * time.Second
)

// Settings configures a Breaker. Zero values take the defaults.
type Settings struct {
	Name         string
	FailMax      int
	ResetTimeout time.Duration

	// Now is the clock. Tests inject a fake one.
	Now func() time.Time
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
	// IsFailure decides whether an error counts against the breaker.
	// Caller cancellation never counts, whatever IsFailure says.
	IsFailure func(err error) bool

	Logger *slog.Logger
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	Name         string     `json:"name"`
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at"`
	ReopenAt     *time.Time `json:"reopen_at,omitempty"`
}

type transition struct{ from, to State }

// Breaker is safe for concurrent use. All state lives behind mu.
type Breaker struct {
	name         string
	failMax      int
	resetTimeout time.Duration
	now          func() time.Time
	onChange     func(name string, from, to State)
	isFailure    func(error) bool
	logger       *slog.Logger

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	generation uint64
	trial      bool // a half-open trial call is in flight
	pending    []transition
}

// New builds a closed breaker.
func New(s Settings) *Breaker {
	b := &Breaker{
		name:         s.Name,
		failMax:      s.FailMax,
		resetTimeout: s.ResetTimeout,
		now:          s.Now,
		onChange:     s.OnStateChange,
		isFailure:    s.IsFailure,
		logger:       s.Logger,
		state:        StateClosed,
	}
	if b.name == "" {
		b.name = "default"
	}
	if b.failMax <= 0 {
		b.failMax = DefaultFailMax
	}
	if b.resetTimeout <= 0 {
		b.resetTimeout = DefaultResetTimeout
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.isFailure == nil {
		b.isFailure = func(err error) bool { return err != nil }
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string { return b.name }

// Call runs fn unless the breaker is open. When open it returns
// *common.CircuitBreakerOpenError without calling fn.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.after(ctx, gen, err)
	return err
}

// Execute is Call for functions that return a value.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// State returns the current state, moving open to half-open once the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	s := b.currentState(b.now())
	b.unlockAndNotify()
	return s
}

// Snapshot returns a copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	s := b.currentState(b.now())
	snap := Snapshot{Name: b.name, State: s, FailureCount: b.failures}
	if !b.openedAt.IsZero() {
		opened := b.openedAt
		reopen := opened.Add(b.resetTimeout)
		snap.OpenedAt = &opened
		snap.ReopenAt = &reopen
	}
	b.unlockAndNotify()
	return snap
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.setState(StateClosed, b.now())
	b.unlockAndNotify()
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	now := b.now()
	state := b.currentState(now)

	switch state {
	case StateOpen:
		reopen := b.openedAt.Add(b.resetTimeout)
		b.unlockAndNotify()
		return 0, &common.CircuitBreakerOpenError{Name: b.name, ReopenAt: reopen}
	case StateHalfOpen:
		if b.trial {
			reopen := b.openedAt.Add(b.resetTimeout)
			b.unlockAndNotify()
			return 0, &common.CircuitBreakerOpenError{Name: b.name, ReopenAt: reopen}
		}
		b.trial = true
	}

	gen := b.generation
	b.unlockAndNotify()
	return gen, nil
}

func (b *Breaker) after(ctx context.Context, gen uint64, err error) {
	b.mu.Lock()
	now := b.now()
	state := b.currentState(now)

	// A result from an earlier generation belongs to a state we already left.
	if gen != b.generation {
		b.unlockAndNotify()
		return
	}

	switch {
	case err == nil:
		b.onSuccess(state, now)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		// Caller gave up; the dependency told us nothing.
		if state == StateHalfOpen {
			b.trial = false
		}
	case b.isFailure(err):
		b.onFailure(state, now)
	default:
		b.onSuccess(state, now)
	}
	b.unlockAndNotify()
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.failures++
	switch state {
	case StateClosed:
		if b.failures >= b.failMax {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState must be called with mu held.
func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.resetTimeout)) {
		b.setState(StateHalfOpen, now)
	}
	return b.state
}

// setState must be called with mu held.
func (b *Breaker) setState(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	b.trial = false

	switch to {
	case StateClosed:
		b.failures = 0
		b.openedAt = time.Time{}
	case StateOpen:
		b.openedAt = now
	}
	b.pending = append(b.pending, transition{from: from, to: to})
}

// unlockAndNotify releases mu and then reports queued transitions.
func (b *Breaker) unlockAndNotify() {
	pending := b.pending
	b.pending = nil
	failures := b.failures
	b.mu.Unlock()

	for _, tr := range pending {
		b.logger.Info("breaker.state_change",
			"breaker", b.name,
			"from", string(tr.from),
			"to", string(tr.to),
			"failure_count", failures,
		)
		if b.onChange != nil {
			b.onChange(b.name, tr.from, tr.to)
		}
	}
}
