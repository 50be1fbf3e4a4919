package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreaker stops calling an unhealthy store after consecutive failures and
// lets a single trial call through once resetTimeout has passed. Other callers fail fast
// while it is in flight.
type CircuitBreaker struct {
	mu sync.Mutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time
	trialInFlight       bool
	now                 func() time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		onStateChange:    onStateChange,
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the circuit is open. Caller errors (invalid entries,
// cancelled contexts) do not count as store failures.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, ok := cb.allow()
	if !ok {
		return ErrCircuitOpen
	}
	if trial {
		defer cb.endTrial()
	}

	err := fn()
	switch {
	case err == nil:
		cb.success()
	case isCallerError(err):
	default:
		cb.failure()
	}
	return err
}

// allow reports whether a call may proceed and whether it is the half-open trial call
func (cb *CircuitBreaker) allow() (trial, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateOpen:
		return false, false
	case StateHalfOpen:
		if cb.trialInFlight {
			return false, false
		}
		cb.trialInFlight = true
		return true, true
	default:
		return false, true
	}
}

func (cb *CircuitBreaker) endTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

func (cb *CircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *CircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()

	state := cb.currentState()
	if state == StateHalfOpen || (state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold) {
		cb.changeState(StateOpen)
	}
}

func (cb *CircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

func isCallerError(err error) bool {
	return errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// BreakerStore wraps a Store with circuit breaker protection.
type BreakerStore struct {
	store Store
	cb    *CircuitBreaker
}

// NewBreakerStore creates a new store wrapper with circuit breaker.
func NewBreakerStore(store Store, cb *CircuitBreaker) *BreakerStore {
	return &BreakerStore{store: store, cb: cb}
}

func (s *BreakerStore) InsertIfAbsent(ctx context.Context, entry *Entry) (WriteResult, error) {
	var result WriteResult
	err := s.cb.Execute(func() error {
		var e error
		result, e = s.store.InsertIfAbsent(ctx, entry)
		return e
	})
	return result, err
}

func (s *BreakerStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.cb.Execute(func() error {
		var e error
		balance, e = s.store.Balance(ctx, userID)
		return e
	})
	return balance, err
}

func (s *BreakerStore) Entries(ctx context.Context, userID string) ([]Entry, error) {
	var entries []Entry
	err := s.cb.Execute(func() error {
		var e error
		entries, e = s.store.Entries(ctx, userID)
		return e
	})
	return entries, err
}

func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.cb.Execute(func() error {
		return s.store.Ping(ctx)
	})
}
