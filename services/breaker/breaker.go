package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a request without
// attempting the underlying call
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all requests through
	StateClosed State = iota

	// StateOpen rejects all requests until the timeout elapses
	StateOpen

	// StateHalfOpen allows a limited number of probe requests through
	StateHalfOpen
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker tuning parameters
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the breaker
	SuccessThreshold int

	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration

	// MinTimeout and MaxTimeout bound the adaptive timeout
	MinTimeout time.Duration
	MaxTimeout time.Duration

	// TimeoutMultiplier grows the timeout after a failed probe when
	// AdaptiveTimeout is enabled
	TimeoutMultiplier float64

	// AdaptiveTimeout enables timeout growth on repeated failures
	AdaptiveTimeout bool

	// HalfOpenMaxProbes limits concurrent requests while half-open
	HalfOpenMaxProbes int
}

// DefaultConfig returns sensible breaker defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		Timeout:           30 * time.Second,
		MinTimeout:        10 * time.Second,
		MaxTimeout:        5 * time.Minute,
		TimeoutMultiplier: 2.0,
		AdaptiveTimeout:   true,
		HalfOpenMaxProbes: 3,
	}
}

// normalize fills zero-valued fields with defaults so a partially
// populated Config still behaves
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MinTimeout <= 0 {
		c.MinTimeout = d.MinTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = d.MaxTimeout
	}
	if c.TimeoutMultiplier <= 1 {
		c.TimeoutMultiplier = d.TimeoutMultiplier
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = d.HalfOpenMaxProbes
	}
	return c
}

// Breaker is a per-model failure/success state machine. It stops calling a
// failing provider for a cooldown period, then cautiously probes it with
// limited traffic before restoring full service.
type Breaker struct {
	mu sync.Mutex

	config Config

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	timeout              time.Duration
	probesInFlight       int

	// now is injected in tests to control time
	now func() time.Time
}

// New creates a closed circuit breaker
func New(config Config) *Breaker {
	config = config.normalize()
	return &Breaker{
		config:  config,
		state:   StateClosed,
		timeout: config.Timeout,
		now:     time.Now,
	}
}

// Allow reports whether a request may proceed. An open breaker whose
// timeout has elapsed transitions to half-open and admits the request as a
// probe. Returns ErrOpen when the request must be rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = StateHalfOpen
			b.consecutiveSuccesses = 0
			b.probesInFlight = 1
			return nil
		}
		return ErrOpen

	case StateHalfOpen:
		if b.probesInFlight < b.config.HalfOpenMaxProbes {
			b.probesInFlight++
			return nil
		}
		return ErrOpen
	}

	return ErrOpen
}

// CanAttempt reports whether a request would currently be admitted, without
// consuming a probe slot or changing state. An open breaker whose timeout
// has elapsed is probe-ready and reports true; callers still go through
// Allow before issuing the request.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return b.now().Sub(b.openedAt) >= b.timeout
	case StateHalfOpen:
		return b.probesInFlight < b.config.HalfOpenMaxProbes
	}
	return false
}

// RecordSuccess records a successful call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0

	case StateHalfOpen:
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
			b.probesInFlight = 0
			b.timeout = b.config.Timeout
		}
	}
}

// RecordFailure records a failed call. Capacity errors must not be recorded
// here; the caller classifies errors before reporting them.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.trip()
		}

	case StateHalfOpen:
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		if b.config.AdaptiveTimeout {
			next := time.Duration(float64(b.timeout) * b.config.TimeoutMultiplier)
			if next < b.config.MinTimeout {
				next = b.config.MinTimeout
			}
			if next > b.config.MaxTimeout {
				next = b.config.MaxTimeout
			}
			b.timeout = next
		}
		b.trip()
	}
}

// RecordNeutral records a call whose outcome says nothing about provider
// reliability, such as a quota-exhaustion rejection. It only releases a
// half-open probe slot; counters and state are untouched.
func (b *Breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probesInFlight > 0 {
		b.probesInFlight--
	}
}

// trip moves the breaker to open. Caller must hold the lock.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.consecutiveSuccesses = 0
	b.probesInFlight = 0
}

// Execute runs fn through the breaker, counting every error as a failure.
// Callers that need to exempt capacity errors use Allow/RecordSuccess/
// RecordFailure directly.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Timeout returns the current (possibly adapted) open timeout
func (b *Breaker) Timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeout
}

// ConsecutiveFailures returns the current failure streak
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset forces the breaker back to closed with counters cleared
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.probesInFlight = 0
	b.timeout = b.config.Timeout
}

// SetNowFunc overrides the time source for tests
func (b *Breaker) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
