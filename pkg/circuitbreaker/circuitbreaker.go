package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the breaker
// refuses work.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// Config holds circuit breaker thresholds.
type Config struct {
	FailureThreshold int           // Consecutive failures that open the breaker
	SuccessThreshold int           // Half-open successes needed to close it again
	Cooldown         time.Duration // Time spent open before probing
	MaxProbes        int           // Concurrent calls allowed while half-open
}

// DefaultConfig returns the thresholds used for the event bus.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		MaxProbes:        1,
	}
}

// Breaker guards calls to a remote dependency. After FailureThreshold
// consecutive failures it rejects calls for Cooldown, then lets up to
// MaxProbes calls through to decide whether to close again.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	onChange  func(from, to State)
}

// New creates a closed breaker. Non-positive thresholds are raised to 1.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// OnStateChange registers fn to run, synchronously and outside the lock,
// after every state change.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Execute runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err == nil)
	if err != nil {
		return fmt.Errorf("guarded call failed: %w", err)
	}
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	var from State
	changed := false

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		from, changed = b.setLocked(StateHalfOpen)
		b.probes = 1
	case StateHalfOpen:
		if b.probes >= b.cfg.MaxProbes {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probes++
	}
	fn := b.onChange
	b.mu.Unlock()

	if changed && fn != nil {
		fn(from, StateHalfOpen)
	}
	return nil
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	from, to := b.state, b.state
	changed := false

	switch {
	case ok && b.state == StateHalfOpen:
		b.probes--
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			from, changed = b.setLocked(StateClosed)
			to = StateClosed
		}
	case ok:
		b.failures = 0
	case b.state == StateHalfOpen:
		from, changed = b.setLocked(StateOpen)
		to = StateOpen
	default:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			from, changed = b.setLocked(StateOpen)
			to = StateOpen
		}
	}
	fn := b.onChange
	b.mu.Unlock()

	if changed && fn != nil {
		fn(from, to)
	}
}

// setLocked moves to state and resets the counters for it.
func (b *Breaker) setLocked(state State) (State, bool) {
	from := b.state
	if from == state {
		return from, false
	}
	b.state = state
	b.failures, b.successes, b.probes = 0, 0, 0
	if state == StateOpen {
		b.openedAt = b.now()
	}
	return from, true
}
