// Package breaker implements the tri-state (Closed/Open/HalfOpen)
// circuit breaker shared by the file and database sinks.
//
// Rather than hand-roll the state machine on raw counters, this wraps
// github.com/sony/gobreaker/v2 — a typed, explicit-transition circuit
// breaker library, which is exactly the shape the design notes
// call for ("prefer a typed state with explicit transitions over
// ad-hoc counters"). No circuit breaker library appears anywhere in the
// retrieval pack, so this dependency is named rather than grounded, per
// the out-of-pack rule.
package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker's three states.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the breaker is open and rejects
// the call outright.
var ErrOpen = gobreaker.ErrOpenState

// Config configures a Breaker's transition thresholds.
type Config struct {
	// Name identifies this breaker in OnStateChange callbacks and metrics.
	Name string
	// FailureThreshold is the number of consecutive failures in Closed
	// state that trips the breaker to Open. Default 5.
	FailureThreshold uint32
	// ResetTimeout is how long the breaker stays Open before allowing a
	// HalfOpen probe. Default 30s.
	ResetTimeout time.Duration
	// OnStateChange is called whenever the breaker transitions state.
	OnStateChange func(name string, from, to State)
}

// Breaker is a single named circuit breaker instance. Safe for
// concurrent use — the sink worker that owns it is expected to be its
// only caller, but nothing here requires that.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// New constructs a Breaker from Config, applying spec defaults for zero
// values.
func New(cfg Config) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout == 0 {
		resetTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name: cfg.Name,
		// A single probe request is admitted while HalfOpen; the caller
		// (file sink: one write, database sink: one half-size batch)
		// decides what "one call" means for its own workload.
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(name, fromGobreakerState(from), fromGobreakerState(to))
		}
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return fromGobreakerState(b.cb.State())
}

// IsHalfOpen reports whether the breaker is currently probing recovery.
// Sinks use this to decide whether to shrink a batch before calling
// Execute (HalfOpen admits a reduced probe batch).
func (b *Breaker) IsHalfOpen() bool {
	return b.State() == StateHalfOpen
}

// Execute runs fn if the breaker permits it, recording the outcome.
// Returns ErrOpen without calling fn if the breaker is Open.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrOpen
	}
	return err
}

// Counts mirrors gobreaker.Counts: the call counters for the breaker's
// current generation. A state transition starts a fresh generation and
// zeroes these.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Counts returns the current generation's call counters, for the health
// controller's consecutive-failures reporting.
func (b *Breaker) Counts() Counts {
	c := b.cb.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}
