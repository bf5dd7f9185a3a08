// Package resilience provides the ordered provider dispatcher and the circuit
// breaker that guards each remote provider.
//
// [Dispatcher] walks its providers strictly in order, one attempt per
// provider per request, each bounded by its own timeout. A [Breaker] lets the
// dispatcher skip a provider that keeps failing without spending its timeout.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is reported when a provider is skipped because its breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a single trial call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels log lines, usually the provider name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Values below 1 disable the breaker entirely.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting a
	// trial call. Default: 30s.
	ResetTimeout time.Duration
}

// Enabled reports whether cfg describes an active breaker.
func (cfg BreakerConfig) Enabled() bool { return cfg.MaxFailures > 0 }

// Breaker counts consecutive failures of one provider. After MaxFailures it
// opens; once ResetTimeout has passed it admits exactly one trial call.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// NewBreaker creates a closed [Breaker]. A zero ResetTimeout becomes 30s.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. A true result in the half-open
// state reserves the single trial slot; the caller must follow up with
// [Breaker.Record] or [Breaker.Release].
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		slog.Info("circuit breaker half-open, admitting trial call", "provider", b.name)
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			slog.Info("circuit breaker closed", "provider", b.name)
		}
		b.state = StateClosed
		b.failures = 0
		b.trialInFlight = false
		return
	}

	if b.state == StateHalfOpen {
		b.trip()
		slog.Warn("circuit breaker re-opened after failed trial call", "provider", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.trip()
		slog.Warn("circuit breaker opened",
			"provider", b.name,
			"consecutive_failures", b.failures)
	}
}

// Release gives back a trial slot reserved by [Breaker.Allow] without
// counting an outcome. Use it when the call ended for reasons unrelated to
// the provider.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trialInFlight = false
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens in
// [Breaker.Allow].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}
