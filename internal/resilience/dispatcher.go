package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mindfulcart/internal/observe"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm"
)

// DefaultTimeout bounds an attempt whose [Entry] carries no timeout.
const DefaultTimeout = 8 * time.Second

var (
	// ErrAllFailed is returned by [Dispatcher.Dispatch] when every entry
	// failed or was skipped.
	ErrAllFailed = errors.New("all providers failed")

	// ErrNoProviders is returned by [Dispatcher.Dispatch] when the dispatcher
	// has no entries at all.
	ErrNoProviders = errors.New("no providers configured")
)

// Reason classifies why a single attempt failed.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonStatus      Reason = "status"
	ReasonNetwork     Reason = "network"
	ReasonEmpty       Reason = "empty"
	ReasonMalformed   Reason = "malformed"
	ReasonCanceled    Reason = "canceled"
	ReasonCircuitOpen Reason = "circuit_open"
)

// ProviderError describes one failed attempt.
type ProviderError struct {
	Provider string
	Reason   Reason
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Attempt records the outcome of one provider attempt. Err is nil for the
// winning attempt.
type Attempt struct {
	Provider string
	Err      *ProviderError
	Duration time.Duration
}

// Result is the outcome of a successful [Dispatcher.Dispatch].
type Result struct {
	// Text is the trimmed, non-empty reply.
	Text string

	// Provider names the entry that produced Text.
	Provider string

	// Usage is the token accounting reported by the winning provider, if any.
	Usage llm.Usage

	// Attempts lists every attempt in order, the winner last.
	Attempts []Attempt
}

// Entry is one remote provider in priority order.
type Entry struct {
	// Name labels logs, metrics, and the reply envelope.
	Name string

	// Kind is the adapter family, used as a metric attribute only.
	Kind string

	Provider llm.Provider

	// Timeout bounds a single attempt. Zero means [DefaultTimeout].
	Timeout time.Duration
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithMetrics records attempt metrics into m.
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBreaker guards every entry with its own [Breaker] built from cfg. A
// config whose MaxFailures is below 1 leaves breakers disabled.
func WithBreaker(cfg BreakerConfig) DispatcherOption {
	return func(d *Dispatcher) {
		if cfg.Enabled() {
			d.breakerCfg = &cfg
		}
	}
}

type dispatchEntry struct {
	Entry
	breaker *Breaker
}

// Dispatcher tries its entries strictly in order and returns the first
// non-empty reply. Each entry gets exactly one attempt per call, bounded by
// the entry's timeout. The entry list is fixed at construction.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	entries    []dispatchEntry
	metrics    *observe.Metrics
	breakerCfg *BreakerConfig
}

// NewDispatcher creates a [Dispatcher] over a copy of entries.
func NewDispatcher(entries []Entry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{}
	for _, o := range opts {
		o(d)
	}
	d.entries = make([]dispatchEntry, 0, len(entries))
	for _, e := range entries {
		if e.Timeout <= 0 {
			e.Timeout = DefaultTimeout
		}
		de := dispatchEntry{Entry: e}
		if d.breakerCfg != nil {
			cfg := *d.breakerCfg
			cfg.Name = e.Name
			de.breaker = NewBreaker(cfg)
		}
		d.entries = append(d.entries, de)
	}
	return d
}

// Len returns the number of entries.
func (d *Dispatcher) Len() int { return len(d.entries) }

// Names returns the entry names in priority order.
func (d *Dispatcher) Names() []string {
	names := make([]string, len(d.entries))
	for i, e := range d.entries {
		names[i] = e.Name
	}
	return names
}

// BreakerStates reports the breaker state of every entry by name. Entries
// without a breaker report [StateClosed].
func (d *Dispatcher) BreakerStates() map[string]State {
	states := make(map[string]State, len(d.entries))
	for _, e := range d.entries {
		if e.breaker == nil {
			states[e.Name] = StateClosed
			continue
		}
		states[e.Name] = e.breaker.State()
	}
	return states
}

// Dispatch sends req to each entry in order until one returns a non-empty
// reply. It returns [ErrNoProviders] when there are no entries and an error
// wrapping [ErrAllFailed] and every [*ProviderError] when none succeeded.
// Cancelling ctx stops the walk after the current attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, req llm.CompletionRequest) (Result, error) {
	if len(d.entries) == 0 {
		return Result{}, ErrNoProviders
	}

	log := observe.Logger(ctx)
	attempts := make([]Attempt, 0, len(d.entries))
	var errs []error

	for i := range d.entries {
		e := &d.entries[i]
		start := time.Now()
		text, usage, perr := d.attempt(ctx, e, req)
		elapsed := time.Since(start)
		attempts = append(attempts, Attempt{Provider: e.Name, Err: perr, Duration: elapsed})

		if perr == nil {
			log.Info("provider answered",
				"provider", e.Name,
				"attempt", i+1,
				"duration", elapsed)
			return Result{Text: text, Provider: e.Name, Usage: usage, Attempts: attempts}, nil
		}

		errs = append(errs, perr)
		if perr.Reason == ReasonCircuitOpen {
			log.Debug("skipping provider", "provider", e.Name, "reason", perr.Reason)
		} else {
			log.Warn("provider attempt failed",
				"provider", e.Name,
				"reason", perr.Reason,
				"duration", elapsed,
				"error", perr.Err)
		}
		if perr.Reason == ReasonCanceled {
			break
		}
	}

	return Result{Attempts: attempts}, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// attempt performs one bounded call against e and classifies its outcome.
func (d *Dispatcher) attempt(ctx context.Context, e *dispatchEntry, req llm.CompletionRequest) (string, llm.Usage, *ProviderError) {
	if err := ctx.Err(); err != nil {
		return "", llm.Usage{}, &ProviderError{Provider: e.Name, Reason: ReasonCanceled, Err: err}
	}
	if e.breaker != nil && !e.breaker.Allow() {
		d.record(ctx, e, ReasonCircuitOpen, 0)
		return "", llm.Usage{}, &ProviderError{Provider: e.Name, Reason: ReasonCircuitOpen, Err: ErrCircuitOpen}
	}

	actx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()
	actx, span := observe.StartSpan(actx, "provider.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.name", e.Name),
			attribute.String("provider.kind", e.Kind),
		),
	)

	start := time.Now()
	resp, err := e.Provider.Complete(actx, req)
	var text string
	if err == nil {
		if resp != nil {
			text = strings.TrimSpace(resp.Content)
		}
		if text == "" {
			err = llm.ErrEmptyReply
		}
	}
	elapsed := time.Since(start)
	observe.EndSpan(span, err)

	if err == nil {
		if e.breaker != nil {
			e.breaker.Record(nil)
		}
		d.record(ctx, e, "ok", elapsed)
		return text, resp.Usage, nil
	}

	reason := classify(ctx, actx, err)
	if e.breaker != nil {
		// A caller that went away says nothing about the provider's health.
		if reason == ReasonCanceled {
			e.breaker.Release()
		} else {
			e.breaker.Record(err)
		}
	}
	d.record(ctx, e, reason, elapsed)
	return "", llm.Usage{}, &ProviderError{Provider: e.Name, Reason: reason, Err: err}
}

func (d *Dispatcher) record(ctx context.Context, e *dispatchEntry, status Reason, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordProviderAttempt(ctx, e.Name, e.Kind, string(status), elapsed.Seconds())
	if status != "ok" {
		d.metrics.RecordProviderError(ctx, e.Name, string(status))
	}
}

// classify maps a provider error to a [Reason]. parent is the dispatch
// context and actx the attempt context derived from it.
func classify(parent, actx context.Context, err error) Reason {
	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrEmptyReply):
		return ReasonEmpty
	case errors.Is(err, llm.ErrMalformedReply):
		return ReasonMalformed
	case parent.Err() != nil:
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(actx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &statusErr):
		return ReasonStatus
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonNetwork
	}
}
