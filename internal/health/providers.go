package health

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/mindfulcart/internal/resilience"
)

// BreakerReporter exposes per-provider breaker state.
// [*resilience.Dispatcher] implements it.
type BreakerReporter interface {
	BreakerStates() map[string]resilience.State
}

// Providers returns a [Checker] that fails only when every remote provider's
// breaker is open. With no providers it passes: the built-in responder still
// answers every request.
func Providers(r BreakerReporter) Checker {
	return Checker{
		Name: "providers",
		Check: func(_ context.Context) error {
			states := r.BreakerStates()
			if len(states) == 0 {
				return nil
			}
			open := make([]string, 0, len(states))
			for name, s := range states {
				if s != resilience.StateOpen {
					return nil
				}
				open = append(open, name)
			}
			sort.Strings(open)
			return fmt.Errorf("all provider breakers open: %s", strings.Join(open, ", "))
		},
	}
}
