package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/mindfulcart/internal/config"
	"github.com/MrWong99/mindfulcart/internal/resilience"
)

// Skipped describes a configured provider left out of the dispatch order.
type Skipped struct {
	Name   string
	Reason string
}

// BuildEntries instantiates every configured provider through reg, in
// configuration order. Providers whose credential resolves to empty are
// skipped rather than failing startup. An unregistered kind or a factory
// error is fatal.
func BuildEntries(cfg *config.Config, reg *config.Registry, getenv func(string) string) ([]resilience.Entry, []Skipped, error) {
	var (
		entries []resilience.Entry
		skipped []Skipped
	)
	for _, p := range cfg.Providers {
		key := p.ResolveAPIKey(getenv)
		if key == "" && p.NeedsCredential() {
			reason := "no api key"
			if p.APIKeyEnv != "" {
				reason = p.APIKeyEnv + " not set"
			}
			slog.Info("provider skipped", "provider", p.Name, "reason", reason)
			skipped = append(skipped, Skipped{Name: p.Name, Reason: reason})
			continue
		}
		prov, err := reg.CreateLLM(p, key)
		if err != nil {
			return nil, nil, fmt.Errorf("app: build provider %q: %w", p.Name, err)
		}
		entries = append(entries, resilience.Entry{
			Name:     p.Name,
			Kind:     p.Kind,
			Provider: prov,
			Timeout:  p.Timeout,
		})
	}
	return entries, skipped, nil
}

// BreakerConfig converts the dispatch settings into a breaker template.
func BreakerConfig(cfg *config.Config) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		MaxFailures:  cfg.Dispatch.Breaker.MaxFailures,
		ResetTimeout: cfg.Dispatch.Breaker.ResetTimeout,
	}
}
