package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownKinds lists the provider kinds that ship with MindfulCart. [Validate]
// warns about any other kind, which must then be registered by the caller.
var KnownKinds = []string{"openai", "textgen", "anthropic", "gemini", "mistral", "groq", "deepseek", "ollama"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Keys missing from the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], fills
// per-provider defaults, and validates the result. A present providers list
// replaces the default list entirely.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued per-provider fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Dispatch.Breaker.ResetTimeout == 0 {
		cfg.Dispatch.Breaker.ResetTimeout = Default().Dispatch.Breaker.ResetTimeout
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].Timeout == 0 {
			cfg.Providers[i].Timeout = DefaultProviderTimeout
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	if cfg.Chat.HistoryLimit < 1 || cfg.Chat.HistoryLimit > 50 {
		errs = append(errs, fmt.Errorf("chat.history_limit %d is out of range [1, 50]", cfg.Chat.HistoryLimit))
	}
	if cfg.Chat.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_tokens must be positive, got %d", cfg.Chat.MaxTokens))
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}

	if cfg.Dispatch.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("dispatch.breaker.max_failures must not be negative, got %d", cfg.Dispatch.Breaker.MaxFailures))
	}
	if cfg.Dispatch.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.breaker.reset_timeout must not be negative, got %s", cfg.Dispatch.Breaker.ResetTimeout))
	}

	seen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
			}
			seen[p.Name] = i
		}
		if p.Kind == "" {
			errs = append(errs, fmt.Errorf("%s.kind is required", prefix))
		} else {
			validateKind(p.Name, p.Kind)
		}
		if p.Kind == "textgen" && p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for kind textgen", prefix))
		}
		if p.Kind != "textgen" && p.Kind != "" && p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for kind %s", prefix, p.Kind))
		}
		if p.Timeout != 0 && (p.Timeout < MinProviderTimeout || p.Timeout > MaxProviderTimeout) {
			errs = append(errs, fmt.Errorf("%s.timeout %s is out of range [%s, %s]", prefix, p.Timeout, MinProviderTimeout, MaxProviderTimeout))
		}
		if p.MaxTokens != nil && *p.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("%s.max_tokens must be positive, got %d", prefix, *p.MaxTokens))
		}
		if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, *p.Temperature))
		}
		if _, present := p.Options["flat_turns"]; present {
			if n, ok := p.OptInt("flat_turns"); !ok || n < 1 {
				errs = append(errs, fmt.Errorf("%s.options.flat_turns must be a positive integer", prefix))
			}
		}
		if p.APIKey != "" {
			slog.Warn("provider has an inline api_key; prefer api_key_env", "provider", p.Name)
		}
	}

	return errors.Join(errs...)
}

// validateKind logs a warning if kind is not in [KnownKinds].
func validateKind(name, kind string) {
	if slices.Contains(KnownKinds, kind) {
		return
	}
	slog.Warn("unknown provider kind, a custom factory must be registered",
		"provider", name,
		"kind", kind,
		"known", KnownKinds,
	)
}
