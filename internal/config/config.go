// Package config provides the configuration schema, loader, and provider
// registry for the MindfulCart chat service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Provider timeout bounds. A zero timeout selects [DefaultProviderTimeout].
const (
	DefaultProviderTimeout = 8 * time.Second
	MinProviderTimeout     = time.Second
	MaxProviderTimeout     = 15 * time.Second
)

// Config is the root configuration structure. Use [Load], [LoadFromReader],
// or [Default] to obtain one.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chat      ChatConfig      `yaml:"chat"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Providers []ProviderEntry `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// ChatConfig holds the read-only settings applied to every chat request.
type ChatConfig struct {
	// SystemPrompt replaces the built-in persona when non-empty.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryLimit is how many history turns are forwarded, 1..50.
	HistoryLimit int `yaml:"history_limit"`

	// MaxTokens caps the length of a provider reply.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature, 0..2.
	Temperature float64 `yaml:"temperature"`
}

// DispatchConfig tunes the provider dispatcher.
type DispatchConfig struct {
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open a
	// provider's breaker. Zero disables breakers.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before admitting a trial call.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry describes one remote provider. The order of
// [Config.Providers] is the order in which providers are tried.
type ProviderEntry struct {
	// Name labels the provider in logs, metrics, and the reply envelope.
	Name string `yaml:"name"`

	// Kind selects the adapter registered in the [Registry] (e.g., "openai",
	// "textgen", "anthropic").
	Kind string `yaml:"kind"`

	// BaseURL overrides the adapter's default endpoint. For "textgen" it is
	// the full model URL and is required.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// APIKey is an inline credential. Prefer APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`

	// Timeout bounds a single attempt against this provider, 1s..15s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxTokens and Temperature override the chat-wide settings for this
	// provider when non-nil.
	MaxTokens   *int     `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`

	// Options holds adapter-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ResolveAPIKey returns the inline key, or the value of the APIKeyEnv
// variable looked up through getenv.
func (e ProviderEntry) ResolveAPIKey(getenv func(string) string) string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.APIKeyEnv != "" && getenv != nil {
		return getenv(e.APIKeyEnv)
	}
	return ""
}

// NeedsCredential reports whether the provider is unusable without an API
// key. Local backends such as ollama do not need one.
func (e ProviderEntry) NeedsCredential() bool {
	return e.Kind != "ollama"
}

// OptString returns Options[key] if it is a string, else "".
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt returns Options[key] as an int and whether it was present and
// numeric.
func (e ProviderEntry) OptInt(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), v == float64(int(v))
	}
	return 0, false
}

// OptBool returns Options[key] as a bool and whether it was present.
func (e ProviderEntry) OptBool(key string) (bool, bool) {
	b, ok := e.Options[key].(bool)
	return b, ok
}

// Default returns the configuration used when no file is given: Groq first,
// then the Hugging Face Inference API. Both read their keys from the
// environment and are skipped when the key is unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			LogFormat:  LogFormatText,
		},
		Chat: ChatConfig{
			HistoryLimit: 8,
			MaxTokens:    200,
			Temperature:  0.7,
		},
		Dispatch: DispatchConfig{
			Breaker: BreakerConfig{ResetTimeout: 30 * time.Second},
		},
		Providers: []ProviderEntry{
			{
				Name:      "groq",
				Kind:      "openai",
				BaseURL:   "https://api.groq.com/openai/v1",
				Model:     "llama-3.1-8b-instant",
				APIKeyEnv: "GROQ_API_KEY",
				Timeout:   8 * time.Second,
			},
			{
				Name:      "huggingface",
				Kind:      "textgen",
				BaseURL:   "https://api-inference.huggingface.co/models/mistralai/Mistral-7B-Instruct-v0.3",
				APIKeyEnv: "HUGGINGFACE_API_KEY",
				Timeout:   10 * time.Second,
				Options:   map[string]any{"flat_turns": 3},
			},
		},
	}
}
