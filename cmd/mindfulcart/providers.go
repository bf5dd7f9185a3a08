package main

import (
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/mindfulcart/internal/config"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm/anyllm"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm/openai"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm/textgen"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and its resolved key and
// constructs the provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// Chat-array protocol spoken natively (OpenAI, Groq, Together, ...).
	reg.RegisterLLM("openai", func(entry config.ProviderEntry, apiKey string) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		p, err := openai.New(apiKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// Flat-prompt text generation (Hugging Face Inference API and compatibles).
	reg.RegisterLLM("textgen", func(entry config.ProviderEntry, apiKey string) (llm.Provider, error) {
		var opts []textgen.Option
		if n, ok := entry.OptInt("flat_turns"); ok {
			opts = append(opts, textgen.WithFlatTurns(n))
		}
		if wait, ok := entry.OptBool("wait_for_model"); ok {
			opts = append(opts, textgen.WithWaitForModel(wait))
		}
		p, err := textgen.New(entry.BaseURL, apiKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// Everything else goes through any-llm-go.
	for _, backend := range anyllm.Backends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry, apiKey string) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if apiKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(apiKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(backend, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
}
