// Package llm defines the Provider interface for remote text-completion
// backends.
//
// An LLM provider wraps one request-shape family of a third-party completion
// API (an OpenAI-style chat array, a vendor SDK, or a flat text-generation
// prompt) and exposes a uniform Complete call to the dispatcher. The family is
// chosen by configuration; the dispatcher never inspects which one it holds.
//
// Implementors must be safe for concurrent use and must honour context
// cancellation promptly, since the dispatcher bounds every call with a
// per-provider timeout.
package llm

import (
	"context"

	"github.com/MrWong99/mindfulcart/pkg/types"
)

// Usage holds token accounting information returned by the backend, when the
// backend reports it. All fields may be zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything a provider needs to produce a reply.
type CompletionRequest struct {
	// Messages is the ordered turn sequence: the system turn first, then the
	// truncated history, then the new user turn.
	Messages []types.Message

	// Temperature controls output randomness. Zero means the provider default.
	Temperature float64

	// MaxTokens caps the number of generated tokens. Zero means the provider
	// default.
	MaxTokens int
}

// CompletionResponse is the normalised outcome of a successful provider call.
type CompletionResponse struct {
	// Content is the reply text as returned by the backend, untrimmed.
	Content string

	// Usage contains token accounting for this call, if reported.
	Usage Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req to the backend and waits for the full reply.
	//
	// Implementations return a non-nil error for a non-2xx status, a transport
	// fault, an empty body, or a body without the expected reply field. They
	// must return as soon as ctx is done.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
