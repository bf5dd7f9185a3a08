package chatapi

import (
	"errors"

	"github.com/MrWong99/mindfulcart/pkg/types"
)

// ErrValidation marks request problems the caller can fix. Handlers answer
// them with 400 and an [ErrorReply].
var ErrValidation = errors.New("invalid chat request")

// ValidationError carries the client-facing message of a rejected request.
// It matches [ErrValidation] under errors.Is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Request is the body accepted by POST /api/chat.
type Request struct {
	// Message is the new user turn. Required and non-blank.
	Message string `json:"message"`

	// History holds earlier turns, oldest first. Optional.
	History []types.Message `json:"history,omitempty"`

	// SystemPrompt replaces the built-in persona when non-blank.
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// Reply is the 200 envelope. Service names the provider that answered, or
// "local" for the built-in responder.
type Reply struct {
	Response string `json:"response"`
	Service  string `json:"service"`
}

// ErrorReply is the envelope for client errors.
type ErrorReply struct {
	Error string `json:"error"`
}

// FaultReply is the 500 envelope. Response stays in the assistant's voice.
type FaultReply struct {
	Response string `json:"response"`
	Service  string `json:"service"`
	Error    string `json:"error"`
}
