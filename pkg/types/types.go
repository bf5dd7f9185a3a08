// Package types defines the shared conversation types used across all
// mindfulcart packages.
//
// These types form the lingua franca between the HTTP adapter, the provider
// dispatcher, the provider adapters, and the local responder. They are
// intentionally minimal; each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

// Role identifies the speaker of a conversation turn.
type Role string

const (
	// RoleSystem carries the persona and behavioural rules sent first to every
	// provider.
	RoleSystem Role = "system"

	// RoleUser marks a turn written by the person using the chat.
	RoleUser Role = "user"

	// RoleAssistant marks a turn produced by a provider or the local responder.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is one of the recognised roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single turn in a conversation. Ordering of a []Message is
// significant: oldest first.
type Message struct {
	// Role determines how a provider interprets the turn.
	Role Role `json:"role"`

	// Content is the text of the turn.
	Content string `json:"content"`
}

// System returns a system-role turn with the given content.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user-role turn with the given content.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant-role turn with the given content.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
