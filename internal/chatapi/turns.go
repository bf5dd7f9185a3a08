package chatapi

import (
	"strings"

	"github.com/MrWong99/mindfulcart/pkg/types"
)

const (
	// DefaultHistoryLimit is how many history turns are forwarded when the
	// configuration leaves the limit unset.
	DefaultHistoryLimit = 8

	// MaxHistoryLimit is the largest accepted history limit.
	MaxHistoryLimit = 50
)

// DefaultSystemPrompt is the persona sent as the first turn unless the caller
// supplies an override.
const DefaultSystemPrompt = `You are MindfulCart, a calm and friendly companion who helps people pause before they buy something.
Rules:
- Keep every reply to two or three short sentences. Your words may be read aloud.
- Never tell the person what to buy or not to buy, and never shame them.
- Gently guide the conversation through four questions, one at a time:
  1. Do you need this, or do you just want it?
  2. How will you feel about this purchase a week from now?
  3. Can you afford it without touching money set aside for essentials or savings?
  4. Is there something you already own that could do the same job?
- If the person sounds stressed or anxious, slow down and help them breathe before returning to the questions.
- Do not give financial, legal, or medical advice.`

// Sanitize returns the turns of history that have a known role and
// non-blank content, in their original order. Content is trimmed.
func Sanitize(history []types.Message) []types.Message {
	out := make([]types.Message, 0, len(history))
	for _, m := range history {
		c := strings.TrimSpace(m.Content)
		if !m.Role.IsValid() || c == "" {
			continue
		}
		out = append(out, types.Message{Role: m.Role, Content: c})
	}
	return out
}

// Truncate returns the most recent limit turns of history. The result
// shares history's backing array.
func Truncate(history []types.Message, limit int) []types.Message {
	if limit < 0 {
		limit = 0
	}
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

// BuildTurns assembles the sequence sent to providers: one system turn, the
// most recent limit turns of history, then the new user turn. A blank
// systemPrompt selects [DefaultSystemPrompt]. history must already be
// sanitized.
func BuildTurns(systemPrompt string, history []types.Message, message string, limit int) []types.Message {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	kept := Truncate(history, limit)

	turns := make([]types.Message, 0, len(kept)+2)
	turns = append(turns, types.System(systemPrompt))
	turns = append(turns, kept...)
	turns = append(turns, types.User(message))
	return turns
}
