// Package responder answers chat requests without any remote provider.
//
// [Checklist] walks the same four reflection questions in a fixed order. The
// next question is chosen by counting the assistant turns already present in
// the history, so a client that echoes the conversation back moves forward one
// question per exchange and stays on the last one afterwards.
package responder

import "github.com/MrWong99/mindfulcart/pkg/types"

// ServiceLabel tags replies produced by this package in the reply envelope.
const ServiceLabel = "local"

var questions = [...]string{
	"Do you need this, or do you just want it?",
	"How will you feel about this purchase a week from now?",
	"Can you afford it without touching money set aside for essentials or savings?",
	"Is there something you already own that could do the same job?",
}

// Questions returns the checklist in the order it is asked.
func Questions() []string {
	out := make([]string, len(questions))
	copy(out, questions[:])
	return out
}

// Checklist is the fixed-sequence local responder. The zero value is ready
// to use and holds no state.
type Checklist struct{}

// Reply returns the next checklist question for history. message is accepted
// for symmetry with remote providers and does not influence the choice.
func (Checklist) Reply(_ string, history []types.Message) string {
	return questions[Index(history)]
}

// Index returns the position of the next question: the number of assistant
// turns in history, clamped to the last question.
func Index(history []types.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == types.RoleAssistant {
			n++
		}
	}
	return min(n, len(questions)-1)
}
