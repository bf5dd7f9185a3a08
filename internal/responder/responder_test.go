package responder

import (
	"testing"

	"github.com/MrWong99/mindfulcart/pkg/types"
)

func TestReply_FirstQuestionForEmptyHistory(t *testing.T) {
	got := Checklist{}.Reply("thinking about buying new headphones", nil)
	if got != "Do you need this, or do you just want it?" {
		t.Errorf("Reply = %q", got)
	}
}

func TestReply_AdvancesWithAssistantTurns(t *testing.T) {
	var history []types.Message
	want := Questions()
	c := Checklist{}

	for i := 0; i < 6; i++ {
		got := c.Reply("still thinking", history)
		idx := min(i, len(want)-1)
		if got != want[idx] {
			t.Fatalf("turn %d: Reply = %q, want %q", i, got, want[idx])
		}
		history = append(history, types.User("still thinking"), types.Assistant(got))
	}
}

func TestReply_Deterministic(t *testing.T) {
	history := []types.Message{
		types.User("I want a drone"),
		types.Assistant("Do you need this, or do you just want it?"),
	}
	c := Checklist{}
	first := c.Reply("I want a drone", history)
	for range 20 {
		if got := c.Reply("I want a drone", history); got != first {
			t.Fatalf("Reply changed between calls: %q then %q", first, got)
		}
	}
}

func TestIndex(t *testing.T) {
	tests := []struct {
		name    string
		history []types.Message
		want    int
	}{
		{"empty", nil, 0},
		{"user turns only", []types.Message{types.User("a"), types.User("b")}, 0},
		{"system turns ignored", []types.Message{types.System("s"), types.Assistant("q1")}, 1},
		{"three answered", []types.Message{types.Assistant("1"), types.Assistant("2"), types.Assistant("3")}, 3},
		{"clamped", []types.Message{
			types.Assistant("1"), types.Assistant("2"), types.Assistant("3"),
			types.Assistant("4"), types.Assistant("5"),
		}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Index(tt.history); got != tt.want {
				t.Errorf("Index = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQuestions_ReturnsCopy(t *testing.T) {
	q := Questions()
	if len(q) != 4 {
		t.Fatalf("len = %d, want 4", len(q))
	}
	q[0] = "mutated"
	if Questions()[0] == "mutated" {
		t.Error("Questions exposed the internal slice")
	}
}
