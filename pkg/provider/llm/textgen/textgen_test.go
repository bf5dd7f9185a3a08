package textgen_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/mindfulcart/pkg/provider/llm"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm/textgen"
	"github.com/MrWong99/mindfulcart/pkg/types"
)

// mockTextGenServer starts a test HTTP server that verifies the request shape
// and answers with status and body.
func mockTextGenServer(t *testing.T, status int, body string, gotInputs *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: got %q, want POST", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer hf-test" {
			t.Errorf("Authorization = %q, want Bearer hf-test", auth)
		}
		var req struct {
			Inputs     string `json:"inputs"`
			Parameters struct {
				MaxNewTokens   int     `json:"max_new_tokens"`
				Temperature    float64 `json:"temperature"`
				ReturnFullText bool    `json:"return_full_text"`
			} `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Parameters.ReturnFullText {
			t.Error("return_full_text should be false")
		}
		if req.Parameters.MaxNewTokens != 120 {
			t.Errorf("max_new_tokens = %d, want 120", req.Parameters.MaxNewTokens)
		}
		if gotInputs != nil {
			*gotInputs = req.Inputs
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func request(msgs ...types.Message) llm.CompletionRequest {
	return llm.CompletionRequest{Messages: msgs, MaxTokens: 120, Temperature: 0.7}
}

func TestNew_EmptyEndpoint(t *testing.T) {
	if _, err := textgen.New("", "hf-test"); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestComplete_ArrayReply(t *testing.T) {
	var inputs string
	srv := mockTextGenServer(t, http.StatusOK, `[{"generated_text":" Do you need it? "}]`, &inputs)

	p, err := textgen.New(srv.URL, "hf-test", textgen.WithFlatTurns(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), request(
		types.System("persona"),
		types.Assistant("What are you thinking of buying?"),
		types.User("headphones"),
	))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != " Do you need it? " {
		t.Errorf("Content = %q", resp.Content)
	}
	want := "What are you thinking of buying?\n\nheadphones"
	if inputs != want {
		t.Errorf("inputs = %q, want %q", inputs, want)
	}
}

func TestComplete_ObjectReply(t *testing.T) {
	srv := mockTextGenServer(t, http.StatusOK, `{"generated_text":"Take a breath."}`, nil)

	p, err := textgen.New(srv.URL, "hf-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), request(types.User("hi")))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Take a breath." {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestComplete_StatusError(t *testing.T) {
	srv := mockTextGenServer(t, http.StatusServiceUnavailable, `{"error":"Model is currently loading"}`, nil)

	p, err := textgen.New(srv.URL, "hf-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), request(types.User("hi")))
	var statusErr *llm.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *llm.StatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", statusErr.StatusCode)
	}
	if !strings.Contains(statusErr.Body, "loading") {
		t.Errorf("Body = %q, want it to mention loading", statusErr.Body)
	}
}

func TestComplete_MissingField(t *testing.T) {
	srv := mockTextGenServer(t, http.StatusOK, `[{"summary_text":"nope"}]`, nil)

	p, err := textgen.New(srv.URL, "hf-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), request(types.User("hi")))
	if !errors.Is(err, llm.ErrMalformedReply) {
		t.Fatalf("err = %v, want ErrMalformedReply", err)
	}
}

func TestComplete_EmptyPrompt(t *testing.T) {
	p, err := textgen.New("http://127.0.0.1:0", "hf-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), request(types.User("   "))); err == nil {
		t.Fatal("expected error for blank prompt")
	}
}

func TestFlattenPrompt(t *testing.T) {
	msgs := []types.Message{
		types.System("a"),
		types.User("b"),
		types.Assistant(" "),
		types.User("c"),
	}
	tests := []struct {
		n    int
		want string
	}{
		{1, "c"},
		{3, "b\n\nc"},
		{10, "a\n\nb\n\nc"},
		{0, "b\n\nc"}, // falls back to DefaultFlatTurns
	}
	for _, tt := range tests {
		if got := textgen.FlattenPrompt(msgs, tt.n); got != tt.want {
			t.Errorf("FlattenPrompt(n=%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"object", `{"generated_text":"ok"}`, "ok", false},
		{"array", `[{"generated_text":"ok"}]`, "ok", false},
		{"empty body", ``, "", true},
		{"whitespace body", "  \n", "", true},
		{"not json", `<html>`, "", true},
		{"empty array", `[]`, "", true},
		{"wrong type", `{"generated_text":42}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := textgen.ParseReply([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, llm.ErrMalformedReply) {
					t.Fatalf("err = %v, want ErrMalformedReply", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
