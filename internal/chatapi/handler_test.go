package chatapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/mindfulcart/internal/chatapi"
	"github.com/MrWong99/mindfulcart/internal/resilience"
	"github.com/MrWong99/mindfulcart/internal/responder"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm/mock"
	"github.com/MrWong99/mindfulcart/pkg/types"
)

func newHandler(cfg chatapi.Config, entries ...resilience.Entry) *chatapi.Handler {
	return chatapi.New(resilience.NewDispatcher(entries), cfg)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, chatapi.Path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body: %v; body=%s", err, rec.Body.String())
	}
	return v
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	want := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type",
		"Access-Control-Allow-Methods": "POST, OPTIONS",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestPreflight(t *testing.T) {
	h := newHandler(chatapi.Config{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, chatapi.Path, nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
	assertCORS(t, rec)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(chatapi.Config{})
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(method, chatapi.Path, nil))

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", rec.Code)
			}
			if body := decode[chatapi.ErrorReply](t, rec); body.Error == "" {
				t.Error("error field is empty")
			}
			assertCORS(t, rec)
		})
	}
}

func TestMissingMessage(t *testing.T) {
	h := newHandler(chatapi.Config{})
	bodies := []string{
		``,
		`{}`,
		`{"message":"   "}`,
		`{"history":[{"role":"user","content":"hi"}]}`,
		`{"message":null,"history":[]}`,
		`{"history":"oops"}`,
		`{"history":[{"role":"user","content":5}]}`,
		`{"history":[1,2]}`,
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			rec := post(t, h, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			got := decode[chatapi.ErrorReply](t, rec)
			if got.Error != "message is required" {
				t.Errorf("error = %q", got.Error)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
			assertCORS(t, rec)
		})
	}
}

func TestMalformedJSON_InVoiceFault(t *testing.T) {
	h := newHandler(chatapi.Config{})
	for _, body := range []string{`{"message":`, `not json`, `{"message":"hi","history":"oops"}`} {
		t.Run(body, func(t *testing.T) {
			rec := post(t, h, body)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			got := decode[chatapi.FaultReply](t, rec)
			if got.Response == "" || strings.Contains(strings.ToLower(got.Response), "json") {
				t.Errorf("response = %q, want a non-technical in-voice message", got.Response)
			}
			if got.Service != responder.ServiceLabel || got.Error != "internal_error" {
				t.Errorf("fault = %+v", got)
			}
			assertCORS(t, rec)
		})
	}
}

func TestOversizedBody_Fault(t *testing.T) {
	h := newHandler(chatapi.Config{})
	big := fmt.Sprintf(`{"message":"%s"}`, strings.Repeat("a", chatapi.MaxBodyBytes))
	rec := post(t, h, big)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestNoProviders_LocalFirstQuestion(t *testing.T) {
	h := newHandler(chatapi.Config{})
	rec := post(t, h, `{"message":"thinking about buying new headphones","history":[]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[chatapi.Reply](t, rec)
	want := chatapi.Reply{Response: "Do you need this, or do you just want it?", Service: "local"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	assertCORS(t, rec)
}

func TestAllProvidersFail_LocalReply(t *testing.T) {
	a := &mock.Provider{CompleteErr: errors.New("dial tcp: connection refused")}
	b := &mock.Provider{CompleteErr: &llm.StatusError{StatusCode: 503}}
	h := newHandler(chatapi.Config{},
		resilience.Entry{Name: "groq", Provider: a},
		resilience.Entry{Name: "huggingface", Provider: b},
	)

	rec := post(t, h, `{"message":"I want it","history":[
		{"role":"user","content":"I want a watch"},
		{"role":"assistant","content":"Do you need this, or do you just want it?"}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[chatapi.Reply](t, rec)
	if got.Service != "local" {
		t.Errorf("service = %q, want local", got.Service)
	}
	if !slices.Contains(responder.Questions(), got.Response) {
		t.Errorf("response %q is not a checklist question", got.Response)
	}
	if got.Response != responder.Questions()[1] {
		t.Errorf("response = %q, want second question", got.Response)
	}
	if len(a.Calls()) != 1 || len(b.Calls()) != 1 {
		t.Errorf("calls a=%d b=%d, want one each", len(a.Calls()), len(b.Calls()))
	}
}

func TestPriorityOrder_ServiceLabel(t *testing.T) {
	a := &mock.Provider{CompleteErr: errors.New("boom")}
	b := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " How would a week from now feel? "}}
	c := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "unused"}}
	h := newHandler(chatapi.Config{},
		resilience.Entry{Name: "A", Provider: a},
		resilience.Entry{Name: "B", Provider: b},
		resilience.Entry{Name: "C", Provider: c},
	)

	rec := post(t, h, `{"message":"new sneakers"}`)
	got := decode[chatapi.Reply](t, rec)
	want := chatapi.Reply{Response: "How would a week from now feel?", Service: "B"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	if len(c.Calls()) != 0 {
		t.Errorf("C called %d times, want 0", len(c.Calls()))
	}
}

func TestHistoryTruncation_ObservedByProvider(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	h := newHandler(chatapi.Config{HistoryLimit: 3, MaxTokens: 200, Temperature: 0.7},
		resilience.Entry{Name: "p", Provider: p})

	history := []types.Message{
		types.User("h1"), types.Assistant("h2"), types.User("h3"),
		types.Assistant("h4"), types.User("h5"),
	}
	body, _ := json.Marshal(chatapi.Request{Message: "latest", History: history, SystemPrompt: "be brief"})
	if rec := post(t, h, string(body)); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	want := []types.Message{
		types.System("be brief"),
		types.User("h3"), types.Assistant("h4"), types.User("h5"),
		types.User("latest"),
	}
	if diff := cmp.Diff(want, calls[0].Req.Messages); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
	if calls[0].Req.MaxTokens != 200 || calls[0].Req.Temperature != 0.7 {
		t.Errorf("settings = %d/%v, want 200/0.7", calls[0].Req.MaxTokens, calls[0].Req.Temperature)
	}
}

func TestSystemPrompt_ConfigAndDefault(t *testing.T) {
	tests := []struct {
		name     string
		cfg      string
		override string
		want     string
	}{
		{"built-in", "", "", chatapi.DefaultSystemPrompt},
		{"configured", "from config", "", "from config"},
		{"request override wins", "from config", "from request", "from request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
			h := newHandler(chatapi.Config{SystemPrompt: tt.cfg}, resilience.Entry{Name: "p", Provider: p})

			body, _ := json.Marshal(chatapi.Request{Message: "hi", SystemPrompt: tt.override})
			post(t, h, string(body))

			got := p.Calls()[0].Req.Messages[0]
			if diff := cmp.Diff(types.System(tt.want), got); diff != "" {
				t.Errorf("system turn mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProviderPanic_InVoiceFault(t *testing.T) {
	p := &mock.Provider{Panic: "nil map write"}
	h := newHandler(chatapi.Config{}, resilience.Entry{Name: "p", Provider: p})

	rec := post(t, h, `{"message":"hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	got := decode[chatapi.FaultReply](t, rec)
	if got.Response == "" || strings.Contains(got.Response, "nil map") {
		t.Errorf("response = %q, want in-voice text without internals", got.Response)
	}
	assertCORS(t, rec)
}

func TestCallerCancellationDoesNotAbort(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "still here"}}
	h := newHandler(chatapi.Config{}, resilience.Entry{Name: "p", Provider: p})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, chatapi.Path, strings.NewReader(`{"message":"hi"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	got := decode[chatapi.Reply](t, rec)
	if got.Service != "p" {
		t.Errorf("service = %q, want p (request should run to completion)", got.Service)
	}
}

type fixedResponder string

func (f fixedResponder) Reply(string, []types.Message) string { return string(f) }

func TestWithResponder(t *testing.T) {
	h := chatapi.New(resilience.NewDispatcher(nil), chatapi.Config{}, chatapi.WithResponder(fixedResponder("breathe")))
	got := decode[chatapi.Reply](t, post(t, h, `{"message":"hi"}`))
	if got.Response != "breathe" || got.Service != "local" {
		t.Errorf("reply = %+v", got)
	}
}

func TestRegister_RoutesEveryMethod(t *testing.T) {
	mux := http.NewServeMux()
	newHandler(chatapi.Config{}).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, chatapi.Path, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	assertCORS(t, rec)
}
