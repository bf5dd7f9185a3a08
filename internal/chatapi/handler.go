// Package chatapi implements the POST /api/chat endpoint.
//
// A request is validated, turned into a provider turn sequence, and handed to
// the dispatcher. When no remote provider answers, the local responder does,
// so every accepted request ends in a well-formed JSON envelope.
package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/MrWong99/mindfulcart/internal/observe"
	"github.com/MrWong99/mindfulcart/internal/resilience"
	"github.com/MrWong99/mindfulcart/internal/responder"
	"github.com/MrWong99/mindfulcart/pkg/provider/llm"
	"github.com/MrWong99/mindfulcart/pkg/types"
)

// Path is the route served by [Handler].
const Path = "/api/chat"

// MaxBodyBytes caps the request body.
const MaxBodyBytes = 64 << 10

// faultMessage is returned with every 500 so the conversation stays in voice.
const faultMessage = "I'm having a little trouble gathering my thoughts right now. " +
	"Let's take one slow breath together, and then try asking me again."

// Dispatcher produces a remote reply. [*resilience.Dispatcher] implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req llm.CompletionRequest) (resilience.Result, error)
}

// Responder produces a reply without any I/O.
// [responder.Checklist] implements it.
type Responder interface {
	Reply(message string, history []types.Message) string
}

// Config holds the read-only chat settings.
type Config struct {
	// SystemPrompt overrides [DefaultSystemPrompt] when non-blank.
	SystemPrompt string

	// HistoryLimit is how many history turns are forwarded. Zero means
	// [DefaultHistoryLimit].
	HistoryLimit int

	MaxTokens   int
	Temperature float64
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMetrics records chat metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithResponder replaces the local responder.
func WithResponder(r Responder) Option {
	return func(h *Handler) { h.local = r }
}

// Handler serves [Path]. It holds no per-request state and is safe for
// concurrent use.
type Handler struct {
	dispatcher Dispatcher
	local      Responder
	cfg        Config
	metrics    *observe.Metrics
}

// New creates a [Handler]. The local responder defaults to
// [responder.Checklist].
func New(d Dispatcher, cfg Config, opts ...Option) *Handler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	cfg.HistoryLimit = min(cfg.HistoryLimit, MaxHistoryLimit)
	h := &Handler{dispatcher: d, local: responder.Checklist{}, cfg: cfg}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the chat route to mux. Every method is routed to the
// handler so that rejected methods still get CORS headers and a JSON body.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle(Path, h)
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, ErrorReply{Error: "method not allowed"})
		return
	}

	// An accepted request runs to completion even if the caller hangs up.
	ctx := context.WithoutCancel(r.Context())
	log := observe.Logger(ctx)

	if h.metrics != nil {
		h.metrics.ChatInFlight.Add(ctx, 1)
		defer h.metrics.ChatInFlight.Add(ctx, -1)
	}
	defer func() {
		if v := recover(); v != nil {
			log.Error("chat handler panicked", "panic", v, "stack", string(debug.Stack()))
			h.fault(w)
		}
	}()

	req, err := decodeRequest(w, r)
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorReply{Error: verr.Msg})
		return
	case err != nil:
		log.Error("decode chat request", "error", err)
		h.fault(w)
		return
	}

	writeJSON(w, http.StatusOK, h.answer(ctx, req))
}

// answer produces the reply for a validated request.
func (h *Handler) answer(ctx context.Context, req Request) Reply {
	log := observe.Logger(ctx)

	history := Sanitize(req.History)
	message := strings.TrimSpace(req.Message)
	systemPrompt := req.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = h.cfg.SystemPrompt
	}
	turns := BuildTurns(systemPrompt, history, message, h.cfg.HistoryLimit)

	res, err := h.dispatcher.Dispatch(ctx, llm.CompletionRequest{
		Messages:    turns,
		MaxTokens:   h.cfg.MaxTokens,
		Temperature: h.cfg.Temperature,
	})
	if err == nil {
		log.Info("chat answered",
			"service", res.Provider,
			"attempts", attemptSummary(res.Attempts),
			"history_in", len(req.History),
			"turns_sent", len(turns),
			"total_tokens", res.Usage.TotalTokens)
		h.recordReply(ctx, res.Provider, false)
		return Reply{Response: res.Text, Service: res.Provider}
	}

	if errors.Is(err, resilience.ErrNoProviders) {
		log.Info("chat answered locally, no providers configured")
	} else {
		log.Warn("chat answered locally, every provider failed",
			"attempts", attemptSummary(res.Attempts))
	}
	h.recordReply(ctx, responder.ServiceLabel, true)
	return Reply{Response: h.local.Reply(message, history), Service: responder.ServiceLabel}
}

func (h *Handler) recordReply(ctx context.Context, service string, local bool) {
	if h.metrics != nil {
		h.metrics.RecordChatReply(ctx, service, local)
	}
}

func (h *Handler) fault(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, FaultReply{
		Response: faultMessage,
		Service:  responder.ServiceLabel,
		Error:    "internal_error",
	})
}

// decodeRequest reads and validates the body. Validation problems are
// returned as [*ValidationError]; any other error means the body could not be
// read or is not JSON.
func decodeRequest(w http.ResponseWriter, r *http.Request) (Request, error) {
	var req Request
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req)
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		// Empty body: treat like a body without a message.
	case errors.As(err, &typeErr) && typeErr.Field != "message":
		// The decoder still fills the remaining fields, so a missing message
		// outranks a mistyped history.
		if strings.TrimSpace(req.Message) == "" {
			return Request{}, &ValidationError{Msg: "message is required"}
		}
		return Request{}, fmt.Errorf("decode body: %w", err)
	case err != nil:
		return Request{}, fmt.Errorf("decode body: %w", err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return Request{}, &ValidationError{Msg: "message is required"}
	}
	return req, nil
}

// attemptSummary renders attempts as "name=ok" or "name=reason" pairs.
func attemptSummary(attempts []resilience.Attempt) []string {
	out := make([]string, len(attempts))
	for i, a := range attempts {
		status := "ok"
		if a.Err != nil {
			status = string(a.Err.Reason)
		}
		out[i] = a.Provider + "=" + status
	}
	return out
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
