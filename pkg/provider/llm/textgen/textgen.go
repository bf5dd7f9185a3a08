// Package textgen provides an LLM provider for text-generation endpoints that
// take a single flat input string instead of structured turns, such as the
// Hugging Face Inference API or a text-generation-inference server.
//
// The prompt is built by concatenating the content of the last few turns with
// blank lines between them. The reply is read from "generated_text", which the
// server returns either as a top-level object field or inside a single-element
// array.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/mindfulcart/pkg/provider/llm"
	"github.com/MrWong99/mindfulcart/pkg/types"
)

const (
	// DefaultFlatTurns is how many trailing turns make up the flat prompt.
	DefaultFlatTurns = 3

	// maxErrorBody caps how much of a non-2xx body is kept for logging.
	maxErrorBody = 4 << 10

	// maxReplyBody caps how much of a successful body is read.
	maxReplyBody = 1 << 20
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithFlatTurns sets how many trailing turns are concatenated into the prompt.
// Values below 1 are ignored.
func WithFlatTurns(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.flatTurns = n
		}
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithWaitForModel controls the "wait_for_model" option sent to the server.
// When false a cold model answers 503 immediately and the dispatcher moves on.
func WithWaitForModel(wait bool) Option {
	return func(p *Provider) {
		p.waitForModel = wait
	}
}

// Provider implements llm.Provider for flat-prompt text-generation endpoints.
type Provider struct {
	endpoint     string
	apiKey       string
	flatTurns    int
	waitForModel bool
	httpClient   *http.Client
}

// New creates a Provider that posts to endpoint (the full model URL). apiKey
// is sent as a bearer token when non-empty.
func New(endpoint, apiKey string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("textgen: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:     endpoint,
		apiKey:       apiKey,
		flatTurns:    DefaultFlatTurns,
		waitForModel: true,
		httpClient:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

type request struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
	Options    options    `json:"options"`
}

type parameters struct {
	MaxNewTokens   int     `json:"max_new_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	ReturnFullText bool    `json:"return_full_text"`
}

type options struct {
	WaitForModel bool `json:"wait_for_model"`
	UseCache     bool `json:"use_cache"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	prompt := FlattenPrompt(req.Messages, p.flatTurns)
	if prompt == "" {
		return nil, errors.New("textgen: empty prompt")
	}

	payload, err := json.Marshal(request{
		Inputs: prompt,
		Parameters: parameters{
			MaxNewTokens: req.MaxTokens,
			Temperature:  req.Temperature,
		},
		Options: options{WaitForModel: p.waitForModel},
	})
	if err != nil {
		return nil, fmt.Errorf("textgen: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("textgen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("textgen: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("textgen: post: %w", &llm.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		return nil, fmt.Errorf("textgen: read body: %w", err)
	}
	text, err := ParseReply(body)
	if err != nil {
		return nil, fmt.Errorf("textgen: %w", err)
	}
	return &llm.CompletionResponse{Content: text}, nil
}

// FlattenPrompt joins the content of the last n turns with blank lines,
// oldest first. Turns with blank content are skipped.
func FlattenPrompt(msgs []types.Message, n int) string {
	if n <= 0 {
		n = DefaultFlatTurns
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if c := strings.TrimSpace(m.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ParseReply extracts generated_text from a text-generation response body.
// Both {"generated_text": "..."} and [{"generated_text": "..."}] are accepted.
func ParseReply(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", fmt.Errorf("empty body: %w", llm.ErrMalformedReply)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("body is not JSON: %w", llm.ErrMalformedReply)
	}

	root := gjson.ParseBytes(body)
	path := "generated_text"
	if root.IsArray() {
		path = "0.generated_text"
	}
	field := root.Get(path)
	if !field.Exists() || field.Type != gjson.String {
		return "", fmt.Errorf("missing generated_text: %w", llm.ErrMalformedReply)
	}
	return field.String(), nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
