// Package openai implements the LLM provider interface for the OpenAI Chat Completions API.
// It also serves as the Ollama provider since Ollama exposes an OpenAI-compatible API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/ruhusa/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com"
	completionsPath  = "/v1/chat/completions"
	defaultMaxTokens = 2048
)

// Client implements llm.StreamingProvider using the OpenAI Chat Completions API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the OpenAI client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithName overrides the provider name (e.g. "ollama").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// NewClient creates an OpenAI-compatible provider.
// For Ollama, use WithBaseURL("http://localhost:11434") and WithName("ollama").
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		name:       "openai",
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// SendMessage sends the conversation to the OpenAI Chat Completions API.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	httpResp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	resp := c.toResponse(&apiResp)

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.name),
		slog.String("model", resp.Model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)

	return resp, nil
}

// StreamMessage implements llm.StreamingProvider using server-sent events.
func (c *Client) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	defer close(events)

	fail := func(err error) error {
		events <- llm.StreamEvent{Type: llm.EventError, Error: err}
		return err
	}

	httpResp, err := c.post(ctx, c.buildRequest(req, true))
	if err != nil {
		return fail(err)
	}
	defer httpResp.Body.Close()

	var usage *llm.Usage
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = &llm.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				events <- llm.StreamEvent{Type: llm.EventText, Content: ch.Delta.Content}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("reading stream: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	events <- llm.StreamEvent{Type: llm.EventDone, Usage: usage}
	return nil
}

func (c *Client) post(ctx context.Context, apiReq apiRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if apiReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, &llm.APIError{Provider: c.name, StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}
	return httpResp, nil
}

func (c *Client) buildRequest(req *llm.Request, stream bool) apiRequest {
	messages := make([]apiMessage, 0, len(req.Messages)+1)

	// System prompt becomes a system message.
	if req.SystemPrompt != "" {
		messages = append(messages, apiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, apiMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	apiReq := apiRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if stream {
		apiReq.StreamOptions = &apiStreamOptions{IncludeUsage: true}
	}
	return apiReq
}

func (c *Client) toResponse(apiResp *apiResponse) *llm.Response {
	resp := &llm.Response{
		Model: apiResp.Model,
		Usage: llm.Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	if resp.Model == "" {
		resp.Model = c.model
	}
	if len(apiResp.Choices) == 0 {
		return resp
	}

	choice := apiResp.Choices[0]
	resp.Content = choice.Message.Content
	resp.StopReason = normalizeFinishReason(choice.FinishReason)
	return resp
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return reason
	}
}

// --- OpenAI API wire types (unexported) ---

type apiRequest struct {
	Model         string            `json:"model"`
	Messages      []apiMessage      `json:"messages"`
	MaxTokens     int               `json:"max_tokens"`
	Temperature   float64           `json:"temperature,omitempty"`
	Stop          []string          `json:"stop,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *apiStreamOptions `json:"stream_options,omitempty"`
}

type apiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiStreamChunk struct {
	Choices []apiStreamChoice `json:"choices"`
	Usage   *apiUsage         `json:"usage,omitempty"`
}

type apiStreamChoice struct {
	Delta        apiMessage `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}
