// Package anthropic implements the LLM provider interface for the Anthropic Messages API.
package anthropic

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
	defaultBaseURL  = "https://api.anthropic.com"
	messagesPath    = "/v1/messages"
	apiVersion      = "2023-06-01"
	defaultMaxToken = 2048
)

// Client implements llm.StreamingProvider using the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Anthropic client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an Anthropic provider.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "anthropic" }

// SendMessage sends the conversation to the Anthropic Messages API.
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
		slog.String("provider", "anthropic"),
		slog.String("model", resp.Model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)

	return resp, nil
}

// StreamMessage implements llm.StreamingProvider by using Anthropic's streaming API.
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

	usage := &llm.Usage{}
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev apiStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				events <- llm.StreamEvent{Type: llm.EventText, Content: ev.Delta.Text}
			}
		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			events <- llm.StreamEvent{Type: llm.EventDone, Usage: usage}
			return nil
		case "error":
			return fail(fmt.Errorf("stream error: %s", data))
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, &llm.APIError{Provider: "anthropic", StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}
	return httpResp, nil
}

// buildRequest maps the text transcript onto the Messages API. Consecutive
// turns from the same role are merged because the API requires alternation.
func (c *Client) buildRequest(req *llm.Request, stream bool) apiRequest {
	messages := make([]apiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := string(m.Role)
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content += "\n\n" + m.Content
			continue
		}
		messages = append(messages, apiMessage{Role: role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxToken
	}

	return apiRequest{
		Model:         c.model,
		System:        req.SystemPrompt,
		Messages:      messages,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
		Stream:        stream,
	}
}

func (c *Client) toResponse(apiResp *apiResponse) *llm.Response {
	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	model := apiResp.Model
	if model == "" {
		model = c.model
	}
	return &llm.Response{
		Content:    text.String(),
		Model:      model,
		StopReason: apiResp.StopReason,
		Usage: llm.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
}

// --- Anthropic API wire types (unexported) ---

type apiRequest struct {
	Model         string       `json:"model"`
	System        string       `json:"system,omitempty"`
	Messages      []apiMessage `json:"messages"`
	MaxTokens     int          `json:"max_tokens"`
	Temperature   float64      `json:"temperature,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	Model      string            `json:"model"`
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      apiUsage          `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// apiStreamEvent represents a single event in the Anthropic streaming response.
type apiStreamEvent struct {
	Type    string          `json:"type"`
	Message *apiResponse    `json:"message,omitempty"`
	Delta   *apiStreamDelta `json:"delta,omitempty"`
	Usage   *apiUsage       `json:"usage,omitempty"`
}

// apiStreamDelta represents a delta update in a streaming response.
type apiStreamDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}
