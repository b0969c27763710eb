package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/ruhusa/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendMessage_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != completionsPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer auth, got %q", r.Header.Get("Authorization"))
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		if req.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %q", req.Model)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		// System prompt, then the history in order.
		if len(req.Messages) != 3 {
			t.Errorf("expected 3 messages, got %d", len(req.Messages))
			return
		}
		if req.Messages[0].Role != "system" || req.Messages[1].Role != "user" || req.Messages[2].Role != "assistant" {
			t.Errorf("unexpected roles: %+v", req.Messages)
		}
		if len(req.Stop) != 1 || req.Stop[0] != "Observation:" {
			t.Errorf("expected stop sequence, got %v", req.Stop)
		}

		resp := apiResponse{
			Model: "gpt-4o-2024-08-06",
			Choices: []apiChoice{{
				Message:      apiMessage{Role: "assistant", Content: "Hello!"},
				FinishReason: "stop",
			}},
			Usage: apiUsage{PromptTokens: 10, CompletionTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "gpt-4o", discardLogger(), WithBaseURL(srv.URL+"/"))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		SystemPrompt: "You are helpful.",
		Messages:     []llm.Message{llm.UserMessage("Hi"), llm.AssistantMessage("Hello, how can I help?")},
		Stop:         []string{"Observation:"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected content Hello!, got %q", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("expected stop reason end_turn, got %q", resp.StopReason)
	}
	if resp.Model != "gpt-4o-2024-08-06" {
		t.Errorf("unexpected model %q", resp.Model)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestSendMessage_NoAuthForOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("expected no auth header, got %q", auth)
		}
		json.NewEncoder(w).Encode(apiResponse{Choices: []apiChoice{{Message: apiMessage{Content: "hi"}, FinishReason: "length"}}})
	}))
	defer srv.Close()

	client := NewClient("", "llama3", discardLogger(), WithBaseURL(srv.URL), WithName("ollama"))
	if client.Name() != "ollama" {
		t.Errorf("expected name ollama, got %q", client.Name())
	}
	resp, err := client.SendMessage(context.Background(), &llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StopReason != "max_tokens" {
		t.Errorf("expected max_tokens, got %q", resp.StopReason)
	}
	if resp.Model != "llama3" {
		t.Errorf("expected fallback model name, got %q", resp.Model)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit"}}`))
	}))
	defer srv.Close()

	client := NewClient("k", "gpt-4o", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.SendMessage(context.Background(), &llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !apiErr.Retryable() {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestSendMessage_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{Usage: apiUsage{PromptTokens: 4}})
	}))
	defer srv.Close()

	client := NewClient("k", "gpt-4o", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "" || resp.Usage.InputTokens != 4 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestStreamMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Errorf("expected streaming request with usage, got %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"choices":[{"delta":{"role":"assistant","content":""}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`not json`,
			`{"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient("k", "gpt-4o", discardLogger(), WithBaseURL(srv.URL))
	var deltas []string
	resp, err := llm.Collect(context.Background(), client, &llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}},
		func(s string) { deltas = append(deltas, s) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello" {
		t.Errorf("expected Hello, got %q", resp.Content)
	}
	if len(deltas) != 2 {
		t.Errorf("expected 2 deltas, got %v", deltas)
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 2 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestStreamMessage_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("k", "gpt-4o", discardLogger(), WithBaseURL(srv.URL))
	_, err := llm.Collect(context.Background(), client, &llm.Request{}, nil)
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
}
