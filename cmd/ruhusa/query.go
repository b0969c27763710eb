package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ruhusa/internal/gateway/httpapi"
)

// Exit codes for the query command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2 // Unauthorized or rate limited.
	ExitUnavailable = 3
)

var (
	queryMessage    string
	queryGatewayURL string
	queryAPIKey     string
	queryStream     bool
	queryTimeout    int
	queryConvID     string
	queryConfirmed  bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a one-shot message to a running Ruhusa server",
	Long: `Send a message to the Ruhusa HTTP API and print the answer.

Examples:
  ruhusa query -m "how many PTO days do I have left?"
  ruhusa query -m "book June 2 to June 6 off" --stream
  ruhusa query -m "yes" --conversation-id 3f0c... --confirmed

Exit codes:
  0  success
  1  request failed
  2  unauthorized or rate limited
  3  server unavailable`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryMessage, "message", "m", "", "message to send (required)")
	queryCmd.Flags().StringVar(&queryGatewayURL, "gateway-url", "http://localhost:8080", "Ruhusa HTTP API URL (or RUHUSA_GATEWAY_URL env)")
	queryCmd.Flags().StringVar(&queryAPIKey, "api-key", "", "API key (or RUHUSA_API_KEY env)")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream the answer via SSE")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 300, "timeout in seconds")
	queryCmd.Flags().StringVar(&queryConvID, "conversation-id", "", "continue an existing conversation")
	queryCmd.Flags().BoolVar(&queryConfirmed, "confirmed", false, "confirm a pending action (e.g. submit anyway)")

	_ = queryCmd.MarkFlagRequired("message")
}

func runQuery(_ *cobra.Command, _ []string) error {
	if queryMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}
	apiKey := goutils.Env("RUHUSA_API_KEY", queryAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set RUHUSA_API_KEY)")
		os.Exit(ExitDenied)
	}
	gatewayURL := strings.TrimRight(goutils.Env("RUHUSA_GATEWAY_URL", queryGatewayURL), "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(queryTimeout)*time.Second)
	var code int
	if queryStream {
		code = queryStreaming(ctx, gatewayURL, apiKey)
	} else {
		code = querySync(ctx, gatewayURL, apiKey)
	}
	cancel()

	if code != ExitSuccess {
		os.Exit(code)
	}
	return nil
}

func newChatRequest(ctx context.Context, url, apiKey string) (*http.Request, error) {
	body, err := json.Marshal(httpapi.ChatRequest{
		Message:        queryMessage,
		ConversationID: queryConvID,
		Confirmed:      queryConfirmed,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

// querySync sends one chat request and prints the answer.
func querySync(ctx context.Context, gatewayURL, apiKey string) int {
	req, err := newChatRequest(ctx, gatewayURL+"/v1/chat", apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", gatewayURL, err)
		return ExitUnavailable
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if code, failed := statusExit(resp.StatusCode, body); failed {
		return code
	}

	var result httpapi.ChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed response: %v\n", err)
		return ExitFailure
	}
	fmt.Println(result.Message)
	for _, tc := range result.ToolCalls {
		fmt.Fprintf(os.Stderr, "[tool: %s %s]\n", tc.Name, tc.State)
	}
	fmt.Fprintf(os.Stderr, "\n[correlation_id=%s conversation_id=%s iterations=%d]\n",
		result.CorrelationID, result.ConversationID, result.Iterations)
	return ExitSuccess
}

// queryStreaming sends a chat request to the SSE endpoint and prints text
// deltas as they arrive. The final answer is printed only when no deltas were.
func queryStreaming(ctx context.Context, gatewayURL, apiKey string) int {
	req, err := newChatRequest(ctx, gatewayURL+"/v1/chat/stream", apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", gatewayURL, err)
		return ExitUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		code, _ := statusExit(resp.StatusCode, body)
		return code
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var (
		event   string
		printed bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		case !strings.HasPrefix(line, "data:"):
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev httpapi.SSEEvent
		if data == "" || json.Unmarshal([]byte(data), &ev) != nil {
			continue
		}

		switch event {
		case "text_delta":
			fmt.Print(ev.Text)
			printed = true
		case "tool_call":
			if ev.ToolCall != nil {
				fmt.Fprintf(os.Stderr, "[tool: %s]\n", ev.ToolCall.Name)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "Error: %s\n", ev.Error)
			return ExitFailure
		case "final":
			if !printed {
				fmt.Print(ev.Text)
			}
			fmt.Println()
			fmt.Fprintf(os.Stderr, "[correlation_id=%s conversation_id=%s iterations=%d]\n",
				ev.CorrelationID, ev.ConversationID, ev.Iteration)
			return ExitSuccess
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: stream interrupted: %v\n", err)
	} else {
		fmt.Fprintln(os.Stderr, "Error: stream ended without a final answer")
	}
	return ExitFailure
}

// statusExit maps a non-200 response to an exit code and prints why.
func statusExit(status int, body []byte) (int, bool) {
	switch status {
	case http.StatusOK:
		return ExitSuccess, false
	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		return ExitDenied, true
	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		return ExitDenied, true
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", status)
		return ExitUnavailable, true
	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", status, strings.TrimSpace(string(body)))
		return ExitFailure, true
	}
}
