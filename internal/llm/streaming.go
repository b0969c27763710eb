package llm

import (
	"context"
	"strings"
)

// Stream event types.
const (
	EventText  = "text"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent represents a single event in a streaming LLM response.
type StreamEvent struct {
	Type    string // EventText, EventDone or EventError.
	Content string // Text delta for EventText.
	Usage   *Usage // Final token counts, when the backend reports them on EventDone.
	Error   error  // Set for EventError.
}

// StreamingProvider extends Provider with streaming support.
// Providers that don't support streaming can be wrapped with
// NonStreamingAdapter to provide buffered streaming.
type StreamingProvider interface {
	Provider
	// StreamMessage sends a request and streams events to the channel.
	// The channel is closed when the response is complete or an error occurs.
	StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error
}

// NonStreamingAdapter wraps a regular Provider to implement StreamingProvider
// by buffering the full response and sending it as a single event.
type NonStreamingAdapter struct {
	Provider
}

// StreamMessage calls SendMessage and sends the result as buffered events.
func (a *NonStreamingAdapter) StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error {
	defer close(events)

	resp, err := a.SendMessage(ctx, req)
	if err != nil {
		events <- StreamEvent{Type: EventError, Error: err}
		return err
	}
	if resp.Content != "" {
		events <- StreamEvent{Type: EventText, Content: resp.Content}
	}
	usage := resp.Usage
	events <- StreamEvent{Type: EventDone, Usage: &usage}
	return nil
}

// AsStreaming returns p itself when it streams natively, or a buffered adapter.
func AsStreaming(p Provider) StreamingProvider {
	if sp, ok := p.(StreamingProvider); ok {
		return sp
	}
	return &NonStreamingAdapter{Provider: p}
}

// Collect streams req through p, calling onDelta for every text delta, and
// returns the assembled response. onDelta may be nil.
func Collect(ctx context.Context, p StreamingProvider, req *Request, onDelta func(string)) (*Response, error) {
	events := make(chan StreamEvent, 16)
	errc := make(chan error, 1)
	go func() { errc <- p.StreamMessage(ctx, req, events) }()

	var (
		b       strings.Builder
		usage   Usage
		lastErr error
	)
	for ev := range events {
		switch ev.Type {
		case EventText:
			b.WriteString(ev.Content)
			if onDelta != nil && ev.Content != "" {
				onDelta(ev.Content)
			}
		case EventDone:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		case EventError:
			lastErr = ev.Error
		}
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return &Response{Content: b.String(), Usage: usage, StopReason: "end_turn"}, nil
}
