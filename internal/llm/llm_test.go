package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type scriptedProvider struct {
	name  string
	reply string
	err   error
	calls int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) SendMessage(context.Context, *Request) (*Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Content: p.reply, Usage: Usage{InputTokens: 3, OutputTokens: 2}}, nil
}

// chunkedProvider streams its reply one word at a time and can fail midway.
type chunkedProvider struct {
	scriptedProvider
	chunks  []string
	failing bool
}

func (p *chunkedProvider) StreamMessage(_ context.Context, _ *Request, events chan<- StreamEvent) error {
	defer close(events)
	p.calls++
	for _, c := range p.chunks {
		events <- StreamEvent{Type: EventText, Content: c}
	}
	if p.failing {
		err := errors.New("connection reset")
		events <- StreamEvent{Type: EventError, Error: err}
		return err
	}
	events <- StreamEvent{Type: EventDone}
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCollect_BufferedAdapter(t *testing.T) {
	p := &scriptedProvider{name: "a", reply: "hello there"}
	var deltas []string
	resp, err := Collect(context.Background(), AsStreaming(p), &Request{}, func(s string) { deltas = append(deltas, s) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("expected content, got %q", resp.Content)
	}
	if len(deltas) != 1 {
		t.Errorf("expected one buffered delta, got %d", len(deltas))
	}
	if resp.Usage.InputTokens != 3 || resp.Usage.OutputTokens != 2 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestCollect_NativeStreaming(t *testing.T) {
	p := &chunkedProvider{scriptedProvider: scriptedProvider{name: "s"}, chunks: []string{"Hel", "lo"}}
	if _, ok := AsStreaming(p).(*chunkedProvider); !ok {
		t.Fatal("expected native streaming provider to be used as is")
	}
	var got string
	resp, err := Collect(context.Background(), p, &Request{}, func(s string) { got += s })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello" || got != "Hello" {
		t.Errorf("expected Hello, got %q / %q", resp.Content, got)
	}
}

func TestCollect_Error(t *testing.T) {
	p := &scriptedProvider{name: "a", err: errors.New("boom")}
	if _, err := Collect(context.Background(), AsStreaming(p), &Request{}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewFallbackProvider_Empty(t *testing.T) {
	if _, err := NewFallbackProvider(nil, discard()); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestFallback_SendMessage(t *testing.T) {
	primary := &scriptedProvider{name: "primary", err: errors.New("rate limited")}
	secondary := &scriptedProvider{name: "secondary", reply: "ok"}
	f, err := NewFallbackProvider([]Provider{primary, secondary}, discard())
	if err != nil {
		t.Fatal(err)
	}

	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected secondary reply, got %q", resp.Content)
	}
	if f.Name() != "primary+fallback" {
		t.Errorf("unexpected name %q", f.Name())
	}

	secondary.err = errors.New("down")
	if _, err := f.SendMessage(context.Background(), &Request{}); err == nil || !errors.Is(err, secondary.err) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestFallback_SendMessageCancelled(t *testing.T) {
	p := &scriptedProvider{name: "a", reply: "ok"}
	f, _ := NewFallbackProvider([]Provider{p}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.SendMessage(ctx, &Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.calls != 0 {
		t.Errorf("expected no provider call, got %d", p.calls)
	}
}

func TestFallback_StreamFailsOverBeforeText(t *testing.T) {
	primary := &chunkedProvider{scriptedProvider: scriptedProvider{name: "primary"}, failing: true}
	secondary := &scriptedProvider{name: "secondary", reply: "from secondary"}
	f, _ := NewFallbackProvider([]Provider{primary, secondary}, discard())

	resp, err := Collect(context.Background(), f, &Request{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Errorf("expected secondary content, got %q", resp.Content)
	}
}

func TestFallback_StreamDoesNotRetryAfterText(t *testing.T) {
	primary := &chunkedProvider{scriptedProvider: scriptedProvider{name: "primary"}, chunks: []string{"partial"}, failing: true}
	secondary := &scriptedProvider{name: "secondary", reply: "unused"}
	f, _ := NewFallbackProvider([]Provider{primary, secondary}, discard())

	if _, err := Collect(context.Background(), f, &Request{}, nil); err == nil {
		t.Fatal("expected error")
	}
	if secondary.calls != 0 {
		t.Errorf("expected secondary untouched, got %d calls", secondary.calls)
	}
}
