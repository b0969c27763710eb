package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoProviders is returned when a fallback chain is built from nothing.
var ErrNoProviders = errors.New("at least one provider is required")

// FallbackProvider wraps multiple providers and tries them in order.
// If the primary provider fails, subsequent providers are tried until
// one succeeds or all have failed. Context cancellation stops the chain.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider creates a provider that tries each provider in order.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) (*FallbackProvider, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return &FallbackProvider{
		providers: providers,
		logger:    logger,
	}, nil
}

// SendMessage tries each provider in order, returning the first successful response.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for i, p := range f.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "provider fallback succeeded",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		lastErr = err
		f.warn(ctx, p, i, err)
	}
	return nil, fmt.Errorf("all %d providers failed, last error: %w", len(f.providers), lastErr)
}

// StreamMessage streams from the first provider that starts successfully.
// A provider that fails after emitting text is not retried, since the caller
// has already seen part of its answer.
func (f *FallbackProvider) StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error {
	defer close(events)

	var lastErr error
	for i, p := range f.providers {
		if err := ctx.Err(); err != nil {
			events <- StreamEvent{Type: EventError, Error: err}
			return err
		}

		inner := make(chan StreamEvent, 16)
		errc := make(chan error, 1)
		go func(sp StreamingProvider) { errc <- sp.StreamMessage(ctx, req, inner) }(AsStreaming(p))

		emitted := false
		var streamErr error
		for ev := range inner {
			switch ev.Type {
			case EventError:
				streamErr = ev.Error
			case EventText:
				emitted = true
				events <- ev
			default:
				events <- ev
			}
		}
		if err := <-errc; err != nil && streamErr == nil {
			streamErr = err
		}
		if streamErr == nil {
			return nil
		}
		lastErr = streamErr
		if emitted {
			break
		}
		f.warn(ctx, p, i, streamErr)
	}

	err := fmt.Errorf("all %d providers failed, last error: %w", len(f.providers), lastErr)
	events <- StreamEvent{Type: EventError, Error: err}
	return err
}

func (f *FallbackProvider) warn(ctx context.Context, p Provider, i int, err error) {
	f.logger.WarnContext(ctx, "provider failed, trying next",
		slog.String("provider", p.Name()),
		slog.String("error", err.Error()),
		slog.Int("attempt", i+1),
		slog.Int("remaining", len(f.providers)-i-1),
	)
}

// Name returns a composite name indicating fallback configuration.
func (f *FallbackProvider) Name() string {
	return f.providers[0].Name() + "+fallback"
}
