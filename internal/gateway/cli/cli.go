// Package cli implements an interactive CLI gateway for Ruhusa.
package cli

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/agent"
)

// Gateway is the interactive command-line interface. Every message runs as
// the configured employee.
type Gateway struct {
	agent          agent.Agent
	employeeID     string
	logger         *slog.Logger
	in             io.Reader
	out            io.Writer
	stream         bool
	done           chan struct{} // closed by Stop to signal shutdown
	conversationID string        // persistent for the entire CLI session
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithStreaming prints text as it is generated instead of after the turn.
func WithStreaming(on bool) Option {
	return func(g *Gateway) { g.stream = on }
}

// NewGateway creates a CLI gateway backed by the given agent.
func NewGateway(a agent.Agent, employeeID string, in io.Reader, out io.Writer, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		agent:          a,
		employeeID:     employeeID,
		logger:         logger,
		in:             in,
		out:            out,
		done:           make(chan struct{}),
		conversationID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	if g.employeeID == "" {
		return fmt.Errorf("cli gateway requires an employee ID (gateways.cli.employee_id or RUHUSA_EMPLOYEE_ID)")
	}
	scanner := bufio.NewScanner(g.in)
	scanner.Buffer(make([]byte, 0, 64*1024), agent.DefaultMaxMessageBytes)

	fmt.Fprintf(g.out, "Ruhusa HR assistant (signed in as %s)\n", g.employeeID)
	fmt.Fprintln(g.out, "Ask about your time off, expenses or the handbook. Type \"exit\" to quit, \"new\" to start over, \"forget\" to erase this conversation.")
	fmt.Fprintln(g.out)

	for {
		fmt.Fprint(g.out, "ruhusa> ")

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		case <-g.done:
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(g.out, "Goodbye.")
			return nil
		case "new":
			g.conversationID = uuid.New().String()
			fmt.Fprintln(g.out, "Started a new conversation.")
			continue
		case "forget":
			g.forget(ctx)
			continue
		}

		g.turn(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

func (g *Gateway) turn(ctx context.Context, line string) {
	input := &agent.Input{
		UserID:         g.employeeID,
		Message:        line,
		CorrelationID:  newCorrelationID(),
		ConversationID: g.conversationID,
	}

	g.logger.DebugContext(ctx, "cli request",
		slog.String("user_id", g.employeeID),
		slog.String("correlation_id", input.CorrelationID),
	)

	var (
		resp     *agent.Response
		err      error
		streamed strings.Builder
	)
	fmt.Fprintln(g.out)
	if g.stream {
		resp, err = g.agent.ProcessStream(ctx, input, func(ev agent.Event) {
			switch ev.Type {
			case agent.EventTextDelta:
				streamed.WriteString(ev.Text)
				fmt.Fprint(g.out, ev.Text)
			case agent.EventToolCall:
				if ev.Call != nil {
					fmt.Fprintf(g.out, "  … %s\n", ev.Call.Name)
				}
			}
		})
	} else {
		resp, err = g.agent.Process(ctx, input)
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "agent processing failed",
			slog.String("correlation_id", input.CorrelationID),
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(g.out, "Error: %v\n\n", err)
		return
	}
	g.conversationID = resp.ConversationID

	// The final answer is authoritative; only reprint when the draft differs.
	if !g.stream || streamed.String() != resp.Message {
		if streamed.Len() > 0 {
			fmt.Fprintln(g.out)
		}
		fmt.Fprintln(g.out, resp.Message)
	} else {
		fmt.Fprintln(g.out)
	}
	fmt.Fprintln(g.out)
}

// forget erases the current conversation's history and starts a new one.
func (g *Gateway) forget(ctx context.Context) {
	f, ok := g.agent.(agent.ConversationForgetter)
	if !ok {
		fmt.Fprintln(g.out, "This assistant does not keep history.")
		return
	}
	if err := f.ForgetConversation(ctx, g.employeeID, g.conversationID); err != nil {
		g.logger.ErrorContext(ctx, "forgetting conversation failed", slog.String("error", err.Error()))
		fmt.Fprintf(g.out, "Error: %v\n", err)
		return
	}
	g.conversationID = uuid.New().String()
	fmt.Fprintln(g.out, "Conversation erased.")
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

// newCorrelationID generates a short random hex ID for request tracing.
func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
