// Package mcpserver exposes the HR tool catalog over the Model Context
// Protocol (stdio). Tools run as one configured employee and pass through
// the same dispatcher as agent tool calls: schema validation, audit and
// metrics included.
//
// MCP hosts approve tool calls themselves, so invocations are never marked
// as confirmed: a submission that needs the employee's confirmation returns
// the confirmation-required result instead of proceeding.
package mcpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/tools"
)

// ToolDispatcher runs tool calls. *tools.Dispatcher implements it.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, inv tools.Invocation, name string, params map[string]any) (*tools.Result, error)
	Registry() *tools.Registry
}

// Server is the MCP stdio gateway.
type Server struct {
	dispatcher ToolDispatcher
	employeeID string
	logger     *slog.Logger
	mcp        *server.MCPServer
	in         io.Reader
	out        io.Writer
	// One conversation per server process; tools scope caches and audit by it.
	conversationID uuid.UUID
	cancel         context.CancelFunc
}

// NewServer registers every catalog tool on a new MCP server.
func NewServer(d ToolDispatcher, employeeID, version string, in io.Reader, out io.Writer, logger *slog.Logger) (*Server, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("mcp gateway requires an employee ID (gateways.mcp.employee_id or RUHUSA_MCP_EMPLOYEE_ID)")
	}
	s := &Server{
		dispatcher:     d,
		employeeID:     employeeID,
		logger:         logger,
		in:             in,
		out:            out,
		conversationID: uuid.New(),
		mcp: server.NewMCPServer("ruhusa", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	for _, t := range d.Registry().All() {
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("encoding schema for %s: %w", t.Name(), err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema), s.handle(t.Name()))
	}
	return s, nil
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Start serves MCP over the configured reader and writer until ctx is
// cancelled or the input is closed.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("mcp gateway starting",
		slog.String("employee_id", s.employeeID),
		slog.Int("tools", len(s.dispatcher.Registry().Names())),
	)
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, s.in, s.out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop ends the stdio loop.
func (s *Server) Stop(_ context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Server) handle(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		inv := tools.Invocation{
			UserID:         s.employeeID,
			ActorKind:      domain.ActorAgent,
			ConversationID: s.conversationID,
			CorrelationID:  newCorrelationID(),
		}
		result, err := s.dispatcher.Dispatch(ctx, inv, name, req.GetArguments())
		if err != nil {
			s.logger.WarnContext(ctx, "mcp tool call failed",
				slog.String("tool", name),
				slog.String("correlation_id", inv.CorrelationID),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return renderResult(result)
	}
}

// renderResult turns a tool result into MCP text content. Unsuccessful
// results (policy denials, confirmation prompts) are flagged as errors so the
// host shows them to the user.
func renderResult(r *tools.Result) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	text := tools.TruncateOutput(string(data), tools.MaxOutputBytes)
	if !r.Success {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
