package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/tools"
)

type balanceTool struct {
	seen []tools.Invocation
}

func (b *balanceTool) Name() string        { return "check_pto_balance" }
func (b *balanceTool) Description() string { return "Return the caller's PTO balance." }
func (b *balanceTool) SideEffect() bool    { return false }
func (b *balanceTool) InputSchema() map[string]any {
	return tools.Object(map[string]any{"year": tools.Integer("Balance year", 2000, 2100)})
}

func (b *balanceTool) Execute(_ context.Context, inv tools.Invocation, params map[string]any) (*tools.Result, error) {
	b.seen = append(b.seen, inv)
	if _, ok := params["year"]; ok {
		return tools.Fail("only the current year is available", nil), nil
	}
	return tools.OK("balance", map[string]any{"days": 12.5}), nil
}

func newTestServer(t *testing.T) (*Server, *balanceTool) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bt := &balanceTool{}
	reg := tools.NewRegistry()
	reg.MustRegister(bt)
	s, err := NewServer(tools.NewDispatcher(reg, logger), "E001", "test", nil, io.Discard, logger)
	require.NoError(t, err)
	return s, bt
}

// call sends one JSON-RPC message and returns the response as generic JSON.
func call(t *testing.T, s *Server, msg string) map[string]any {
	t.Helper()
	resp := s.MCP().HandleMessage(context.Background(), json.RawMessage(msg))
	require.NotNil(t, resp)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func initialize(t *testing.T, s *Server) {
	call(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)
}

func TestNewServer_RequiresEmployee(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewServer(tools.NewDispatcher(tools.NewRegistry(), logger), "", "test", nil, io.Discard, logger)
	assert.Error(t, err)
}

func TestToolsList(t *testing.T) {
	s, _ := newTestServer(t)
	initialize(t, s)

	out := call(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	result := out["result"].(map[string]any)
	list := result["tools"].([]any)
	require.Len(t, list, 1)
	tool := list[0].(map[string]any)
	assert.Equal(t, "check_pto_balance", tool["name"])
	assert.Contains(t, tool["inputSchema"].(map[string]any)["properties"], "year")
}

func TestToolsCall(t *testing.T) {
	s, bt := newTestServer(t)
	initialize(t, s)

	out := call(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"check_pto_balance","arguments":{}}}`)
	result := out["result"].(map[string]any)
	assert.NotEqual(t, true, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	assert.Contains(t, content["text"], `"days":12.5`)

	require.Len(t, bt.seen, 1)
	assert.Equal(t, "E001", bt.seen[0].UserID)
	assert.False(t, bt.seen[0].Confirmed)
}

func TestToolsCall_FailuresAreErrors(t *testing.T) {
	s, _ := newTestServer(t)
	initialize(t, s)

	out := call(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"check_pto_balance","arguments":{"year":2026}}}`)
	assert.Equal(t, true, out["result"].(map[string]any)["isError"])

	// Schema violations are rejected by the dispatcher before execution.
	out = call(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"check_pto_balance","arguments":{"year":"soon"}}}`)
	assert.Equal(t, true, out["result"].(map[string]any)["isError"])
}
