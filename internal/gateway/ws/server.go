// Package ws implements the WebSocket chat gateway. Clients authenticate with
// an API key, send chat.message envelopes and receive the turn's progress
// (text deltas, tool calls, tool results) followed by chat.final.
package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/ruhusa/internal/agent"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/protocol"
	"github.com/jkaninda/ruhusa/internal/ratelimit"
	"github.com/jkaninda/ruhusa/internal/security"
)

// Subprotocol is the WebSocket subprotocol clients may request.
const Subprotocol = "ruhusa-chat-v1"

const (
	defaultHeartbeat = 30 * time.Second
	maxMessageBytes  = 64 << 10
)

// Config configures the WebSocket server.
type Config struct {
	ListenAddr        string        // Used by Start when not mounted on the HTTP gateway.
	Path              string        // e.g. "/ws/chat".
	HeartbeatInterval time.Duration // Default: 30s.
	// OriginPatterns are host patterns allowed for cross-origin browsers.
	OriginPatterns []string
}

// RateLimitRecorder counts rejected messages (metrics).
type RateLimitRecorder interface {
	RecordRateLimited(gateway string)
}

// Server accepts chat connections and runs agent turns for them.
type Server struct {
	cfg      Config
	agent    agent.Agent
	auth     *security.KeyAuthenticator
	limiter  *ratelimit.Limiter
	recorder RateLimitRecorder
	logger   *slog.Logger

	server *http.Server
	conns  sync.WaitGroup
}

// NewServer creates a WebSocket chat server.
func NewServer(cfg Config, a agent.Agent, auth *security.KeyAuthenticator, rl *ratelimit.Limiter, logger *slog.Logger) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	return &Server{cfg: cfg, agent: a, auth: auth, limiter: rl, logger: logger}
}

// WithRecorder attaches a rate-limit recorder.
func (s *Server) WithRecorder(r RateLimitRecorder) *Server {
	s.recorder = r
	return s
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Start serves the chat endpoint on its own listener. Use Handler instead to
// mount it on the HTTP gateway.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.Handler())
	s.server = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	s.logger.Info("websocket gateway starting",
		slog.String("addr", s.cfg.ListenAddr),
		slog.String("path", s.cfg.Path),
	)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the listener (if any) and waits for open connections.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		s.logger.Info("websocket gateway stopping")
		err = s.server.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.AuthenticateRequest(r, true)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	s.conns.Add(1)
	defer s.conns.Done()
	s.handleConnection(r.Context(), conn, userID)
}

// session is one authenticated connection.
type session struct {
	conn           *websocket.Conn
	userID         string
	conversationID string

	mu   sync.Mutex // Guards busy.
	busy bool
	turn sync.WaitGroup
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(ctx)
	sess := &session{conn: conn, userID: userID, conversationID: uuid.New().String()}
	defer func() {
		cancel()
		sess.turn.Wait()
		conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	s.logger.InfoContext(ctx, "websocket client connected", slog.String("user_id", userID))

	ready, _ := protocol.NewEnvelope(protocol.MsgReady, protocol.ReadyPayload{
		UserID:         userID,
		ConversationID: sess.conversationID,
	})
	if err := s.writeEnvelope(ctx, conn, ready); err != nil {
		return
	}

	go s.heartbeatLoop(ctx, conn, userID)

	// Main message loop. Turns run in their own goroutine so control frames
	// keep being read while the agent works.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				s.logger.Info("websocket client disconnected", slog.String("user_id", userID))
			} else if ctx.Err() == nil {
				s.logger.Warn("websocket connection error",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(ctx, conn, "", "bad_request", "invalid message")
			continue
		}
		s.handleMessage(ctx, sess, &env)
	}
}

func (s *Server) handleMessage(ctx context.Context, sess *session, env *protocol.Envelope) {
	switch env.Type {
	case protocol.MsgPong:
		// Heartbeat reply; nothing to do.

	case protocol.MsgChat:
		var p protocol.ChatPayload
		if err := env.Decode(&p); err != nil || strings.TrimSpace(p.Message) == "" {
			s.sendError(ctx, sess.conn, env.ID, "bad_request", "message is required")
			return
		}
		if err := s.limiter.Allow(sess.userID); err != nil {
			if s.recorder != nil {
				s.recorder.RecordRateLimited("websocket")
			}
			s.sendError(ctx, sess.conn, env.ID, "rate_limited", err.Error())
			return
		}

		sess.mu.Lock()
		if sess.busy {
			sess.mu.Unlock()
			s.sendError(ctx, sess.conn, env.ID, "busy", "a message is already being processed")
			return
		}
		sess.busy = true
		sess.mu.Unlock()

		sess.turn.Add(1)
		go func() {
			defer sess.turn.Done()
			defer func() {
				sess.mu.Lock()
				sess.busy = false
				sess.mu.Unlock()
			}()
			s.runTurn(ctx, sess, env.ID, &p)
		}()

	default:
		s.sendError(ctx, sess.conn, env.ID, "bad_request", fmt.Sprintf("unknown message type %q", env.Type))
	}
}

// runTurn streams one agent turn back to the client.
func (s *Server) runTurn(ctx context.Context, sess *session, replyTo string, p *protocol.ChatPayload) {
	convID := p.ConversationID
	if convID == "" {
		convID = sess.conversationID
	}
	input := &agent.Input{
		UserID:         sess.userID,
		Message:        p.Message,
		CorrelationID:  newCorrelationID(),
		ConversationID: convID,
		Confirmed:      p.Confirmed,
	}

	sink := func(ev agent.Event) {
		msgType, payload, ok := eventEnvelope(ev)
		if !ok {
			return
		}
		env, err := protocol.Reply(replyTo, msgType, payload)
		if err != nil {
			return
		}
		_ = s.writeEnvelope(ctx, sess.conn, env)
	}

	resp, err := s.agent.ProcessStream(ctx, input, sink)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.ErrorContext(ctx, "agent stream failed",
			slog.String("user_id", sess.userID),
			slog.String("correlation_id", input.CorrelationID),
			slog.String("error", err.Error()),
		)
		code, msg := "internal", "processing failed"
		if errors.Is(err, domain.ErrForbidden) {
			code, msg = "forbidden", "conversation belongs to another user"
		}
		s.sendError(ctx, sess.conn, replyTo, code, msg)
		return
	}

	// Follow-up messages continue the conversation the store actually used.
	if p.ConversationID == "" {
		sess.conversationID = resp.ConversationID
	}
	final, _ := protocol.Reply(replyTo, protocol.MsgFinal, protocol.FinalPayload{
		Message:        resp.Message,
		ConversationID: resp.ConversationID,
		CorrelationID:  input.CorrelationID,
		Iterations:     resp.Iterations,
		TokensUsed:     resp.TokensUsed,
		LimitReached:   resp.LimitReached,
	})
	_ = s.writeEnvelope(ctx, sess.conn, final)
}

// eventEnvelope maps an agent event to a protocol message. Final and error
// events are sent by runTurn with the response metadata.
func eventEnvelope(ev agent.Event) (protocol.MessageType, any, bool) {
	switch ev.Type {
	case agent.EventTextDelta:
		return protocol.MsgTextDelta, protocol.TextDeltaPayload{Text: ev.Text}, true
	case agent.EventToolCall, agent.EventToolResult:
		if ev.Call == nil {
			return "", nil, false
		}
		msgType := protocol.MsgToolCall
		if ev.Type == agent.EventToolResult {
			msgType = protocol.MsgToolResult
		}
		return msgType, protocol.ToolPayload{
			ID:        ev.Call.ID,
			Name:      ev.Call.Name,
			Arguments: ev.Call.Arguments,
			State:     string(ev.Call.State),
			Result:    ev.Call.Result,
			Error:     ev.Call.Error,
			Iteration: ev.Iteration,
		}, true
	}
	return "", nil, false
}

func (s *Server) heartbeatLoop(ctx context.Context, conn *websocket.Conn, userID string) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, _ := protocol.NewEnvelope(protocol.MsgPing, nil)
			if err := s.writeEnvelope(ctx, conn, env); err != nil {
				s.logger.Debug("heartbeat ping failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, replyTo, code, msg string) {
	env, err := protocol.Reply(replyTo, protocol.MsgError, protocol.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = s.writeEnvelope(ctx, conn, env)
}

func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
