// Package httpapi implements the HTTP API gateway for Ruhusa.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB, receipts use their own cap)
//   - Per-user rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/ruhusa/internal/agent"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/observability"
	"github.com/jkaninda/ruhusa/internal/ratelimit"
	"github.com/jkaninda/ruhusa/internal/security"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	MaxRequestSize int64 // Maximum JSON body in bytes. 0 = 1 MB default.
	SSE            bool  // Enable POST /v1/chat/stream.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Requests is the request lifecycle surface the API exposes.
// *lifecycle.Manager implements it.
type Requests interface {
	ListMine(ctx context.Context, employeeID string, q lifecycle.Query) ([]lifecycle.Summary, error)
	ListPendingForManager(ctx context.Context, managerID string, limit int) ([]lifecycle.Summary, error)
	Decide(ctx context.Context, d lifecycle.Decision) (*lifecycle.Outcome, error)
	Cancel(ctx context.Context, actor domain.Actor, kind domain.RequestKind, id uuid.UUID) (*lifecycle.Outcome, error)
}

// Receipts stores uploaded receipts. *receipt.Service implements it.
type Receipts interface {
	Upload(ctx context.Context, actor domain.Actor, filename, contentType string, r io.Reader) (*domain.Receipt, error)
	Extract(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.ReceiptData, error)
}

// RateLimitRecorder counts rejected requests (metrics).
type RateLimitRecorder interface {
	RecordRateLimited(gateway string)
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	agent    agent.Agent
	requests Requests
	receipts Receipts // nil = receipt endpoints disabled.
	auth     *security.KeyAuthenticator
	limiter  *ratelimit.Limiter
	recorder RateLimitRecorder
	logger   *slog.Logger
	server   *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., WebSocket chat endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, a agent.Agent, requests Requests, auth *security.KeyAuthenticator, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		agent:    a,
		requests: requests,
		auth:     auth,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithReceipts enables the receipt upload and extraction endpoints.
func (g *Gateway) WithReceipts(r Receipts) *Gateway {
	g.receipts = r
	return g
}

// WithRecorder attaches a rate-limit recorder.
func (g *Gateway) WithRecorder(r RateLimitRecorder) *Gateway {
	g.recorder = r
	return g
}

// WithHandler mounts an additional GET handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket chat endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

func (g *Gateway) withOpenAPIDocs() {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Ruhusa",
			Version: "v1",
		},
	)
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}
	g.okapi.UseMiddleware(g.limitBody)

	g.registerRoutes()

	// Extra handlers (e.g., WebSocket chat endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.withOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Agent turns and SSE streams can run for minutes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting",
		slog.String("addr", g.config.ListenAddr),
		slog.Int("api_keys", g.auth.Len()),
		slog.Bool("sse", g.config.SSE),
	)

	err := g.okapi.StartServer(g.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

func (g *Gateway) registerRoutes() {
	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Send a message to the HR assistant"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	if g.config.SSE {
		g.group.Post("/chat/stream", g.handleChatStream,
			okapi.DocSummary("Stream an assistant turn via SSE"),
			okapi.DocTags("Chat"),
			okapi.DocRequestBody(ChatRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		)
	}

	if _, ok := g.agent.(agent.ConversationForgetter); ok {
		g.group.Delete("/conversations/{id}", g.handleForgetConversation,
			okapi.DocSummary("Erase one of the caller's conversations"),
			okapi.DocTags("Chat"),
			okapi.DocPathParam("id", "string", "Conversation ID (UUID)"),
			okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	g.group.Get("/requests", g.handleListMine,
		okapi.DocSummary("List the caller's PTO and expense requests"),
		okapi.DocTags("Requests"),
		okapi.DocResponse([]lifecycle.Summary{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/requests/pending", g.handleListPending,
		okapi.DocSummary("List requests awaiting the caller's decision"),
		okapi.DocTags("Requests"),
		okapi.DocResponse([]lifecycle.Summary{}),
	)
	g.group.Post("/requests/{kind}/{id}/decision", g.handleDecision,
		okapi.DocSummary("Approve or deny a pending request"),
		okapi.DocTags("Requests"),
		okapi.DocPathParam("kind", "string", "Request kind (pto or expense)"),
		okapi.DocPathParam("id", "string", "Request ID (UUID)"),
		okapi.DocRequestBody(DecisionRequest{}),
		okapi.DocResponse(lifecycle.Outcome{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/requests/{kind}/{id}/cancel", g.handleCancel,
		okapi.DocSummary("Cancel one of the caller's pending requests"),
		okapi.DocTags("Requests"),
		okapi.DocPathParam("kind", "string", "Request kind (pto or expense)"),
		okapi.DocPathParam("id", "string", "Request ID (UUID)"),
		okapi.DocResponse(lifecycle.Outcome{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)

	if g.receipts != nil {
		// Multipart uploads are served by a plain net/http handler.
		g.okapi.HandleStd("POST", "/v1/receipts", g.authenticateStd(g.handleReceiptUpload))
		g.group.Post("/receipts/{id}/extract", g.handleReceiptExtract,
			okapi.DocSummary("Extract amount, date and merchant from a receipt"),
			okapi.DocTags("Receipts"),
			okapi.DocPathParam("id", "string", "Receipt ID (UUID)"),
			okapi.DocResponse(domain.ReceiptData{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
			okapi.DocResponse(http.StatusUnprocessableEntity, ErrorBody{}),
		)
	}
}

// --- Health ---

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication and limits ---

// authenticate validates the API key and stores the mapped employee ID.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		key, ok := security.BearerToken(c.Header("Authorization"))
		if !ok {
			return c.AbortUnauthorized(security.ErrMissingCredentials.Error())
		}
		userID, err := g.auth.Authenticate(key)
		if err != nil {
			return c.AbortUnauthorized(err.Error())
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// authenticateStd is authenticate for plain net/http handlers.
func (g *Gateway) authenticateStd(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := g.auth.AuthenticateRequest(r, false)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorBody{Error: err.Error()})
			return
		}
		if !g.allow(r.Context(), userID) {
			writeJSON(w, http.StatusTooManyRequests, ErrorBody{Error: ratelimit.ErrRateLimited.Error()})
			return
		}
		next(w, r, userID)
	}
}

// allow applies the per-user rate limit.
func (g *Gateway) allow(ctx context.Context, userID string) bool {
	if err := g.limiter.Allow(userID); err != nil {
		if g.recorder != nil {
			g.recorder.RecordRateLimited("http")
		}
		g.logger.WarnContext(ctx, "rate limited", slog.String("user_id", userID))
		return false
	}
	return true
}

// limitBody caps request bodies. Receipt uploads carry their own cap.
func (g *Gateway) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.URL.Path != "/v1/receipts" {
			r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
		}
		next.ServeHTTP(w, r)
	})
}

// caller returns the authenticated employee ID and applies the rate limit.
// A false return means the response has already been written.
func (g *Gateway) caller(c *okapi.Context) (string, bool, error) {
	userID := c.GetString("userID")
	if userID == "" {
		return "", false, c.AbortUnauthorized("Unauthorized")
	}
	if !g.allow(c.Context(), userID) {
		return "", false, c.AbortTooManyRequests("rate limit exceeded")
	}
	return userID, true, nil
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
