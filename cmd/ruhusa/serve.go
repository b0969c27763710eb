package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/ruhusa/internal/config"
	"github.com/jkaninda/ruhusa/internal/gateway"
	"github.com/jkaninda/ruhusa/internal/gateway/httpapi"
	"github.com/jkaninda/ruhusa/internal/gateway/ws"
	"github.com/jkaninda/ruhusa/internal/ratelimit"
	"github.com/jkaninda/ruhusa/internal/scheduler"
	"github.com/jkaninda/ruhusa/internal/security"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, WebSocket chat and reminder scheduler",
	RunE:  runServe,
}

func init() {
	// Register on both root and serve so `ruhusa --port :9090` works too.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the network gateways and the reminder scheduler and blocks
// until a signal arrives or a gateway fails.
func runServe(_ *cobra.Command, _ []string) error {
	settings, cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, settings, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Reminder scheduler.
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		var metrics *scheduler.Metrics
		if sc.Obs.Metrics != nil {
			metrics = scheduler.NewMetrics(sc.Obs.Metrics.Registry)
		}
		sched, err := scheduler.New(sc.Lifecycle, metrics, logger, cfg.Scheduler)
		if err != nil {
			return fmt.Errorf("initializing scheduler: %w", err)
		}
		stopScheduler := sched.Start(ctx)
		defer stopScheduler()
	}

	gateways := buildGateways(cfg, sc)
	if len(gateways) == 0 {
		return fmt.Errorf("no network gateways enabled in config (gateways.http or gateways.websocket)")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	g, gctx := errgroup.WithContext(ctx)
	for _, gw := range gateways {
		g.Go(func() error { return gw.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
		defer cancel()
		for i := len(gateways) - 1; i >= 0; i-- {
			if err := gateways[i].Stop(shutdownCtx); err != nil {
				logger.Error("stopping gateway", slog.String("error", err.Error()))
			}
		}
		return nil
	})
	return g.Wait()
}

// buildGateways assembles the enabled network gateways. The WebSocket
// endpoint is mounted on the HTTP server when both are enabled and gets its
// own listener otherwise. Both share the API key mapping and rate limiter.
func buildGateways(cfg *config.Config, sc *SharedComponents) []gateway.Gateway {
	logger := sc.Logger
	httpCfg := cfg.Gateways.HTTP
	wsCfg := cfg.Gateways.WebSocket

	var (
		keys      map[string]string
		rateLimit config.RateLimitConfig
	)
	if httpCfg != nil {
		keys = httpCfg.APIKeyUserMapping
		rateLimit = httpCfg.RateLimit
	}
	auth := security.NewKeyAuthenticator(keys)
	if auth.Len() == 0 {
		logger.Warn("no API keys configured; every authenticated request will be rejected")
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: rateLimit.RequestsPerMinute,
		BurstSize:         rateLimit.BurstSize,
	})

	var wsServer *ws.Server
	if wsCfg != nil && wsCfg.Enabled {
		wsServer = ws.NewServer(ws.Config{
			ListenAddr: wsCfg.Addr(),
			Path:       wsCfg.WSPath(),
		}, sc.Agent, auth, limiter, logger).WithRecorder(sc.Recorder)
	}

	var gws []gateway.Gateway
	if httpCfg != nil && httpCfg.Enabled {
		apiCfg := httpapi.Config{
			ListenAddr:     httpCfg.Addr(),
			EnableDocs:     true,
			MaxRequestSize: httpCfg.MaxRequestSizeBytes,
			SSE:            httpCfg.SSE,
			HealthChecker:  sc.Obs.Health,
			Metrics:        sc.Obs.Metrics,
			Tracer:         sc.Obs.TracerOrNil().Tracer(),
		}
		if sc.Obs.Metrics != nil {
			apiCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			if o := cfg.Observability; o != nil && o.Metrics != nil {
				apiCfg.MetricsPath = o.Metrics.Path
			}
		}

		api := httpapi.NewGateway(apiCfg, sc.Agent, sc.Lifecycle, auth, limiter, logger).
			WithRecorder(sc.Recorder)
		if sc.Receipts != nil {
			api.WithReceipts(sc.Receipts)
		}
		gws = append(gws, api)
		if wsServer != nil {
			api.WithHandler(wsCfg.WSPath(), wsServer.Handler())
			gws = append(gws, mountedGateway{wsServer})
			logger.Debug("websocket mounted on http gateway", slog.String("path", wsCfg.WSPath()))
		}
		logger.Info("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", apiCfg.ListenAddr),
			slog.Bool("sse", apiCfg.SSE),
		)
	} else if wsServer != nil {
		gws = append(gws, wsServer)
		logger.Info("gateway enabled",
			slog.String("type", "websocket"),
			slog.String("addr", wsCfg.Addr()),
		)
	}
	return gws
}

// mountedGateway is a gateway served by another gateway's listener. Start
// only waits; Stop lets it drain its own connections.
type mountedGateway struct {
	inner gateway.Gateway
}

func (m mountedGateway) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m mountedGateway) Stop(ctx context.Context) error { return m.inner.Stop(ctx) }
