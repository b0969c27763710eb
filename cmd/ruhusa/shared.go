package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ruhusa/internal/agent"
	"github.com/jkaninda/ruhusa/internal/audit"
	"github.com/jkaninda/ruhusa/internal/config"
	"github.com/jkaninda/ruhusa/internal/handbook"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/llm"
	"github.com/jkaninda/ruhusa/internal/llm/anthropic"
	"github.com/jkaninda/ruhusa/internal/llm/openai"
	"github.com/jkaninda/ruhusa/internal/logging"
	"github.com/jkaninda/ruhusa/internal/notification"
	"github.com/jkaninda/ruhusa/internal/observability"
	"github.com/jkaninda/ruhusa/internal/policy"
	"github.com/jkaninda/ruhusa/internal/receipt"
	"github.com/jkaninda/ruhusa/internal/secrets"
	"github.com/jkaninda/ruhusa/internal/storage"
	pgstore "github.com/jkaninda/ruhusa/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/ruhusa/internal/storage/sqlite"
	"github.com/jkaninda/ruhusa/internal/tools"
	"github.com/jkaninda/ruhusa/internal/tools/catalog"
)

// configPath is the --config flag shared by every command.
var configPath string

// SharedComponents holds the subsystems every command builds on.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Settings config.Settings
	Logger   *slog.Logger
	Store    storage.Store

	Obs         *observability.Observability
	Recorder    *observability.Recorder
	LLMProvider llm.Provider
	AuditFile   *audit.FileSink
	Handbook    *handbook.Index
	Engine      *policy.Engine
	Notifier    *notification.Dispatcher // nil = notifications disabled.
	Lifecycle   *lifecycle.Manager
	Receipts    *receipt.Service // nil = receipts not configured.
	Dispatcher  *tools.Dispatcher
	Agent       *agent.Orchestrator

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads process settings, builds the logger and loads the config
// file named by --config, RUHUSA_CONFIG or the default path.
func loadConfig() (config.Settings, *config.Config, *slog.Logger, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return settings, nil, nil, fmt.Errorf("reading environment settings: %w", err)
	}
	logger := logging.New(settings.LogLevel, settings.LogFormat, os.Stderr)

	path := configPath
	if path == "" {
		path = goutils.Env("RUHUSA_CONFIG", settings.ConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return settings, nil, nil, err
	}
	logger.Debug("config loaded", slog.String("path", path))
	return settings, cfg, logger, nil
}

// initStorage opens the configured store and runs migrations. Commands that
// only need the database (seed) stop here.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))
	return store, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		return pgstore.OpenStore(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime(),
		}, logger)
	case storage.DriverSQLite:
		journalMode := "wal"
		if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqlitestore.Config{
			Path:        cfg.DatabasePath(),
			JournalMode: journalMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// initShared performs the initialization shared by serve, chat and mcp.
// Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, settings config.Settings, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{Config: cfg, Settings: settings, Logger: logger}

	// Secret references.
	resolver, err := secrets.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := secrets.ResolveConfig(ctx, resolver, cfg, logger); err != nil {
		return nil, err
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.Recorder = obs.Recorder()
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	logger.Debug("observability initialized",
		slog.Bool("metrics", obs.Metrics != nil),
		slog.Bool("tracing", obs.Tracer != nil),
		slog.Bool("anomaly", obs.Anomaly != nil),
	)
	tracer := obs.TracerOrNil().Tracer()

	// LLM provider.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))
	if obs.Metrics != nil || obs.Tracer != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
	}
	sc.LLMProvider = provider

	// Storage.
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	obs.Health.AddCheck("database", store.Ping)

	// Audit. Lifecycle and receipt records are written to the database inside
	// their transaction and mirrored to the file; tool records go to both.
	fileSink, err := audit.NewFileSink(cfg.AuditLogPath(), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	sc.AuditFile = fileSink
	sc.addCleanup(func() { _ = fileSink.Close() })
	toolAudit := audit.Multi{audit.NewStoreSink(store.Audit(), logger), fileSink}

	// Handbook.
	hb, err := initHandbook(cfg, provider, logger)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Handbook = hb

	// Policy engine.
	rules := cfg.Policy.Rules()
	sc.Engine = policy.NewEngine(rules, policy.Deps{
		Employees:  store.Employees(),
		Balances:   store.Balances(),
		Calendar:   store.Calendar(),
		Expenses:   store.ExpenseRequests(),
		PolicyText: hb,
	}, logger).WithRecorder(sc.Recorder)
	logger.Debug("policy engine initialized",
		slog.String("insufficient_balance_mode", string(rules.InsufficientBalanceMode)),
	)

	// Notifications.
	lcOpts := []lifecycle.Option{
		lifecycle.WithAuditMirror(fileSink),
		lifecycle.WithRecorder(sc.Recorder),
	}
	if n := cfg.Notification; n != nil && n.Enabled {
		sc.Notifier = initNotifier(n, store, logger)
		lcOpts = append(lcOpts, lifecycle.WithNotifier(sc.Notifier))
		logger.Debug("notification dispatcher initialized", slog.Any("senders", sc.Notifier.Senders()))
	}

	// Request lifecycle.
	sc.Lifecycle = lifecycle.New(store, logger, lcOpts...)

	// Receipts.
	if r := cfg.Receipts; r != nil {
		extractor := receipt.NewHTTPExtractor(r.ExtractorURL, r.APIKey, r.Timeout())
		sc.Receipts = receipt.NewService(store, extractor, receipt.Config{
			Dir:      cfg.ReceiptDir(),
			MaxBytes: r.MaxBytes,
		}, fileSink, logger)
		logger.Debug("receipt service initialized", slog.String("dir", cfg.ReceiptDir()))
	}

	// Tool catalog.
	registry, err := catalog.NewRegistry(catalog.Deps{
		Store:     store,
		Engine:    sc.Engine,
		Lifecycle: sc.Lifecycle,
		Receipts:  sc.Receipts,
		Handbook:  hb,
		Logger:    logger,
	})
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("building tool catalog: %w", err)
	}
	sc.Dispatcher = tools.NewDispatcher(registry, logger,
		tools.WithAudit(toolAudit),
		tools.WithRecorder(sc.Recorder),
		tools.WithTracer(tracer),
	)
	logger.Debug("tools registered", slog.Any("tools", registry.Names()))

	// Agent core.
	agentCfg := cfg.Agent
	orch := agent.NewOrchestrator(provider, sc.Dispatcher, logger).
		WithConversationStore(store.Conversations(), agentCfg.History()).
		WithIdentity(store.Employees()).
		WithMaxIterations(agentCfg.Iterations()).
		WithGeneration(agentCfg.Tokens(), temperature(agentCfg)).
		WithTurnTimeout(agentCfg.RequestTimeout()).
		WithRecorder(sc.Recorder).
		WithTracer(tracer)
	if agentCfg != nil {
		orch.WithTokenBudget(agentCfg.InputTokenBudget).
			WithMaxMessageBytes(agentCfg.MaxMessageBytes).
			WithStrictActions(!agentCfg.AllowPlainAnswers)
	}
	sc.Agent = orch

	return sc, nil
}

func temperature(a *config.AgentConfig) float64 {
	if a == nil {
		return 0
	}
	return a.Temperature
}

func initHandbook(cfg *config.Config, provider llm.Provider, logger *slog.Logger) (*handbook.Index, error) {
	opts := []handbook.Option{handbook.WithLogger(logger)}
	if cfg.Handbook != nil && cfg.Handbook.Summarize {
		opts = append(opts, handbook.WithSummarizer(provider))
	}
	if cfg.Handbook == nil || cfg.Handbook.Path == "" {
		return handbook.Default(opts...), nil
	}
	hb, err := handbook.Load(cfg.Handbook.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading handbook: %w", err)
	}
	logger.Debug("handbook loaded",
		slog.String("path", cfg.Handbook.Path),
		slog.Int("sections", len(hb.Sections())),
	)
	return hb, nil
}

func initNotifier(n *config.NotificationConfig, store storage.Store, logger *slog.Logger) *notification.Dispatcher {
	d := notification.NewDispatcher(store.Employees(), logger)
	if w := n.Webhook; w != nil {
		d.RegisterSender(notification.NewWebhookSender(notification.WebhookConfig{
			URL:          w.URL,
			Headers:      w.Headers,
			AllowPrivate: w.AllowPrivate,
			Timeout:      time.Duration(w.TimeoutSeconds) * time.Second,
		}, logger))
	}
	if e := n.Email; e != nil {
		d.RegisterSender(notification.NewEmailSender(notification.SMTPConfig{
			Host:     e.Host,
			Port:     e.Port,
			Username: e.Username,
			Password: e.Password,
			From:     e.From,
			TLS:      e.TLS,
		}, logger))
	}
	return d
}

// newLLMProvider builds the default provider, chained with the configured
// fallbacks when there are any.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	names := append([]string{cfg.Providers.Default}, cfg.Providers.Fallback...)
	providers := make([]llm.Provider, 0, len(names))
	for _, name := range names {
		p, err := buildProvider(name, cfg, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return llm.NewFallbackProvider(providers, logger)
}

func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "openai":
		c := cfg.Providers.OpenAI
		var opts []openai.Option
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		return openai.NewClient(c.APIKey, c.Model, logger, opts...), nil
	case "anthropic":
		c := cfg.Providers.Anthropic
		return anthropic.NewClient(c.APIKey, c.Model, logger), nil
	case "ollama":
		c := cfg.Providers.Ollama
		baseURL := c.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient("", c.Model, logger, openai.WithBaseURL(baseURL), openai.WithName("ollama")), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", name)
	}
}
