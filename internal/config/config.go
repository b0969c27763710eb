// Package config handles loading and validating Ruhusa configuration.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/policy"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Ruhusa.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.ruhusa/data. Override: RUHUSA_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Agent         *AgentConfig         `json:"agent,omitempty" yaml:"agent,omitempty"`                 // nil = defaults
	Policy        *PolicyConfig        `json:"policy,omitempty" yaml:"policy,omitempty"`               // nil = handbook defaults
	Handbook      *HandbookConfig      `json:"handbook,omitempty" yaml:"handbook,omitempty"`           // nil = embedded handbook
	Receipts      *ReceiptsConfig      `json:"receipts,omitempty" yaml:"receipts,omitempty"`           // nil = receipt extraction disabled
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = database audit only
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Notification  *NotificationConfig  `json:"notification,omitempty" yaml:"notification,omitempty"`   // nil = notifications disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = reminders disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Secrets       *SecretsConfig       `json:"secrets,omitempty" yaml:"secrets,omitempty"`             // nil = only env:// references resolve
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: RUHUSA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ConnMaxLifetime returns the connection lifetime with a default of 30m.
func (p *PostgresStorageConfig) ConnMaxLifetime() time.Duration {
	if p != nil && p.ConnMaxLifetimeS > 0 {
		return time.Duration(p.ConnMaxLifetimeS) * time.Second
	}
	return 30 * time.Minute
}

// ProvidersConfig selects the LLM backends.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "openai", "anthropic", "ollama". Empty = "openai".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// AgentConfig tunes the tool-orchestration loop.
type AgentConfig struct {
	MaxIterations     int     `json:"max_iterations" yaml:"max_iterations"`           // Default: 15.
	HistoryWindow     int     `json:"history_window" yaml:"history_window"`           // Prior messages loaded per turn. Default: 10.
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens"`                   // Per model call. Default: 1024.
	Temperature       float64 `json:"temperature" yaml:"temperature"`                 // Default: 0.
	InputTokenBudget  int     `json:"input_token_budget" yaml:"input_token_budget"`   // Default: 12000.
	AllowPlainAnswers bool    `json:"allow_plain_answers" yaml:"allow_plain_answers"` // Take prose without an action block as the answer.
	MaxMessageBytes   int     `json:"max_message_bytes" yaml:"max_message_bytes"`     // Default: 32768.
	RequestTimeoutSec int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// Iterations returns the loop ceiling with a default of 15.
func (a *AgentConfig) Iterations() int {
	if a != nil && a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return 15
}

// History returns the history window with a default of 10.
func (a *AgentConfig) History() int {
	if a != nil && a.HistoryWindow > 0 {
		return a.HistoryWindow
	}
	return 10
}

// Tokens returns the per-call generation limit with a default of 1024.
func (a *AgentConfig) Tokens() int {
	if a != nil && a.MaxTokens > 0 {
		return a.MaxTokens
	}
	return 1024
}

// RequestTimeout returns the per-turn timeout with a default of 120s.
func (a *AgentConfig) RequestTimeout() time.Duration {
	if a != nil && a.RequestTimeoutSec > 0 {
		return time.Duration(a.RequestTimeoutSec) * time.Second
	}
	return 120 * time.Second
}

// PolicyConfig overrides the handbook rule values. Zero values keep the defaults.
type PolicyConfig struct {
	PTOThresholds           map[string]int     `json:"pto_thresholds,omitempty" yaml:"pto_thresholds,omitempty"`       // Tier → business days.
	ExpenseCeilings         map[string]float64 `json:"expense_ceilings,omitempty" yaml:"expense_ceilings,omitempty"`   // Tier → dollars.
	ReceiptThreshold        float64            `json:"receipt_threshold,omitempty" yaml:"receipt_threshold,omitempty"` // Dollars. Default: 75.
	PerDiem                 map[string]float64 `json:"per_diem,omitempty" yaml:"per_diem,omitempty"`                   // Category → dollars per day.
	Categories              []string           `json:"categories,omitempty" yaml:"categories,omitempty"`
	NonReimbursableKeywords []string           `json:"non_reimbursable_keywords,omitempty" yaml:"non_reimbursable_keywords,omitempty"`
	InsufficientBalanceMode string             `json:"insufficient_balance_mode,omitempty" yaml:"insufficient_balance_mode,omitempty"` // "confirm" (default) or "auto_escalate".
}

// Rules merges the overrides onto policy.DefaultRules.
func (p *PolicyConfig) Rules() policy.Rules {
	rules := policy.DefaultRules()
	if p == nil {
		return rules
	}
	for tier, days := range p.PTOThresholds {
		rules.PTOThresholds[domain.Tier(strings.ToLower(tier))] = days
	}
	for tier, dollars := range p.ExpenseCeilings {
		rules.ExpenseCeilingsCents[domain.Tier(strings.ToLower(tier))] = cents(dollars)
	}
	if p.ReceiptThreshold > 0 {
		rules.ReceiptThresholdCents = cents(p.ReceiptThreshold)
	}
	for category, dollars := range p.PerDiem {
		rules.PerDiemCents[policy.NormalizeCategory(category)] = cents(dollars)
	}
	if len(p.Categories) > 0 {
		rules.Categories = append([]string(nil), p.Categories...)
	}
	if len(p.NonReimbursableKeywords) > 0 {
		rules.NonReimbursableKeywords = append([]string(nil), p.NonReimbursableKeywords...)
	}
	if p.InsufficientBalanceMode != "" {
		rules.InsufficientBalanceMode = policy.InsufficientBalanceMode(p.InsufficientBalanceMode)
	}
	return rules
}

func cents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}

// HandbookConfig points at the employee handbook used for policy questions.
type HandbookConfig struct {
	Path      string `json:"path,omitempty" yaml:"path,omitempty"` // Markdown file. Empty = embedded default.
	Summarize bool   `json:"summarize" yaml:"summarize"`           // Summarize matched sections through the LLM.
}

// ReceiptsConfig configures receipt uploads and the extraction service.
type ReceiptsConfig struct {
	ExtractorURL   string `json:"extractor_url" yaml:"extractor_url"`
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Override: RUHUSA_RECEIPTS_API_KEY env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`     // Default: 30.
	UploadDir      string `json:"upload_dir,omitempty" yaml:"upload_dir,omitempty"`
	MaxBytes       int64  `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"` // Default: 10 MiB.
}

// Timeout returns the extractor timeout with a default of 30s.
func (r *ReceiptsConfig) Timeout() time.Duration {
	if r != nil && r.TimeoutSeconds > 0 {
		return time.Duration(r.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// AuditConfig configures the JSONL audit mirror.
type AuditConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/audit.jsonl.
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured.
type GatewaysConfig struct {
	CLI       *CLIGatewayConfig       `json:"cli,omitempty" yaml:"cli,omitempty"`
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
	MCP       *MCPGatewayConfig       `json:"mcp,omitempty" yaml:"mcp,omitempty"`
}

// CLIGatewayConfig configures the interactive CLI gateway.
type CLIGatewayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	EmployeeID string `json:"employee_id" yaml:"employee_id"` // Identity used by the REPL. Override: RUHUSA_EMPLOYEE_ID env var.
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"` // API key → employee ID. Shared with the WebSocket gateway.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	SSE                 bool              `json:"sse" yaml:"sse"` // Enable SSE streaming endpoint.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// WebSocketGatewayConfig configures the WebSocket chat endpoint.
type WebSocketGatewayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"` // Default: ":8081".
	Path       string `json:"path" yaml:"path"`                                   // Default: "/ws/chat".
}

// WSPath returns the WebSocket path with a default of "/ws/chat".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws/chat"
}

// Addr returns the listen address with a default of ":8081".
func (w *WebSocketGatewayConfig) Addr() string {
	if w != nil && w.ListenAddr != "" {
		return w.ListenAddr
	}
	return ":8081"
}

// MCPGatewayConfig configures the MCP stdio server.
type MCPGatewayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	EmployeeID string `json:"employee_id" yaml:"employee_id"` // Identity tools run as. Override: RUHUSA_MCP_EMPLOYEE_ID env var.
}

// RateLimitConfig configures per-user rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// NotificationConfig configures manager notifications.
// When nil, no notification features are available.
type NotificationConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Webhook *WebhookConfig `json:"webhook,omitempty" yaml:"webhook,omitempty"` // nil = webhook notifications disabled.
	Email   *EmailConfig   `json:"email,omitempty" yaml:"email,omitempty"`     // nil = email notifications disabled.
}

// WebhookConfig configures the JSON webhook sender.
type WebhookConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	AllowPrivate   bool              `json:"allow_private" yaml:"allow_private"` // Permit loopback and private addresses (development only).
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// EmailConfig configures the SMTP sender for email notifications.
// The password can only come from RUHUSA_SMTP_PASSWORD.
type EmailConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"` // Default: 587.
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"-"`
	From     string `json:"from" yaml:"from"`
	TLS      bool   `json:"tls" yaml:"tls"` // Default: true.
}

// SchedulerConfig configures the pending-request reminder job.
type SchedulerConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	ReminderSpec    string `json:"reminder_spec" yaml:"reminder_spec"`         // Cron spec. Default: "0 9 * * 1-5".
	PendingAgeHours int    `json:"pending_age_hours" yaml:"pending_age_hours"` // Default: 48.
}

// Spec returns the reminder cron spec with a weekday-morning default.
func (s *SchedulerConfig) Spec() string {
	if s != nil && s.ReminderSpec != "" {
		return s.ReminderSpec
	}
	return "0 9 * * 1-5"
}

// PendingAge returns how long a request waits before a reminder. Default: 48h.
func (s *SchedulerConfig) PendingAge() time.Duration {
	if s != nil && s.PendingAgeHours > 0 {
		return time.Duration(s.PendingAgeHours) * time.Hour
	}
	return 48 * time.Hour
}

// SecretsConfig configures where secret references are resolved from.
// Any secret-bearing field may hold "env://NAME" or "vault://path#field"
// instead of a literal value.
type SecretsConfig struct {
	Vault *VaultConfig `json:"vault,omitempty" yaml:"vault,omitempty"`
}

// VaultConfig configures the HashiCorp Vault KV v2 backend.
type VaultConfig struct {
	Address        string `json:"address" yaml:"address"`     // Override: VAULT_ADDR env var.
	Token          string `json:"-" yaml:"-"`                 // Only from VAULT_TOKEN.
	Namespace      string `json:"namespace" yaml:"namespace"` // Override: VAULT_NAMESPACE env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	TLSSkipVerify  bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// Timeout returns the Vault request timeout with a default of 5s.
func (v *VaultConfig) Timeout() time.Duration {
	if v != nil && v.TimeoutSeconds > 0 {
		return time.Duration(v.TimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "ruhusa"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// AnomalyConfig configures threshold-based anomaly detection over turn outcomes.
type AnomalyConfig struct {
	Enabled                 bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold      float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"`             // e.g. 0.5 = 50% failed turns
	ParseErrorRateThreshold float64 `json:"parse_error_rate_threshold" yaml:"parse_error_rate_threshold"` // Parse errors per turn.
	WindowSeconds           int     `json:"window_seconds" yaml:"window_seconds"`                         // Sliding window. Default: 300.
}

// DefaultConfigPath returns the default config file path (~/.ruhusa/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/ruhusa.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".ruhusa", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Provider API keys and the database DSN can be set in the config file or
// overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}
	return Parse(data, filepath.Ext(resolved))
}

// Parse decodes raw config bytes. ext selects YAML (".yml", ".yaml") or JSON.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv lets environment variables override secrets and paths.
func (c *Config) applyEnv() {
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envDD := os.Getenv("RUHUSA_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if dsn := os.Getenv("RUHUSA_DB_DSN"); dsn != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Driver = "postgres"
		c.Storage.Postgres.DSN = dsn
	}
	if key := os.Getenv("RUHUSA_RECEIPTS_API_KEY"); key != "" && c.Receipts != nil {
		c.Receipts.APIKey = key
	}
	if pw := os.Getenv("RUHUSA_SMTP_PASSWORD"); pw != "" && c.Notification != nil && c.Notification.Email != nil {
		c.Notification.Email.Password = pw
	}
	if c.Secrets != nil && c.Secrets.Vault != nil {
		if addr := os.Getenv("VAULT_ADDR"); addr != "" {
			c.Secrets.Vault.Address = addr
		}
		if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
			c.Secrets.Vault.Namespace = ns
		}
		c.Secrets.Vault.Token = os.Getenv("VAULT_TOKEN")
	}
	if id := os.Getenv("RUHUSA_EMPLOYEE_ID"); id != "" {
		if c.Gateways.CLI == nil {
			c.Gateways.CLI = &CLIGatewayConfig{}
		}
		c.Gateways.CLI.EmployeeID = id
	}
	if id := os.Getenv("RUHUSA_MCP_EMPLOYEE_ID"); id != "" {
		if c.Gateways.MCP == nil {
			c.Gateways.MCP = &MCPGatewayConfig{}
		}
		c.Gateways.MCP.EmployeeID = id
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".ruhusa", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "ruhusa.db")
}

// AuditLogPath returns the JSONL audit mirror path.
func (c *Config) AuditLogPath() string {
	if c.Audit != nil && c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// ReceiptDir returns where uploaded receipts are stored.
func (c *Config) ReceiptDir() string {
	if c.Receipts != nil && c.Receipts.UploadDir != "" {
		return c.Receipts.UploadDir
	}
	return filepath.Join(c.ResolvedDataDir(), "receipts")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "openai"
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required (set RUHUSA_DB_DSN env var)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Policy != nil {
		switch policy.InsufficientBalanceMode(c.Policy.InsufficientBalanceMode) {
		case "", policy.ModeConfirm, policy.ModeAutoEscalate:
		default:
			return fmt.Errorf("policy.insufficient_balance_mode %q is not supported (use confirm or auto_escalate)", c.Policy.InsufficientBalanceMode)
		}
		for tier, days := range c.Policy.PTOThresholds {
			if days < 0 {
				return fmt.Errorf("policy.pto_thresholds.%s must not be negative", tier)
			}
		}
		for tier, dollars := range c.Policy.ExpenseCeilings {
			if dollars < 0 {
				return fmt.Errorf("policy.expense_ceilings.%s must not be negative", tier)
			}
		}
	}
	if c.Agent != nil && c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must not be negative")
	}
	if c.Receipts != nil && c.Receipts.ExtractorURL == "" {
		return fmt.Errorf("receipts.extractor_url is required when receipts are configured")
	}
	if c.Notification != nil && c.Notification.Enabled {
		if c.Notification.Webhook == nil && c.Notification.Email == nil {
			return fmt.Errorf("notification requires a webhook or email sender")
		}
		if c.Notification.Webhook != nil && c.Notification.Webhook.URL == "" {
			return fmt.Errorf("notification.webhook.url is required")
		}
		if c.Notification.Email != nil && (c.Notification.Email.Host == "" || c.Notification.Email.From == "") {
			return fmt.Errorf("notification.email.host and from are required")
		}
	}
	if c.Secrets != nil && c.Secrets.Vault != nil {
		if c.Secrets.Vault.Address == "" {
			return fmt.Errorf("secrets.vault.address is required (set VAULT_ADDR env var)")
		}
		if c.Secrets.Vault.Token == "" {
			return fmt.Errorf("secrets.vault requires VAULT_TOKEN")
		}
	}
	if c.Scheduler != nil && c.Scheduler.Enabled {
		if c.Notification == nil || !c.Notification.Enabled {
			return fmt.Errorf("scheduler reminders require notification to be enabled")
		}
	}
	return nil
}

// validateProvider checks that the selected LLM provider has the required fields.
func (c *Config) validateProvider() error {
	names := append([]string{c.Providers.Default}, c.Providers.Fallback...)
	for _, name := range names {
		switch name {
		case "openai":
			if c.Providers.OpenAI.Model == "" {
				return fmt.Errorf("providers.openai.model is required")
			}
			if c.Providers.OpenAI.APIKey == "" {
				return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
			}
		case "anthropic":
			if c.Providers.Anthropic.Model == "" {
				return fmt.Errorf("providers.anthropic.model is required")
			}
			if c.Providers.Anthropic.APIKey == "" {
				return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
			}
		case "ollama":
			if c.Providers.Ollama.Model == "" {
				return fmt.Errorf("providers.ollama.model is required")
			}
		default:
			return fmt.Errorf("provider %q is not supported (use openai, anthropic, or ollama)", name)
		}
	}
	return nil
}
