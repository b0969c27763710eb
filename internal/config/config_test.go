package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/policy"
)

const minimalYAML = `
providers:
  default: openai
  openai:
    api_key: sk-test
    model: gpt-4o-mini
`

func TestLoad_YAMLDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ruhusa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"data_dir: "+dir+"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StorageDriverName())
	assert.Equal(t, filepath.Join(dir, "ruhusa.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(dir, "audit.jsonl"), cfg.AuditLogPath())
	assert.Equal(t, 15, cfg.Agent.Iterations())
	assert.Equal(t, 10, cfg.Agent.History())
	assert.Equal(t, "0 9 * * 1-5", cfg.Scheduler.Spec())
	assert.Equal(t, 48*time.Hour, cfg.Scheduler.PendingAge())
	assert.Equal(t, ":8080", cfg.Gateways.HTTP.Addr())
	assert.Equal(t, "/ws/chat", cfg.Gateways.WebSocket.WSPath())
}

func TestParse_JSON(t *testing.T) {
	raw := `{"providers": {"default": "ollama", "ollama": {"model": "llama3"}}, "agent": {"max_iterations": 5}}`
	cfg, err := Parse([]byte(raw), ".json")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Agent.Iterations())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("RUHUSA_DB_DSN", "postgres://localhost/ruhusa")

	cfg, err := Parse([]byte("providers:\n  openai:\n    model: gpt-4o-mini\n"), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "postgres", cfg.StorageDriverName())
	assert.Equal(t, "postgres://localhost/ruhusa", cfg.Storage.Postgres.DSN)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown provider", "providers:\n  default: gemini\n", "not supported"},
		{"missing key", "providers:\n  openai:\n    model: gpt-4o\n", "api_key is required"},
		{"bad balance mode", minimalYAML + "policy:\n  insufficient_balance_mode: always\n", "insufficient_balance_mode"},
		{"bad driver", minimalYAML + "storage:\n  driver: mysql\n", "mysql"},
		{"scheduler without notification", minimalYAML + "scheduler:\n  enabled: true\n", "notification"},
		{"receipts without url", minimalYAML + "receipts:\n  timeout_seconds: 5\n", "extractor_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			_, err := Parse([]byte(tt.yaml), ".yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPolicyConfig_Rules(t *testing.T) {
	var nilCfg *PolicyConfig
	assert.Equal(t, policy.DefaultRules(), nilCfg.Rules())

	p := &PolicyConfig{
		PTOThresholds:           map[string]int{"Senior": 12},
		ExpenseCeilings:         map[string]float64{"junior": 150.5},
		ReceiptThreshold:        50,
		PerDiem:                 map[string]float64{"Lodging": 220},
		InsufficientBalanceMode: "auto_escalate",
	}
	rules := p.Rules()
	assert.Equal(t, 12, rules.PTOThreshold(domain.TierSenior))
	assert.Equal(t, int64(150_50), rules.ExpenseCeiling(domain.TierJunior))
	assert.Equal(t, int64(50_00), rules.ReceiptThresholdCents)
	perDiem, ok := rules.PerDiem("lodging")
	assert.True(t, ok)
	assert.Equal(t, int64(220_00), perDiem)
	assert.Equal(t, policy.ModeAutoEscalate, rules.InsufficientBalanceMode)
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("RUHUSA_CONFIG", "/etc/ruhusa.yaml")
	t.Setenv("RUHUSA_LOG_LEVEL", "debug")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "/etc/ruhusa.yaml", s.ConfigPath)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "json", s.LogFormat)
	assert.Equal(t, 10*time.Second, s.ShutdownTimeout)
}
