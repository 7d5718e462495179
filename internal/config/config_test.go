package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  host: 127.0.0.1
  port: 9090
gateway:
  mode: agent
  default_provider: anthropic
demo:
  enabled: true
  max_queries: 3
  window_seconds: 60
cascade:
  drafter: gpt-4o-mini
  verifier: gpt-4o
budgets:
  free:
    daily: 0.10
  pro:
    daily: 5.0
    monthly: 50.0
routes:
  - name: openai-main
    provider: openai
    base_url: https://api.openai.com
    api_key: ${TEST_OPENAI_KEY}
    timeout: 30s
models:
  - name: gpt-4o-mini
    provider: openai
    cost: 0.0004
    speed_ms: 400
    quality_score: 0.78
virtual_models:
  cascadeflow-auto: gpt-4o-mini
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cascadeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "agent", cfg.Gateway.Mode)
	assert.Equal(t, "anthropic", cfg.Gateway.DefaultProvider)

	assert.True(t, cfg.Demo.Enabled)
	assert.Equal(t, 3, cfg.Demo.MaxQueries)
	assert.Equal(t, time.Minute, cfg.Demo.Window())

	assert.Equal(t, "gpt-4o-mini", cfg.Cascade.Drafter)

	require.Contains(t, cfg.Budgets, "free")
	require.NotNil(t, cfg.Budgets["free"].Daily)
	assert.InDelta(t, 0.10, *cfg.Budgets["free"].Daily, 1e-9)
	require.NotNil(t, cfg.Budgets["pro"].Monthly)

	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, "sk-from-env", cfg.Routes[0].APIKey)
	assert.Equal(t, 30*time.Second, cfg.Routes[0].Timeout)

	require.Len(t, cfg.Models, 1)
	assert.InDelta(t, 0.0004, cfg.Models[0].Cost, 1e-9)
	assert.Equal(t, "gpt-4o-mini", cfg.VirtualModels["cascadeflow-auto"])
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateway:\n  mode: mock\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8084, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Gateway.Mode)
	assert.Equal(t, "cascadeflow", cfg.Gateway.AdvertiseModel)
	assert.Equal(t, 10, cfg.Demo.MaxQueries)
	assert.Equal(t, "off", cfg.Tracking.EnforcementMode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Billing.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CASCADEFLOW_MODE", "mock")
	t.Setenv("CASCADEFLOW_AUTH_TOKEN", "secret")
	t.Setenv("PAYGENTIC_API_KEY", "pg-key")
	t.Setenv("PAYGENTIC_MERCHANT_ID", "merch_1")
	t.Setenv("PAYGENTIC_BILLABLE_METRIC_ID", "metric_1")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8084\n"))
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Gateway.Mode)
	assert.Equal(t, "secret", cfg.Auth.Token)
	assert.True(t, cfg.Billing.Enabled())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
