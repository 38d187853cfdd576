package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "https://api.apollo.io/api/v1", cfg.Providers.Apollo.BaseURL)
	assert.Equal(t, "https://api.hunter.io/v2", cfg.Providers.Hunter.BaseURL)
	assert.Equal(t, "https://api.peopledatalabs.com/v5", cfg.Providers.PDL.BaseURL)
	assert.Equal(t, "https://api.zerobounce.net/v2", cfg.Providers.ZeroBounce.BaseURL)
	assert.Equal(t, "https://api.firecrawl.dev/v1", cfg.Providers.Firecrawl.BaseURL)
	assert.Equal(t, "https://r.jina.ai", cfg.Providers.Jina.BaseURL)
	assert.Equal(t, 25, cfg.Pipeline.DiscoveryMaxRounds)
	assert.Equal(t, 15, cfg.Pipeline.EnrichmentMaxRounds)
	assert.Equal(t, 10, cfg.Pipeline.QualificationMaxRounds)
	assert.Equal(t, "local", cfg.Workflow.Engine)
	assert.Equal(t, 5, cfg.Workflow.PipelineConcurrency)
	assert.Equal(t, 10, cfg.Workflow.FanOutConcurrency)
	assert.Equal(t, "0 * * * *", cfg.Scheduler.Cron)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 1e-9)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
workflow:
  engine: temporal
  pipeline_concurrency: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "temporal", cfg.Workflow.Engine)
	assert.Equal(t, 2, cfg.Workflow.PipelineConcurrency)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Workflow.FanOutConcurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CAMPAIGN_STORE_DRIVER", "postgres")
	t.Setenv("CAMPAIGN_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvProviderKeys(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CAMPAIGN_PROVIDERS_APOLLO_KEY", "apollo-key")
	t.Setenv("CAMPAIGN_ANTHROPIC_KEY", "sk-ant")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "apollo-key", cfg.Providers.Apollo.Key)
	assert.Equal(t, "sk-ant", cfg.Anthropic.Key)
}

func TestLoadFile(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "prod.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Workflow.Engine)
}

func TestLoadFile_Missing(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Workflow.Engine = "local"
	cfg.Workflow.PipelineConcurrency = 5
	cfg.Workflow.FanOutConcurrency = 10
	cfg.Pipeline.DiscoveryMaxRounds = 25
	cfg.Pipeline.EnrichmentMaxRounds = 15
	cfg.Pipeline.QualificationMaxRounds = 10
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/campaigns"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Server.Port = 0
	cfg.Workflow.Engine = "inngest"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), `workflow.engine "inngest" is not supported`)
}

func TestValidateCLIDoesNotNeedAnthropic(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	assert.NoError(t, cfg.Validate("cli"))
}

func TestValidateWorkerNeedsTemporal(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow.engine must be temporal")

	cfg.Workflow.Engine = "temporal"
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidateRounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.EnrichmentMaxRounds = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.enrichment_max_rounds must be >= 1")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
