package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ProvidersConfig holds credentials for every enrichment provider. It is
// passed into the capability constructors once at startup.
type ProvidersConfig struct {
	Apollo     ProviderConfig `yaml:"apollo" mapstructure:"apollo"`
	Hunter     ProviderConfig `yaml:"hunter" mapstructure:"hunter"`
	PDL        ProviderConfig `yaml:"pdl" mapstructure:"pdl"`
	ZeroBounce ProviderConfig `yaml:"zerobounce" mapstructure:"zerobounce"`
	Firecrawl  ProviderConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Jina       ProviderConfig `yaml:"jina" mapstructure:"jina"`
}

// ProviderConfig configures a single provider client.
type ProviderConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
	Burst   int     `yaml:"burst" mapstructure:"burst"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PipelineConfig configures the campaign stages.
type PipelineConfig struct {
	DiscoveryMaxRounds     int `yaml:"discovery_max_rounds" mapstructure:"discovery_max_rounds"`
	EnrichmentMaxRounds    int `yaml:"enrichment_max_rounds" mapstructure:"enrichment_max_rounds"`
	QualificationMaxRounds int `yaml:"qualification_max_rounds" mapstructure:"qualification_max_rounds"`
	StepMaxAttempts        int `yaml:"step_max_attempts" mapstructure:"step_max_attempts"`
	StepBackoffMs          int `yaml:"step_backoff_ms" mapstructure:"step_backoff_ms"`
}

// WorkflowConfig selects and tunes the durable execution engine.
type WorkflowConfig struct {
	Engine              string `yaml:"engine" mapstructure:"engine"`
	TemporalHostPort    string `yaml:"temporal_host_port" mapstructure:"temporal_host_port"`
	TemporalNamespace   string `yaml:"temporal_namespace" mapstructure:"temporal_namespace"`
	PipelineTaskQueue   string `yaml:"pipeline_task_queue" mapstructure:"pipeline_task_queue"`
	FanOutTaskQueue     string `yaml:"fanout_task_queue" mapstructure:"fanout_task_queue"`
	PipelineConcurrency int    `yaml:"pipeline_concurrency" mapstructure:"pipeline_concurrency"`
	FanOutConcurrency   int    `yaml:"fanout_concurrency" mapstructure:"fanout_concurrency"`
	StepTimeoutSecs     int    `yaml:"step_timeout_secs" mapstructure:"step_timeout_secs"`
}

// RedisConfig configures the optional progress broker and scheduler lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// SchedulerConfig configures the periodic flow scan.
type SchedulerConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Cron        string `yaml:"cron" mapstructure:"cron"`
	TickSeconds int    `yaml:"tick_seconds" mapstructure:"tick_seconds"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the run-health alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	StuckRunMinutes      int     `yaml:"stuck_run_minutes" mapstructure:"stuck_run_minutes"`
	// EmptyRunThreshold is how many completed runs without a single lead
	// a campaign may have before it is flagged. Zero disables the check.
	EmptyRunThreshold    int `yaml:"empty_run_threshold" mapstructure:"empty_run_threshold"`
	AlertCooldownMinutes int `yaml:"alert_cooldown_minutes" mapstructure:"alert_cooldown_minutes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads ./config.yaml (if present) and CAMPAIGN_* environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. A named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("CAMPAIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("providers.apollo.key", "")
	v.SetDefault("providers.apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("providers.apollo.rps", 2.0)
	v.SetDefault("providers.hunter.key", "")
	v.SetDefault("providers.hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("providers.hunter.rps", 5.0)
	v.SetDefault("providers.pdl.key", "")
	v.SetDefault("providers.pdl.base_url", "https://api.peopledatalabs.com/v5")
	v.SetDefault("providers.pdl.rps", 5.0)
	v.SetDefault("providers.zerobounce.key", "")
	v.SetDefault("providers.zerobounce.base_url", "https://api.zerobounce.net/v2")
	v.SetDefault("providers.zerobounce.rps", 5.0)
	v.SetDefault("providers.firecrawl.key", "")
	v.SetDefault("providers.firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("providers.firecrawl.rps", 2.0)
	v.SetDefault("providers.jina.key", "")
	v.SetDefault("providers.jina.base_url", "https://r.jina.ai")
	v.SetDefault("providers.jina.rps", 5.0)
	v.SetDefault("pipeline.discovery_max_rounds", 25)
	v.SetDefault("pipeline.enrichment_max_rounds", 15)
	v.SetDefault("pipeline.qualification_max_rounds", 10)
	v.SetDefault("pipeline.step_max_attempts", 3)
	v.SetDefault("pipeline.step_backoff_ms", 1000)
	v.SetDefault("workflow.engine", "local")
	v.SetDefault("workflow.temporal_host_port", "localhost:7233")
	v.SetDefault("workflow.temporal_namespace", "default")
	v.SetDefault("workflow.pipeline_task_queue", "campaign-pipeline")
	v.SetDefault("workflow.fanout_task_queue", "campaign-fanout")
	v.SetDefault("workflow.pipeline_concurrency", 5)
	v.SetDefault("workflow.fanout_concurrency", 10)
	v.SetDefault("workflow.step_timeout_secs", 900)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 * * * *")
	v.SetDefault("scheduler.tick_seconds", 60)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.stuck_run_minutes", 60)
	v.SetDefault("monitoring.empty_run_threshold", 3)
	v.SetDefault("monitoring.alert_cooldown_minutes", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given mode ("serve",
// "worker" or "cli") and reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "worker", "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch c.Workflow.Engine {
	case "local", "temporal":
	default:
		errs = append(errs, fmt.Sprintf("workflow.engine %q is not supported", c.Workflow.Engine))
	}
	if mode == "worker" && c.Workflow.Engine != "temporal" {
		errs = append(errs, "workflow.engine must be temporal to run a worker")
	}
	if c.Workflow.PipelineConcurrency < 1 || c.Workflow.FanOutConcurrency < 1 {
		errs = append(errs, "workflow concurrency must be >= 1")
	}

	if mode != "cli" && c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	for name, rounds := range map[string]int{
		"discovery_max_rounds":     c.Pipeline.DiscoveryMaxRounds,
		"enrichment_max_rounds":    c.Pipeline.EnrichmentMaxRounds,
		"qualification_max_rounds": c.Pipeline.QualificationMaxRounds,
	} {
		if rounds < 1 {
			errs = append(errs, fmt.Sprintf("pipeline.%s must be >= 1", name))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
