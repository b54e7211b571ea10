package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	PageSpeed  PageSpeedConfig  `yaml:"pagespeed" mapstructure:"pagespeed"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Capture    CaptureConfig    `yaml:"capture" mapstructure:"capture"`
	Images     ImageConfig      `yaml:"images" mapstructure:"images"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Benchmark  BenchmarkConfig  `yaml:"benchmark" mapstructure:"benchmark"`
	Synthesis  SynthesisConfig  `yaml:"synthesis" mapstructure:"synthesis"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Prompts    PromptsConfig    `yaml:"prompts" mapstructure:"prompts"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
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
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	VisionModel string `yaml:"vision_model" mapstructure:"vision_model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// CallTimeout returns the per-LLM-call timeout.
func (a AnthropicConfig) CallTimeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// PageSpeedConfig holds PageSpeed Insights API settings.
type PageSpeedConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DiscoveryConfig configures the page discovery stage.
type DiscoveryConfig struct {
	MaxPages       int     `yaml:"max_pages" mapstructure:"max_pages"`
	MaxCrawlDepth  int     `yaml:"max_crawl_depth" mapstructure:"max_crawl_depth"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FetchPerSecond float64 `yaml:"fetch_per_second" mapstructure:"fetch_per_second"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// CaptureConfig configures the headless capture engine.
type CaptureConfig struct {
	Concurrency     int    `yaml:"concurrency" mapstructure:"concurrency"`
	PageTimeoutSecs int    `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	ArtifactDir     string `yaml:"artifact_dir" mapstructure:"artifact_dir"`
	BrowserPath     string `yaml:"browser_path" mapstructure:"browser_path"`
	ScrollPasses    int    `yaml:"scroll_passes" mapstructure:"scroll_passes"`
	TokenLimit      int    `yaml:"token_limit" mapstructure:"token_limit"`
}

// PageTimeout returns the per-page capture deadline.
func (c CaptureConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSecs) * time.Second
}

// ImageConfig configures screenshot post-processing for vision calls.
type ImageConfig struct {
	MaxBytes     int `yaml:"max_bytes" mapstructure:"max_bytes"`
	MaxDimension int `yaml:"max_dimension" mapstructure:"max_dimension"`
}

// AnalysisConfig configures the analyzer bank.
type AnalysisConfig struct {
	MaxPagesPerModule int      `yaml:"max_pages_per_module" mapstructure:"max_pages_per_module"`
	MaxVisualPages    int      `yaml:"max_visual_pages" mapstructure:"max_visual_pages"`
	DisabledModules   []string `yaml:"disabled_modules" mapstructure:"disabled_modules"`
	CrossPageContext  bool     `yaml:"cross_page_context" mapstructure:"cross_page_context"`
	HTMLSampleBytes   int      `yaml:"html_sample_bytes" mapstructure:"html_sample_bytes"`
}

// BenchmarkConfig configures benchmark matching.
type BenchmarkConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	IndustryWeight float64 `yaml:"industry_weight" mapstructure:"industry_weight"`
	SizeWeight     float64 `yaml:"size_weight" mapstructure:"size_weight"`
	LocationWeight float64 `yaml:"location_weight" mapstructure:"location_weight"`
}

// SynthesisConfig configures finding consolidation and the executive
// summary.
type SynthesisConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	SummaryTimeoutSecs  int     `yaml:"summary_timeout_secs" mapstructure:"summary_timeout_secs"`
}

// SummaryTimeout returns the executive summary deadline.
func (s SynthesisConfig) SummaryTimeout() time.Duration {
	return time.Duration(s.SummaryTimeoutSecs) * time.Second
}

// PipelineConfig bounds the audit orchestrator. Zero values disable the
// corresponding deadline.
type PipelineConfig struct {
	StageTimeoutSecs int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	RunTimeoutSecs   int `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
}

// StageTimeout returns the per-stage deadline.
func (p PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSecs) * time.Second
}

// RunTimeout returns the whole-run deadline.
func (p PipelineConfig) RunTimeout() time.Duration {
	return time.Duration(p.RunTimeoutSecs) * time.Second
}

// PromptsConfig points at optional prompt template overrides.
type PromptsConfig struct {
	OverridePath string `yaml:"override_path" mapstructure:"override_path"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ResilienceConfig tunes retry and circuit breaker behavior for external
// calls.
type ResilienceConfig struct {
	Retry         RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit       CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
	DLQMaxRetries int           `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// RetryConfig holds retry backoff settings.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig holds circuit breaker settings.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the background health checker that runs
// alongside the HTTP server.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "audit.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent_runs", 3)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("pagespeed.base_url", "https://www.googleapis.com/pagespeedonline/v5")
	v.SetDefault("discovery.max_pages", 60)
	v.SetDefault("discovery.max_crawl_depth", 2)
	v.SetDefault("discovery.timeout_secs", 30)
	v.SetDefault("discovery.fetch_per_second", 4)
	v.SetDefault("discovery.user_agent", "Mozilla/5.0 (compatible; SellsAuditBot/1.0)")
	v.SetDefault("capture.concurrency", 1)
	v.SetDefault("capture.page_timeout_secs", 30)
	v.SetDefault("capture.artifact_dir", "artifacts")
	v.SetDefault("capture.scroll_passes", 6)
	v.SetDefault("capture.token_limit", 8)
	v.SetDefault("images.max_bytes", 4*1024*1024)
	v.SetDefault("images.max_dimension", 8000)
	v.SetDefault("analysis.max_pages_per_module", 5)
	v.SetDefault("analysis.max_visual_pages", 3)
	v.SetDefault("analysis.cross_page_context", true)
	v.SetDefault("analysis.html_sample_bytes", 20000)
	v.SetDefault("benchmark.enabled", true)
	v.SetDefault("benchmark.industry_weight", 0.50)
	v.SetDefault("benchmark.size_weight", 0.25)
	v.SetDefault("benchmark.location_weight", 0.25)
	v.SetDefault("synthesis.similarity_threshold", 0.55)
	v.SetDefault("synthesis.summary_timeout_secs", 60)
	v.SetDefault("pipeline.stage_timeout_secs", 300)
	v.SetDefault("pipeline.run_timeout_secs", 1200)
	v.SetDefault("resilience.retry.max_attempts", 3)
	v.SetDefault("resilience.retry.initial_backoff_ms", 500)
	v.SetDefault("resilience.retry.max_backoff_ms", 30000)
	v.SetDefault("resilience.retry.multiplier", 2.0)
	v.SetDefault("resilience.retry.jitter_fraction", 0.25)
	v.SetDefault("resilience.circuit.failure_threshold", 5)
	v.SetDefault("resilience.circuit.reset_timeout_secs", 30)
	v.SetDefault("resilience.dlq_max_retries", 3)
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.dlq_depth_threshold", 25)

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
