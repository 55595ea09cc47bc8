// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/article-forge/internal/article"
	"github.com/JakeFAU/article-forge/internal/enhancer"
	"github.com/JakeFAU/article-forge/internal/logging"
	"github.com/JakeFAU/article-forge/internal/pipeline"
	"github.com/JakeFAU/article-forge/internal/poller"
	"github.com/JakeFAU/article-forge/internal/providers/research"
	"github.com/JakeFAU/article-forge/internal/providers/transcript"
	"github.com/JakeFAU/article-forge/internal/providers/writer"
	"github.com/JakeFAU/article-forge/internal/runner"
	"github.com/JakeFAU/article-forge/internal/scheduler"
	"github.com/JakeFAU/article-forge/internal/storage/postgres"
	"github.com/JakeFAU/article-forge/internal/telemetry"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Auth      AuthConfig         `mapstructure:"auth"`
	Logging   logging.Config     `mapstructure:"logging"`
	DB        postgres.Config    `mapstructure:"db"`
	Storage   StorageConfig      `mapstructure:"storage"`
	PubSub    PubSubConfig       `mapstructure:"pubsub"`
	Telemetry telemetry.Config   `mapstructure:"telemetry"`
	Providers ProvidersConfig    `mapstructure:"providers"`
	Poller    PollerConfig       `mapstructure:"poller"`
	Article   ArticleConfig      `mapstructure:"article"`
	Links     article.LinkConfig `mapstructure:"links"`
	Pipeline  pipeline.Config    `mapstructure:"pipeline"`
	Runner    runner.Config      `mapstructure:"runner"`
	Enhancer  EnhancerConfig     `mapstructure:"enhancer"`
	Scheduler scheduler.Config   `mapstructure:"scheduler"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig selects where article archives are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	BaseDir   string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for article event notifications. Events go to
// an in-memory publisher when ProjectID is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	Source    string `mapstructure:"source"`
	EventType string `mapstructure:"event_type"`
}

// ProviderConfig is the connection shared by every provider client.
type ProviderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	RateLimit int           `mapstructure:"rate_limit"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// TranscriptConfig configures the transcript provider.
type TranscriptConfig struct {
	ProviderConfig `mapstructure:",squash"`
	Threshold      int    `mapstructure:"threshold"`
	Language       string `mapstructure:"language"`
}

// ResearchConfig configures the research provider.
type ResearchConfig struct {
	ProviderConfig `mapstructure:",squash"`
	Processor      string   `mapstructure:"processor"`
	MaxSources     int      `mapstructure:"max_sources"`
	BlockedTLDs    []string `mapstructure:"blocked_tlds"`
}

// WriterConfig configures the generative writer.
type WriterConfig struct {
	ProviderConfig      `mapstructure:",squash"`
	AssistantID         string `mapstructure:"assistant_id"`
	EnhancerAssistantID string `mapstructure:"enhancer_assistant_id"`
}

// ProvidersConfig groups the external services.
type ProvidersConfig struct {
	ConnectTimeout time.Duration    `mapstructure:"connect_timeout"`
	Transcript     TranscriptConfig `mapstructure:"transcript"`
	Research       ResearchConfig   `mapstructure:"research"`
	Writer         WriterConfig     `mapstructure:"writer"`
}

// PollerConfig bounds every submit-and-poll provider task. ResearchBudget
// overrides Budget for research runs, which take longer.
type PollerConfig struct {
	Budget         time.Duration `mapstructure:"budget"`
	ResearchBudget time.Duration `mapstructure:"research_budget"`
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SuccessStates  []string      `mapstructure:"success_states"`
	FailureStates  []string      `mapstructure:"failure_states"`
}

// ArticleConfig tunes document repair.
type ArticleConfig struct {
	SiteBase     string `mapstructure:"site_base"`
	TitleLimit   int    `mapstructure:"title_limit"`
	MinSections  int    `mapstructure:"min_sections"`
	MinBodyChars int    `mapstructure:"min_body_chars"`
}

// EnhancerConfig wraps the enhancer policy with its on/off switch.
type EnhancerConfig struct {
	enhancer.Config `mapstructure:",squash"`
	Enabled         bool `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.migrate", true)

	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.base_dir", "data/archive")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "article-events")
	v.SetDefault("pubsub.source", "article-forge")
	v.SetDefault("pubsub.event_type", "article.published")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.service_name", "article-forge")
	v.SetDefault("telemetry.service_version", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("providers.connect_timeout", 10*time.Second)
	v.SetDefault("providers.transcript.base_url", "https://api.supadata.ai/v1")
	v.SetDefault("providers.transcript.api_key", "")
	v.SetDefault("providers.transcript.rate_limit", 5)
	v.SetDefault("providers.transcript.timeout", 60*time.Second)
	v.SetDefault("providers.transcript.threshold", 200)
	v.SetDefault("providers.transcript.language", "pl")
	v.SetDefault("providers.research.base_url", "https://api.parallel.ai")
	v.SetDefault("providers.research.api_key", "")
	v.SetDefault("providers.research.rate_limit", 5)
	v.SetDefault("providers.research.timeout", 60*time.Second)
	v.SetDefault("providers.research.processor", "base")
	v.SetDefault("providers.research.max_sources", 5)
	v.SetDefault("providers.research.blocked_tlds", []string{".ru", ".su"})
	v.SetDefault("providers.writer.base_url", "https://api.openai.com")
	v.SetDefault("providers.writer.api_key", "")
	v.SetDefault("providers.writer.rate_limit", 5)
	v.SetDefault("providers.writer.timeout", 60*time.Second)
	v.SetDefault("providers.writer.assistant_id", "")
	v.SetDefault("providers.writer.enhancer_assistant_id", "")

	v.SetDefault("poller.budget", 120*time.Second)
	v.SetDefault("poller.research_budget", 300*time.Second)
	v.SetDefault("poller.interval", 1500*time.Millisecond)
	v.SetDefault("poller.request_timeout", 30*time.Second)
	v.SetDefault("poller.success_states", poller.DefaultSuccessStates)
	v.SetDefault("poller.failure_states", poller.DefaultFailureStates)

	v.SetDefault("article.site_base", article.DefaultSiteBase)
	v.SetDefault("article.title_limit", article.DefaultTitleLimit)
	v.SetDefault("article.min_sections", article.DefaultMinSections)
	v.SetDefault("article.min_body_chars", article.DefaultMinBodyChars)

	links := article.DefaultLinkConfig()
	v.SetDefault("links.min_same_section", links.MinSameSection)
	v.SetDefault("links.max_same_section", links.MaxSameSection)
	v.SetDefault("links.total", links.Total)
	v.SetDefault("links.preview_length", links.PreviewLength)
	v.SetDefault("links.min_chars", links.MinChars)
	v.SetDefault("links.same_section_pool", links.SameSectionPool)
	v.SetDefault("links.cross_section_pool", links.CrossSectionPool)

	v.SetDefault("pipeline.language", "pl")
	v.SetDefault("pipeline.default_section", "Zdrowie i joga")
	v.SetDefault("pipeline.archive_prefix", "articles")
	v.SetDefault("pipeline.event_topic", "")
	v.SetDefault("pipeline.publish_timeout", 30*time.Second)

	v.SetDefault("runner.language", "pl")
	v.SetDefault("runner.job_timeout", 15*time.Minute)

	v.SetDefault("enhancer.enabled", true)
	v.SetDefault("enhancer.min_age", 17*24*time.Hour)
	v.SetDefault("enhancer.batch_size", 20)
	v.SetDefault("enhancer.max_citations", 4)
	v.SetDefault("enhancer.min_citations", 3)
	v.SetDefault("enhancer.blocked_tlds", enhancer.DefaultBlockedTLDs)
	v.SetDefault("enhancer.low_quality_tokens", enhancer.DefaultLowQualityTokens)

	v.SetDefault("scheduler.runner_spec", "@every 5m")
	v.SetDefault("scheduler.enhancer_spec", "0 3 * * *")
	v.SetDefault("scheduler.enhancer_limit", 0)
	v.SetDefault("scheduler.enhancer_timeout", 30*time.Minute)
	v.SetDefault("scheduler.timezone", "Europe/Warsaw")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs; got %q", c.Storage.Backend)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint must be set when telemetry is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Poller.Budget <= 0 {
		return fmt.Errorf("poller.budget must be > 0")
	}
	if c.Poller.RequestTimeout <= 0 {
		return fmt.Errorf("poller.request_timeout must be > 0")
	}
	if c.Providers.Transcript.Threshold <= 0 {
		return fmt.Errorf("providers.transcript.threshold must be > 0")
	}
	if c.Runner.JobTimeout <= 0 {
		return fmt.Errorf("runner.job_timeout must be > 0")
	}
	if c.Enhancer.MinCitations > c.Enhancer.MaxCitations && c.Enhancer.MaxCitations > 0 {
		return fmt.Errorf("enhancer.min_citations must not exceed enhancer.max_citations")
	}
	return nil
}

// PollerFor returns the poller settings for a provider task. Research runs
// get their own budget when one is configured.
func (c Config) PollerFor(provider string) poller.Config {
	pc := poller.Config{
		Budget:         c.Poller.Budget,
		Interval:       c.Poller.Interval,
		RequestTimeout: c.Poller.RequestTimeout,
		SuccessStates:  c.Poller.SuccessStates,
		FailureStates:  c.Poller.FailureStates,
	}
	if provider == "research" && c.Poller.ResearchBudget > 0 {
		pc.Budget = c.Poller.ResearchBudget
	}
	return pc
}

// TranscriptService maps the transcript section onto the service config.
func (c Config) TranscriptService() transcript.Config {
	return transcript.Config{
		Threshold: c.Providers.Transcript.Threshold,
		Language:  c.Providers.Transcript.Language,
		Poller:    c.PollerFor("transcript"),
	}
}

// ResearchService maps the research section onto the service config.
func (c Config) ResearchService() research.Config {
	return research.Config{
		Processor:   c.Providers.Research.Processor,
		MaxSources:  c.Providers.Research.MaxSources,
		BlockedTLDs: c.Providers.Research.BlockedTLDs,
		Poller:      c.PollerFor("research"),
	}
}

// WriterService maps the writer section onto the service config. The run
// status vocabulary is left to the writer, whose terminal states differ from
// the shared defaults.
func (c Config) WriterService() writer.Config {
	pc := c.PollerFor("writer")
	pc.SuccessStates = nil
	pc.FailureStates = nil
	return writer.Config{
		AssistantID: c.Providers.Writer.AssistantID,
		Poller:      pc,
	}
}

// Repair assembles the repairer config from the article and links sections.
func (c Config) Repair() article.RepairConfig {
	return article.RepairConfig{
		SiteBase:     c.Article.SiteBase,
		TitleLimit:   c.Article.TitleLimit,
		MinSections:  c.Article.MinSections,
		MinBodyChars: c.Article.MinBodyChars,
		Links:        c.Links,
	}
}
