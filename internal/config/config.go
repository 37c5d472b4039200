// Package config provides configuration management for Cloracle.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// AI provider settings
	AIProvider    string `validate:"oneof=openai groq gemini"`
	OpenAIAPIKey  string
	OpenAIBaseURL string        `validate:"omitempty,url"`
	OpenAIModel   string        `validate:"required_unless=AIProvider gemini"`
	GeminiAPIKey  string        `validate:"required_if=AIProvider gemini"`
	GeminiModel   string        `validate:"required_if=AIProvider gemini"`
	GeminiBaseURL string        `validate:"omitempty,url"`
	LLMTimeout    time.Duration `validate:"min=1s,max=10m"`

	// Enrichment API settings
	TavilyAPIKey     string
	TavilyBaseURL    string `validate:"omitempty,url"`
	EnableEnrichment bool

	// Store settings
	StoreDriver string `validate:"oneof=mongo postgres sqlite"`
	MongoURI    string `validate:"required_if=StoreDriver mongo"`
	MongoDB     string `validate:"required_if=StoreDriver mongo"`
	DatabaseDSN string `validate:"required_if=StoreDriver postgres"`

	// Market feed settings
	GammaAPIURL    string        `validate:"required,url"`
	FeedPageSize   int           `validate:"min=1,max=100"`
	FeedMaxPages   int           `validate:"min=1,max=50"`
	FeedTimeout    time.Duration `validate:"min=1s"`
	FeedRetryCount int           `validate:"min=0,max=10"`

	// Scheduling settings
	SyncInterval      time.Duration `validate:"min=10s"`
	AnalyzeInterval   time.Duration `validate:"min=1s"`
	AnalyzeBatchSize  int           `validate:"min=1,max=100"`
	AnalyzeDelay      time.Duration `validate:"min=0"`
	RateLimitCooldown time.Duration `validate:"min=0"`
	AnalyzeMaxBackoff time.Duration `validate:"gtefield=RateLimitCooldown"`
	BatchBudget       time.Duration `validate:"min=0"`
	EnableScheduler   bool

	// Server settings
	HTTPAddr string `validate:"required"`
	Debug    bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("AI_PROVIDER", "openai")
	v.SetDefault("OPENAI_BASE_URL", "https://api.groq.com/openai/v1")
	v.SetDefault("OPENAI_MODEL", "llama-3.3-70b-versatile")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("LLM_TIMEOUT", 30*time.Second)

	v.SetDefault("ENABLE_ENRICHMENT", false)

	v.SetDefault("STORE_DRIVER", "mongo")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB", "cloracle")

	v.SetDefault("GAMMA_API_URL", "https://gamma-api.polymarket.com")
	v.SetDefault("FEED_PAGE_SIZE", 100)
	v.SetDefault("FEED_MAX_PAGES", 1)
	v.SetDefault("FEED_TIMEOUT", 30*time.Second)
	v.SetDefault("FEED_RETRY_COUNT", 3)

	v.SetDefault("SYNC_INTERVAL", 5*time.Minute)
	v.SetDefault("ANALYZE_INTERVAL", time.Minute)
	v.SetDefault("ANALYZE_BATCH_SIZE", 10)
	v.SetDefault("ANALYZE_DELAY", 1500*time.Millisecond)
	v.SetDefault("RATE_LIMIT_COOLDOWN", 10*time.Second)
	v.SetDefault("ANALYZE_MAX_BACKOFF", 15*time.Minute)
	v.SetDefault("BATCH_BUDGET", 55*time.Second)
	v.SetDefault("ENABLE_SCHEDULER", true)

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DEBUG", false)
}

// Load loads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	// Try to load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		// AI
		AIProvider:    v.GetString("AI_PROVIDER"),
		OpenAIAPIKey:  v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL: v.GetString("OPENAI_BASE_URL"),
		OpenAIModel:   v.GetString("OPENAI_MODEL"),
		GeminiAPIKey:  v.GetString("GEMINI_API_KEY"),
		GeminiModel:   v.GetString("GEMINI_MODEL"),
		GeminiBaseURL: v.GetString("GEMINI_BASE_URL"),
		LLMTimeout:    v.GetDuration("LLM_TIMEOUT"),

		// Enrichment
		TavilyAPIKey:     v.GetString("TAVILY_API_KEY"),
		TavilyBaseURL:    v.GetString("TAVILY_BASE_URL"),
		EnableEnrichment: v.GetBool("ENABLE_ENRICHMENT"),

		// Store
		StoreDriver: v.GetString("STORE_DRIVER"),
		MongoURI:    v.GetString("MONGO_URI"),
		MongoDB:     v.GetString("MONGO_DB"),
		DatabaseDSN: v.GetString("DATABASE_DSN"),

		// Feed
		GammaAPIURL:    v.GetString("GAMMA_API_URL"),
		FeedPageSize:   v.GetInt("FEED_PAGE_SIZE"),
		FeedMaxPages:   v.GetInt("FEED_MAX_PAGES"),
		FeedTimeout:    v.GetDuration("FEED_TIMEOUT"),
		FeedRetryCount: v.GetInt("FEED_RETRY_COUNT"),

		// Scheduling
		SyncInterval:      v.GetDuration("SYNC_INTERVAL"),
		AnalyzeInterval:   v.GetDuration("ANALYZE_INTERVAL"),
		AnalyzeBatchSize:  v.GetInt("ANALYZE_BATCH_SIZE"),
		AnalyzeDelay:      v.GetDuration("ANALYZE_DELAY"),
		RateLimitCooldown: v.GetDuration("RATE_LIMIT_COOLDOWN"),
		AnalyzeMaxBackoff: v.GetDuration("ANALYZE_MAX_BACKOFF"),
		BatchBudget:       v.GetDuration("BATCH_BUDGET"),
		EnableScheduler:   v.GetBool("ENABLE_SCHEDULER"),

		// Server
		HTTPAddr: v.GetString("HTTP_ADDR"),
		Debug:    v.GetBool("DEBUG"),
	}
}

// Validate checks the configuration and warns about disabled features.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.AIProvider != "gemini" && c.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, analysis and chat requests will fail")
	}
	if c.EnableEnrichment && c.TavilyAPIKey == "" {
		log.Warn().Msg("ENABLE_ENRICHMENT set without TAVILY_API_KEY, enrichment disabled")
	}
	return nil
}

// EnrichmentEnabled reports whether news enrichment should be wired.
func (c *Config) EnrichmentEnabled() bool {
	return c.EnableEnrichment && c.TavilyAPIKey != ""
}
