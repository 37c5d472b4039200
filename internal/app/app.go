// Package app wires configuration into the Cloracle services.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/chat"
	"github.com/leeaandrob/cloracle/internal/config"
	"github.com/leeaandrob/cloracle/internal/enrichment"
	"github.com/leeaandrob/cloracle/internal/llm"
	"github.com/leeaandrob/cloracle/internal/oracle"
	"github.com/leeaandrob/cloracle/internal/polymarket"
	"github.com/leeaandrob/cloracle/internal/storage"
	syncer "github.com/leeaandrob/cloracle/internal/sync"
)

// SetupLogging configures the global zerolog logger.
func SetupLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// App holds the constructed services.
type App struct {
	Config *config.Config
	Store  storage.Store
	Syncer *syncer.Syncer
	Oracle *oracle.Service
	Chat   *chat.Mediator
}

// New connects the store and builds every service from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// Initialize storage
	store, err := storage.Open(ctx, storage.Options{
		Driver:   cfg.StoreDriver,
		MongoURI: cfg.MongoURI,
		MongoDB:  cfg.MongoDB,
		DSN:      cfg.DatabaseDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info().Str("driver", cfg.StoreDriver).Msg("Store initialized")

	// Initialize Polymarket client
	feed := polymarket.NewClient(polymarket.Config{
		BaseURL:    cfg.GammaAPIURL,
		PageSize:   cfg.FeedPageSize,
		MaxPages:   cfg.FeedMaxPages,
		Timeout:    cfg.FeedTimeout,
		RetryCount: cfg.FeedRetryCount,
	})
	log.Info().Str("url", cfg.GammaAPIURL).Msg("Polymarket client initialized")

	// Initialize completion provider
	provider, err := llm.New(ctx, llm.Config{
		Provider:      cfg.AIProvider,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		GeminiBaseURL: cfg.GeminiBaseURL,
		Timeout:       cfg.LLMTimeout,
	})
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("create AI provider: %w", err)
	}
	log.Info().Str("provider", provider.Name()).Msg("AI provider initialized")

	// Initialize enrichment
	var news oracle.NewsSource
	if cfg.EnrichmentEnabled() {
		news = enrichment.NewEnricher(enrichment.NewTavilyClient(cfg.TavilyAPIKey, cfg.TavilyBaseURL), 5)
		log.Info().Msg("News enrichment initialized")
	}

	return &App{
		Config: cfg,
		Store:  store,
		Syncer: syncer.NewSyncer(feed, store),
		Oracle: oracle.NewService(store, oracle.NewAnalyzer(provider, news), oracle.Config{
			BatchSize: cfg.AnalyzeBatchSize,
			Delay:     cfg.AnalyzeDelay,
			Cooldown:  cfg.RateLimitCooldown,
		}),
		Chat: chat.NewMediator(store, provider),
	}, nil
}

// Close releases the store connection.
func (a *App) Close(ctx context.Context) error {
	return a.Store.Close(ctx)
}
