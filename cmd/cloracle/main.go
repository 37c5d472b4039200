// Cloracle - independent AI probabilities for prediction markets.
// Syncs Polymarket events, analyzes them and serves the API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/leeaandrob/cloracle/internal/api"
	"github.com/leeaandrob/cloracle/internal/app"
	"github.com/leeaandrob/cloracle/internal/config"
	"github.com/leeaandrob/cloracle/internal/scheduler"
)

func main() {
	app.SetupLogging(false)
	log.Info().Msg("Cloracle - Starting oracle")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app.SetupLogging(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close(context.Background())

	// Initialize scheduler
	var sched *scheduler.Scheduler
	if cfg.EnableScheduler {
		sched, err = scheduler.NewScheduler()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create scheduler")
		}
		drainer := scheduler.NewDrainer(a.Oracle, scheduler.DrainConfig{
			Cooldown:   cfg.RateLimitCooldown,
			MaxBackoff: cfg.AnalyzeMaxBackoff,
			Budget:     cfg.BatchBudget,
		})
		if err := scheduler.RegisterDefaultJobs(sched, a.Syncer, drainer, scheduler.JobsConfig{
			SyncInterval:    cfg.SyncInterval,
			AnalyzeInterval: cfg.AnalyzeInterval,
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to register jobs")
		}
		log.Info().Msg("Scheduler initialized")
	} else {
		log.Warn().Msg("Scheduler disabled, sync and analysis run only on request")
	}

	apiServer := api.NewServer(api.Deps{
		Store:       a.Store,
		Syncer:      a.Syncer,
		Oracle:      a.Oracle,
		Chat:        a.Chat,
		Scheduler:   sched,
		BatchBudget: cfg.BatchBudget,
	}, cfg.HTTPAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if sched != nil {
		sched.Start()
	}

	log.Info().
		Str("api", cfg.HTTPAddr).
		Bool("scheduler", sched != nil).
		Msg("Cloracle running")

	// Wait for shutdown signal or a server failure
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if sched != nil {
			if err := sched.Stop(); err != nil {
				log.Error().Err(err).Msg("Scheduler shutdown failed")
			}
		}
		return apiServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Cloracle stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Cloracle stopped")
}
