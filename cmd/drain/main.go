// Package main analyzes the whole unanalyzed backlog, then exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/app"
	"github.com/leeaandrob/cloracle/internal/config"
	"github.com/leeaandrob/cloracle/internal/scheduler"
)

func main() {
	maxRounds := flag.Int("rounds", 20, "maximum drain rounds, waiting out backoff between them")
	syncFirst := flag.Bool("sync", false, "sync the market feed before draining")
	flag.Parse()

	app.SetupLogging(false)

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

	if *syncFirst {
		res, err := a.Syncer.SyncOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Sync failed")
			os.Exit(1)
		}
		log.Info().Int("created", res.Created).Int("updated", res.Updated).Msg("Sync complete")
	}

	drainer := scheduler.NewDrainer(a.Oracle, scheduler.DrainConfig{
		Cooldown:   cfg.RateLimitCooldown,
		MaxBackoff: cfg.AnalyzeMaxBackoff,
		Budget:     cfg.BatchBudget,
	})

	total := 0
	for round := 1; round <= *maxRounds; round++ {
		report, err := drainer.Drain(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Drain failed")
			os.Exit(1)
		}
		total += report.Analyzed

		if report.Done {
			log.Info().Int("analyzed", total).Msg("Backlog drained")
			return
		}
		if ctx.Err() != nil {
			break
		}
		if report.BackoffUntil != nil {
			wait := time.Until(*report.BackoffUntil)
			log.Info().Int("round", round).Dur("wait", wait).Msg("Waiting out backoff")
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}
	}

	log.Warn().Int("analyzed", total).Msg("Stopped before the backlog was empty")
}
