// Package main re-runs the category classifier over every stored event.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/app"
	"github.com/leeaandrob/cloracle/internal/category"
	"github.com/leeaandrob/cloracle/internal/config"
)

func main() {
	app.SetupLogging(false)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app.SetupLogging(cfg.Debug)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close(context.Background())

	res, err := a.Syncer.ReclassifyAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Reclassification failed")
		os.Exit(1)
	}

	for _, label := range category.Labels() {
		log.Info().Str("category", label).Int("count", res.Categories[label]).Msg("Category")
	}
	log.Info().
		Int("updated", res.Updated).
		Int("total", res.Total).
		Msg("Reclassification complete")
}
