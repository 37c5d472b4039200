package scheduler

import (
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// gocronLogger routes gocron's key/value logs into zerolog.
type gocronLogger struct{}

func newGocronLogger() gocron.Logger {
	return gocronLogger{}
}

func (gocronLogger) Debug(msg string, args ...any) {
	log.Debug().Str("component", "gocron").Fields(args).Msg(msg)
}

func (gocronLogger) Info(msg string, args ...any) {
	log.Info().Str("component", "gocron").Fields(args).Msg(msg)
}

func (gocronLogger) Warn(msg string, args ...any) {
	log.Warn().Str("component", "gocron").Fields(args).Msg(msg)
}

func (gocronLogger) Error(msg string, args ...any) {
	log.Error().Str("component", "gocron").Fields(args).Msg(msg)
}
