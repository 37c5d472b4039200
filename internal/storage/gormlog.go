package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSlowThreshold = 200 * time.Millisecond

// gormLogger routes gorm's logging through zerolog.
type gormLogger struct {
	SlowThreshold time.Duration
}

// NewGormLogger returns a logger.Interface backed by the global zerolog logger.
func NewGormLogger() logger.Interface {
	return &gormLogger{SlowThreshold: defaultSlowThreshold}
}

// LogMode implements logger.Interface. Levels come from zerolog.
func (l *gormLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return l
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	log.Info().Str("data", fmt.Sprint(data...)).Msg(msg)
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	log.Warn().Str("data", fmt.Sprint(data...)).Msg(msg)
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	log.Error().Str("data", fmt.Sprint(data...)).Msg(msg)
}

// Trace implements logger.Interface.
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		log.Debug().Dur("elapsed", elapsed).Str("sql", sql).Msg("Query returned no records")
	case err != nil && isDuplicate(err):
		// Surfaced to callers as ErrDuplicate.
		log.Debug().Err(err).Str("sql", sql).Msg("Unique constraint hit")
	case err != nil:
		log.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("Query failed")
	case elapsed > l.SlowThreshold:
		log.Warn().Dur("elapsed", elapsed).Dur("threshold", l.SlowThreshold).Int64("rows", rows).Str("sql", sql).Msg("Slow query")
	default:
		log.Trace().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("Query")
	}
}
