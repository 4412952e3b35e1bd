package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
)

// GormLogger routes gorm's logger interface onto zerolog.
type GormLogger struct {
	log      zerolog.Logger
	LogLevel logger.LogLevel
}

func NewGormLogger(log zerolog.Logger) *GormLogger {
	return &GormLogger{log: log, LogLevel: logger.Warn}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	out := *l
	out.LogLevel = level
	return &out
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.Info().Interface("data", data).Msg(msg)
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.Warn().Interface("data", data).Msg(msg)
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.Error().Interface("data", data).Msg(msg)
	}
}

// Trace logs each executed statement; slow statements are promoted to
// warnings.
func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	ev := func(e *zerolog.Event) *zerolog.Event {
		return e.Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed)
	}

	switch {
	case err != nil && l.LogLevel >= logger.Error:
		ev(l.log.Error().Err(err)).Msg("sql failed")
	case elapsed > time.Second && l.LogLevel >= logger.Warn:
		ev(l.log.Warn()).Msg("slow sql")
	case l.LogLevel == logger.Info:
		ev(l.log.Debug()).Msg("sql")
	}
}
