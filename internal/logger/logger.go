// Package logger provides structured logging using Zap.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar *zap.SugaredLogger
	level zapcore.Level
	once  sync.Once
)

// Init initializes the global logger for the given environment and level.
// "production" uses a JSON encoder; every other environment uses a
// human-readable console encoder. An unparsable level falls back to info.
func Init(env, lvl string) {
	once.Do(func() {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			parsed = zapcore.InfoLevel
		}
		level = parsed

		var cfg zap.Config
		if env == "production" {
			cfg = zap.NewProductionConfig()
		} else {
			cfg = zap.NewDevelopmentConfig()
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)

		base, err := cfg.Build()
		if err != nil {
			base = zap.NewNop()
		}

		sugar = base.Sugar()
	})
}

// Get returns the global sugared logger.
// If Init has not been called, it initializes a development logger.
func Get() *zap.SugaredLogger {
	if sugar == nil {
		Init("development", "debug")
	}
	return sugar
}

// Level returns the level the global logger was initialized with.
func Level() zapcore.Level {
	Get()
	return level
}

// Sync flushes any buffered log entries. Call this before application exit.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
