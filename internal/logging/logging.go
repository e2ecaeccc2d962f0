// Package logging constructs the shared zap logger used across the engine.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode selects the zap encoder/output profile.
type Mode string

const (
	// ModeProduction emits JSON to stderr at info level.
	ModeProduction Mode = "production"
	// ModeDevelopment emits colorized console output at debug level.
	ModeDevelopment Mode = "development"
)

// New builds a *zap.Logger for the given mode. Callers should defer Sync().
func New(mode Mode) (*zap.Logger, error) {
	var cfg zap.Config
	switch mode {
	case ModeDevelopment:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
	}
	return cfg.Build()
}

// Noop returns a logger that discards everything, useful for tests.
func Noop() *zap.Logger {
	return zap.NewNop()
}
