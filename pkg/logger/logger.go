// Package logger builds the application zap logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"viewmux/internal/core/domain"
)

// New creates a zap logger for the given level ("debug", "info", "warn",
// "error") and format ("json" or "console"). Unknown values fall back to
// info/json.
func New(level, format string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// ForViewer returns a sugared logger scoped to one viewer.
func ForViewer(log *zap.SugaredLogger, id domain.ViewerID) *zap.SugaredLogger {
	return log.With("viewer_id", string(id))
}

// ForSession returns a sugared logger scoped to one session.
func ForSession(log *zap.SugaredLogger, viewer domain.ViewerID, session domain.SessionID) *zap.SugaredLogger {
	return log.With("viewer_id", string(viewer), "session_id", string(session))
}
