// Package logging wraps zap with the level conventions the rest of the
// module expects (warn on rejections and transient failures, error on fatal
// invariant violations).
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style zap logger whose minimum level is parsed
// from the given string (debug, info, warn, error); unrecognized values
// fall back to info.
func New(level string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		// Logging construction should never fail with stderr output; if it
		// somehow does, fall back to a bare logger rather than crash.
		logger = zap.NewExample()
	}
	return logger.Sugar()
}

// NewNop returns a logger that discards everything, used in tests.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

