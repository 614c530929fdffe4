package anyauth

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the manager's zap logger from config. Logging disabled
// means a no-op logger so call sites never nil-check.
func newLogger(cfg *Config) *zap.Logger {
	if cfg == nil || !cfg.EnableLogging {
		return zap.NewNop()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("anyauth")
}
