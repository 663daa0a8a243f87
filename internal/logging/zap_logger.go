// This file provides the optional high-performance Zap logger used for the
// SSE hot loop, adapted from the teacher's internal/logging/zap_logger.go.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	zapLogger  *zap.Logger
	zapEnabled bool
	zapMu      sync.RWMutex
)

// zapConfig builds a production or development zap config depending on
// debug mode.
func zapConfig(debug bool) zap.Config {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg
}

// InitZapLoggerSimple initializes the package-level zap logger. Safe to
// call more than once; the last call wins.
func InitZapLoggerSimple(debug bool) error {
	built, err := zapConfig(debug).Build()
	if err != nil {
		return err
	}

	zapMu.Lock()
	zapLogger = built
	zapEnabled = true
	zapMu.Unlock()
	return nil
}

// Zap returns the zap logger, or nil if it was never initialized.
func Zap() *zap.Logger {
	zapMu.RLock()
	defer zapMu.RUnlock()
	if !zapEnabled {
		return nil
	}
	return zapLogger
}

// ZapEnabled reports whether the zap fast path is active.
func ZapEnabled() bool {
	zapMu.RLock()
	defer zapMu.RUnlock()
	return zapEnabled
}

// ZapSync flushes buffered zap log entries; call before process exit.
func ZapSync() error {
	zapMu.RLock()
	defer zapMu.RUnlock()
	if !zapEnabled {
		return nil
	}
	return zapLogger.Sync()
}
