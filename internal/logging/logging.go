// Package logging wires the ambient structured-logging stack: logrus as the
// primary logger, lumberjack.v2 for file rotation, and an optional zap fast
// path for the SSE hot loop, mirroring the teacher's dual-logger pattern
// (internal/logging/zap_logger.go in the retrieved pack, which coexists
// a Zap logger alongside the project's pervasive logrus usage behind a
// feature flag).
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logging stack, resolved by bootstrap from CLI/env.
type Options struct {
	// Format is "json" or "" (text), per spec.md §6 LOG_FORMAT.
	Format string
	// FilePath rotates logs through lumberjack when non-empty.
	FilePath string
	// Debug raises the log level to Debug.
	Debug bool
	// UseZap enables the optional high-throughput zap path.
	UseZap bool
}

// Configure sets up the package-level logrus logger per Options. It is
// called once at process start from cmd/lightapirouter.
func Configure(opts Options) error {
	if opts.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	var out io.Writer = os.Stdout
	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}
	log.SetOutput(out)

	if opts.UseZap {
		if err := InitZapLoggerSimple(opts.Debug); err != nil {
			log.WithError(err).Warn("failed to initialize zap logger, continuing with logrus only")
		} else {
			log.Info("zap structured logger initialized for high-throughput paths")
		}
	}

	return nil
}

// RequestFields builds the standard per-request logrus.Fields attached to
// every log line emitted while handling one request.
func RequestFields(requestID, route, providerTag string) log.Fields {
	return log.Fields{
		"request_id":   requestID,
		"route":        route,
		"provider_tag": providerTag,
	}
}
