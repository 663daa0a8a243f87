// Command lightapirouter starts the reverse proxy: it loads a transformer
// config, binds a TCP listener, and forwards requests to the configured
// upstream until terminated.
package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/lightapirouter/router/internal/acceptor"
	"github.com/lightapirouter/router/internal/alertsink"
	"github.com/lightapirouter/router/internal/bootstrap"
	"github.com/lightapirouter/router/internal/circuitbreaker"
	"github.com/lightapirouter/router/internal/clockid"
	"github.com/lightapirouter/router/internal/configcache"
	"github.com/lightapirouter/router/internal/connpool"
	"github.com/lightapirouter/router/internal/forwarder"
	"github.com/lightapirouter/router/internal/logging"
	"github.com/lightapirouter/router/internal/metrics"
	"github.com/lightapirouter/router/internal/ratelimit"
	"github.com/lightapirouter/router/internal/router"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	settings := bootstrap.Load(args)

	if err := logging.Configure(logging.Options{Format: settings.LogFormat, UseZap: true}); err != nil {
		log.WithError(err).Error("failed to configure logging")
		return 1
	}

	clock := clockid.System{}

	cache := configcache.New(configcache.FileSource{})
	cache.WatchForInvalidation(settings.ConfigPath)
	defer cache.Close()

	cfg, err := cache.Load(settings.ConfigPath)
	if err != nil {
		log.WithError(err).WithField("path", settings.ConfigPath).Error("failed to load transformer config")
		return 1
	}

	rec := metrics.New()
	tracker := circuitbreaker.New(nil)
	sink := alertsink.Logrus{}

	pool := connpool.New(connpool.DefaultConfig(), connpool.TLSDialer{}, clock)
	fwd := &forwarder.Forwarder{
		Pool:    pool,
		Clock:   clock,
		Metrics: rec,
		Tracker: tracker,
		Sink:    sink,
	}

	rt := &router.Router{
		ConfigCache:     cache,
		ConfigPath:      settings.ConfigPath,
		Limiter:         ratelimit.New(clock),
		Forwarder:       fwd,
		Metrics:         rec,
		MetricsRenderer: rec,
		Clock:           clock,
		DefaultAPIKey:   settings.DefaultAPIKey,
		EnvDefaults: router.EnvRateLimitDefaults{
			RequestsPerMinute: settings.RateLimitRPM,
			Burst:             settings.RateLimitBurst,
		},
	}

	acc := &acceptor.Acceptor{Handler: rt}

	port := settings.ListenPort
	if len(args) <= 2 && cfg.ListenPort > 0 {
		// No explicit CLI port: defer to the transformer config's port.
		port = cfg.ListenPort
	}

	boundPort, err := acc.Listen(port)
	if err != nil {
		log.WithError(err).Error("failed to bind listener")
		return 1
	}
	log.WithField("port", boundPort).Info("lightapirouter listening")

	go func() {
		if err := acc.Serve(); err != nil {
			log.WithError(err).Warn("acceptor stopped serving")
		}
	}()

	waitForSignal()
	log.Info("shutting down")
	acc.Close()
	return 0
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
