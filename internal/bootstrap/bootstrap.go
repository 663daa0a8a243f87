// Package bootstrap resolves process configuration (CLI args, environment
// variables, optional .env file) into the settings cmd/lightapirouter wires
// up, per spec.md §6.
package bootstrap

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConfigBaseDir = "transformer"
	defaultConfigName    = "default"
	defaultListenPort    = 8000
)

// Settings is everything cmd/lightapirouter needs to start serving.
type Settings struct {
	ConfigPath     string
	ListenPort     int
	DefaultAPIKey  string
	RateLimitRPM   int
	RateLimitBurst int
	LogFormat      string
}

// Load reads .env (best-effort), then resolves Settings from CLI args and
// environment variables, per spec.md §6:
//
//	program [config-name [port]]
//
// Env vars: DEFAULT_API_KEY, API_ROUTER_CONFIG_PATH,
// RATE_LIMIT_REQUESTS_PER_MINUTE, RATE_LIMIT_BURST, LOG_FORMAT.
func Load(args []string) Settings {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Debug("bootstrap: no .env file loaded")
	}

	configName := defaultConfigName
	if len(args) > 1 {
		configName = args[1]
	}

	port := defaultListenPort
	if len(args) > 2 {
		if p, err := strconv.Atoi(args[2]); err == nil && p > 0 {
			port = p
		}
	}

	configPath := os.Getenv("API_ROUTER_CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigBaseDir + "/" + configName + ".json"
	}

	return Settings{
		ConfigPath:     configPath,
		ListenPort:     port,
		DefaultAPIKey:  os.Getenv("DEFAULT_API_KEY"),
		RateLimitRPM:   envInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 0),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 0),
		LogFormat:      os.Getenv("LOG_FORMAT"),
	}
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
