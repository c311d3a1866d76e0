// Package server provides configuration helpers that define runtime
// defaults, validation, and rate-limiting parameters for the Parley relay.
package server

import (
	"log"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
}

// envSpec mirrors Config for envconfig parsing. ALLOWED_ORIGINS is a comma
// list; RATE_LIMIT_REFILL_INTERVAL is in seconds.
type envSpec struct {
	Port                    string   `envconfig:"SERVER_PORT"`
	AllowedOrigins          []string `envconfig:"ALLOWED_ORIGINS"`
	MaxMessageSize          int64    `envconfig:"MAX_MESSAGE_SIZE"`
	RateLimitBurst          int      `envconfig:"RATE_LIMIT_BURST"`
	RateLimitRefillInterval int      `envconfig:"RATE_LIMIT_REFILL_INTERVAL"`
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		// Signaling payloads (SDP offers, ICE candidates) run larger than
		// chat lines, so the cap is above a plain chat server's.
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	sanitizeConfig(Config{
		Port:           cfg.Port,
		AllowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          cfg.RateLimit.Burst,
			RefillInterval: cfg.RateLimit.RefillInterval,
		},
	})
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// falling back to defaults for anything unset or unparsable.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	var spec envSpec
	if err := envconfig.Process("", &spec); err != nil {
		log.Printf("Ignoring malformed environment configuration: %v", err)
		return &cfg
	}

	if spec.Port != "" {
		cfg.Port = spec.Port
	}
	if len(spec.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = spec.AllowedOrigins
	}
	if spec.MaxMessageSize > 0 {
		cfg.MaxMessageSize = spec.MaxMessageSize
	}
	if spec.RateLimitBurst > 0 {
		cfg.RateLimit.Burst = spec.RateLimitBurst
	}
	if spec.RateLimitRefillInterval > 0 {
		cfg.RateLimit.RefillInterval = time.Duration(spec.RateLimitRefillInterval) * time.Second
	}

	return &cfg
}
