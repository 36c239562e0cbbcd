package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/niklaspandersson/dicebox/internal/signaling"
)

// Config is the signaling server configuration, read from the environment.
type Config struct {
	Addr     string `env:"DICEBOX_ADDR"      envDefault:":8080"`
	RedisURL string `env:"DICEBOX_REDIS_URL"`

	SessionExpiry  time.Duration `env:"DICEBOX_SESSION_EXPIRY"   envDefault:"5m"`
	SweepInterval  time.Duration `env:"DICEBOX_SWEEP_INTERVAL"   envDefault:"1m"`
	RateLimit      int           `env:"DICEBOX_RATE_LIMIT"       envDefault:"50"`
	MaxConnsPerIP  int           `env:"DICEBOX_MAX_CONNS_PER_IP" envDefault:"10"`
	MaxMessageSize int           `env:"DICEBOX_MAX_MESSAGE_SIZE" envDefault:"65536"`

	// AllowedOrigins lists the Origin headers accepted on upgrade. Empty
	// accepts every origin.
	AllowedOrigins []string `env:"DICEBOX_ALLOWED_ORIGINS" envSeparator:","`
}

// LoadConfig parses the environment and checks the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse server env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("DICEBOX_ADDR is required")
	}
	if c.SessionExpiry <= 0 {
		return fmt.Errorf("DICEBOX_SESSION_EXPIRY must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("DICEBOX_SWEEP_INTERVAL must be positive")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("DICEBOX_RATE_LIMIT must be positive")
	}
	if c.MaxConnsPerIP <= 0 {
		return fmt.Errorf("DICEBOX_MAX_CONNS_PER_IP must be positive")
	}
	if c.MaxMessageSize < 1024 {
		return fmt.Errorf("DICEBOX_MAX_MESSAGE_SIZE must be at least 1024")
	}
	return nil
}

// Hub returns the registry settings.
func (c Config) Hub() signaling.Config {
	return signaling.Config{
		SessionExpiry:  c.SessionExpiry,
		SweepInterval:  c.SweepInterval,
		RateLimit:      c.RateLimit,
		MaxMessageSize: c.MaxMessageSize,
	}
}
