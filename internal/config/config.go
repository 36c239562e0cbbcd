// Package config resolves the terminal client's settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// Default configuration values
const (
	DefaultServer      = "ws://localhost:8080/ws"
	DefaultSTUN        = "stun:stun.l.google.com:19302"
	DefaultRollTimeout = 3 * time.Second
	DefaultJoinTimeout = 5 * time.Second

	MaxUsernameLen = 32
)

var ErrInvalidUsername = errors.New("invalid username")

// Config holds the client configuration.
type Config struct {
	// ServerURL is the websocket endpoint of the signaling server.
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	Username string

	// RollTimeout is how long a roll request waits for its generator.
	RollTimeout time.Duration
	// JoinTimeout bounds the wait for room state after joining.
	JoinTimeout time.Duration
}

// Options carry CLI flag overrides. Zero values are unset.
type Options struct {
	ServerURL   string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	Username    string
	RollTimeout time.Duration
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options)
// 2. Environment variables
// 3. Defaults
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		ServerURL:   pick(opts.ServerURL, os.Getenv("DICEBOX_SERVER"), DefaultServer),
		STUNServer:  pick(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		TURNServer:  pick(opts.TURNServer, os.Getenv("TURN_SERVER"), ""),
		TURNUser:    pick(opts.TURNUser, os.Getenv("TURN_USERNAME"), ""),
		TURNPass:    pick(opts.TURNPass, os.Getenv("TURN_PASSWORD"), ""),
		ForceRelay:  opts.ForceRelay,
		Username:    pick(opts.Username, os.Getenv("DICEBOX_USERNAME"), os.Getenv("USER"), "player"),
		RollTimeout: DefaultRollTimeout,
		JoinTimeout: DefaultJoinTimeout,
	}

	switch {
	case opts.RollTimeout > 0:
		cfg.RollTimeout = opts.RollTimeout
	case os.Getenv("DICEBOX_ROLL_TIMEOUT") != "":
		d, err := time.ParseDuration(os.Getenv("DICEBOX_ROLL_TIMEOUT"))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid DICEBOX_ROLL_TIMEOUT %q", os.Getenv("DICEBOX_ROLL_TIMEOUT"))
		}
		cfg.RollTimeout = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (c *Config) validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server URL must use ws or wss, got %q", u.Scheme)
	}
	if n := utf8.RuneCountInString(c.Username); n == 0 || n > MaxUsernameLen {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidUsername, MaxUsernameLen)
	}
	if c.ForceRelay && c.TURNServer == "" {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
