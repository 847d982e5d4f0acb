// Package config holds the CLI configuration types and their YAML loaders.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/vcollab/internal/token"
)

// Role represents the user's chosen role (host or peer).
type Role string

const (
	RoleHost Role = "host"
	RolePeer Role = "peer"
)

const (
	DefaultRendezvousURL = "udp://127.0.0.1:7777"
	DefaultUDPAddr       = ":7777"
	DefaultWSAddr        = ":7778"
)

// Config stores the parameters of a session endpoint, gathered from a YAML
// file, CLI flags and interactive prompts, in that order of precedence
// (later wins).
type Config struct {
	Role       Role     `yaml:"role"`
	Name       string   `yaml:"name"`
	Token      string   `yaml:"token"`
	Rendezvous string   `yaml:"rendezvous"`
	STUN       []string `yaml:"stunServers"`

	MaxSlots                int `yaml:"maxSlots"`
	PoolSize                int `yaml:"poolSize"`
	MaxFrameSizeMB          int `yaml:"maxFrameSizeMB"`
	KeepAliveSeconds        int `yaml:"keepAliveSeconds"`
	AdmissionTimeoutSeconds int `yaml:"admissionTimeoutSeconds"`

	// Demo producer
	FrameRate   int `yaml:"frameRate"`
	FrameWidth  int `yaml:"frameWidth"`
	FrameHeight int `yaml:"frameHeight"`

	StatsIntervalSeconds int    `yaml:"statsIntervalSeconds"`
	LogLevel             string `yaml:"logLevel"`
	LogFile              string `yaml:"logFile"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Rendezvous:              DefaultRendezvousURL,
		MaxSlots:                23,
		PoolSize:                15,
		MaxFrameSizeMB:          32,
		KeepAliveSeconds:        10,
		AdmissionTimeoutSeconds: 10,
		FrameRate:               30,
		FrameWidth:              320,
		FrameHeight:             180,
		StatsIntervalSeconds:    10,
		LogLevel:                "info",
	}
}

func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

func (c *Config) AdmissionTimeout() time.Duration {
	return time.Duration(c.AdmissionTimeoutSeconds) * time.Second
}

func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSeconds) * time.Second
}

// MaxFrameSize returns the frame size limit in bytes.
func (c *Config) MaxFrameSize() int {
	return c.MaxFrameSizeMB << 20
}

// Validate checks the fields a session needs. The token is only checked
// when set, since it may still be prompted for.
func (c *Config) Validate() error {
	switch c.Role {
	case "", RoleHost, RolePeer:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", RoleHost, RolePeer, c.Role)
	}
	if c.Token != "" {
		if err := token.Validate(c.Token); err != nil {
			return err
		}
	}
	if c.Rendezvous == "" {
		return fmt.Errorf("rendezvous must be set")
	}
	if c.MaxSlots < 2 || c.MaxSlots > 256 {
		return fmt.Errorf("maxSlots must be within [2, 256], got %d", c.MaxSlots)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("poolSize must be positive")
	}
	if c.MaxFrameSizeMB < 1 {
		return fmt.Errorf("maxFrameSizeMB must be positive")
	}
	if c.KeepAliveSeconds < 1 || c.AdmissionTimeoutSeconds < 1 {
		return fmt.Errorf("keepAliveSeconds and admissionTimeoutSeconds must be positive")
	}
	if c.FrameRate < 1 || c.FrameRate > 240 {
		return fmt.Errorf("frameRate must be within [1, 240], got %d", c.FrameRate)
	}
	if c.FrameWidth < 1 || c.FrameWidth > 0xFFFF || c.FrameHeight < 1 || c.FrameHeight > 0xFFFF {
		return fmt.Errorf("frame dimensions %dx%d out of range", c.FrameWidth, c.FrameHeight)
	}
	if c.StatsIntervalSeconds < 0 {
		return fmt.Errorf("statsIntervalSeconds cannot be negative")
	}
	return nil
}

// LoadConfig reads the configuration from the given file path on top of
// the defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Rendezvous server
// ---------------------------------------------------------------------------

// RendezvousConfig configures the rendezvous server binary.
type RendezvousConfig struct {
	UDPAddr               string `yaml:"udpAddr"`
	WSAddr                string `yaml:"wsAddr"`
	RoomExpirationSeconds int    `yaml:"roomExpirationSeconds"`
	SweepIntervalMillis   int    `yaml:"sweepIntervalMillis"`
	LogLevel              string `yaml:"logLevel"`
	LogFile               string `yaml:"logFile"`
}

// DefaultRendezvous returns the server configuration used when no file is
// given.
func DefaultRendezvous() *RendezvousConfig {
	return &RendezvousConfig{
		UDPAddr:               DefaultUDPAddr,
		WSAddr:                DefaultWSAddr,
		RoomExpirationSeconds: 30,
		SweepIntervalMillis:   20,
		LogLevel:              "info",
	}
}

func (c *RendezvousConfig) RoomExpiration() time.Duration {
	return time.Duration(c.RoomExpirationSeconds) * time.Second
}

func (c *RendezvousConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMillis) * time.Millisecond
}

func (c *RendezvousConfig) Validate() error {
	if c.UDPAddr == "" && c.WSAddr == "" {
		return fmt.Errorf("at least one of udpAddr and wsAddr must be set")
	}
	if c.RoomExpirationSeconds < 1 {
		return fmt.Errorf("roomExpirationSeconds must be positive")
	}
	if c.SweepIntervalMillis < 1 {
		return fmt.Errorf("sweepIntervalMillis must be positive")
	}
	if c.SweepInterval() >= c.RoomExpiration() {
		return fmt.Errorf("sweep interval must be shorter than the room expiration")
	}
	return nil
}

// LoadRendezvousConfig reads the server configuration from path on top of
// the defaults, and validates it.
func LoadRendezvousConfig(path string) (*RendezvousConfig, error) {
	cfg := DefaultRendezvous()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func load(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file at %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to unmarshal yaml from %s: %w", path, err)
	}
	return nil
}
