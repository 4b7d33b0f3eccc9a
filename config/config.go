// Package config loads and validates the on-disk configuration of the
// virtual sound card daemon.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a configuration that parsed but cannot be
// used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of the daemon configuration file.
type Config struct {
	// Name is the device name announced in logs and metrics.
	Name string `yaml:"name"`

	// InterfaceIP selects the local interface streams bind to. Empty lets
	// the kernel choose.
	InterfaceIP string `yaml:"interfaceIp"`

	// LogLevel is a logrus level name. Empty means info.
	LogLevel string `yaml:"logLevel"`

	Metrics   Metrics          `yaml:"metrics"`
	Defaults  StreamDefaults   `yaml:"defaults"`
	Receivers []ReceiverConfig `yaml:"receivers"`
	Senders   []SenderConfig   `yaml:"senders"`
}

// Metrics configures the Prometheus scrape endpoint.
type Metrics struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// StreamDefaults are applied to every stream that does not override them.
type StreamDefaults struct {
	// LinkOffset is the playout delay in milliseconds.
	LinkOffset float64 `yaml:"linkOffset"`

	// BufferTime is the buffer capacity in milliseconds.
	BufferTime float64 `yaml:"bufferTime"`

	// MuteWindow is the underrun recovery window in service cycles.
	MuteWindow int `yaml:"muteWindow"`
}

// ReceiverConfig declares one receiver created at startup.
type ReceiverConfig struct {
	ID string `yaml:"id"`

	// SDPFile points at a session description on disk. Exactly one of
	// SDPFile and SDP must be set.
	SDPFile string `yaml:"sdpFile"`

	// SDP holds the session description inline.
	SDP string `yaml:"sdp"`

	LinkOffset float64 `yaml:"linkOffset"`
	BufferTime float64 `yaml:"bufferTime"`
	MuteWindow int     `yaml:"muteWindow"`
}

// SenderConfig declares one sender created at startup.
type SenderConfig struct {
	ID string `yaml:"id"`

	// Format uses rtpmap notation, e.g. "L24/48000/2".
	Format string `yaml:"format"`

	// PacketTime is the packet time in milliseconds.
	PacketTime float64 `yaml:"packetTime"`

	// PayloadType is the dynamic RTP payload type.
	PayloadType uint8 `yaml:"payloadType"`

	// Destination is an address-port pair, e.g. "239.69.1.1:5004".
	Destination string `yaml:"destination"`

	BufferTime float64 `yaml:"bufferTime"`
	TTL        int     `yaml:"ttl"`
}

// Load reads and validates a configuration file. Unknown keys are rejected
// so that typos surface at startup instead of silently selecting defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidConfig)
	}
	if c.InterfaceIP != "" && net.ParseIP(c.InterfaceIP) == nil {
		return fmt.Errorf("%w: interfaceIp %q is not an IP address", ErrInvalidConfig, c.InterfaceIP)
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("%w: metrics.listenAddr must be set when metrics are enabled", ErrInvalidConfig)
	}

	seen := make(map[string]bool)
	for i := range c.Receivers {
		r := &c.Receivers[i]
		if r.ID == "" {
			return fmt.Errorf("%w: receivers[%d].id must not be empty", ErrInvalidConfig, i)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate stream id %q", ErrInvalidConfig, r.ID)
		}
		seen[r.ID] = true
		if (r.SDPFile == "") == (r.SDP == "") {
			return fmt.Errorf("%w: receiver %q must set exactly one of sdpFile and sdp", ErrInvalidConfig, r.ID)
		}
	}
	for i := range c.Senders {
		s := &c.Senders[i]
		if s.ID == "" {
			return fmt.Errorf("%w: senders[%d].id must not be empty", ErrInvalidConfig, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate stream id %q", ErrInvalidConfig, s.ID)
		}
		seen[s.ID] = true
		if s.Format == "" {
			return fmt.Errorf("%w: sender %q must set a format", ErrInvalidConfig, s.ID)
		}
		if s.Destination == "" {
			return fmt.Errorf("%w: sender %q must set a destination", ErrInvalidConfig, s.ID)
		}
	}

	return nil
}

// Level parses the configured log level, defaulting to info.
func (c *Config) Level() logrus.Level {
	if c.LogLevel == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// LinkOffsetFor resolves a receiver's link offset against the defaults.
func (c *Config) LinkOffsetFor(r *ReceiverConfig) float64 {
	if r.LinkOffset > 0 {
		return r.LinkOffset
	}
	return c.Defaults.LinkOffset
}

// BufferTimeFor resolves a stream's buffer time against the defaults. Zero
// means the engine default.
func (c *Config) BufferTimeFor(override float64) float64 {
	if override > 0 {
		return override
	}
	return c.Defaults.BufferTime
}

// MuteWindowFor resolves a receiver's mute window against the defaults.
// Zero means the engine default.
func (c *Config) MuteWindowFor(r *ReceiverConfig) int {
	if r.MuteWindow > 0 {
		return r.MuteWindow
	}
	return c.Defaults.MuteWindow
}
