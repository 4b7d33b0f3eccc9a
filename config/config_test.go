package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `name: studio-card
interfaceIp: 192.168.1.10
logLevel: debug
metrics:
  enabled: true
  listenAddr: :9090
defaults:
  linkOffset: 5
  bufferTime: 20
  muteWindow: 200
receivers:
  - id: console-left
    sdpFile: /etc/aes67/console.sdp
  - id: console-right
    sdpFile: /etc/aes67/console-r.sdp
    linkOffset: 10
senders:
  - id: monitor-out
    format: L24/48000/2
    packetTime: 1
    payloadType: 98
    destination: 239.69.1.1:5004
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "studio-card", cfg.Name)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
	require.Len(t, cfg.Receivers, 2)
	require.Len(t, cfg.Senders, 1)

	assert.Equal(t, 5.0, cfg.LinkOffsetFor(&cfg.Receivers[0]))
	assert.Equal(t, 10.0, cfg.LinkOffsetFor(&cfg.Receivers[1]))
	assert.Equal(t, 20.0, cfg.BufferTimeFor(cfg.Receivers[0].BufferTime))
	assert.Equal(t, 200, cfg.MuteWindowFor(&cfg.Receivers[0]))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "name: card\nlinkOfset: 5\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "empty name",
			mutate: func(c *Config) { c.Name = "" },
		},
		{
			name:   "bad interface ip",
			mutate: func(c *Config) { c.InterfaceIP = "not-an-ip" },
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.LogLevel = "loud" },
		},
		{
			name:   "metrics enabled without listen address",
			mutate: func(c *Config) { c.Metrics = Metrics{Enabled: true} },
		},
		{
			name: "receiver without id",
			mutate: func(c *Config) {
				c.Receivers = []ReceiverConfig{{SDPFile: "x.sdp"}}
			},
		},
		{
			name: "receiver with both sdp sources",
			mutate: func(c *Config) {
				c.Receivers = []ReceiverConfig{{ID: "rx", SDPFile: "x.sdp", SDP: "v=0"}}
			},
		},
		{
			name: "receiver with neither sdp source",
			mutate: func(c *Config) {
				c.Receivers = []ReceiverConfig{{ID: "rx"}}
			},
		},
		{
			name: "duplicate stream id",
			mutate: func(c *Config) {
				c.Receivers = []ReceiverConfig{{ID: "dup", SDPFile: "x.sdp"}}
				c.Senders = []SenderConfig{{ID: "dup", Format: "L24/48000/2", Destination: "239.69.1.1:5004"}}
			},
		},
		{
			name: "sender without format",
			mutate: func(c *Config) {
				c.Senders = []SenderConfig{{ID: "tx", Destination: "239.69.1.1:5004"}}
			},
		},
		{
			name: "sender without destination",
			mutate: func(c *Config) {
				c.Senders = []SenderConfig{{ID: "tx", Format: "L24/48000/2"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Name: "card"}
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLevelDefaultsToInfo(t *testing.T) {
	cfg := Config{Name: "card"}
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}
