package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 2, cfg.Signal.RoomCapacity)
	assert.Equal(t, 1500*time.Millisecond, cfg.Client.ReconnectBackoff)
	assert.Equal(t, 8*time.Second, cfg.WebRTC.AnswerTimeout)
	assert.Equal(t, 3, cfg.WebRTC.MaxRestarts)
	assert.Equal(t, "tcp", cfg.WebRTC.Transport)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
signal:
  ping_interval: 5s
  pong_timeout: 10s
client:
  signal_url: "ws://hub.example:9000/ws"
  reconnect_backoff: 1200ms
webrtc:
  transport: udp
  turn_hosts: ["turn.example.com:3478"]
  turn_username: u
  turn_credential: p
  force_relay: true
logging:
  level: "debug"
`)

	t.Setenv("KOMA_LOG_LEVEL", "warn")
	t.Setenv("KOMA_ALLOWED_ORIGIN", "https://koma.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Signal.PingInterval)
	assert.Equal(t, "ws://hub.example:9000/ws", cfg.Client.SignalURL)
	assert.Equal(t, 1200*time.Millisecond, cfg.Client.ReconnectBackoff)
	assert.Equal(t, "udp", cfg.WebRTC.Transport)
	assert.True(t, cfg.WebRTC.ForceRelay)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"https://koma.example"}, cfg.Auth.AllowedOrigins)
	// untouched sections keep defaults
	assert.Equal(t, 64, cfg.Signal.SendBuffer)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"room capacity is fixed", func(c *Config) { c.Signal.RoomCapacity = 3 }},
		{"pong timeout must exceed ping interval", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"unknown transport", func(c *Config) { c.WebRTC.Transport = "sctp" }},
		{"answer timeout must be > 0", func(c *Config) { c.WebRTC.AnswerTimeout = 0 }},
		{"max restarts must be >= 0", func(c *Config) { c.WebRTC.MaxRestarts = -1 }},
		{"force relay without turn", func(c *Config) { c.WebRTC.ForceRelay = true }},
		{"half port range", func(c *Config) { c.WebRTC.PortRange.Min = 5000 }},
		{"reconnect backoff must be > 0", func(c *Config) { c.Client.ReconnectBackoff = 0 }},
		{"empty signal url", func(c *Config) { c.Client.SignalURL = "" }},
		{"redis without channel", func(c *Config) { c.Redis.Enabled = true; c.Redis.Channel = "" }},
		{"tracing sample rate", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRate = 2 }},
		{"empty origins", func(c *Config) { c.Auth.AllowedOrigins = nil }},
		{"ws burst when enabled", func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.WebSocket.Burst = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_ForceRelayWithFallbackTURN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WebRTC.ForceRelay = true
	cfg.WebRTC.FallbackTURN = []ICEServer{{URLs: []string{"turns:relay.example:443"}}}
	assert.NoError(t, cfg.Validate())
}
