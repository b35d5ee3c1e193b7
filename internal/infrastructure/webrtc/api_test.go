package webrtc

import (
	"testing"

	"koma/pkg/config"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnURLs(t *testing.T) {
	tests := []struct {
		name string
		host string
		pref string
		want []string
	}{
		{"tcp", "relay.example.com:3478", "tcp", []string{"turn:relay.example.com:3478?transport=tcp"}},
		{"udp", "relay.example.com:3478", "UDP", []string{"turn:relay.example.com:3478?transport=udp"}},
		{"both", "relay.example.com", "both", []string{
			"turn:relay.example.com?transport=udp",
			"turn:relay.example.com?transport=tcp",
		}},
		{"scheme and query stripped", "turn:relay.example.com:443?transport=udp", "tcp", []string{"turn:relay.example.com:443?transport=tcp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, turnURLs(tt.host, tt.pref))
		})
	}
}

func TestICEConfiguration_ForceRelay(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WebRTC.ICEServers = nil
	cfg.WebRTC.ForceRelay = true
	cfg.WebRTC.Transport = "tcp"
	cfg.WebRTC.TURNHosts = []string{"a.example.com:3478", "b.example.com:3478"}
	cfg.WebRTC.TURNUsername = "user"
	cfg.WebRTC.TURNCredential = "secret"
	cfg.WebRTC.FallbackTURN = []config.ICEServer{
		{URLs: []string{"turn:backup.example.com:443?transport=tcp"}, Username: "u2", Credential: "c2"},
	}

	rtc := ICEConfiguration(cfg)

	assert.Equal(t, webrtc.ICETransportPolicyRelay, rtc.ICETransportPolicy)
	require.Len(t, rtc.ICEServers, 2)
	assert.Equal(t, []string{
		"turn:a.example.com:3478?transport=tcp",
		"turn:b.example.com:3478?transport=tcp",
	}, rtc.ICEServers[0].URLs)
	assert.Equal(t, "user", rtc.ICEServers[0].Username)
	assert.Equal(t, "secret", rtc.ICEServers[0].Credential)
	assert.Equal(t, "u2", rtc.ICEServers[1].Username)
}

func TestICEConfiguration_Defaults(t *testing.T) {
	rtc := ICEConfiguration(config.DefaultConfig())

	assert.Equal(t, webrtc.ICETransportPolicyAll, rtc.ICETransportPolicy)
	require.Len(t, rtc.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, rtc.ICEServers[0].URLs)
}

func TestNewAPI(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WebRTC.PortRange.Min = 50000
	cfg.WebRTC.PortRange.Max = 50100

	api, err := NewAPI(cfg, nil)
	require.NoError(t, err)

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	assert.NoError(t, pc.Close())
}

func TestNewAPI_RejectsInvertedPortRange(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WebRTC.PortRange.Min = 6000
	cfg.WebRTC.PortRange.Max = 5000

	_, err := NewAPI(cfg, nil)
	assert.Error(t, err)
}
