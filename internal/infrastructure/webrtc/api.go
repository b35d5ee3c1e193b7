package webrtc

import (
	"fmt"
	"strings"

	"koma/pkg/config"
	rlog "koma/pkg/logger"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ICEConfiguration builds the peer connection configuration. TURN hosts are
// expanded once per preferred candidate transport and fallback servers are
// appended after them.
func ICEConfiguration(cfg *config.Config) webrtc.Configuration {
	var servers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	if len(cfg.WebRTC.TURNHosts) > 0 {
		var urls []string
		for _, host := range cfg.WebRTC.TURNHosts {
			urls = append(urls, turnURLs(host, cfg.WebRTC.Transport)...)
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:           urls,
			Username:       cfg.WebRTC.TURNUsername,
			Credential:     cfg.WebRTC.TURNCredential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}

	for _, s := range cfg.WebRTC.FallbackTURN {
		servers = append(servers, webrtc.ICEServer{
			URLs:           s.URLs,
			Username:       s.Username,
			Credential:     s.Credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.WebRTC.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
		SDPSemantics:       webrtc.SDPSemanticsUnifiedPlan,
	}
}

// turnURLs returns turn:host?transport=... for each transport in pref.
func turnURLs(host, pref string) []string {
	host = strings.TrimPrefix(strings.TrimPrefix(host, "turns:"), "turn:")
	if i := strings.Index(host, "?"); i >= 0 {
		host = host[:i]
	}

	var transports []string
	switch strings.ToLower(pref) {
	case "tcp":
		transports = []string{"tcp"}
	case "udp":
		transports = []string{"udp"}
	default:
		transports = []string{"udp", "tcp"}
	}

	urls := make([]string, 0, len(transports))
	for _, t := range transports {
		urls = append(urls, fmt.Sprintf("turn:%s?transport=%s", host, t))
	}
	return urls
}

// NewAPI builds a pion API with the default codecs and interceptors, the
// configured UDP port range and pion logs routed through logger.
func NewAPI(cfg *config.Config, logger *zap.SugaredLogger) (*webrtc.API, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{
		LoggerFactory: rlog.NewPionLoggerFactory(logger.Named("pion")),
	}
	if lo, hi := cfg.WebRTC.PortRange.Min, cfg.WebRTC.PortRange.Max; lo > 0 && hi > 0 {
		if err := s.SetEphemeralUDPPortRange(lo, hi); err != nil {
			return nil, fmt.Errorf("invalid port range %d-%d: %w", lo, hi, err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(s),
	), nil
}
