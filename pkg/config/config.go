package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		SendBuffer          int           `yaml:"send_buffer"`
		RoomCapacity        int           `yaml:"room_capacity"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
	} `yaml:"signal"`

	Client struct {
		SignalURL        string        `yaml:"signal_url"`
		ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
		OutboxLimit      int           `yaml:"outbox_limit"`
		DisplayName      string        `yaml:"display_name"`
	} `yaml:"client"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`

		// TURN hosts are expanded per transport, e.g. turn:host:3478?transport=tcp
		TURNHosts      []string    `yaml:"turn_hosts"`
		TURNUsername   string      `yaml:"turn_username"`
		TURNCredential string      `yaml:"turn_credential"`
		FallbackTURN   []ICEServer `yaml:"fallback_turn"`
		ForceRelay     bool        `yaml:"force_relay"`
		Transport      string      `yaml:"transport"` // tcp, udp or both

		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		AnswerTimeout time.Duration `yaml:"answer_timeout"`
		MaxRestarts   int           `yaml:"max_restarts"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Auth struct {
		AllowedOrigins []string      `yaml:"allowed_origins"`
		InviteSecret   string        `yaml:"invite_secret"`
		InviteTTL      time.Duration `yaml:"invite_ttl"`
		InviteBaseURL  string        `yaml:"invite_base_url"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConnections    int     `yaml:"max_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be > 0")
	}
	if c.Signal.RoomCapacity != 2 {
		return fmt.Errorf("signal.room_capacity is fixed at 2, got %d", c.Signal.RoomCapacity)
	}
	if c.Signal.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("signal.max_message_size_bytes must be >= 0")
	}

	// Client
	if c.Client.SignalURL == "" {
		return fmt.Errorf("client.signal_url must not be empty")
	}
	if c.Client.ReconnectBackoff <= 0 {
		return fmt.Errorf("client.reconnect_backoff must be > 0")
	}
	if c.Client.OutboxLimit < 0 {
		return fmt.Errorf("client.outbox_limit must be >= 0")
	}

	// WebRTC
	switch c.WebRTC.Transport {
	case "tcp", "udp", "both":
	default:
		return fmt.Errorf("webrtc.transport must be one of tcp, udp, both, got %q", c.WebRTC.Transport)
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.AnswerTimeout <= 0 {
		return fmt.Errorf("webrtc.answer_timeout must be > 0")
	}
	if c.WebRTC.MaxRestarts < 0 {
		return fmt.Errorf("webrtc.max_restarts must be >= 0")
	}
	if c.WebRTC.ForceRelay && len(c.WebRTC.TURNHosts) == 0 && len(c.WebRTC.FallbackTURN) == 0 && !hasTURN(c.WebRTC.ICEServers) {
		return fmt.Errorf("webrtc.force_relay requires at least one TURN server")
	}

	// Monitoring
	if c.Monitoring.HealthCheckInterval <= 0 {
		return fmt.Errorf("monitoring.health_check_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Auth
	if len(c.Auth.AllowedOrigins) == 0 {
		return fmt.Errorf("auth.allowed_origins must not be empty")
	}
	if c.Auth.InviteSecret == "" {
		return fmt.Errorf("auth.invite_secret must not be empty")
	}
	if c.Auth.InviteTTL <= 0 {
		return fmt.Errorf("auth.invite_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConnections < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_connections must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

func hasTURN(servers []ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendBuffer = 64
	cfg.Signal.RoomCapacity = 2
	cfg.Signal.MaxMessageSizeBytes = 64 * 1024

	cfg.Client.SignalURL = "ws://localhost:8080/ws"
	cfg.Client.ReconnectBackoff = 1500 * time.Millisecond
	cfg.Client.OutboxLimit = 0

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	cfg.WebRTC.ForceRelay = false
	cfg.WebRTC.Transport = "tcp"
	cfg.WebRTC.AnswerTimeout = 8 * time.Second
	cfg.WebRTC.MaxRestarts = 3

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckInterval = 15 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "koma:events"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Auth.AllowedOrigins = []string{"*"}
	cfg.Auth.InviteSecret = "change-me-in-production"
	cfg.Auth.InviteTTL = 24 * time.Hour
	cfg.Auth.InviteBaseURL = "http://localhost:8080/video.html"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxConnections = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("KOMA_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("KOMA_SIGNAL_URL"); url != "" {
		c.Client.SignalURL = url
	}
	if origin := os.Getenv("KOMA_ALLOWED_ORIGIN"); origin != "" {
		c.Auth.AllowedOrigins = strings.Split(origin, ",")
	}
	if level := os.Getenv("KOMA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("KOMA_INVITE_SECRET"); secret != "" {
		c.Auth.InviteSecret = secret
	}
	if relay := os.Getenv("KOMA_FORCE_RELAY"); relay != "" {
		if v, err := strconv.ParseBool(relay); err == nil {
			c.WebRTC.ForceRelay = v
		}
	}
	if proto := os.Getenv("KOMA_ICE_TRANSPORT"); proto != "" {
		c.WebRTC.Transport = strings.ToLower(proto)
	}
	if hosts := os.Getenv("KOMA_TURN_HOSTS"); hosts != "" {
		c.WebRTC.TURNHosts = strings.Split(hosts, ",")
	}
	if user := os.Getenv("KOMA_TURN_USERNAME"); user != "" {
		c.WebRTC.TURNUsername = user
	}
	if cred := os.Getenv("KOMA_TURN_CREDENTIAL"); cred != "" {
		c.WebRTC.TURNCredential = cred
	}
	if addr := os.Getenv("KOMA_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
}
