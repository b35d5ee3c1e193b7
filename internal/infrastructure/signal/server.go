package signal

import (
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"koma/internal/core/domain"
	"koma/pkg/logger"
	"koma/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebSocketServer upgrades HTTP requests and hands the connections to a Hub.
type WebSocketServer struct {
	hub      *Hub
	upgrader websocket.Upgrader
	active   atomic.Int64
	logger   *logger.ContextLogger
}

// NewWebSocketServer accepts upgrades from the allowed origins. A "*" entry
// accepts any origin; requests without an Origin header are always accepted.
func NewWebSocketServer(hub *Hub, allowedOrigins []string, log *zap.SugaredLogger) *WebSocketServer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &WebSocketServer{
		hub:    hub,
		logger: logger.NewContextLogger(log.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ActiveConnections reports the number of upgraded connections still open.
func (s *WebSocketServer) ActiveConnections() int {
	return int(s.active.Load())
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if max := s.hub.cfg.MaxConnections; max > 0 && s.active.Load() >= int64(max) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	id := domain.ParticipantID(r.URL.Query().Get("id"))
	if id == "" {
		id = domain.ParticipantID(uuid.New().String())
	} else if err := validation.ValidateParticipantID(string(id)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := logger.WithParticipant(r.Context(), string(id))
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.LogWarn(ctx, "websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	var limiter *rate.Limiter
	if s.hub.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.hub.cfg.MessagesPerSecond), s.hub.cfg.Burst)
	}

	p := newParticipant(id, conn, s.hub.cfg.SendBuffer, limiter)
	if !s.hub.Register(p) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	s.active.Add(1)
	s.logger.LogInfo(ctx, "participant connected", zap.String("remote", p.remote))

	go p.writePump(s.hub.cfg.PingInterval, s.hub.cfg.WriteTimeout)
	go func() {
		defer func() {
			s.active.Add(-1)
			s.logger.LogInfo(ctx, "participant disconnected")
		}()
		p.readPump(s.hub)
	}()
}
