package signal

import (
	"time"

	"koma/internal/core/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Participant is one hub connection. Rooms and closed are owned by the hub
// loop; the pumps only touch conn and send.
type Participant struct {
	id      domain.ParticipantID
	remote  string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	rooms  map[domain.RoomID]struct{}
	closed bool
}

func newParticipant(id domain.ParticipantID, conn *websocket.Conn, buffer int, limiter *rate.Limiter) *Participant {
	p := &Participant{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, buffer),
		limiter: limiter,
		rooms:   make(map[domain.RoomID]struct{}),
	}
	if conn != nil {
		p.remote = conn.RemoteAddr().String()
	}
	return p
}

func (p *Participant) ID() domain.ParticipantID {
	return p.id
}

// readPump forwards parsed frames to the hub until the connection fails or a
// pong deadline passes.
func (p *Participant) readPump(h *Hub) {
	defer func() {
		h.Unregister(p)
		p.conn.Close()
	}()

	if h.cfg.MaxMessageSize > 0 {
		p.conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	p.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Infow("participant connection lost",
					"participant_id", p.id,
					"remote", p.remote,
					"error", err,
				)
			}
			return
		}

		if p.limiter != nil && !p.limiter.Allow() {
			h.metrics.RecordDropped("rate_limited")
			continue
		}

		env, err := domain.ParseEnvelope(data)
		if err != nil {
			h.metrics.RecordDropped("malformed")
			h.logger.Debugw("dropping malformed frame",
				"participant_id", p.id,
				"error", err,
			)
			continue
		}

		h.dispatch(inbound{from: p, env: env, raw: data})
	}
}

// writePump drains the send queue and pings the peer. A closed send channel
// means the hub evicted the participant.
func (p *Participant) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
