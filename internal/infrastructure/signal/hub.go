package signal

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	"koma/pkg/config"
	"koma/pkg/tracing"
	"koma/pkg/validation"

	"go.uber.org/zap"
)

// HubSender is the from field of envelopes the hub originates on its own.
const HubSender domain.ParticipantID = "hub"

type HubConfig struct {
	RoomCapacity      int
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	MaxConnections    int
}

// NewHubConfig extracts the hub settings from the service configuration.
func NewHubConfig(cfg *config.Config) HubConfig {
	hc := HubConfig{
		RoomCapacity:   cfg.Signal.RoomCapacity,
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBuffer:     cfg.Signal.SendBuffer,
		MaxMessageSize: cfg.Signal.MaxMessageSizeBytes,
	}
	if cfg.RateLimiting.Enabled {
		hc.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		hc.Burst = cfg.RateLimiting.WebSocket.Burst
		hc.MaxConnections = cfg.RateLimiting.WebSocket.MaxConnections
	}
	return hc
}

type inbound struct {
	from *Participant
	env  domain.Envelope
	raw  []byte
}

// Hub owns the room registry. Every mutation happens on the goroutine running
// Run, one inbound envelope at a time.
type Hub struct {
	cfg      HubConfig
	registry *Registry

	participants map[*Participant]struct{}
	evictions    []*Participant

	register   chan *Participant
	unregister chan *Participant
	inbound    chan inbound
	statsReq   chan chan domain.HubStats
	done       chan struct{}

	metrics ports.HubMetrics
	events  ports.EventSink
	logger  *zap.SugaredLogger
}

func NewHub(cfg HubConfig, metrics ports.HubMetrics, events ports.EventSink, logger *zap.SugaredLogger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if events == nil {
		events = noopEvents{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		cfg:          cfg,
		registry:     NewRegistry(cfg.RoomCapacity),
		participants: make(map[*Participant]struct{}),
		register:     make(chan *Participant),
		unregister:   make(chan *Participant),
		inbound:      make(chan inbound, 256),
		statsReq:     make(chan chan domain.HubStats),
		done:         make(chan struct{}),
		metrics:      metrics,
		events:       events,
		logger:       logger,
	}
}

// Run processes registrations and envelopes until ctx is cancelled, then
// disconnects every participant.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for p := range h.participants {
				h.disconnect(p)
			}
			h.logger.Info("signaling hub stopped")
			return
		case p := <-h.register:
			h.participants[p] = struct{}{}
			h.metrics.SetConnections(len(h.participants))
		case p := <-h.unregister:
			h.disconnect(p)
		case in := <-h.inbound:
			h.handle(in)
		case reply := <-h.statsReq:
			reply <- h.stats()
		}
		h.flushEvictions()
	}
}

// Register hands a new connection to the hub loop. It returns false once the
// hub has stopped.
func (h *Hub) Register(p *Participant) bool {
	select {
	case h.register <- p:
		return true
	case <-h.done:
		return false
	}
}

// Unregister processes a closed connection as a leave of all its rooms.
func (h *Hub) Unregister(p *Participant) {
	select {
	case h.unregister <- p:
	case <-h.done:
	}
}

func (h *Hub) dispatch(in inbound) {
	select {
	case h.inbound <- in:
	case <-h.done:
	}
}

// Stats returns a snapshot of the registry taken on the hub loop.
func (h *Hub) Stats(ctx context.Context) (domain.HubStats, error) {
	reply := make(chan domain.HubStats, 1)
	select {
	case h.statsReq <- reply:
	case <-h.done:
		return domain.HubStats{}, context.Canceled
	case <-ctx.Done():
		return domain.HubStats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return domain.HubStats{}, ctx.Err()
	}
}

func (h *Hub) handle(in inbound) {
	p, env := in.from, in.env
	if p.closed {
		return
	}

	_, span := tracing.TraceEnvelope(context.Background(), string(env.Type), string(env.Room), string(p.id))
	defer span.End()

	switch env.Type {
	case domain.TypeJoin:
		h.join(p, env.Room)
	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		h.relay(p, in)
	case domain.TypeBye:
		h.bye(p, env.Room)
	case domain.TypeChat:
		h.chat(p, in)
	case domain.TypeDelivered, domain.TypeRead:
		h.acknowledge(p, in)
	case domain.TypeJoinAck, domain.TypeFull, domain.TypePeerJoin, domain.TypePeerLeave:
		// originated by the hub only
		h.metrics.RecordDropped("server_type")
	}
}

func (h *Hub) join(p *Participant, room domain.RoomID) bool {
	if err := validation.ValidateRoomID(string(room)); err != nil {
		h.metrics.RecordDropped("invalid_room")
		return false
	}

	result, count := h.registry.Join(p, room)
	switch result {
	case RoomFull:
		h.metrics.RecordRejected("room_full")
		h.emit(domain.EventRejected, room, p, count)
		h.sendTo(p, h.envelope(domain.TypeFull, room, p.id, count))
		h.logger.Infow("join rejected, room full",
			"participant_id", p.id,
			"room", room,
			"members", count,
		)
		return false
	case AlreadyMember:
		h.sendTo(p, h.envelope(domain.TypeJoinAck, room, p.id, count))
		return true
	}

	class := h.registry.Class(room)
	h.metrics.RecordJoin(class)
	h.metrics.SetRooms(class, h.registry.RoomCount(class))
	h.emit(domain.EventJoined, room, p, count)

	h.sendTo(p, h.envelope(domain.TypeJoinAck, room, p.id, count))
	h.fanout(h.marshal(h.envelope(domain.TypePeerJoin, room, p.id, count)), p, room)

	h.logger.Infow("participant joined room",
		"participant_id", p.id,
		"room", room,
		"class", class,
		"members", count,
	)
	return true
}

func (h *Hub) relay(p *Participant, in inbound) {
	room := in.env.Room
	if !h.registry.IsMember(p, room) && !h.join(p, room) {
		return
	}

	n := h.fanout(h.forward(p, in), p, room)
	h.metrics.RecordRelayed(in.env.Type, n)
	h.logger.Debugw("relayed envelope",
		"participant_id", p.id,
		"room", room,
		"type", in.env.Type,
		"recipients", n,
	)
}

func (h *Hub) bye(p *Participant, room domain.RoomID) {
	if room != "" {
		h.leave(p, room)
		return
	}
	h.leaveAll(p)
}

func (h *Hub) leave(p *Participant, room domain.RoomID) {
	left, remaining := h.registry.Leave(p, room)
	if !left {
		return
	}

	class := domain.ClassOf(room)
	h.metrics.RecordLeave(class)
	h.metrics.SetRooms(class, h.registry.RoomCount(class))
	h.emit(domain.EventLeft, room, p, remaining)

	if remaining > 0 {
		h.fanout(h.marshal(h.envelope(domain.TypePeerLeave, room, p.id, remaining)), p, room)
	}

	h.logger.Infow("participant left room",
		"participant_id", p.id,
		"room", room,
		"members", remaining,
	)
}

func (h *Hub) leaveAll(p *Participant) {
	rooms := make([]domain.RoomID, 0, len(p.rooms))
	for room := range p.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	for _, room := range rooms {
		h.leave(p, room)
	}
}

// chat fans out to the envelope room, the global support room and the
// thread room, then acknowledges delivery to the sender straight away.
func (h *Hub) chat(p *Participant, in inbound) {
	env := in.env
	targets := h.chatTargets(env, true)

	n := h.fanout(h.forward(p, in), p, targets...)
	h.metrics.RecordRelayed(env.Type, n)

	if env.MID == "" {
		return
	}
	ack := h.envelope(domain.TypeDelivered, env.Room, HubSender, 0)
	ack.ThreadID = env.ThreadID
	ack.MID = env.MID
	h.sendTo(p, ack)
}

func (h *Hub) acknowledge(p *Participant, in inbound) {
	n := h.fanout(h.forward(p, in), p, h.chatTargets(in.env, false)...)
	h.metrics.RecordRelayed(in.env.Type, n)
}

func (h *Hub) chatTargets(env domain.Envelope, global bool) []domain.RoomID {
	targets := make([]domain.RoomID, 0, 3)
	if env.Room != "" && validation.ValidateRoomID(string(env.Room)) == nil {
		targets = append(targets, env.Room)
	}
	if global {
		targets = append(targets, domain.GlobalSupportRoom)
	}
	if env.ThreadID != "" && validation.ValidateThreadID(string(env.ThreadID)) == nil {
		targets = append(targets, domain.ThreadRoom(env.ThreadID))
	}
	return targets
}

// fanout delivers data once to every member of the rooms except the sender
// and returns the number of recipients.
func (h *Hub) fanout(data []byte, sender *Participant, rooms ...domain.RoomID) int {
	if data == nil {
		return 0
	}
	seen := make(map[*Participant]struct{})
	for _, room := range rooms {
		for _, m := range h.registry.Members(room, sender) {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			h.deliver(m, data)
		}
	}
	return len(seen)
}

func (h *Hub) sendTo(p *Participant, env domain.Envelope) {
	if data := h.marshal(env); data != nil {
		h.deliver(p, data)
	}
}

// deliver never blocks the loop: a participant whose queue is full is evicted
// once the current envelope has been handled.
func (h *Hub) deliver(p *Participant, data []byte) {
	if p.closed {
		return
	}
	select {
	case p.send <- data:
	default:
		h.metrics.RecordDropped("slow_consumer")
		h.evictions = append(h.evictions, p)
	}
}

func (h *Hub) flushEvictions() {
	for len(h.evictions) > 0 {
		p := h.evictions[0]
		h.evictions = h.evictions[1:]
		if !p.closed {
			h.logger.Warnw("evicting slow participant", "participant_id", p.id)
			h.disconnect(p)
		}
	}
}

func (h *Hub) disconnect(p *Participant) {
	if _, ok := h.participants[p]; !ok {
		return
	}
	h.leaveAll(p)
	delete(h.participants, p)
	p.closed = true
	close(p.send)
	h.metrics.SetConnections(len(h.participants))
}

// forward returns the frame to relay. Frames that already name their author
// go out verbatim.
func (h *Hub) forward(p *Participant, in inbound) []byte {
	if in.env.From != "" && in.raw != nil {
		return in.raw
	}
	env := in.env
	env.From = p.id
	return h.marshal(env)
}

func (h *Hub) envelope(t domain.MessageType, room domain.RoomID, from domain.ParticipantID, count int) domain.Envelope {
	env := domain.NewEnvelope(t, room)
	env.From = from
	env.Count = count
	return env
}

func (h *Hub) marshal(env domain.Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Errorw("failed to marshal envelope", "type", env.Type, "error", err)
		return nil
	}
	return data
}

func (h *Hub) emit(kind domain.MembershipEventKind, room domain.RoomID, p *Participant, count int) {
	h.events.Emit(domain.MembershipEvent{
		Kind:        kind,
		Room:        room,
		Participant: p.id,
		Count:       count,
		At:          time.Now(),
	})
}

func (h *Hub) stats() domain.HubStats {
	return domain.HubStats{
		Connections: len(h.participants),
		Rooms:       h.registry.Stats(),
	}
}

type noopMetrics struct{}

func (noopMetrics) SetConnections(int)                    {}
func (noopMetrics) SetRooms(domain.RoomClass, int)        {}
func (noopMetrics) RecordJoin(domain.RoomClass)           {}
func (noopMetrics) RecordLeave(domain.RoomClass)          {}
func (noopMetrics) RecordRejected(string)                 {}
func (noopMetrics) RecordRelayed(domain.MessageType, int) {}
func (noopMetrics) RecordDropped(string)                  {}

type noopEvents struct{}

func (noopEvents) Emit(domain.MembershipEvent) {}
