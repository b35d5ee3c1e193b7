package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"koma/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockHubMetrics struct {
	mock.Mock
}

func (m *MockHubMetrics) SetConnections(n int)                      { m.Called(n) }
func (m *MockHubMetrics) SetRooms(c domain.RoomClass, n int)        { m.Called(c, n) }
func (m *MockHubMetrics) RecordJoin(c domain.RoomClass)             { m.Called(c) }
func (m *MockHubMetrics) RecordLeave(c domain.RoomClass)            { m.Called(c) }
func (m *MockHubMetrics) RecordRejected(reason string)              { m.Called(reason) }
func (m *MockHubMetrics) RecordDropped(reason string)               { m.Called(reason) }
func (m *MockHubMetrics) RecordRelayed(t domain.MessageType, n int) { m.Called(t, n) }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.MembershipEvent
}

func (s *recordingSink) Emit(e domain.MembershipEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) kinds() []domain.MembershipEventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MembershipEventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestHub() *Hub {
	return NewHub(HubConfig{RoomCapacity: 2, SendBuffer: 16}, nil, nil, nil)
}

func addParticipant(h *Hub, id domain.ParticipantID) *Participant {
	p := newParticipant(id, nil, 16, nil)
	h.participants[p] = struct{}{}
	return p
}

func send(t *testing.T, h *Hub, p *Participant, env domain.Envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	h.handle(inbound{from: p, env: env, raw: raw})
	h.flushEvictions()
}

func joinRoom(t *testing.T, h *Hub, p *Participant, room domain.RoomID) {
	t.Helper()
	send(t, h, p, domain.NewEnvelope(domain.TypeJoin, room))
}

// drain returns every envelope queued for p without blocking.
func drain(t *testing.T, p *Participant) []domain.Envelope {
	t.Helper()
	var out []domain.Envelope
	for {
		select {
		case data, ok := <-p.send:
			if !ok {
				return out
			}
			env, err := domain.ParseEnvelope(data)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []domain.Envelope) []domain.MessageType {
	out := make([]domain.MessageType, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func TestHub_CallRoomAdmitsTwo(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	b := addParticipant(h, "b")
	c := addParticipant(h, "c")
	room := domain.RoomID("consult:alice")

	joinRoom(t, h, a, room)
	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeJoinAck, got[0].Type)
	assert.Equal(t, 1, got[0].Count)

	joinRoom(t, h, b, room)
	got = drain(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeJoinAck, got[0].Type)
	assert.Equal(t, 2, got[0].Count)

	got = drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypePeerJoin, got[0].Type)
	assert.Equal(t, domain.ParticipantID("b"), got[0].From)

	joinRoom(t, h, c, room)
	got = drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeFull, got[0].Type)
	assert.Equal(t, 2, got[0].Count)
	assert.Empty(t, drain(t, a), "members must not see a rejected join")
	assert.Empty(t, drain(t, b))
	assert.Equal(t, 2, h.registry.Count(room))

	// every retry is answered with full again
	joinRoom(t, h, c, room)
	assert.Equal(t, []domain.MessageType{domain.TypeFull}, types(drain(t, c)))
}

func TestHub_RejoinIsIdempotent(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	b := addParticipant(h, "b")
	room := domain.RoomID("consult:bob")

	joinRoom(t, h, a, room)
	joinRoom(t, h, b, room)
	drain(t, a)
	drain(t, b)

	joinRoom(t, h, a, room)
	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeJoinAck, got[0].Type)
	assert.Equal(t, 2, got[0].Count)
	assert.Empty(t, drain(t, b))
}

func TestHub_BroadcastRoomIsUnbounded(t *testing.T) {
	h := newTestHub()
	room := domain.GlobalSupportRoom
	for _, id := range []domain.ParticipantID{"s1", "s2", "s3", "s4"} {
		p := addParticipant(h, id)
		joinRoom(t, h, p, room)
		assert.Equal(t, domain.TypeJoinAck, drain(t, p)[0].Type)
	}
	assert.Equal(t, 4, h.registry.Count(room))
	assert.Equal(t, domain.RoomClassBroadcast, h.registry.Class(room))
}

func TestHub_RelayExcludesSender(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	b := addParticipant(h, "b")
	room := domain.RoomID("consult:relay")
	joinRoom(t, h, a, room)
	joinRoom(t, h, b, room)
	drain(t, a)
	drain(t, b)

	offer, err := domain.NewEnvelope(domain.TypeOffer, room).WithPayload(map[string]string{"type": "offer", "sdp": "v=0"})
	require.NoError(t, err)
	send(t, h, a, offer)

	assert.Empty(t, drain(t, a))
	got := drain(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeOffer, got[0].Type)
	assert.Equal(t, domain.ParticipantID("a"), got[0].From)

	var payload map[string]string
	require.NoError(t, got[0].DecodePayload(&payload))
	assert.Equal(t, "v=0", payload["sdp"])
}

func TestHub_RelayKeepsAuthorSuppliedFrom(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	b := addParticipant(h, "b")
	room := domain.RoomID("consult:from")
	joinRoom(t, h, a, room)
	joinRoom(t, h, b, room)
	drain(t, b)

	cand := domain.NewEnvelope(domain.TypeICECandidate, room)
	cand.From = "alias"
	send(t, h, a, cand)

	got := drain(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ParticipantID("alias"), got[0].From)
}

func TestHub_RelayAutoJoinsSender(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	room := domain.RoomID("consult:auto")

	send(t, h, a, domain.NewEnvelope(domain.TypeOffer, room))

	assert.True(t, h.registry.IsMember(a, room))
	assert.Equal(t, []domain.MessageType{domain.TypeJoinAck}, types(drain(t, a)))
}

func TestHub_RelayIntoFullRoomIsRejected(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	b := addParticipant(h, "b")
	c := addParticipant(h, "c")
	room := domain.RoomID("consult:busy")
	joinRoom(t, h, a, room)
	joinRoom(t, h, b, room)
	drain(t, a)
	drain(t, b)

	send(t, h, c, domain.NewEnvelope(domain.TypeOffer, room))

	assert.Equal(t, []domain.MessageType{domain.TypeFull}, types(drain(t, c)))
	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
}

func TestHub_ByeWithRoomLeavesOnlyThatRoom(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	b := addParticipant(h, "b")
	call := domain.RoomID("consult:bye")
	joinRoom(t, h, a, call)
	joinRoom(t, h, b, call)
	joinRoom(t, h, b, domain.GlobalSupportRoom)
	drain(t, a)
	drain(t, b)

	send(t, h, b, domain.NewEnvelope(domain.TypeBye, call))

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypePeerLeave, got[0].Type)
	assert.Equal(t, domain.ParticipantID("b"), got[0].From)
	assert.Equal(t, 1, got[0].Count)
	assert.True(t, h.registry.IsMember(b, domain.GlobalSupportRoom))

	// last member leaving removes the room
	send(t, h, a, domain.NewEnvelope(domain.TypeBye, call))
	assert.Equal(t, 0, h.registry.Count(call))
	for _, rs := range h.stats().Rooms {
		assert.NotEqual(t, call, rs.Room)
	}
}

func TestHub_DisconnectSendsOnePeerLeave(t *testing.T) {
	sink := &recordingSink{}
	h := NewHub(HubConfig{RoomCapacity: 2, SendBuffer: 16}, nil, sink, nil)
	a := addParticipant(h, "a")
	b := addParticipant(h, "b")
	room := domain.RoomID("consult:drop")
	joinRoom(t, h, a, room)
	joinRoom(t, h, b, room)
	drain(t, a)

	h.disconnect(b)
	h.disconnect(b)

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypePeerLeave, got[0].Type)
	assert.True(t, b.closed)

	_, open := <-b.send
	for open {
		_, open = <-b.send
	}

	assert.Equal(t, []domain.MembershipEventKind{
		domain.EventJoined, domain.EventJoined, domain.EventLeft,
	}, sink.kinds())
}

func TestHub_ChatFanOutAndDeliveredAck(t *testing.T) {
	h := newTestHub()
	client := addParticipant(h, "client")
	consultant := addParticipant(h, "consultant")
	watcher := addParticipant(h, "watcher")
	global := addParticipant(h, "global")

	thread := domain.ThreadID("client__ana__billing")
	room := domain.ConsultantRoom("ana")

	joinRoom(t, h, client, room)
	joinRoom(t, h, consultant, room)
	joinRoom(t, h, consultant, domain.GlobalSupportRoom)
	joinRoom(t, h, watcher, domain.ThreadRoom(thread))
	joinRoom(t, h, global, domain.GlobalSupportRoom)
	for _, p := range []*Participant{client, consultant, watcher, global} {
		drain(t, p)
	}

	msg := domain.NewEnvelope(domain.TypeChat, room)
	msg.ThreadID = thread
	msg.Text = "hello"
	msg.MID = "m-1"
	send(t, h, client, msg)

	// consultant sits in two target rooms and still gets a single copy
	for _, p := range []*Participant{consultant, watcher, global} {
		got := drain(t, p)
		require.Len(t, got, 1, "participant %s", p.id)
		assert.Equal(t, domain.TypeChat, got[0].Type)
		assert.Equal(t, "hello", got[0].Text)
		assert.Equal(t, domain.ParticipantID("client"), got[0].From)
	}

	got := drain(t, client)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeDelivered, got[0].Type)
	assert.Equal(t, HubSender, got[0].From)
	assert.Equal(t, domain.MessageID("m-1"), got[0].MID)
	assert.Equal(t, thread, got[0].ThreadID)
}

func TestHub_ChatWithoutMIDHasNoAck(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	joinRoom(t, h, a, domain.GlobalSupportRoom)
	drain(t, a)

	msg := domain.NewEnvelope(domain.TypeChat, domain.GlobalSupportRoom)
	msg.Text = "anyone?"
	send(t, h, a, msg)

	assert.Empty(t, drain(t, a))
}

func TestHub_ReadReceiptSkipsGlobalRoom(t *testing.T) {
	h := newTestHub()
	client := addParticipant(h, "client")
	consultant := addParticipant(h, "consultant")
	global := addParticipant(h, "global")
	thread := domain.ThreadID("client__ana__topic")

	joinRoom(t, h, client, domain.ThreadRoom(thread))
	joinRoom(t, h, consultant, domain.ThreadRoom(thread))
	joinRoom(t, h, global, domain.GlobalSupportRoom)
	drain(t, client)
	drain(t, global)

	read := domain.NewEnvelope(domain.TypeRead, "")
	read.ThreadID = thread
	read.MID = "m-9"
	send(t, h, consultant, read)

	got := drain(t, client)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TypeRead, got[0].Type)
	assert.Equal(t, domain.MessageID("m-9"), got[0].MID)
	assert.Empty(t, drain(t, global))
	assert.Empty(t, drain(t, consultant))
}

func TestHub_DropsServerOnlyTypes(t *testing.T) {
	m := new(MockHubMetrics)
	m.On("RecordDropped", "server_type").Once()
	h := NewHub(HubConfig{RoomCapacity: 2}, m, nil, nil)
	a := addParticipant(h, "a")

	send(t, h, a, domain.NewEnvelope(domain.TypePeerJoin, "consult:x"))

	assert.Empty(t, drain(t, a))
	m.AssertExpectations(t)
}

func TestHub_RejectedJoinMetrics(t *testing.T) {
	m := new(MockHubMetrics)
	m.On("RecordJoin", domain.RoomClassCall).Twice()
	m.On("SetRooms", domain.RoomClassCall, 1).Twice()
	m.On("RecordRejected", "room_full").Once()
	h := NewHub(HubConfig{RoomCapacity: 2}, m, nil, nil)

	room := domain.RoomID("consult:metrics")
	for _, id := range []domain.ParticipantID{"a", "b", "c"} {
		joinRoom(t, h, addParticipant(h, id), room)
	}

	m.AssertExpectations(t)
}

func TestHub_EvictsSlowConsumer(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")
	slow := newParticipant("slow", nil, 1, nil)
	h.participants[slow] = struct{}{}
	room := domain.GlobalSupportRoom

	joinRoom(t, h, slow, room) // fills the single slot with join-ack
	joinRoom(t, h, a, room)    // peer-join overflows the queue

	assert.True(t, slow.closed)
	assert.False(t, h.registry.IsMember(slow, room))
	assert.Equal(t, 1, h.registry.Count(room))
}

func TestHub_InvalidRoomIsDropped(t *testing.T) {
	h := newTestHub()
	a := addParticipant(h, "a")

	joinRoom(t, h, a, "bad room!")
	joinRoom(t, h, a, "")

	assert.Empty(t, drain(t, a))
	assert.Empty(t, h.stats().Rooms)
}

func TestHub_RunServesStats(t *testing.T) {
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	a := newParticipant("a", nil, 16, nil)
	require.True(t, h.Register(a))
	h.dispatch(inbound{from: a, env: domain.NewEnvelope(domain.TypeJoin, "consult:stats")})

	require.Eventually(t, func() bool {
		stats, err := h.Stats(context.Background())
		return err == nil && stats.Connections == 1 && len(stats.Rooms) == 1
	}, time.Second, 10*time.Millisecond)

	stats, err := h.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStats{Room: "consult:stats", Class: domain.RoomClassCall, Members: 1}, stats.Rooms[0])

	cancel()
	<-h.done
	assert.False(t, h.Register(newParticipant("late", nil, 1, nil)))
	_, err = h.Stats(context.Background())
	assert.Error(t, err)
}
