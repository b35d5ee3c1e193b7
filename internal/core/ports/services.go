package ports

import (
	"context"

	"koma/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Signaler is the client side of the hub connection shared by the call and
// chat components.
type Signaler interface {
	Self() domain.ParticipantID
	Send(ctx context.Context, env domain.Envelope) error
	Join(ctx context.Context, room domain.RoomID) error
	Leave(ctx context.Context, room domain.RoomID) error
	Subscribe() (<-chan domain.Envelope, func())
	Ready() <-chan struct{}
}

// MediaSource supplies local tracks for the fixed audio and video slots. A nil
// track with a nil error means that kind is not captured.
type MediaSource interface {
	CaptureAudio(ctx context.Context) (webrtc.TrackLocal, error)
	CaptureVideo(ctx context.Context) (webrtc.TrackLocal, error)
}

// HubMetrics receives room registry measurements from the hub loop.
type HubMetrics interface {
	SetConnections(n int)
	SetRooms(class domain.RoomClass, n int)
	RecordJoin(class domain.RoomClass)
	RecordLeave(class domain.RoomClass)
	RecordRejected(reason string)
	RecordRelayed(msgType domain.MessageType, recipients int)
	RecordDropped(reason string)
}

// SessionMetrics receives negotiation outcomes from client sessions.
type SessionMetrics interface {
	RecordOffer(iceRestart bool)
	RecordCollision()
	RecordStaleAnswer()
	RecordStatus(status domain.SessionStatus)
}

// EventSink accepts membership events. Emit must not block.
type EventSink interface {
	Emit(event domain.MembershipEvent)
}

// ChatService keeps the support chat threads of one participant and exchanges
// chat envelopes through the hub.
type ChatService interface {
	Run(ctx context.Context) error
	JoinSupport(ctx context.Context, handler string) error
	JoinThread(ctx context.Context, thread domain.ThreadID) error
	Send(ctx context.Context, thread domain.ThreadID, text string) (domain.ChatMessage, error)
	MarkRead(ctx context.Context, thread domain.ThreadID, mid domain.MessageID) error
	History(thread domain.ThreadID) []domain.ChatMessage
	OnUpdate(fn func(msg domain.ChatMessage))
}

// InviteService issues and decodes signed join links.
type InviteService interface {
	Create(provider string, role domain.Role, autostart bool) (domain.Invite, error)
	Decode(token string) (domain.Invite, error)
}
