package domain

import "time"

type MembershipEventKind string

const (
	EventJoined   MembershipEventKind = "room.joined"
	EventLeft     MembershipEventKind = "room.left"
	EventRejected MembershipEventKind = "room.full"
)

// MembershipEvent records a change of room membership on the hub.
type MembershipEvent struct {
	Kind        MembershipEventKind `json:"kind"`
	Room        RoomID              `json:"room"`
	Participant ParticipantID       `json:"participant"`
	Count       int                 `json:"count"`
	At          time.Time           `json:"at"`
}
