package domain

import (
	"strings"
)

type RoomID string
type ParticipantID string
type ThreadID string
type MessageID string

// RoomClass decides the capacity rules applied to a room.
type RoomClass string

const (
	RoomClassCall      RoomClass = "bounded-call"
	RoomClassBroadcast RoomClass = "broadcast"
)

const (
	// CallRoomCapacity is the member limit of a bounded call room.
	CallRoomCapacity = 2

	SupportRoomPrefix = "support:"
	threadRoomPrefix  = SupportRoomPrefix + "thread:"
	// GlobalSupportRoom receives every chat message.
	GlobalSupportRoom RoomID = "support:all"

	callRoomPrefix = "consult:"
	// DefaultCallRoom is used when a session is started without a room.
	DefaultCallRoom RoomID = "KOMA_demo"
)

// ClassOf returns the class of a room key. Support rooms are broadcast rooms,
// everything else is a two-party call room.
func ClassOf(room RoomID) RoomClass {
	if strings.HasPrefix(string(room), SupportRoomPrefix) {
		return RoomClassBroadcast
	}
	return RoomClassCall
}

// ConsultantRoom is the support room of a single handler.
func ConsultantRoom(handler string) RoomID {
	return RoomID(SupportRoomPrefix + "consultant:" + strings.ToLower(strings.TrimSpace(handler)))
}

// ThreadRoom is the support room carrying one conversation thread.
func ThreadRoom(thread ThreadID) RoomID {
	return RoomID(threadRoomPrefix + string(thread))
}

// ThreadOf names the thread a message belongs to when it carries no thread
// id: the id of a thread room, or the room key itself.
func ThreadOf(room RoomID) ThreadID {
	if t := strings.TrimPrefix(string(room), threadRoomPrefix); t != string(room) {
		return ThreadID(t)
	}
	return ThreadID(room)
}

// CallRoom derives the call room key from a provider label.
func CallRoom(label string) RoomID {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return DefaultCallRoom
	}
	return RoomID(callRoomPrefix + strings.Join(strings.Fields(label), "-"))
}
