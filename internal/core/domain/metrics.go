package domain

// RoomStats describes one live room.
type RoomStats struct {
	Room    RoomID    `json:"room"`
	Class   RoomClass `json:"class"`
	Members int       `json:"members"`
}

// HubStats is a point-in-time view of the room registry.
type HubStats struct {
	Connections int         `json:"connections"`
	Rooms       []RoomStats `json:"rooms"`
}
