package domain

import "time"

// Invite is a join link handed out by the booking collaborator. The hub never
// checks it; the signature only protects the link from edits.
type Invite struct {
	Provider  string    `json:"provider"`
	Room      RoomID    `json:"room"`
	Role      Role      `json:"role"`
	Autostart bool      `json:"autostart"`
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}
