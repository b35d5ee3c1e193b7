package domain

import (
	"fmt"
	"strings"
)

// Role is fixed for the lifetime of a negotiation session.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// ParseRole accepts the canonical names and the booking aliases
// (consultant starts the call, client answers it).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initiator", "consultant":
		return RoleInitiator, nil
	case "responder", "client":
		return RoleResponder, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Polite reports whether the role yields on offer collisions.
func (r Role) Polite() bool {
	return r == RoleResponder
}

// NegotiationState is the signaling state of one session.
type NegotiationState int

const (
	StateStable NegotiationState = iota
	StateOfferSent
	StateOfferReceivedPending
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceivedPending:
		return "offer-received-pending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionStatus is the connection status reported to the session owner.
type SessionStatus string

const (
	StatusIdle         SessionStatus = "idle"
	StatusNegotiating  SessionStatus = "negotiating"
	StatusConnected    SessionStatus = "connected"
	StatusReconnecting SessionStatus = "reconnecting"
	StatusFailed       SessionStatus = "failed"
	StatusClosed       SessionStatus = "closed"
)
