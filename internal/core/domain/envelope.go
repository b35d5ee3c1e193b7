package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the closed set of envelope kinds understood on the wire.
type MessageType string

const (
	TypeJoin         MessageType = "join"
	TypeJoinAck      MessageType = "join-ack"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeBye          MessageType = "bye"
	TypeFull         MessageType = "full"
	TypePeerJoin     MessageType = "peer-join"
	TypePeerLeave    MessageType = "peer-leave"
	TypeChat         MessageType = "chat"
	TypeDelivered    MessageType = "delivered"
	TypeRead         MessageType = "read"
)

var knownTypes = map[MessageType]struct{}{
	TypeJoin:         {},
	TypeJoinAck:      {},
	TypeOffer:        {},
	TypeAnswer:       {},
	TypeICECandidate: {},
	TypeBye:          {},
	TypeFull:         {},
	TypePeerJoin:     {},
	TypePeerLeave:    {},
	TypeChat:         {},
	TypeDelivered:    {},
	TypeRead:         {},
}

// Valid reports whether t is one of the known envelope types.
func (t MessageType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsNegotiation reports whether t carries session descriptions or candidates.
func (t MessageType) IsNegotiation() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

// Envelope is a single signaling frame exchanged with the hub.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Room      RoomID          `json:"room,omitempty"`
	From      ParticipantID   `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ThreadID  ThreadID        `json:"threadId,omitempty"`
	Text      string          `json:"text,omitempty"`
	MID       MessageID       `json:"mid,omitempty"`
	Count     int             `json:"count,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope returns an envelope stamped with the current time in milliseconds.
func NewEnvelope(t MessageType, room RoomID) Envelope {
	return Envelope{
		Type:      t,
		Room:      room,
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithPayload marshals v into the envelope payload.
func (e Envelope) WithPayload(v interface{}) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return e, fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
	}
	e.Payload = data
	return e, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ParseEnvelope decodes a wire frame. Frames that are not JSON objects or carry
// an unknown type yield ErrMalformedEnvelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	}
	return env, nil
}
