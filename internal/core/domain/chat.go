package domain

import (
	"strings"
	"time"
)

const (
	// ChatHistoryLimit caps the messages kept per thread; the oldest go first.
	ChatHistoryLimit = 500

	maxTopicLength = 24
)

// ChatMessage is one entry of a thread. Delivered and Read only ever move
// from false to true, and Read implies Delivered.
type ChatMessage struct {
	ID        MessageID     `json:"mid"`
	ThreadID  ThreadID      `json:"threadId"`
	Room      RoomID        `json:"room"`
	From      ParticipantID `json:"from"`
	Text      string        `json:"text"`
	Mine      bool          `json:"mine"`
	Delivered bool          `json:"delivered"`
	Read      bool          `json:"read"`
	SentAt    time.Time     `json:"sentAt"`
}

// MarkDelivered sets the delivered flag and reports whether it changed.
func (m *ChatMessage) MarkDelivered() bool {
	if m.Delivered {
		return false
	}
	m.Delivered = true
	return true
}

// MarkRead sets read, and delivered with it, reporting whether anything changed.
func (m *ChatMessage) MarkRead() bool {
	changed := m.MarkDelivered()
	if !m.Read {
		m.Read = true
		changed = true
	}
	return changed
}

// ChatThread is an ordered message log.
type ChatThread struct {
	ID       ThreadID
	Messages []*ChatMessage
}

// Find returns the message with the given id, or nil.
func (t *ChatThread) Find(id MessageID) *ChatMessage {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].ID == id {
			return t.Messages[i]
		}
	}
	return nil
}

// DeriveThreadID builds the thread of a conversation that has no explicit id:
// user__handler__topic, lowercased, with the topic cut to 24 characters.
func DeriveThreadID(user, handler, topic string) ThreadID {
	u := threadPart(user, "user")
	h := threadPart(handler, "support")
	t := threadPart(topic, "topic")
	if r := []rune(t); len(r) > maxTopicLength {
		t = strings.TrimRight(string(r[:maxTopicLength]), "-")
	}
	return ThreadID(u + "__" + h + "__" + t)
}

func threadPart(s, fallback string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), "-")
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("_.@+-", r):
			return r
		default:
			return -1
		}
	}, s)
	if s == "" {
		return fallback
	}
	return s
}
