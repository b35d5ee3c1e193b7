package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomIDRegex allows the call and support naming schemes, e.g.
	// consult:alice, support:thread:bob__support__billing, KOMA_demo.
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@:+-]+$`)

	// ParticipantIDRegex validates client-chosen participant handles
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

	// ThreadIDRegex validates thread identifiers
	ThreadIDRegex = regexp.MustCompile(`^[a-z0-9_.@+-]+$`)
)

const (
	MaxRoomIDLength   = 128
	MaxChatTextLength = 4000
	MaxLabelLength    = 100
)

// ValidateRoomID validates a room key
func ValidateRoomID(room string) error {
	if room == "" {
		return fmt.Errorf("room is required")
	}
	if len(room) > MaxRoomIDLength {
		return fmt.Errorf("room is too long (max %d characters)", MaxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(room) {
		return fmt.Errorf("invalid room format")
	}
	return nil
}

// ValidateParticipantID validates a participant handle. Empty is allowed: the
// hub assigns one.
func ValidateParticipantID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 100 {
		return fmt.Errorf("participant ID is too long (max 100 characters)")
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("invalid participant ID format")
	}
	return nil
}

// ValidateThreadID validates a thread identifier
func ValidateThreadID(thread string) error {
	if thread == "" {
		return fmt.Errorf("thread ID is required")
	}
	if len(thread) > MaxRoomIDLength {
		return fmt.Errorf("thread ID is too long (max %d characters)", MaxRoomIDLength)
	}
	if !ThreadIDRegex.MatchString(thread) {
		return fmt.Errorf("invalid thread ID format")
	}
	return nil
}

// ValidateChatText validates the text of a chat message
func ValidateChatText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message text contains invalid characters")
	}
	if utf8.RuneCountInString(text) > MaxChatTextLength {
		return fmt.Errorf("message text is too long (max %d characters)", MaxChatTextLength)
	}
	return nil
}

// ValidateProviderLabel validates the label a call room is derived from
func ValidateProviderLabel(label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return fmt.Errorf("provider label is required")
	}
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return fmt.Errorf("provider label is too long (max %d characters)", MaxLabelLength)
	}
	if !utf8.ValidString(label) {
		return fmt.Errorf("provider label contains invalid characters")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
