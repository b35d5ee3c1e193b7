package validation

import (
	"strings"
	"testing"
)

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		wantErr bool
	}{
		{"call room", "consult:alice", false},
		{"default room", "KOMA_demo", false},
		{"thread room", "support:thread:bob__support__billing", false},
		{"consultant room", "support:consultant:ann@example.com", false},
		{"empty", "", true},
		{"spaces", "consult:alice smith", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.room)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoomID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParticipantID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"empty is assigned by hub", "", false},
		{"uuid", "9b2f0c7e-4f1a-4d5e-9a53-0e8f3b1c2d4e", false},
		{"email", "ann@example.com", false},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("p", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipantID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParticipantID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateThreadID(t *testing.T) {
	if err := ValidateThreadID("bob__support__billing"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateThreadID("Upper"); err == nil {
		t.Error("expected error for uppercase thread id")
	}
	if err := ValidateThreadID(""); err == nil {
		t.Error("expected error for empty thread id")
	}
}

func TestValidateChatText(t *testing.T) {
	if err := ValidateChatText("hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateChatText("   "); err == nil {
		t.Error("expected error for blank text")
	}
	if err := ValidateChatText(strings.Repeat("я", MaxChatTextLength+1)); err == nil {
		t.Error("expected error for oversized text")
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"wss://hub.example.com/ws", false},
		{"http://localhost:8080", false},
		{"ftp://example.com", true},
		{"", true},
		{"ws://", true},
	}
	for _, tt := range tests {
		if err := ValidateURL(tt.url); (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}
