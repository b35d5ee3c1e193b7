package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"join","room":"consult:alice","timestamp":1}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, env.Type)
	assert.Equal(t, RoomID("consult:alice"), env.Room)

	_, err = ParseEnvelope([]byte(`{"type":"dance","room":"x"}`))
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))

	_, err = ParseEnvelope([]byte(`not json`))
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))
}

func TestEnvelopePayload(t *testing.T) {
	env, err := NewEnvelope(TypeOffer, "r").WithPayload(map[string]string{"sdp": "v=0"})
	require.NoError(t, err)
	assert.NotZero(t, env.Timestamp)

	var out map[string]string
	require.NoError(t, env.DecodePayload(&out))
	assert.Equal(t, "v=0", out["sdp"])

	assert.Error(t, NewEnvelope(TypeAnswer, "r").DecodePayload(&out))
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, RoomClassBroadcast, ClassOf(GlobalSupportRoom))
	assert.Equal(t, RoomClassBroadcast, ClassOf(ThreadRoom("t1")))
	assert.Equal(t, RoomClassCall, ClassOf("consult:alice"))
	assert.Equal(t, RoomClassCall, ClassOf(DefaultCallRoom))
}

func TestRoomNaming(t *testing.T) {
	assert.Equal(t, RoomID("consult:alice"), CallRoom(" Alice "))
	assert.Equal(t, RoomID("consult:dr-alice-smith"), CallRoom("Dr Alice  Smith"))
	assert.Equal(t, DefaultCallRoom, CallRoom(""))
	assert.Equal(t, RoomID("support:consultant:bob@example.com"), ConsultantRoom("Bob@Example.com"))
	assert.Equal(t, RoomID("support:thread:t1"), ThreadRoom("t1"))

	assert.Equal(t, ThreadID("t1"), ThreadOf(ThreadRoom("t1")))
	assert.Equal(t, ThreadID("support:all"), ThreadOf(GlobalSupportRoom))
	assert.Equal(t, ThreadID(""), ThreadOf(""))
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"initiator":  RoleInitiator,
		"Consultant": RoleInitiator,
		"responder":  RoleResponder,
		"client":     RoleResponder,
	}
	for in, want := range cases {
		got, err := ParseRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRole("observer")
	assert.Error(t, err)
	assert.True(t, RoleResponder.Polite())
	assert.False(t, RoleInitiator.Polite())
}

func TestChatMessageFlagsAreMonotonic(t *testing.T) {
	msg := &ChatMessage{ID: "m1"}

	assert.True(t, msg.MarkRead())
	assert.True(t, msg.Delivered, "read implies delivered")
	assert.True(t, msg.Read)

	assert.False(t, msg.MarkDelivered())
	assert.False(t, msg.MarkRead())
	assert.True(t, msg.Delivered)
	assert.True(t, msg.Read)
}

func TestChatThreadFind(t *testing.T) {
	th := &ChatThread{ID: "t1", Messages: []*ChatMessage{{ID: "a"}, {ID: "b"}}}
	assert.Equal(t, MessageID("b"), th.Find("b").ID)
	assert.Nil(t, th.Find("zzz"))
}

func TestDeriveThreadID(t *testing.T) {
	tests := []struct {
		user, handler, topic string
		want                 ThreadID
	}{
		{"Anna@Mail.com", "Doc@Clinic.org", "Billing", "anna@mail.com__doc@clinic.org__billing"},
		{"", "", "", "user__support__topic"},
		{"bob", "", "Second opinion on my MRI results please", "bob__support__second-opinion-on-my-mri"},
		{"  bob ", "x", "a  b", "bob__x__a-b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveThreadID(tt.user, tt.handler, tt.topic))
	}

	// the same inputs always land in the same thread
	assert.Equal(t, DeriveThreadID("u", "h", "t"), DeriveThreadID("U", "H", "T"))
}
