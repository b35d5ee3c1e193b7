package webrtc

import (
	"fmt"
	"time"

	"koma/internal/core/domain"

	"github.com/vmihailenco/msgpack/v5"
)

const chatLabel = "chat"

// TextMessage is one in-call text frame. It lives only as long as the call.
type TextMessage struct {
	From domain.ParticipantID `msgpack:"f"`
	Text string               `msgpack:"t"`
	Sent time.Time            `msgpack:"s"`
}

func encodeText(m TextMessage) ([]byte, error) {
	data, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode text frame: %w", err)
	}
	return data, nil
}

func decodeText(data []byte) (TextMessage, error) {
	var m TextMessage
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return TextMessage{}, fmt.Errorf("failed to decode text frame: %w", err)
	}
	return m, nil
}
