package webrtc

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKeyframe(t *testing.T) {
	tests := []struct {
		name    string
		codec   string
		payload []byte
		want    bool
	}{
		{"vp8 keyframe", webrtc.MimeTypeVP8, []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}, true},
		{"vp8 interframe", webrtc.MimeTypeVP8, []byte{0x10, 0x01, 0x00}, false},
		{"vp8 continuation", webrtc.MimeTypeVP8, []byte{0x00, 0x00, 0x00}, false},
		{"vp8 empty", webrtc.MimeTypeVP8, nil, false},
		{"h264 idr", webrtc.MimeTypeH264, []byte{0x65, 0x88}, true},
		{"h264 slice", webrtc.MimeTypeH264, []byte{0x41, 0x9a}, false},
		{"h264 fu-a idr start", webrtc.MimeTypeH264, []byte{0x7c, 0x85, 0x00}, true},
		{"h264 fu-a idr middle", webrtc.MimeTypeH264, []byte{0x7c, 0x05, 0x00}, false},
		{"h264 stap-a idr", webrtc.MimeTypeH264, []byte{0x78, 0x00, 0x02, 0x65, 0x88}, true},
		{"opus", webrtc.MimeTypeOpus, []byte{0x10, 0x00}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isKeyframe(tt.codec, tt.payload))
		})
	}
}

func TestTrackMonitor_CountsPackets(t *testing.T) {
	m := NewTrackMonitor(nil)
	m.register("cam", "video", webrtc.MimeTypeVP8)
	m.register("mic", "audio", webrtc.MimeTypeOpus)

	m.process("cam", &rtp.Packet{Payload: []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}})
	m.process("cam", &rtp.Packet{Payload: []byte{0x10, 0x01, 0x00}})
	m.process("mic", &rtp.Packet{Payload: []byte{0x10, 0x00}})
	m.process("unknown", &rtp.Packet{Payload: []byte{0x01}})
	m.end("mic")

	stats := m.Snapshot()
	require.Len(t, stats, 2)

	cam, mic := stats[0], stats[1]
	assert.Equal(t, "cam", cam.ID)
	assert.Equal(t, uint64(2), cam.Packets)
	assert.Equal(t, uint64(8), cam.Bytes)
	assert.Equal(t, uint64(1), cam.Keyframes)
	assert.False(t, cam.Ended)

	assert.Equal(t, uint64(0), mic.Keyframes, "audio is never a keyframe")
	assert.True(t, mic.Ended)

	m.Reset()
	assert.Empty(t, m.Snapshot())
}

type recordingRTCP struct {
	pkts chan []rtcp.Packet
}

func (r *recordingRTCP) WriteRTCP(pkts []rtcp.Packet) error {
	r.pkts <- pkts
	return nil
}

func TestTrackMonitor_RequestsKeyframesUntilOneArrives(t *testing.T) {
	m := NewTrackMonitor(nil)
	m.pliInterval = 10 * time.Millisecond
	m.register("cam", "video", webrtc.MimeTypeVP8)

	w := &recordingRTCP{pkts: make(chan []rtcp.Packet, 64)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.requestKeyframes(t.Context(), "cam", 1234, w)
	}()

	first := <-w.pkts
	require.Len(t, first, 1)
	pli, ok := first[0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(1234), pli.MediaSSRC)

	m.process("cam", &rtp.Packet{Payload: []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keyframe requests did not stop")
	}
}
