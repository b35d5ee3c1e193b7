package webrtc

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const defaultPLIInterval = 2 * time.Second

// TrackStats summarizes one remote track.
type TrackStats struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Codec      string    `json:"codec"`
	Packets    uint64    `json:"packets"`
	Bytes      uint64    `json:"bytes"`
	Keyframes  uint64    `json:"keyframes"`
	LastPacket time.Time `json:"lastPacket"`
	Ended      bool      `json:"ended"`
}

// TrackMonitor reads remote tracks, counts what arrives and asks the sender
// for keyframes until video decodes.
type TrackMonitor struct {
	mu     sync.RWMutex
	tracks map[string]*TrackStats

	pliInterval time.Duration
	logger      *zap.SugaredLogger
}

func NewTrackMonitor(logger *zap.SugaredLogger) *TrackMonitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TrackMonitor{
		tracks:      make(map[string]*TrackStats),
		pliInterval: defaultPLIInterval,
		logger:      logger,
	}
}

// PLIWriter sends RTCP to the remote sender. *webrtc.PeerConnection
// satisfies it.
type PLIWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// Watch consumes track until it ends or ctx is done.
func (m *TrackMonitor) Watch(ctx context.Context, track *webrtc.TrackRemote, w PLIWriter) {
	id := track.ID()
	kind := track.Kind().String()
	m.register(id, kind, track.Codec().MimeType)
	defer m.end(id)

	m.logger.Infow("remote track started",
		"track_id", id,
		"kind", kind,
		"codec", track.Codec().MimeType,
	)

	if track.Kind() == webrtc.RTPCodecTypeVideo && w != nil {
		go m.requestKeyframes(ctx, id, uint32(track.SSRC()), w)
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			m.logger.Debugw("remote track ended", "track_id", id, "error", err)
			return
		}
		m.process(id, pkt)
	}
}

// requestKeyframes sends a PLI at once and then periodically until the first
// keyframe of the track arrives.
func (m *TrackMonitor) requestKeyframes(ctx context.Context, id string, ssrc uint32, w PLIWriter) {
	ticker := time.NewTicker(m.pliInterval)
	defer ticker.Stop()
	for {
		if m.keyframes(id) > 0 || m.ended(id) {
			return
		}
		if err := w.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			m.logger.Debugw("failed to send PLI", "track_id", id, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *TrackMonitor) register(id, kind, codec string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[id] = &TrackStats{ID: id, Kind: kind, Codec: codec}
}

func (m *TrackMonitor) process(id string, pkt *rtp.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tracks[id]
	if !ok {
		return
	}
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
	st.LastPacket = time.Now()
	if st.Kind == webrtc.RTPCodecTypeVideo.String() && isKeyframe(st.Codec, pkt.Payload) {
		st.Keyframes++
	}
}

func (m *TrackMonitor) end(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.tracks[id]; ok {
		st.Ended = true
	}
}

func (m *TrackMonitor) keyframes(id string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.tracks[id]; ok {
		return st.Keyframes
	}
	return 0
}

func (m *TrackMonitor) ended(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.tracks[id]
	return !ok || st.Ended
}

// Reset forgets every track, e.g. when the peer connection is replaced.
func (m *TrackMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = make(map[string]*TrackStats)
}

// Snapshot returns the stats of all known tracks ordered by id.
func (m *TrackMonitor) Snapshot() []TrackStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TrackStats, 0, len(m.tracks))
	for _, st := range m.tracks {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// isKeyframe reports whether payload starts a keyframe for VP8 or H264.
func isKeyframe(codec string, payload []byte) bool {
	switch strings.ToLower(codec) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		vp8 := &codecs.VP8Packet{}
		frame, err := vp8.Unmarshal(payload)
		if err != nil || vp8.S != 1 || vp8.PID != 0 || len(frame) == 0 {
			return false
		}
		// P bit of the frame tag is clear on keyframes
		return frame[0]&0x01 == 0
	case strings.ToLower(webrtc.MimeTypeH264):
		if len(payload) == 0 {
			return false
		}
		switch payload[0] & 0x1f {
		case 5:
			return true
		case 24: // STAP-A
			return len(payload) > 3 && payload[3]&0x1f == 5
		case 28: // FU-A
			return len(payload) > 1 && payload[1]&0x80 != 0 && payload[1]&0x1f == 5
		}
	}
	return false
}
