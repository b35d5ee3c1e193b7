package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	apperrors "koma/pkg/errors"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var errChannelNotOpen = errors.New("chat channel is not open")

type SessionConfig struct {
	Engine    EngineConfig
	Autostart bool
	RTC       webrtc.Configuration
}

// SessionStats is a point-in-time view of a call.
type SessionStats struct {
	Room   domain.RoomID        `json:"room"`
	Role   domain.Role          `json:"role"`
	State  string               `json:"state"`
	Status domain.SessionStatus `json:"status"`
	Screen bool                 `json:"screen"`
	Tracks []TrackStats         `json:"tracks"`
}

// Session runs one call: it joins the call room, feeds hub envelopes to the
// negotiation engine and owns the pion peer connection the engine negotiates.
type Session struct {
	cfg      SessionConfig
	api      *webrtc.API
	signaler ports.Signaler
	media    ports.MediaSource
	engine   *Engine
	monitor  *TrackMonitor
	logger   *zap.SugaredLogger

	ctx context.Context

	mu          sync.Mutex
	audio       webrtc.TrackLocal
	camera      webrtc.TrackLocal
	screen      webrtc.TrackLocal
	placeholder webrtc.TrackLocal
	videoSender *webrtc.RTPSender
	channel     *webrtc.DataChannel
	onText      func(TextMessage)
}

func NewSession(cfg SessionConfig, api *webrtc.API, signaler ports.Signaler, media ports.MediaSource, metrics ports.SessionMetrics, logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Engine.Self == "" {
		cfg.Engine.Self = signaler.Self()
	}
	s := &Session{
		cfg:      cfg,
		api:      api,
		signaler: signaler,
		media:    media,
		monitor:  NewTrackMonitor(logger),
		logger:   logger.With("room", cfg.Engine.Room, "role", cfg.Engine.Role),
		ctx:      context.Background(),
	}
	s.engine = NewEngine(cfg.Engine, s.newPeer, signaler, metrics, logger)
	return s
}

// OnStatus registers the status observer. Call it before Run.
func (s *Session) OnStatus(fn StatusFunc) {
	s.engine.OnStatus(fn)
}

// OnText registers the receiver of in-call text frames.
func (s *Session) OnText(fn func(TextMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onText = fn
}

// Run captures media once, joins the call room and negotiates until ctx is
// done or the engine stops.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	s.capture(ctx)

	inbox, unsubscribe := s.signaler.Subscribe()
	defer unsubscribe()

	room := s.cfg.Engine.Room
	if err := s.signaler.Join(ctx, room); err != nil {
		return fmt.Errorf("failed to join %s: %w", room, err)
	}
	defer s.leave()

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- s.engine.Run(ctx)
	}()

	ready := s.signaler.Ready()
	for {
		select {
		case <-ctx.Done():
			s.engine.Close()
			<-s.engine.Done()
			return nil
		case err := <-engineErr:
			return err
		case <-ready:
			ready = nil
			if s.cfg.Autostart {
				s.engine.Start()
			}
		case env, ok := <-inbox:
			if !ok {
				s.engine.Close()
				<-s.engine.Done()
				return apperrors.NewTransportLostError(domain.ErrSessionClosed)
			}
			s.engine.Handle(env)
		}
	}
}

// Start lets the initiator place the call when autostart is off.
func (s *Session) Start() error {
	if s.cfg.Engine.Role != domain.RoleInitiator {
		return domain.ErrNotInitiator
	}
	s.engine.Start()
	return nil
}

// Restart issues an ICE restart. Only the initiator may call it.
func (s *Session) Restart() error {
	return s.engine.Restart()
}

// Close ends the call immediately.
func (s *Session) Close() {
	s.engine.Close()
}

func (s *Session) Done() <-chan struct{} {
	return s.engine.Done()
}

func (s *Session) Status() domain.SessionStatus {
	return s.engine.Status()
}

func (s *Session) State() domain.NegotiationState {
	return s.engine.State()
}

func (s *Session) Err() error {
	return s.engine.Err()
}

func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	sharing := s.screen != nil
	s.mu.Unlock()

	return SessionStats{
		Room:   s.cfg.Engine.Room,
		Role:   s.cfg.Engine.Role,
		State:  s.engine.State().String(),
		Status: s.engine.Status(),
		Screen: sharing,
		Tracks: s.monitor.Snapshot(),
	}
}

// ShareScreen sends track in the video slot instead of the camera.
func (s *Session) ShareScreen(track webrtc.TrackLocal) error {
	if track == nil || track.Kind() != webrtc.RTPCodecTypeVideo {
		return errors.New("screen share needs a video track")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen = track
	if s.videoSender == nil {
		return nil
	}
	if err := s.videoSender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("failed to share screen: %w", err)
	}
	s.logger.Infow("screen share started", "track_id", track.ID())
	return nil
}

// StopScreenShare puts the camera back into the video slot.
func (s *Session) StopScreenShare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screen == nil {
		return nil
	}
	s.screen = nil
	if s.videoSender == nil {
		return nil
	}
	if err := s.videoSender.ReplaceTrack(s.videoTrack()); err != nil {
		return fmt.Errorf("failed to restore camera: %w", err)
	}
	s.logger.Infow("screen share stopped")
	return nil
}

// SendText writes an in-call text frame over the chat data channel.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	dc := s.channel
	s.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errChannelNotOpen
	}
	data, err := encodeText(TextMessage{
		From: s.cfg.Engine.Self,
		Text: text,
		Sent: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return dc.Send(data)
}

// capture asks the source for audio and video once. A missing camera
// degrades to audio-only and a missing microphone to receive-only.
func (s *Session) capture(ctx context.Context) {
	if s.media == nil {
		return
	}

	audio, err := s.media.CaptureAudio(ctx)
	if err != nil {
		s.logger.Warnw("continuing without audio", "error", apperrors.NewMediaUnavailableError("audio", err))
	}
	video, err := s.media.CaptureVideo(ctx)
	if err != nil {
		s.logger.Warnw("continuing audio-only", "error", apperrors.NewMediaUnavailableError("video", err))
	}

	s.mu.Lock()
	s.audio = audio
	s.camera = video
	s.mu.Unlock()
}

// newPeer builds a peer connection with the fixed audio and video slots.
// It runs on the engine loop.
func (s *Session) newPeer() (Peer, error) {
	pc, err := s.api.NewPeerConnection(s.cfg.RTC)
	if err != nil {
		return nil, err
	}
	if err := s.configure(pc); err != nil {
		pc.Close()
		return nil, err
	}
	return pc, nil
}

func (s *Session) configure(pc *webrtc.PeerConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sendrecv := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}

	audioTr, err := addSlot(pc, webrtc.RTPCodecTypeAudio, s.audio, sendrecv)
	if err != nil {
		return fmt.Errorf("failed to add audio transceiver: %w", err)
	}
	s.placeholder = nil
	videoTr, err := addSlot(pc, webrtc.RTPCodecTypeVideo, s.videoTrack(), sendrecv)
	if err != nil {
		return fmt.Errorf("failed to add video transceiver: %w", err)
	}
	if s.camera == nil && s.screen == nil {
		s.placeholder = videoTr.Sender().Track()
	}
	s.videoSender = videoTr.Sender()
	s.channel = nil

	for _, sender := range []*webrtc.RTPSender{audioTr.Sender(), videoTr.Sender()} {
		go drainRTCP(sender)
	}
	s.monitor.Reset()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		s.engine.LocalCandidate(pc, c)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed", "connection_state", state.String())
		s.engine.ConnectionState(pc, state)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go s.monitor.Watch(s.ctx, track, pc)
	})

	if s.cfg.Engine.Role == domain.RoleInitiator {
		ordered := true
		dc, err := pc.CreateDataChannel(chatLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return fmt.Errorf("failed to create chat channel: %w", err)
		}
		s.attach(dc)
		return nil
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != chatLabel {
			s.logger.Debugw("ignoring data channel", "label", dc.Label())
			return
		}
		s.mu.Lock()
		s.attach(dc)
		s.mu.Unlock()
	})
	return nil
}

// attach wires the chat channel. Callers hold s.mu.
func (s *Session) attach(dc *webrtc.DataChannel) {
	s.channel = dc
	dc.OnOpen(func() {
		s.logger.Infow("chat channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		text, err := decodeText(msg.Data)
		if err != nil {
			s.logger.Debugw("dropping text frame", "error", err)
			return
		}
		s.mu.Lock()
		fn := s.onText
		s.mu.Unlock()
		if fn != nil {
			fn(text)
		}
	})
}

// videoTrack is what the video slot should carry. Callers hold s.mu.
func (s *Session) videoTrack() webrtc.TrackLocal {
	switch {
	case s.screen != nil:
		return s.screen
	case s.camera != nil:
		return s.camera
	default:
		return s.placeholder
	}
}

func (s *Session) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.signaler.Leave(ctx, s.cfg.Engine.Room); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		s.logger.Debugw("failed to leave call room", "error", err)
	}
}

// addSlot adds a transceiver of kind carrying track, or a slot without a
// live track when nothing was captured.
func addSlot(pc *webrtc.PeerConnection, kind webrtc.RTPCodecType, track webrtc.TrackLocal, init webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	if track != nil {
		return pc.AddTransceiverFromTrack(track, init)
	}
	return pc.AddTransceiverFromKind(kind, init)
}

// drainRTCP reads sender RTCP so the interceptors see it.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
