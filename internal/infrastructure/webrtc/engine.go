package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	"koma/pkg/config"
	apperrors "koma/pkg/errors"
	"koma/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Peer is the part of a peer connection the engine negotiates over.
// *webrtc.PeerConnection satisfies it.
type Peer interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// PeerFactory builds a fresh peer connection. The engine calls it on start and
// whenever the counterpart leaves or rejoins before media is connected.
type PeerFactory func() (Peer, error)

// EnvelopeSender delivers envelopes to the hub.
type EnvelopeSender interface {
	Send(ctx context.Context, env domain.Envelope) error
}

// StatusFunc observes status changes. It runs on the engine loop and must
// return quickly.
type StatusFunc func(status domain.SessionStatus, err error)

type EngineConfig struct {
	Self          domain.ParticipantID
	Room          domain.RoomID
	Role          domain.Role
	AnswerTimeout time.Duration
	MaxRestarts   int
}

// NewEngineConfig fills the negotiation timing from the service configuration.
func NewEngineConfig(cfg *config.Config, self domain.ParticipantID, room domain.RoomID, role domain.Role) EngineConfig {
	return EngineConfig{
		Self:          self,
		Room:          room,
		Role:          role,
		AnswerTimeout: cfg.WebRTC.AnswerTimeout,
		MaxRestarts:   cfg.WebRTC.MaxRestarts,
	}
}

// Engine runs perfect negotiation for one call room. The initiator is the only
// side that offers; the responder answers and yields on collisions. All state
// is owned by the goroutine running Run.
type Engine struct {
	cfg      EngineConfig
	factory  PeerFactory
	signal   EnvelopeSender
	metrics  ports.SessionMetrics
	logger   *zap.SugaredLogger
	onStatus StatusFunc

	ops       chan func()
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	peer        Peer
	state       domain.NegotiationState
	started     bool
	peerPresent bool
	haveRemote  bool
	connected   bool
	pending     []webrtc.ICECandidateInit
	lastOffer   string
	lastAnswer  *webrtc.SessionDescription
	restarts    int
	offerGen    uint64
	timer       *time.Timer

	mu         sync.RWMutex
	snapState  domain.NegotiationState
	snapStatus domain.SessionStatus
	lastErr    error
}

func NewEngine(cfg EngineConfig, factory PeerFactory, signal EnvelopeSender, metrics ports.SessionMetrics, logger *zap.SugaredLogger) *Engine {
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = 8 * time.Second
	}
	if metrics == nil {
		metrics = noopSessionMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:        cfg,
		factory:    factory,
		signal:     signal,
		metrics:    metrics,
		logger:     logger.With("room", cfg.Room, "role", cfg.Role),
		ops:        make(chan func(), 64),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		state:      domain.StateStable,
		snapState:  domain.StateStable,
		snapStatus: domain.StatusIdle,
	}
}

// OnStatus registers the status observer. Call it before Run.
func (e *Engine) OnStatus(fn StatusFunc) {
	e.onStatus = fn
}

// Run builds the first peer and processes events until Close or ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	peer, err := e.factory()
	if err != nil {
		e.setStatus(domain.StatusFailed, err)
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	e.peer = peer

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-e.closing:
			e.shutdown()
			return nil
		case op := <-e.ops:
			op()
		}
	}
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Close stops the engine at once. Events still queued are discarded.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closing)
	})
}

// Start allows the initiator to offer as soon as the counterpart is present.
func (e *Engine) Start() {
	e.post(func() {
		e.started = true
		e.maybeOffer()
	})
}

// Restart issues an ICE restart offer. Only the initiator restarts.
func (e *Engine) Restart() error {
	if e.cfg.Role != domain.RoleInitiator {
		return domain.ErrNotInitiator
	}
	e.post(func() {
		if e.state != domain.StateStable || !e.peerPresent {
			return
		}
		e.restarts = 0
		e.offer(true)
	})
	return nil
}

// Handle queues an inbound envelope.
func (e *Engine) Handle(env domain.Envelope) {
	e.post(func() { e.handle(env) })
}

// LocalCandidate forwards a gathered candidate of peer p.
func (e *Engine) LocalCandidate(p Peer, c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	init := c.ToJSON()
	e.post(func() {
		if p != e.peer {
			return
		}
		e.send(context.Background(), domain.TypeICECandidate, init)
	})
}

// ConnectionState reports a transport state change of peer p.
func (e *Engine) ConnectionState(p Peer, s webrtc.PeerConnectionState) {
	e.post(func() {
		if p != e.peer {
			return
		}
		e.connectionState(s)
	})
}

func (e *Engine) State() domain.NegotiationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapState
}

func (e *Engine) Status() domain.SessionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapStatus
}

// Err returns the error that accompanied the last failed status.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

func (e *Engine) post(op func()) {
	select {
	case e.ops <- op:
	case <-e.closing:
	case <-e.done:
	}
}

func (e *Engine) handle(env domain.Envelope) {
	if env.Room != e.cfg.Room {
		return
	}

	switch env.Type {
	case domain.TypeJoinAck:
		if env.Count >= domain.CallRoomCapacity {
			e.peerPresent = true
			e.maybeOffer()
		}
	case domain.TypeFull:
		err := apperrors.NewCapacityExceededError(e.cfg.Room)
		e.logger.Warnw("call room is full", "members", env.Count)
		e.setStatus(domain.StatusFailed, err)
	case domain.TypePeerJoin:
		e.peerJoined()
	case domain.TypePeerLeave:
		e.peerLeft()
	case domain.TypeOffer:
		if env.From != e.cfg.Self {
			e.remoteOffer(env)
		}
	case domain.TypeAnswer:
		if env.From != e.cfg.Self {
			e.remoteAnswer(env)
		}
	case domain.TypeICECandidate:
		if env.From != e.cfg.Self {
			e.remoteCandidate(env)
		}
	}
}

func (e *Engine) maybeOffer() {
	if e.cfg.Role != domain.RoleInitiator || !e.started || !e.peerPresent {
		return
	}
	if e.connected || e.state != domain.StateStable {
		return
	}
	e.offer(false)
}

func (e *Engine) offer(iceRestart bool) {
	ctx, span := tracing.TraceNegotiation(context.Background(), "offer", string(e.cfg.Room), string(e.cfg.Role))
	defer span.End()

	if _, ok := next(e.state, evLocalOffer); !ok {
		return
	}

	desc, err := e.peer.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		tracing.RecordError(ctx, err)
		e.logger.Errorw("failed to create offer", "error", err)
		return
	}
	if err := e.peer.SetLocalDescription(desc); err != nil {
		tracing.RecordError(ctx, err)
		e.logger.Errorw("failed to set local offer", "error", err)
		return
	}

	e.transition(evLocalOffer)
	e.metrics.RecordOffer(iceRestart)
	e.send(ctx, domain.TypeOffer, desc)
	e.armAnswerTimer()

	if iceRestart {
		e.setStatus(domain.StatusReconnecting, nil)
	} else if !e.connected {
		e.setStatus(domain.StatusNegotiating, nil)
	}
	e.logger.Infow("offer sent",
		"ice_restart", iceRestart,
		"restarts", e.restarts,
	)
}

func (e *Engine) remoteOffer(env domain.Envelope) {
	ctx, span := tracing.TraceNegotiation(context.Background(), "answer", string(e.cfg.Room), string(e.cfg.Role))
	defer span.End()

	var desc webrtc.SessionDescription
	if err := env.DecodePayload(&desc); err != nil || desc.Type != webrtc.SDPTypeOffer {
		e.logger.Debugw("dropping malformed offer", "error", err)
		return
	}

	if e.lastAnswer != nil && desc.SDP == e.lastOffer {
		e.logger.Debugw("offer already answered, re-sending answer")
		e.send(ctx, domain.TypeAnswer, *e.lastAnswer)
		return
	}

	if e.state == domain.StateOfferSent {
		e.metrics.RecordCollision()
		collision := apperrors.NewNegotiationCollisionError(e.state)
		if e.cfg.Role == domain.RoleInitiator {
			e.logger.Infow("ignoring colliding offer", "error", collision)
			return
		}
		e.logger.Infow("yielding to remote offer", "error", collision)
		e.stopTimer()
		e.rollback()
	}

	if !e.transition(evRemoteOffer) {
		return
	}
	if err := e.peer.SetRemoteDescription(desc); err != nil {
		tracing.RecordError(ctx, err)
		e.logger.Errorw("failed to apply remote offer", "error", err)
		e.transition(evAborted)
		return
	}
	e.haveRemote = true
	e.flushCandidates()

	answer, err := e.peer.CreateAnswer(nil)
	if err != nil {
		tracing.RecordError(ctx, err)
		e.logger.Errorw("failed to create answer", "error", err)
		e.transition(evAborted)
		return
	}
	if err := e.peer.SetLocalDescription(answer); err != nil {
		tracing.RecordError(ctx, err)
		e.logger.Errorw("failed to set local answer", "error", err)
		e.transition(evAborted)
		return
	}

	e.lastOffer = desc.SDP
	e.lastAnswer = &answer
	e.send(ctx, domain.TypeAnswer, answer)
	e.transition(evAnswerSent)
	if !e.connected {
		e.setStatus(domain.StatusNegotiating, nil)
	}
}

func (e *Engine) remoteAnswer(env domain.Envelope) {
	var desc webrtc.SessionDescription
	if err := env.DecodePayload(&desc); err != nil || desc.Type != webrtc.SDPTypeAnswer {
		e.logger.Debugw("dropping malformed answer", "error", err)
		return
	}

	if e.state != domain.StateOfferSent {
		e.metrics.RecordStaleAnswer()
		stale := apperrors.NewStaleAnswerError(e.state)
		if e.cfg.Role == domain.RoleInitiator && e.state == domain.StateStable && !e.connected && e.peerPresent {
			e.logger.Infow("stale answer, resynchronizing", "error", stale)
			e.offer(false)
			return
		}
		e.logger.Debugw("dropping stale answer", "error", stale)
		return
	}

	if err := e.peer.SetRemoteDescription(desc); err != nil {
		e.logger.Errorw("failed to apply remote answer", "error", err)
		e.stopTimer()
		e.rollback()
		e.transition(evAborted)
		return
	}
	e.stopTimer()
	e.haveRemote = true
	e.flushCandidates()
	e.transition(evRemoteAnswer)
	if e.connected {
		e.setStatus(domain.StatusConnected, nil)
	}
}

func (e *Engine) remoteCandidate(env domain.Envelope) {
	var c webrtc.ICECandidateInit
	if err := env.DecodePayload(&c); err != nil {
		e.logger.Debugw("dropping malformed candidate", "error", err)
		return
	}
	if !e.haveRemote {
		e.pending = append(e.pending, c)
		return
	}
	if err := e.peer.AddICECandidate(c); err != nil {
		e.logger.Debugw("failed to add remote candidate", "error", err)
	}
}

func (e *Engine) flushCandidates() {
	for _, c := range e.pending {
		if err := e.peer.AddICECandidate(c); err != nil {
			e.logger.Debugw("failed to add buffered candidate", "error", err)
		}
	}
	e.pending = nil
}

func (e *Engine) peerJoined() {
	e.peerPresent = true
	if e.connected {
		// media survived the counterpart's signaling reconnect; refresh ICE on
		// the same peer instead of starting over
		e.abandonOffer()
		if e.cfg.Role == domain.RoleInitiator && e.started {
			e.restarts = 0
			e.offer(true)
		}
		return
	}
	if e.haveRemote || e.state != domain.StateStable {
		// the counterpart starts from scratch, so must we
		e.renew()
	}
	if e.cfg.Role == domain.RoleInitiator && e.started {
		e.offer(false)
	}
}

// peerLeft keeps a connected peer: the hub reports leaves for transport
// drops too, and the media path does not go through it.
func (e *Engine) peerLeft() {
	e.peerPresent = false
	if e.connected {
		e.abandonOffer()
		e.logger.Infow("counterpart left signaling, keeping media path")
		return
	}
	e.renew()
	e.setStatus(domain.StatusIdle, nil)
}

// abandonOffer withdraws a local offer nobody is left to answer.
func (e *Engine) abandonOffer() {
	if e.state != domain.StateOfferSent {
		return
	}
	e.stopTimer()
	e.rollback()
	e.transition(evPeerLeft)
}

// renew replaces the peer connection and forgets the previous negotiation.
func (e *Engine) renew() {
	e.stopTimer()
	if err := e.peer.Close(); err != nil {
		e.logger.Debugw("failed to close peer connection", "error", err)
	}

	peer, err := e.factory()
	if err != nil {
		e.logger.Errorw("failed to create peer connection", "error", err)
		e.setStatus(domain.StatusFailed, err)
		return
	}
	e.peer = peer
	e.transition(evPeerLeft)
	e.haveRemote = false
	e.connected = false
	e.pending = nil
	e.lastOffer = ""
	e.lastAnswer = nil
	e.restarts = 0
}

func (e *Engine) connectionState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		e.connected = true
		e.restarts = 0
		e.setStatus(domain.StatusConnected, nil)
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		e.connected = false
		e.logger.Warnw("peer connection degraded", "state", s.String())
		if e.cfg.Role == domain.RoleInitiator && e.state == domain.StateStable && e.peerPresent {
			e.offer(true)
			return
		}
		e.setStatus(domain.StatusReconnecting, nil)
	}
}

func (e *Engine) armAnswerTimer() {
	e.stopTimer()
	e.offerGen++
	gen := e.offerGen
	e.timer = time.AfterFunc(e.cfg.AnswerTimeout, func() {
		e.post(func() { e.answerTimedOut(gen) })
	})
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.offerGen++
}

func (e *Engine) answerTimedOut(gen uint64) {
	if gen != e.offerGen || e.state != domain.StateOfferSent {
		return
	}
	e.timer = nil
	e.rollback()
	e.transition(evAnswerTimeout)

	if e.restarts >= e.cfg.MaxRestarts {
		err := apperrors.NewNoResponseTimeoutError(e.restarts + 1)
		e.logger.Warnw("giving up on unanswered offers", "error", err)
		e.setStatus(domain.StatusFailed, err)
		return
	}
	e.restarts++
	e.offer(true)
}

func (e *Engine) rollback() {
	if err := e.peer.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		e.logger.Debugw("failed to roll back local offer", "error", err)
	}
}

func (e *Engine) send(ctx context.Context, t domain.MessageType, payload interface{}) {
	env, err := domain.NewEnvelope(t, e.cfg.Room).WithPayload(payload)
	if err != nil {
		e.logger.Errorw("failed to encode envelope", "type", t, "error", err)
		return
	}
	env.From = e.cfg.Self
	if err := e.signal.Send(ctx, env); err != nil {
		e.logger.Warnw("failed to send envelope", "type", t, "error", err)
	}
}

func (e *Engine) transition(ev negotiationEvent) bool {
	to, ok := next(e.state, ev)
	if !ok {
		e.logger.Debugw("ignoring event", "state", e.state.String(), "event", ev.String())
		return false
	}
	e.state = to
	e.mu.Lock()
	e.snapState = to
	e.mu.Unlock()
	return true
}

func (e *Engine) shutdown() {
	e.stopTimer()
	if e.peer != nil {
		if err := e.peer.Close(); err != nil {
			e.logger.Debugw("failed to close peer connection", "error", err)
		}
	}
	e.transition(evClose)
	e.setStatus(domain.StatusClosed, nil)
}

func (e *Engine) setStatus(s domain.SessionStatus, err error) {
	e.mu.Lock()
	if e.snapStatus == s && err == nil {
		e.mu.Unlock()
		return
	}
	e.snapStatus = s
	if err != nil {
		e.lastErr = err
	}
	e.mu.Unlock()

	e.metrics.RecordStatus(s)
	if e.onStatus != nil {
		e.onStatus(s, err)
	}
}

type noopSessionMetrics struct{}

func (noopSessionMetrics) RecordOffer(bool)                  {}
func (noopSessionMetrics) RecordCollision()                  {}
func (noopSessionMetrics) RecordStaleAnswer()                {}
func (noopSessionMetrics) RecordStatus(domain.SessionStatus) {}
