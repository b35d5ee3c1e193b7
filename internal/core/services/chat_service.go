package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	apperrors "koma/pkg/errors"
	"koma/pkg/utils"
	"koma/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type chatService struct {
	signaler ports.Signaler
	logger   *zap.SugaredLogger

	mu       sync.RWMutex
	threads  map[domain.ThreadID]*domain.ChatThread
	onUpdate func(domain.ChatMessage)
}

func NewChatService(signaler ports.Signaler, logger *zap.SugaredLogger) ports.ChatService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &chatService{
		signaler: signaler,
		logger:   logger.With("participant_id", signaler.Self()),
		threads:  make(map[domain.ThreadID]*domain.ChatThread),
	}
}

// Run consumes inbound envelopes until ctx is done or the transport stops.
func (s *chatService) Run(ctx context.Context) error {
	inbox, unsubscribe := s.signaler.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbox:
			if !ok {
				return apperrors.NewTransportLostError(domain.ErrSessionClosed)
			}
			s.handle(ctx, env)
		}
	}
}

func (s *chatService) OnUpdate(fn func(domain.ChatMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// JoinSupport joins the global support room and, for a handler, its own room.
func (s *chatService) JoinSupport(ctx context.Context, handler string) error {
	if err := s.signaler.Join(ctx, domain.GlobalSupportRoom); err != nil {
		return err
	}
	if handler = utils.NormalizeEmail(handler); handler == "" {
		return nil
	}
	room := domain.ConsultantRoom(handler)
	if err := validation.ValidateRoomID(string(room)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	return s.signaler.Join(ctx, room)
}

func (s *chatService) JoinThread(ctx context.Context, thread domain.ThreadID) error {
	if err := validation.ValidateThreadID(string(thread)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	return s.signaler.Join(ctx, domain.ThreadRoom(thread))
}

// Send records a new outgoing message and hands it to the transport. The
// record starts undelivered; the hub's acknowledgement flips it.
func (s *chatService) Send(ctx context.Context, thread domain.ThreadID, text string) (domain.ChatMessage, error) {
	if err := validation.ValidateThreadID(string(thread)); err != nil {
		return domain.ChatMessage{}, apperrors.NewInvalidInputError(err.Error())
	}
	text = utils.SanitizeString(text)
	if err := validation.ValidateChatText(text); err != nil {
		return domain.ChatMessage{}, apperrors.NewInvalidInputError(err.Error())
	}

	msg := &domain.ChatMessage{
		ID:       domain.MessageID(uuid.New().String()),
		ThreadID: thread,
		Room:     domain.ThreadRoom(thread),
		From:     s.signaler.Self(),
		Text:     text,
		Mine:     true,
		SentAt:   time.Now().UTC(),
	}
	s.keep(msg)

	env := domain.NewEnvelope(domain.TypeChat, msg.Room)
	env.From = msg.From
	env.ThreadID = thread
	env.MID = msg.ID
	env.Text = text
	if err := s.signaler.Send(ctx, env); err != nil {
		return *msg, fmt.Errorf("failed to send chat message: %w", err)
	}
	return *msg, nil
}

// MarkRead flags a received message as read and tells its author.
func (s *chatService) MarkRead(ctx context.Context, thread domain.ThreadID, mid domain.MessageID) error {
	s.mu.Lock()
	var msg *domain.ChatMessage
	if t, ok := s.threads[thread]; ok {
		msg = t.Find(mid)
	}
	if msg == nil {
		s.mu.Unlock()
		return apperrors.NewNotFoundError("message")
	}
	changed := msg.MarkRead()
	snapshot := *msg
	s.mu.Unlock()

	if !changed {
		return nil
	}
	s.notify(snapshot)

	env := domain.NewEnvelope(domain.TypeRead, snapshot.Room)
	env.From = s.signaler.Self()
	env.ThreadID = thread
	env.MID = mid
	return s.signaler.Send(ctx, env)
}

// History returns a copy of the thread, oldest first.
func (s *chatService) History(thread domain.ThreadID) []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[thread]
	if !ok {
		return nil
	}
	out := make([]domain.ChatMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		out = append(out, *m)
	}
	return out
}

func (s *chatService) handle(ctx context.Context, env domain.Envelope) {
	switch env.Type {
	case domain.TypeChat:
		s.received(ctx, env)
	case domain.TypeDelivered, domain.TypeRead:
		s.acknowledged(env)
	}
}

func (s *chatService) received(ctx context.Context, env domain.Envelope) {
	if env.From == s.signaler.Self() {
		return
	}

	thread := env.ThreadID
	if thread == "" {
		thread = domain.ThreadOf(env.Room)
	}
	if thread != "" && env.MID != "" {
		msg := &domain.ChatMessage{
			ID:       env.MID,
			ThreadID: thread,
			Room:     env.Room,
			From:     env.From,
			Text:     env.Text,
			SentAt:   time.UnixMilli(env.Timestamp).UTC(),
		}
		if !s.keep(msg) {
			return
		}
		s.notify(*msg)
	}

	if env.MID == "" {
		return
	}
	ack := domain.NewEnvelope(domain.TypeDelivered, env.Room)
	ack.From = s.signaler.Self()
	ack.ThreadID = env.ThreadID
	ack.MID = env.MID
	if err := s.signaler.Send(ctx, ack); err != nil {
		s.logger.Warnw("failed to acknowledge chat message",
			"mid", env.MID,
			"error", err,
		)
	}
}

func (s *chatService) acknowledged(env domain.Envelope) {
	if env.MID == "" {
		return
	}

	s.mu.Lock()
	msg := s.find(env.ThreadID, env.MID)
	if msg == nil {
		s.mu.Unlock()
		return
	}
	var changed bool
	if env.Type == domain.TypeRead {
		changed = msg.MarkRead()
	} else {
		changed = msg.MarkDelivered()
	}
	snapshot := *msg
	s.mu.Unlock()

	if changed {
		s.notify(snapshot)
	}
}

// keep appends msg to its thread, reporting false for an id already present.
func (s *chatService) keep(msg *domain.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[msg.ThreadID]
	if !ok {
		t = &domain.ChatThread{ID: msg.ThreadID}
		s.threads[msg.ThreadID] = t
	}
	if t.Find(msg.ID) != nil {
		return false
	}
	t.Messages = append(t.Messages, msg)
	if over := len(t.Messages) - domain.ChatHistoryLimit; over > 0 {
		t.Messages = append([]*domain.ChatMessage(nil), t.Messages[over:]...)
	}
	return true
}

// find looks up a message, in thread when given and in every thread
// otherwise. Callers hold s.mu.
func (s *chatService) find(thread domain.ThreadID, mid domain.MessageID) *domain.ChatMessage {
	if thread != "" {
		if t, ok := s.threads[thread]; ok {
			return t.Find(mid)
		}
		return nil
	}
	for _, t := range s.threads {
		if m := t.Find(mid); m != nil {
			return m
		}
	}
	return nil
}

func (s *chatService) notify(msg domain.ChatMessage) {
	s.mu.RLock()
	fn := s.onUpdate
	s.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}
