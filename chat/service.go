// Package chat implements the participant registry and the message store of the room.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vultisig/vultisig-chatroom/model"
	"github.com/vultisig/vultisig-chatroom/storage"
)

const (
	JoinNotice  = "entra na sala..."
	LeaveNotice = "sai da sala..."
)

type Service struct {
	store storage.Storage
	now   func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, tests use it to pin lastStatus and message times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StatusMessage builds the broadcast notice written when a participant joins or leaves.
func StatusMessage(name, text string, at time.Time) model.Message {
	return newMessage(name, model.BroadcastTarget, text, model.TypeStatus, at)
}

func newMessage(from, to, text string, messageType model.MessageType, at time.Time) model.Message {
	return model.Message{
		ID:   uuid.Must(uuid.NewV7()).String(),
		From: from,
		To:   to,
		Text: text,
		Type: messageType,
		Time: at.Format(model.TimeLayout),
	}
}

// Register adds a participant and announces it to the room.
// The notice is a second write: if it fails the participant stays registered.
func (s *Service) Register(ctx context.Context, name string) error {
	if err := validateStruct(joinRequest{Name: name}); err != nil {
		return err
	}
	now := s.now()
	err := s.store.InsertParticipant(ctx, model.Participant{Name: name, LastStatus: now.UnixMilli()})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	return s.store.InsertMessage(ctx, StatusMessage(name, JoinNotice, now))
}

func (s *Service) Participants(ctx context.Context) ([]model.Participant, error) {
	return s.store.ListParticipants(ctx)
}

// Exists reports whether name is a registered participant.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	_, err := s.store.GetParticipant(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Heartbeat refreshes the liveness timestamp of a registered participant.
func (s *Service) Heartbeat(ctx context.Context, name string) error {
	if name == "" {
		return ErrNotFound
	}
	err := s.store.TouchParticipant(ctx, name, s.now().UnixMilli())
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Send stores a message from a registered participant.
func (s *Service) Send(ctx context.Context, from string, req SendRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	exists, err := s.Exists(ctx, from)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotParticipant
	}
	return s.store.InsertMessage(ctx, newMessage(from, req.To, req.Text, req.Type, s.now()))
}

// Messages returns what user may read, oldest first. With a limit only the last limit entries are kept.
func (s *Service) Messages(ctx context.Context, user string, limit *int) ([]model.Message, error) {
	if limit != nil && *limit <= 0 {
		return nil, &ValidationError{Details: []string{`"limit" must be a positive integer`}}
	}
	messages, err := s.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	visible := lo.Filter(messages, func(m model.Message, _ int) bool {
		return m.VisibleTo(user)
	})
	if limit != nil && len(visible) > *limit {
		visible = visible[len(visible)-*limit:]
	}
	return visible, nil
}

// Delete removes a message on behalf of its sender.
func (s *Service) Delete(ctx context.Context, user string, id string) error {
	if id == "" {
		return ErrNotFound
	}
	err := s.store.DeleteMessage(ctx, id, user)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrNotOwner):
		return ErrForbidden
	}
	return err
}
