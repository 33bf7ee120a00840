package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/vultisig/vultisig-chatroom/contexthelper"
	"github.com/vultisig/vultisig-chatroom/model"
)

var _ Storage = (*MemoryStorage)(nil)

type memoryMessage struct {
	seq     uint64
	message model.Message
}

// MemoryStorage keeps participants and messages in process. Nothing survives a restart.
type MemoryStorage struct {
	// mu serializes compound read-then-write operations; single cache calls are already safe.
	mu           sync.Mutex
	seq          uint64
	participants *cache.Cache
	messages     *cache.Cache
}

// NewMemoryStorage returns a new storage that use an in-memory cache
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		participants: cache.New(cache.NoExpiration, 0),
		messages:     cache.New(cache.NoExpiration, 0),
	}
}

func (s *MemoryStorage) InsertParticipant(ctx context.Context, participant model.Participant) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.participants.Add(participant.Name, participant, cache.NoExpiration); err != nil {
		return ErrAlreadyExists
	}
	return nil
}

func (s *MemoryStorage) GetParticipant(ctx context.Context, name string) (model.Participant, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return model.Participant{}, ctx.Err()
	}
	item, ok := s.participants.Get(name)
	if !ok {
		return model.Participant{}, ErrNotFound
	}
	return item.(model.Participant), nil
}

func (s *MemoryStorage) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	items := s.participants.Items()
	participants := make([]model.Participant, 0, len(items))
	for _, item := range items {
		participants = append(participants, item.Object.(model.Participant))
	}
	return participants, nil
}

func (s *MemoryStorage) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	participant := model.Participant{Name: name, LastStatus: lastStatus}
	if err := s.participants.Replace(name, participant, cache.NoExpiration); err != nil {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStorage) RemoveStaleParticipant(ctx context.Context, name string, cutoff int64) (bool, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return false, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.participants.Get(name)
	if !ok || !item.(model.Participant).IsStale(cutoff) {
		return false, nil
	}
	s.participants.Delete(name)
	return true, nil
}

func (s *MemoryStorage) InsertMessage(ctx context.Context, message model.Message) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.messages.Set(message.ID, memoryMessage{seq: s.seq, message: message}, cache.NoExpiration)
	return nil
}

func (s *MemoryStorage) ListMessages(ctx context.Context) ([]model.Message, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	items := s.messages.Items()
	stored := make([]memoryMessage, 0, len(items))
	for _, item := range items {
		stored = append(stored, item.Object.(memoryMessage))
	}
	sort.Slice(stored, func(i, j int) bool {
		return stored[i].seq < stored[j].seq
	})
	messages := make([]model.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, m.message)
	}
	return messages, nil
}

func (s *MemoryStorage) DeleteMessage(ctx context.Context, id string, from string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.messages.Get(id)
	if !ok {
		return ErrNotFound
	}
	if item.(memoryMessage).message.From != from {
		return ErrNotOwner
	}
	s.messages.Delete(id)
	return nil
}

func (s *MemoryStorage) Close() error {
	s.participants.Flush()
	s.messages.Flush()
	return nil
}
