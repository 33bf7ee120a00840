package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/vultisig-chatroom/model"
)

// testStorage runs the behaviour every Storage implementation must share.
func testStorage(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("insert participant once", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		req.NoError(s.InsertParticipant(ctx, model.Participant{Name: "alice", LastStatus: 1}))
		req.ErrorIs(s.InsertParticipant(ctx, model.Participant{Name: "alice", LastStatus: 2}), ErrAlreadyExists)
		// names are case sensitive
		req.NoError(s.InsertParticipant(ctx, model.Participant{Name: "Alice", LastStatus: 3}))

		p, err := s.GetParticipant(ctx, "alice")
		req.NoError(err)
		req.Equal(model.Participant{Name: "alice", LastStatus: 1}, p)

		participants, err := s.ListParticipants(ctx)
		req.NoError(err)
		req.ElementsMatch([]model.Participant{
			{Name: "alice", LastStatus: 1},
			{Name: "Alice", LastStatus: 3},
		}, participants)
	})

	t.Run("concurrent inserts of the same name", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.InsertParticipant(ctx, model.Participant{Name: "bob", LastStatus: int64(i)})
			}(i)
		}
		wg.Wait()
		succeeded := lo.CountBy(errs, func(err error) bool { return err == nil })
		req.Equal(1, succeeded)
		participants, err := s.ListParticipants(ctx)
		req.NoError(err)
		req.Len(participants, 1)
	})

	t.Run("get missing participant", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.GetParticipant(ctx, "ghost")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list without participants", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		participants, err := s.ListParticipants(ctx)
		req.NoError(err)
		req.NotNil(participants)
		req.Empty(participants)
	})

	t.Run("touch participant", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		req.NoError(s.InsertParticipant(ctx, model.Participant{Name: "alice", LastStatus: 1}))
		req.NoError(s.TouchParticipant(ctx, "alice", 42))
		p, err := s.GetParticipant(ctx, "alice")
		req.NoError(err)
		req.Equal(int64(42), p.LastStatus)

		req.ErrorIs(s.TouchParticipant(ctx, "ghost", 42), ErrNotFound)
		_, err = s.GetParticipant(ctx, "ghost")
		req.ErrorIs(err, ErrNotFound)
	})

	t.Run("remove stale participant", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		req.NoError(s.InsertParticipant(ctx, model.Participant{Name: "old", LastStatus: 100}))
		req.NoError(s.InsertParticipant(ctx, model.Participant{Name: "fresh", LastStatus: 500}))

		removed, err := s.RemoveStaleParticipant(ctx, "fresh", 200)
		req.NoError(err)
		req.False(removed)

		removed, err = s.RemoveStaleParticipant(ctx, "old", 200)
		req.NoError(err)
		req.True(removed)

		removed, err = s.RemoveStaleParticipant(ctx, "old", 200)
		req.NoError(err)
		req.False(removed)

		participants, err := s.ListParticipants(ctx)
		req.NoError(err)
		req.Equal([]model.Participant{{Name: "fresh", LastStatus: 500}}, participants)
	})

	t.Run("messages keep insertion order", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		messages := []model.Message{
			newTestMessage("alice", model.BroadcastTarget, "one"),
			newTestMessage("bob", "alice", "two"),
			newTestMessage("carol", model.BroadcastTarget, "three"),
		}
		for _, m := range messages {
			req.NoError(s.InsertMessage(ctx, m))
		}
		fetched, err := s.ListMessages(ctx)
		req.NoError(err)
		req.Equal(messages, fetched)
	})

	t.Run("list without messages", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		messages, err := s.ListMessages(ctx)
		req.NoError(err)
		req.NotNil(messages)
		req.Empty(messages)
	})

	t.Run("delete message", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		first := newTestMessage("alice", model.BroadcastTarget, "one")
		second := newTestMessage("bob", model.BroadcastTarget, "two")
		req.NoError(s.InsertMessage(ctx, first))
		req.NoError(s.InsertMessage(ctx, second))

		req.ErrorIs(s.DeleteMessage(ctx, first.ID, "bob"), ErrNotOwner)
		req.ErrorIs(s.DeleteMessage(ctx, uuid.NewString(), "alice"), ErrNotFound)
		fetched, err := s.ListMessages(ctx)
		req.NoError(err)
		req.Len(fetched, 2)

		req.NoError(s.DeleteMessage(ctx, first.ID, "alice"))
		req.ErrorIs(s.DeleteMessage(ctx, first.ID, "alice"), ErrNotFound)
		fetched, err = s.ListMessages(ctx)
		req.NoError(err)
		req.Equal([]model.Message{second}, fetched)
	})

	t.Run("cancelled context", func(t *testing.T) {
		req := require.New(t)
		s := newStorage(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		req.ErrorIs(s.InsertParticipant(cancelled, model.Participant{Name: "alice"}), context.Canceled)
		_, err := s.ListMessages(cancelled)
		req.ErrorIs(err, context.Canceled)
	})
}

func newTestMessage(from, to, text string) model.Message {
	messageType := model.TypeMessage
	if to != model.BroadcastTarget {
		messageType = model.TypePrivateMessage
	}
	return model.Message{
		ID:   uuid.Must(uuid.NewV7()).String(),
		From: from,
		To:   to,
		Text: text,
		Type: messageType,
		Time: "12:00:00",
	}
}
