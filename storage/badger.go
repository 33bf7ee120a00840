package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/vultisig/vultisig-chatroom/config"
	"github.com/vultisig/vultisig-chatroom/contexthelper"
	"github.com/vultisig/vultisig-chatroom/model"
)

const (
	participantPrefix  = "participant:"
	messagePrefix      = "message:"
	messageIndexPrefix = "message-id:"
	messageSequenceKey = "sequence:message"
)

var _ Storage = (*BadgerStorage)(nil)

// BadgerStorage persists the room on local disk.
// Messages are keyed "message:{seq}" with a 20 digit zero padded sequence so a prefix scan returns them
// in insertion order; "message-id:{id}" points back to that key.
type BadgerStorage struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerStorage returns a new storage that use badger
func NewBadgerStorage(cfg config.Badger) (*BadgerStorage, error) {
	db, err := badger.Open(badger.DefaultOptions(cfg.Path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("fail to open badger at %s, err: %w", cfg.Path, err)
	}
	seq, err := db.GetSequence([]byte(messageSequenceKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fail to get message sequence, err: %w", err)
	}
	return &BadgerStorage{db: db, seq: seq}, nil
}

func (s *BadgerStorage) InsertParticipant(ctx context.Context, participant model.Participant) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	buf, err := json.Marshal(participant)
	if err != nil {
		return fmt.Errorf("fail to marshal participant, err: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(participantPrefix + participant.Name)
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrConflict) {
		// a concurrent transaction wrote the same name first
		return ErrAlreadyExists
	}
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("fail to insert participant %s, err: %w", participant.Name, err)
	}
	return err
}

func (s *BadgerStorage) GetParticipant(ctx context.Context, name string) (model.Participant, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return model.Participant{}, ctx.Err()
	}
	var participant model.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		participant, err = getParticipant(txn, name)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.Participant{}, fmt.Errorf("fail to get participant %s, err: %w", name, err)
	}
	return participant, err
}

func (s *BadgerStorage) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	participants := make([]model.Participant, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, participantPrefix, func(value []byte) error {
			var participant model.Participant
			if err := json.Unmarshal(value, &participant); err != nil {
				return err
			}
			participants = append(participants, participant)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fail to list participants, err: %w", err)
	}
	return participants, nil
}

func (s *BadgerStorage) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		participant, err := getParticipant(txn, name)
		if err != nil {
			return err
		}
		participant.LastStatus = lastStatus
		buf, err := json.Marshal(participant)
		if err != nil {
			return err
		}
		return txn.Set([]byte(participantPrefix+name), buf)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("fail to touch participant %s, err: %w", name, err)
	}
	return err
}

func (s *BadgerStorage) RemoveStaleParticipant(ctx context.Context, name string, cutoff int64) (bool, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return false, ctx.Err()
	}
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		participant, err := getParticipant(txn, name)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !participant.IsStale(cutoff) {
			return nil
		}
		removed = true
		return txn.Delete([]byte(participantPrefix + name))
	})
	if err != nil {
		return false, fmt.Errorf("fail to remove participant %s, err: %w", name, err)
	}
	return removed, nil
}

func (s *BadgerStorage) InsertMessage(ctx context.Context, message model.Message) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	buf, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("fail to marshal message, err: %w", err)
	}
	next, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("fail to get next message sequence, err: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d", messagePrefix, next))
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, buf); err != nil {
			return err
		}
		return txn.Set([]byte(messageIndexPrefix+message.ID), key)
	})
	if err != nil {
		return fmt.Errorf("fail to set message, err: %w", err)
	}
	return nil
}

func (s *BadgerStorage) ListMessages(ctx context.Context) ([]model.Message, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	messages := make([]model.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, messagePrefix, func(value []byte) error {
			var message model.Message
			if err := json.Unmarshal(value, &message); err != nil {
				return err
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fail to list messages, err: %w", err)
	}
	return messages, nil
}

func (s *BadgerStorage) DeleteMessage(ctx context.Context, id string, from string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		indexKey := []byte(messageIndexPrefix + id)
		item, err := txn.Get(indexKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var message model.Message
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &message)
		}); err != nil {
			return err
		}
		if message.From != from {
			return ErrNotOwner
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey)
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrNotOwner) {
		return fmt.Errorf("fail to delete message %s, err: %w", id, err)
	}
	return err
}

func (s *BadgerStorage) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("fail to release message sequence, err: %w", err)
	}
	return s.db.Close()
}

func getParticipant(txn *badger.Txn, name string) (model.Participant, error) {
	item, err := txn.Get([]byte(participantPrefix + name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Participant{}, ErrNotFound
	}
	if err != nil {
		return model.Participant{}, err
	}
	var participant model.Participant
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &participant)
	})
	return participant, err
}

func scanPrefix(txn *badger.Txn, prefix string, fn func(value []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
