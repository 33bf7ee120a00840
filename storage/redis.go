package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vultisig/vultisig-chatroom/config"
	"github.com/vultisig/vultisig-chatroom/contexthelper"
	"github.com/vultisig/vultisig-chatroom/model"
)

const (
	participantsKey   = "chatroom:participants"
	messageIDsKey     = "chatroom:messages"
	messageBodiesKey  = "chatroom:messages:body"
	messageSendersKey = "chatroom:messages:from"
)

var (
	touchScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0`)

	removeStaleScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], ARGV[1])
if last and tonumber(last) < tonumber(ARGV[2]) then
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 1
end
return 0`)

	// returns 1 when deleted, 0 when missing, -1 when the sender does not match
	deleteMessageScript = redis.NewScript(`
local from = redis.call('HGET', KEYS[2], ARGV[1])
if not from then
	return 0
end
if from ~= ARGV[2] then
	return -1
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[3], 1, ARGV[1])
return 1`)
)

var _ Storage = (*RedisStorage)(nil)

type RedisStorage struct {
	cfg    config.RedisServer
	client *redis.Client
}

// NewRedisStorage returns a new storage that use redis
func NewRedisStorage(cfg config.RedisServer) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.User,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	status := client.Ping(context.Background())
	if status.Err() != nil {
		return nil, status.Err()
	}
	return &RedisStorage{
		cfg:    cfg,
		client: client,
	}, nil
}

// InsertParticipant adds the participant unless the name is taken.
func (s *RedisStorage) InsertParticipant(ctx context.Context, participant model.Participant) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	added, err := s.client.HSetNX(ctx, participantsKey, participant.Name, participant.LastStatus).Result()
	if err != nil {
		return fmt.Errorf("fail to insert participant %s, err: %w", participant.Name, err)
	}
	if !added {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStorage) GetParticipant(ctx context.Context, name string) (model.Participant, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return model.Participant{}, ctx.Err()
	}
	lastStatus, err := s.client.HGet(ctx, participantsKey, name).Int64()
	if errors.Is(err, redis.Nil) {
		return model.Participant{}, ErrNotFound
	}
	if err != nil {
		return model.Participant{}, fmt.Errorf("fail to get participant %s, err: %w", name, err)
	}
	return model.Participant{Name: name, LastStatus: lastStatus}, nil
}

func (s *RedisStorage) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	result, err := s.client.HGetAll(ctx, participantsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("fail to list participants, err: %w", err)
	}
	participants := make([]model.Participant, 0, len(result))
	for name, raw := range result {
		lastStatus, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("fail to parse last status of %s, err: %w", name, err)
		}
		participants = append(participants, model.Participant{Name: name, LastStatus: lastStatus})
	}
	return participants, nil
}

func (s *RedisStorage) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	updated, err := touchScript.Run(ctx, s.client, []string{participantsKey}, name, lastStatus).Int()
	if err != nil {
		return fmt.Errorf("fail to touch participant %s, err: %w", name, err)
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStorage) RemoveStaleParticipant(ctx context.Context, name string, cutoff int64) (bool, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return false, ctx.Err()
	}
	removed, err := removeStaleScript.Run(ctx, s.client, []string{participantsKey}, name, cutoff).Int()
	if err != nil {
		return false, fmt.Errorf("fail to remove participant %s, err: %w", name, err)
	}
	return removed == 1, nil
}

// InsertMessage appends the message id to the room list and stores its body and sender.
func (s *RedisStorage) InsertMessage(ctx context.Context, message model.Message) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	buf, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("fail to marshal message, err: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, messageBodiesKey, message.ID, string(buf))
		pipe.HSet(ctx, messageSendersKey, message.ID, message.From)
		pipe.RPush(ctx, messageIDsKey, message.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail to set message, err: %w", err)
	}
	return nil
}

func (s *RedisStorage) ListMessages(ctx context.Context) ([]model.Message, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	ids, err := s.client.LRange(ctx, messageIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fail to get message ids, err: %w", err)
	}
	messages := make([]model.Message, 0, len(ids))
	if len(ids) == 0 {
		return messages, nil
	}
	bodies, err := s.client.HMGet(ctx, messageBodiesKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("fail to get messages, err: %w", err)
	}
	for _, item := range bodies {
		body, ok := item.(string)
		if !ok {
			// deleted between LRANGE and HMGET
			continue
		}
		var message model.Message
		if err := json.Unmarshal([]byte(body), &message); err != nil {
			return nil, fmt.Errorf("fail to unmarshal message, err: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// DeleteMessage deletes the message with the given id if from sent it.
func (s *RedisStorage) DeleteMessage(ctx context.Context, id string, from string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	keys := []string{messageBodiesKey, messageSendersKey, messageIDsKey}
	result, err := deleteMessageScript.Run(ctx, s.client, keys, id, from).Int()
	if err != nil {
		return fmt.Errorf("fail to delete message %s, err: %w", id, err)
	}
	switch result {
	case 0:
		return ErrNotFound
	case -1:
		return ErrNotOwner
	}
	return nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
