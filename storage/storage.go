//go:generate go run go.uber.org/mock/mockgen -source=storage.go -destination=../mocks/mock_storage.go -package=mocks
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/vultisig/vultisig-chatroom/config"
	"github.com/vultisig/vultisig-chatroom/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotOwner      = errors.New("not the owner")
)

// Storage is an interface that defines the methods to be implemented by a storage.
// Conditional writes (insert-if-absent, update-if-exists, delete-if-match) are atomic in every implementation.
type Storage interface {
	// InsertParticipant returns ErrAlreadyExists when a participant with the same name is present.
	InsertParticipant(ctx context.Context, participant model.Participant) error
	GetParticipant(ctx context.Context, name string) (model.Participant, error)
	ListParticipants(ctx context.Context) ([]model.Participant, error)
	// TouchParticipant sets lastStatus of an existing participant, ErrNotFound otherwise.
	TouchParticipant(ctx context.Context, name string, lastStatus int64) error
	// RemoveStaleParticipant deletes the participant only if its lastStatus is still older than cutoff.
	RemoveStaleParticipant(ctx context.Context, name string, cutoff int64) (bool, error)
	InsertMessage(ctx context.Context, message model.Message) error
	// ListMessages returns every message in insertion order.
	ListMessages(ctx context.Context) ([]model.Message, error)
	// DeleteMessage removes the message if it was sent by from: ErrNotFound or ErrNotOwner otherwise.
	DeleteMessage(ctx context.Context, id string, from string) error
	Close() error
}

// New returns the storage selected by cfg.StorageDriver.
func New(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.StorageDriver {
	case config.DriverRedis:
		return NewRedisStorage(cfg.RedisServer)
	case config.DriverMemory:
		return NewMemoryStorage(), nil
	case config.DriverBadger:
		return NewBadgerStorage(cfg.Badger)
	case config.DriverMongo:
		return NewMongoStorage(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
