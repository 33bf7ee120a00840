package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vultisig/vultisig-chatroom/config"
	"github.com/vultisig/vultisig-chatroom/contexthelper"
	"github.com/vultisig/vultisig-chatroom/model"
)

var _ Storage = (*MongoStorage)(nil)

// MongoStorage keeps participants and messages in two collections.
// Participants use the name as _id so the primary key index enforces uniqueness.
// Message ids are UUIDv7, so sorting by _id gives insertion order.
type MongoStorage struct {
	client       *mongo.Client
	participants *mongo.Collection
	messages     *mongo.Collection
}

// NewMongoStorage returns a new storage that use mongodb
func NewMongoStorage(ctx context.Context, cfg config.Mongo) (*MongoStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("fail to connect to mongodb, err: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("fail to ping mongodb, err: %w", err)
	}
	db := client.Database(cfg.Database)
	return &MongoStorage{
		client:       client,
		participants: db.Collection("participants"),
		messages:     db.Collection("messages"),
	}, nil
}

func (s *MongoStorage) InsertParticipant(ctx context.Context, participant model.Participant) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	_, err := s.participants.InsertOne(ctx, participant)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("fail to insert participant %s, err: %w", participant.Name, err)
	}
	return nil
}

func (s *MongoStorage) GetParticipant(ctx context.Context, name string) (model.Participant, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return model.Participant{}, ctx.Err()
	}
	var participant model.Participant
	err := s.participants.FindOne(ctx, bson.M{"_id": name}).Decode(&participant)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Participant{}, ErrNotFound
	}
	if err != nil {
		return model.Participant{}, fmt.Errorf("fail to get participant %s, err: %w", name, err)
	}
	return participant, nil
}

func (s *MongoStorage) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	cursor, err := s.participants.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("fail to list participants, err: %w", err)
	}
	participants := make([]model.Participant, 0)
	if err := cursor.All(ctx, &participants); err != nil {
		return nil, fmt.Errorf("fail to decode participants, err: %w", err)
	}
	return participants, nil
}

func (s *MongoStorage) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	result, err := s.participants.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": bson.M{"lastStatus": lastStatus}})
	if err != nil {
		return fmt.Errorf("fail to touch participant %s, err: %w", name, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStorage) RemoveStaleParticipant(ctx context.Context, name string, cutoff int64) (bool, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return false, ctx.Err()
	}
	result, err := s.participants.DeleteOne(ctx, bson.M{
		"_id":        name,
		"lastStatus": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return false, fmt.Errorf("fail to remove participant %s, err: %w", name, err)
	}
	return result.DeletedCount == 1, nil
}

func (s *MongoStorage) InsertMessage(ctx context.Context, message model.Message) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	if _, err := s.messages.InsertOne(ctx, message); err != nil {
		return fmt.Errorf("fail to set message, err: %w", err)
	}
	return nil
}

func (s *MongoStorage) ListMessages(ctx context.Context) ([]model.Message, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return nil, ctx.Err()
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("fail to list messages, err: %w", err)
	}
	messages := make([]model.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("fail to decode messages, err: %w", err)
	}
	return messages, nil
}

func (s *MongoStorage) DeleteMessage(ctx context.Context, id string, from string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	result, err := s.messages.DeleteOne(ctx, bson.M{"_id": id, "from": from})
	if err != nil {
		return fmt.Errorf("fail to delete message %s, err: %w", id, err)
	}
	if result.DeletedCount == 1 {
		return nil
	}
	count, err := s.messages.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("fail to count message %s, err: %w", id, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrNotOwner
}

func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return s.client.Disconnect(ctx)
}
