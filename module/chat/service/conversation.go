package service

import (
	"context"
	"sort"
	"time"

	"PulseIM/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ConversationStore struct {
	db *mongo.Database
}

func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) coll() *mongo.Collection {
	return s.db.Collection(model.Conversation{}.TableName())
}

// FindOrCreateDirect returns the direct conversation between a and b,
// creating it atomically when absent. The upsert filter and
// $setOnInsert keep concurrent first-message races from producing two
// conversations for the same pair.
func (s *ConversationStore) FindOrCreateDirect(ctx context.Context, a, b primitive.ObjectID) (*model.Conversation, error) {
	pair := []primitive.ObjectID{a, b}
	sort.Slice(pair, func(i, j int) bool { return pair[i].Hex() < pair[j].Hex() })

	filter := bson.M{
		"type":         model.ConvDirect,
		"participants": bson.M{"$all": pair, "$size": 2},
	}
	now := time.Now()
	update := bson.M{"$setOnInsert": bson.M{
		"participants":    pair,
		"type":            model.ConvDirect,
		"last_message_at": now,
		"created_at":      now,
	}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv model.Conversation
	if err := s.coll().FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *ConversationStore) CreateGroup(ctx context.Context, name string, participants []primitive.ObjectID) (*model.Conversation, error) {
	now := time.Now()
	conv := model.Conversation{
		Participants:  participants,
		Type:          model.ConvGroup,
		Name:          name,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	res, err := s.coll().InsertOne(ctx, conv)
	if err != nil {
		return nil, err
	}
	conv.ID = res.InsertedID.(primitive.ObjectID)
	return &conv, nil
}

func (s *ConversationStore) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetForParticipant loads the conversation only when userID is a
// member; mongo.ErrNoDocuments doubles as the access-denied signal.
func (s *ConversationStore) GetForParticipant(ctx context.Context, id, userID primitive.ObjectID) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.coll().FindOne(ctx, bson.M{"_id": id, "participants": userID}).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID primitive.ObjectID) ([]model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cur, err := s.coll().Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateLastMessage refreshes the denormalized last-message cache after
// a successful persistence.
func (s *ConversationStore) UpdateLastMessage(ctx context.Context, convID, msgID primitive.ObjectID, at time.Time) error {
	_, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{"$set": bson.M{"last_message_id": msgID, "last_message_at": at}},
	)
	return err
}

func (s *ConversationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "last_message_at", Value: -1}}},
	})
	return err
}
