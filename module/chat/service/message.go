package service

import (
	"context"
	"time"

	"PulseIM/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageStore struct {
	db *mongo.Database
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) coll() *mongo.Collection {
	return s.db.Collection(model.Message{}.TableName())
}

// Insert persists msg and stamps its canonical id and creation time.
func (s *MessageStore) Insert(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []model.ReadReceipt{}
	}
	res, err := s.coll().InsertOne(ctx, msg)
	if err != nil {
		return err
	}
	msg.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// History returns one page of messages, newest page first, each page
// ordered oldest→newest for display.
func (s *MessageStore) History(ctx context.Context, convID primitive.ObjectID, page, limit int64) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)
	cur, err := s.coll().Find(ctx, bson.M{"conversation_id": convID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var msgs []model.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkConversationRead appends userID to the read list of every unread
// message in the conversation not sent by them. Each message is marked
// with its own guarded update, so the reported ids are exactly the
// documents this call changed; a message inserted after the snapshot is
// never marked without being reported. The $ne guard keeps the append
// idempotent per reader. Returns the ids that were newly marked.
func (s *MessageStore) MarkConversationRead(ctx context.Context, convID, userID primitive.ObjectID, at time.Time) ([]primitive.ObjectID, error) {
	filter := bson.M{
		"conversation_id": convID,
		"sender_id":       bson.M{"$ne": userID},
		"read_by.user_id": bson.M{"$ne": userID},
	}

	cur, err := s.coll().Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	receipt := model.ReadReceipt{UserID: userID, ReadAt: at}
	update := bson.M{"$push": bson.M{"read_by": receipt}}
	ids := make([]primitive.ObjectID, 0, len(rows))
	for _, r := range rows {
		res, err := s.coll().UpdateOne(ctx, bson.M{
			"_id":             r.ID,
			"read_by.user_id": bson.M{"$ne": userID},
		}, update)
		if err != nil {
			return ids, err
		}
		if res.ModifiedCount == 1 {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (s *MessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}}},
	})
	return err
}
