package service

import (
	"context"
	"time"

	"PulseIM/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type AutoMessageStore struct {
	db *mongo.Database
}

func NewAutoMessageStore(db *mongo.Database) *AutoMessageStore {
	return &AutoMessageStore{db: db}
}

func (s *AutoMessageStore) coll() *mongo.Collection {
	return s.db.Collection(model.AutoMessage{}.TableName())
}

func (s *AutoMessageStore) InsertBatch(ctx context.Context, batch []model.AutoMessage) error {
	if len(batch) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(batch))
	now := time.Now()
	for i := range batch {
		if batch[i].CreatedAt.IsZero() {
			batch[i].CreatedAt = now
		}
		docs = append(docs, batch[i])
	}
	_, err := s.coll().InsertMany(ctx, docs)
	return err
}

// FindDue selects materialized rows whose send time has passed and that
// have been neither queued nor sent.
func (s *AutoMessageStore) FindDue(ctx context.Context, now time.Time) ([]model.AutoMessage, error) {
	filter := bson.M{
		"send_date": bson.M{"$lte": now},
		"is_queued": false,
		"is_sent":   false,
	}
	cur, err := s.coll().Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.AutoMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AutoMessageStore) MarkQueued(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_queued": true}})
	return err
}

// MarkSent is called only by the autosend consumer once the resulting
// Message has been persisted.
func (s *AutoMessageStore) MarkSent(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_sent": true}})
	return err
}

func (s *AutoMessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "send_date", Value: 1}, {Key: "is_queued", Value: 1}}},
		{Keys: bson.D{{Key: "is_sent", Value: 1}}},
	})
	return err
}
