package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMarkConversationReadReportsOnlyChangedDocs(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("guarded per-message updates", func(mt *mtest.T) {
		store := NewMessageStore(mt.DB)
		convID := primitive.NewObjectID()
		userID := primitive.NewObjectID()
		msg1 := primitive.NewObjectID()
		msg2 := primitive.NewObjectID()

		ns := mt.DB.Name() + ".messages"
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
				bson.D{{Key: "_id", Value: msg1}},
				bson.D{{Key: "_id", Value: msg2}},
			),
			// msg1 gains the receipt; msg2 was marked by a concurrent
			// reader between the snapshot and the update.
			mtest.CreateSuccessResponse(
				bson.E{Key: "n", Value: 1},
				bson.E{Key: "nModified", Value: 1},
			),
			mtest.CreateSuccessResponse(
				bson.E{Key: "n", Value: 1},
				bson.E{Key: "nModified", Value: 0},
			),
		)

		marked, err := store.MarkConversationRead(context.Background(), convID, userID, time.Now())
		require.NoError(mt, err)
		require.Len(mt, marked, 1, "an update the guard rejected is not reported")
		assert.Equal(mt, msg1, marked[0])
	})

	mt.Run("nothing unread", func(mt *mtest.T) {
		store := NewMessageStore(mt.DB)

		ns := mt.DB.Name() + ".messages"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		marked, err := store.MarkConversationRead(context.Background(), primitive.NewObjectID(), primitive.NewObjectID(), time.Now())
		require.NoError(mt, err)
		assert.Empty(mt, marked)
	})
}
