package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AutoMessage is a system-scheduled message materialized ahead of its
// send time. IsQueued flips once the drain phase hands it to the
// delivery queue; IsSent flips once the consumer has persisted the
// resulting Message. Both flags move false→true only.
type AutoMessage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID   primitive.ObjectID `bson:"sender_id" json:"senderId"`
	ReceiverID primitive.ObjectID `bson:"receiver_id" json:"receiverId"`
	Content    string             `bson:"content" json:"content"`
	SendDate   time.Time          `bson:"send_date" json:"sendDate"`
	IsQueued   bool               `bson:"is_queued" json:"isQueued"`
	IsSent     bool               `bson:"is_sent" json:"isSent"`
	CreatedAt  time.Time          `bson:"created_at" json:"createdAt"`
}

func (AutoMessage) TableName() string { return "auto_messages" }
