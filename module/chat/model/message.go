package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"
)

// ReadReceipt is one (reader, readAt) entry of a message's append-only
// read list. Deduplicated by UserID; entries are never removed.
type ReadReceipt struct {
	UserID primitive.ObjectID `bson:"user_id" json:"userId"`
	ReadAt time.Time          `bson:"read_at" json:"readAt"`
}

// Message is immutable once persisted except for ReadBy, which only
// grows. The canonical id is assigned by Mongo at insert time, never by
// a live connection.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ConversationID primitive.ObjectID `bson:"conversation_id" json:"conversationId"`
	SenderID       primitive.ObjectID `bson:"sender_id" json:"senderId"`
	Content        string             `bson:"content" json:"content"`
	Type           string             `bson:"type" json:"type"`
	ReadBy         []ReadReceipt      `bson:"read_by" json:"readBy"`
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
}

func (Message) TableName() string { return "messages" }
