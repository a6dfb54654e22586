package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ConvDirect = "direct"
	ConvGroup  = "group"
)

// Conversation holds only a denormalized last-message cache (id +
// timestamp), not a strong reference back into messages; messages own
// the conversation edge.
type Conversation struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Participants  []primitive.ObjectID `bson:"participants" json:"participants"`
	Type          string               `bson:"type" json:"type"`
	Name          string               `bson:"name,omitempty" json:"name,omitempty"`
	LastMessageID *primitive.ObjectID  `bson:"last_message_id,omitempty" json:"lastMessageId,omitempty"`
	LastMessageAt time.Time            `bson:"last_message_at" json:"lastMessageAt"`
	CreatedAt     time.Time            `bson:"created_at" json:"createdAt"`
}

func (Conversation) TableName() string { return "conversations" }

func (c *Conversation) HasParticipant(userID primitive.ObjectID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
