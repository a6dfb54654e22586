package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	usermodel "PulseIM/module/user/model"
	chatmodel "PulseIM/module/chat/model"
)

// Envelope is the durable unit placed on the primary queue. It never
// carries a canonical id; the consumer assigns one at persistence time.
type Envelope struct {
	ConversationID string    `json:"conversationId,omitempty"`
	RecipientID    string    `json:"recipientId,omitempty"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	IdemKey        string    `json:"idemKey"`
}

// StampIdemKey derives the deterministic idempotency key from the
// envelope identity fields so redelivery and consumer restarts can be
// deduplicated without guessing from content/time windows.
func (e *Envelope) StampIdemKey() {
	target := e.ConversationID
	if target == "" {
		target = e.RecipientID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s",
		e.SenderID, target, e.Timestamp.UnixMilli(), e.Content)))
	e.IdemKey = hex.EncodeToString(sum[:])
}

// AutoEnvelope is the drain-queue unit for scheduler-originated
// messages.
type AutoEnvelope struct {
	AutoMessageID string `json:"autoMessageId"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	Content       string `json:"content"`
}

func (e *AutoEnvelope) IdemKey() string { return "auto:" + e.AutoMessageID }

// MessagePayload is the realtime record multicast to clients, either
// provisional (temporary id, before the consumer has run) or canonical
// (persisted, real id). Receivers reconcile the two by IdemKey/TempID
// instead of displaying both.
type MessagePayload struct {
	ID             string                  `json:"_id"`
	ConversationID string                  `json:"conversationId"`
	Sender         usermodel.Display       `json:"senderId"`
	Content        string                  `json:"content"`
	Type           string                  `json:"type"`
	ReadBy         []chatmodel.ReadReceipt `json:"readBy"`
	CreatedAt      time.Time               `json:"createdAt"`
	Provisional    bool                    `json:"provisional,omitempty"`
	IdemKey        string                  `json:"idemKey,omitempty"`
	TempID         string                  `json:"tempId,omitempty"`
}

// PayloadFromMessage builds the canonical payload for a persisted
// message.
func PayloadFromMessage(m *chatmodel.Message, sender usermodel.Display, idemKey string) MessagePayload {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []chatmodel.ReadReceipt{}
	}
	return MessagePayload{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID.Hex(),
		Sender:         sender,
		Content:        m.Content,
		Type:           m.Type,
		ReadBy:         readBy,
		CreatedAt:      m.CreatedAt,
		IdemKey:        idemKey,
	}
}
