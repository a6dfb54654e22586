package delivery

import (
	"context"
	"encoding/json"
	"time"

	"PulseIM/logger"
	chatmodel "PulseIM/module/chat/model"
	"PulseIM/service/bus"
	"PulseIM/service/queue"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const idemTTL = 10 * time.Minute

// Consumer is the persist half of the pipeline: it pulls envelopes one
// at a time, assigns the canonical id, refreshes the conversation
// cache and fans the persisted record out. An error return naks the
// envelope back to the queue, so everything before Remember must be
// safe to re-run.
type Consumer struct {
	convs ConversationRepo
	msgs  MessageRepo
	users DisplayResolver
	bus   Emitter
	idem  queue.IdemStore
}

func NewConsumer(convs ConversationRepo, msgs MessageRepo, users DisplayResolver, emitter Emitter, idem queue.IdemStore) *Consumer {
	return &Consumer{convs: convs, msgs: msgs, users: users, bus: emitter, idem: idem}
}

// HandleInbound processes one envelope from the primary queue.
func (c *Consumer) HandleInbound(ctx context.Context, data []byte, msgID string) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Retrying cannot fix malformed data; drop it with a trace.
		logger.Error("malformed envelope dropped", zap.ByteString("data", data), zap.Error(err))
		return nil
	}

	key := env.IdemKey
	if key == "" {
		key = msgID
	}
	if key != "" {
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			logger.Warn("idempotency check failed, processing anyway", zap.Error(err))
		} else if seen {
			logger.Debug("duplicate envelope dropped", zap.String("idemKey", key))
			return nil
		}
	}

	senderID, err := primitive.ObjectIDFromHex(env.SenderID)
	if err != nil {
		logger.Error("envelope with bad sender id dropped", zap.String("sender", env.SenderID))
		return nil
	}

	convID, err := c.resolveConversationID(ctx, senderID, &env)
	if err != nil {
		return err
	}
	if convID.IsZero() {
		// malformed target, already logged; dropping is the only option
		return nil
	}

	now := env.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	msg := &chatmodel.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Content:        env.Content,
		Type:           env.Type,
		ReadBy:         []chatmodel.ReadReceipt{{UserID: senderID, ReadAt: now}},
		CreatedAt:      now,
	}
	if err := c.msgs.Insert(ctx, msg); err != nil {
		return err // nak, redeliver
	}
	if err := c.convs.UpdateLastMessage(ctx, convID, msg.ID, msg.CreatedAt); err != nil {
		logger.Warn("last-message cache update failed",
			zap.String("conversation", convID.Hex()), zap.Error(err))
	}
	if key != "" {
		if err := c.idem.Remember(ctx, key, idemTTL); err != nil {
			logger.Warn("idempotency remember failed", zap.Error(err))
		}
	}

	payload := PayloadFromMessage(msg, c.users.Display(ctx, senderID), env.IdemKey)
	c.bus.Emit(bus.ScopeConversation, convID.Hex(), bus.EvMessageSaved, payload)

	logger.Debug("message persisted",
		zap.String("id", msg.ID.Hex()), zap.String("conversation", convID.Hex()))
	return nil
}

// Envelopes normally carry the conversation id, but an envelope queued
// before the conversation existed carries only the recipient.
func (c *Consumer) resolveConversationID(ctx context.Context, senderID primitive.ObjectID, env *Envelope) (primitive.ObjectID, error) {
	if env.ConversationID != "" {
		convID, err := primitive.ObjectIDFromHex(env.ConversationID)
		if err != nil {
			logger.Error("envelope with bad conversation id dropped", zap.String("conversation", env.ConversationID))
			return primitive.NilObjectID, nil
		}
		return convID, nil
	}

	recipientID, err := primitive.ObjectIDFromHex(env.RecipientID)
	if err != nil {
		logger.Error("envelope with bad recipient id dropped", zap.String("recipient", env.RecipientID))
		return primitive.NilObjectID, nil
	}
	conv, err := c.convs.FindOrCreateDirect(ctx, senderID, recipientID)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return conv.ID, nil
}
