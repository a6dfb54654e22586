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

type AutoMessageRepo interface {
	MarkSent(ctx context.Context, id primitive.ObjectID) error
}

// AutoConsumer drains the scheduler queue through the same persistence
// path live messages take. It is the only place the "sent" flag is set,
// which keeps scheduling decoupled from delivery confirmation.
type AutoConsumer struct {
	convs ConversationRepo
	msgs  MessageRepo
	users DisplayResolver
	autos AutoMessageRepo
	bus   Emitter
	idem  queue.IdemStore
}

func NewAutoConsumer(convs ConversationRepo, msgs MessageRepo, users DisplayResolver, autos AutoMessageRepo, emitter Emitter, idem queue.IdemStore) *AutoConsumer {
	return &AutoConsumer{convs: convs, msgs: msgs, users: users, autos: autos, bus: emitter, idem: idem}
}

// HandleAutoSend processes one scheduler envelope.
func (c *AutoConsumer) HandleAutoSend(ctx context.Context, data []byte, msgID string) error {
	var env AutoEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Error("malformed auto envelope dropped", zap.ByteString("data", data), zap.Error(err))
		return nil
	}

	key := env.IdemKey()
	if seen, err := c.idem.Seen(ctx, key); err != nil {
		logger.Warn("idempotency check failed, processing anyway", zap.Error(err))
	} else if seen {
		logger.Debug("duplicate auto envelope dropped", zap.String("autoMessage", env.AutoMessageID))
		return nil
	}

	autoID, err := primitive.ObjectIDFromHex(env.AutoMessageID)
	if err != nil {
		logger.Error("auto envelope with bad id dropped", zap.String("autoMessage", env.AutoMessageID))
		return nil
	}
	senderID, err1 := primitive.ObjectIDFromHex(env.SenderID)
	receiverID, err2 := primitive.ObjectIDFromHex(env.ReceiverID)
	if err1 != nil || err2 != nil {
		logger.Error("auto envelope with bad participant ids dropped",
			zap.String("sender", env.SenderID), zap.String("receiver", env.ReceiverID))
		return nil
	}

	conv, err := c.convs.FindOrCreateDirect(ctx, senderID, receiverID)
	if err != nil {
		return err
	}

	// Auto messages start unread; nobody has actually seen them.
	msg := &chatmodel.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        env.Content,
		Type:           chatmodel.TypeText,
		ReadBy:         []chatmodel.ReadReceipt{},
		CreatedAt:      time.Now(),
	}
	if err := c.msgs.Insert(ctx, msg); err != nil {
		return err
	}
	if err := c.convs.UpdateLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		logger.Warn("last-message cache update failed",
			zap.String("conversation", conv.ID.Hex()), zap.Error(err))
	}
	if err := c.autos.MarkSent(ctx, autoID); err != nil {
		logger.Warn("auto message sent-flag update failed",
			zap.String("autoMessage", env.AutoMessageID), zap.Error(err))
	}
	if err := c.idem.Remember(ctx, key, idemTTL); err != nil {
		logger.Warn("idempotency remember failed", zap.Error(err))
	}

	payload := PayloadFromMessage(msg, c.users.Display(ctx, senderID), key)
	c.bus.Emit(bus.ScopeConversation, conv.ID.Hex(), bus.EvMessageSaved, payload)
	c.bus.Emit(bus.ScopeUser, receiverID.Hex(), bus.EvNewMessageNotification, payload)

	logger.Debug("auto message delivered",
		zap.String("autoMessage", env.AutoMessageID), zap.String("message", msg.ID.Hex()))
	return nil
}
