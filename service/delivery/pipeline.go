package delivery

import (
	"context"
	"strings"
	"time"

	"PulseIM/logger"
	chatmodel "PulseIM/module/chat/model"
	usermodel "PulseIM/module/user/model"
	"PulseIM/service/bus"
	"PulseIM/service/queue"
	"PulseIM/tools/errs"
	"PulseIM/tools/ids"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Enqueuer is the durable queue half the pipeline publishes to.
type Enqueuer interface {
	Publish(subject string, payload interface{}, idemKey string) error
}

// Emitter is the cross-instance realtime fan-out.
type Emitter interface {
	Emit(scope, target, name string, payload interface{})
}

type ConversationRepo interface {
	FindOrCreateDirect(ctx context.Context, a, b primitive.ObjectID) (*chatmodel.Conversation, error)
	GetForParticipant(ctx context.Context, id, userID primitive.ObjectID) (*chatmodel.Conversation, error)
	UpdateLastMessage(ctx context.Context, convID, msgID primitive.ObjectID, at time.Time) error
}

type MessageRepo interface {
	Insert(ctx context.Context, msg *chatmodel.Message) error
}

type DisplayResolver interface {
	Display(ctx context.Context, id primitive.ObjectID) usermodel.Display
}

// SendRequest is an outbound message from a live connection. Exactly
// one of ConversationID / RecipientID must be set.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

// Pipeline accepts send requests, durably enqueues them and hands back
// the provisional payload for immediate multicast. When the broker is
// unreachable it falls back to synchronous persistence so no accepted
// message is ever dropped.
type Pipeline struct {
	enq   Enqueuer
	bus   Emitter
	convs ConversationRepo
	msgs  MessageRepo
	users DisplayResolver
	now   func() time.Time
}

func NewPipeline(enq Enqueuer, emitter Emitter, convs ConversationRepo, msgs MessageRepo, users DisplayResolver) *Pipeline {
	return &Pipeline{
		enq:   enq,
		bus:   emitter,
		convs: convs,
		msgs:  msgs,
		users: users,
		now:   time.Now,
	}
}

// Send validates the request, resolves (or lazily creates) the
// conversation and enqueues the envelope. The returned payload is
// provisional on the queue path and canonical on the fallback path.
func (p *Pipeline) Send(ctx context.Context, senderID primitive.ObjectID, req SendRequest) (*MessagePayload, *chatmodel.Conversation, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, nil, errs.ErrValidation.WithDetail("content must not be empty")
	}
	if (req.ConversationID == "") == (req.RecipientID == "") {
		return nil, nil, errs.ErrValidation.WithDetail("exactly one of conversationId and recipientId is required")
	}
	msgType := req.Type
	if msgType == "" {
		msgType = chatmodel.TypeText
	}

	conv, err := p.resolveConversation(ctx, senderID, req)
	if err != nil {
		return nil, nil, err
	}

	env := Envelope{
		ConversationID: conv.ID.Hex(),
		SenderID:       senderID.Hex(),
		Content:        content,
		Type:           msgType,
		Timestamp:      p.now(),
	}
	env.StampIdemKey()

	if err := p.enq.Publish(queue.SubjectInbound, &env, env.IdemKey); err != nil {
		logger.Warn("enqueue failed, falling back to direct persistence",
			zap.String("conversation", env.ConversationID), zap.Error(err))
		payload, ferr := p.fallbackPersist(ctx, senderID, conv, &env)
		if ferr != nil {
			return nil, nil, ferr
		}
		return payload, conv, nil
	}

	payload := p.provisionalPayload(ctx, senderID, conv, &env)
	return payload, conv, nil
}

func (p *Pipeline) resolveConversation(ctx context.Context, senderID primitive.ObjectID, req SendRequest) (*chatmodel.Conversation, error) {
	if req.RecipientID != "" {
		recipient, err := primitive.ObjectIDFromHex(req.RecipientID)
		if err != nil {
			return nil, errs.ErrValidation.WithDetail("bad recipientId")
		}
		conv, err := p.convs.FindOrCreateDirect(ctx, senderID, recipient)
		if err != nil {
			return nil, errs.ErrPersistence.WithDetail(err.Error())
		}
		return conv, nil
	}

	convID, err := primitive.ObjectIDFromHex(req.ConversationID)
	if err != nil {
		return nil, errs.ErrValidation.WithDetail("bad conversationId")
	}
	conv, err := p.convs.GetForParticipant(ctx, convID, senderID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errs.ErrAccessDenied.WithDetail("conversation not found or access denied")
		}
		return nil, errs.ErrPersistence.WithDetail(err.Error())
	}
	return conv, nil
}

func (p *Pipeline) provisionalPayload(ctx context.Context, senderID primitive.ObjectID, conv *chatmodel.Conversation, env *Envelope) *MessagePayload {
	tempID := "temp_" + ids.GenerateString()
	return &MessagePayload{
		ID:             tempID,
		TempID:         tempID,
		ConversationID: conv.ID.Hex(),
		Sender:         p.users.Display(ctx, senderID),
		Content:        env.Content,
		Type:           env.Type,
		ReadBy:         []chatmodel.ReadReceipt{},
		CreatedAt:      env.Timestamp,
		Provisional:    true,
		IdemKey:        env.IdemKey,
	}
}

// fallbackPersist is the only path where enqueue and persist+fan-out
// happen in the same execution: assign the canonical id, seed the read
// list with the sender, refresh the conversation cache and emit the
// same message_saved event the consumer would have.
func (p *Pipeline) fallbackPersist(ctx context.Context, senderID primitive.ObjectID, conv *chatmodel.Conversation, env *Envelope) (*MessagePayload, error) {
	now := env.Timestamp
	msg := &chatmodel.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        env.Content,
		Type:           env.Type,
		ReadBy:         []chatmodel.ReadReceipt{{UserID: senderID, ReadAt: now}},
		CreatedAt:      now,
	}
	if err := p.msgs.Insert(ctx, msg); err != nil {
		return nil, errs.ErrPersistence.WithDetail(err.Error())
	}
	if err := p.convs.UpdateLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		logger.Warn("last-message cache update failed",
			zap.String("conversation", conv.ID.Hex()), zap.Error(err))
	}

	payload := PayloadFromMessage(msg, p.users.Display(ctx, senderID), env.IdemKey)
	p.bus.Emit(bus.ScopeConversation, conv.ID.Hex(), bus.EvMessageSaved, payload)
	return &payload, nil
}
