package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"PulseIM/logger"
	chatmodel "PulseIM/module/chat/model"
	"PulseIM/service/bus"
	"PulseIM/service/delivery"
	"PulseIM/service/storage"
	"PulseIM/tools/errs"
	"PulseIM/tools/ids"
	"PulseIM/tools/safe"
	"PulseIM/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// BusEmitter is the cross-instance fan-out the handler publishes room
// and user events through.
type BusEmitter interface {
	Emit(scope, target, name string, payload interface{})
	EmitFrom(scope, target, name string, payload interface{}, originConn string)
}

// RoomAuthorizer gates join requests on conversation membership.
type RoomAuthorizer interface {
	GetForParticipant(ctx context.Context, id, userID primitive.ObjectID) (*chatmodel.Conversation, error)
}

// ReadMarker applies a reader to every unread message of a
// conversation and reports which messages changed.
type ReadMarker interface {
	MarkConversationRead(ctx context.Context, convID, userID primitive.ObjectID, at time.Time) ([]primitive.ObjectID, error)
}

// Handler owns the websocket side of one gateway instance: it
// authenticates upgrades, runs the per-connection event loop and
// delivers bus events to whichever target connections live here.
type Handler struct {
	jwt      security.Options
	upgrader websocket.Upgrader

	manager  *ConnManager
	hub      *Hub
	recon    *Reconciler
	presence *storage.Registry
	pipeline *delivery.Pipeline
	convs    RoomAuthorizer
	msgs     ReadMarker
	bus      BusEmitter
}

func NewHandler(jwt security.Options, manager *ConnManager, hub *Hub, recon *Reconciler,
	presence *storage.Registry, pipeline *delivery.Pipeline, convs RoomAuthorizer,
	msgs ReadMarker, emitter BusEmitter) *Handler {
	return &Handler{
		jwt: jwt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		manager:  manager,
		hub:      hub,
		recon:    recon,
		presence: presence,
		pipeline: pipeline,
		convs:    convs,
		msgs:     msgs,
		bus:      emitter,
	}
}

// ServeWS upgrades an authenticated request and runs the connection
// until the peer goes away.
func (h *Handler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	userID, err := security.Verify(h.jwt, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	sock, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWsConn(ids.GenerateString(), userID, sock)
	h.manager.Add(conn)
	safe.Go("ws-write-"+conn.ID, conn.writePump)

	ctx := context.Background()
	h.presence.Register(ctx, userID, conn.ID)
	h.sendEvent(conn, bus.EvOnlineUsersList, onlineUsersPayload{UserIDs: h.presence.ListOnline(ctx)})
	logger.Info("connection established", zap.String("conn", conn.ID), zap.String("user", userID))

	h.readLoop(ctx, conn)

	h.hub.LeaveAll(conn.ID)
	h.manager.Remove(conn.ID)
	h.presence.Unregister(ctx, userID, conn.ID)
	conn.Close()
	logger.Info("connection closed", zap.String("conn", conn.ID), zap.String("user", userID))
}

func (h *Handler) readLoop(ctx context.Context, conn *WsConn) {
	sock := conn.sock
	_ = sock.SetReadDeadline(time.Now().Add(pongDeadline))
	sock.SetPongHandler(func(string) error {
		h.presence.Touch(ctx, conn.UserID)
		return sock.SetReadDeadline(time.Now().Add(pongDeadline))
	})

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(conn, "malformed frame")
			continue
		}
		h.dispatch(ctx, conn, frame)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *WsConn, frame clientFrame) {
	switch frame.Event {
	case evJoinConversation:
		h.handleJoin(ctx, conn, frame.Data)
	case evLeaveConversation:
		h.handleLeave(conn, frame.Data)
	case evSendMessage:
		h.handleSend(ctx, conn, frame.Data)
	case evTypingStart:
		h.handleTyping(conn, frame.Data, bus.EvUserTyping)
	case evTypingStop:
		h.handleTyping(conn, frame.Data, bus.EvUserStoppedTyping)
	case evMarkAsRead:
		h.handleMarkRead(ctx, conn, frame.Data)
	case evGetOnlineUsers:
		h.sendEvent(conn, bus.EvOnlineUsersList, onlineUsersPayload{UserIDs: h.presence.ListOnline(ctx)})
	default:
		h.sendError(conn, "unknown event: "+frame.Event)
	}
}

func (h *Handler) handleJoin(ctx context.Context, conn *WsConn, data json.RawMessage) {
	var req joinPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		h.sendError(conn, "conversationId required")
		return
	}
	convID, err := primitive.ObjectIDFromHex(req.ConversationID)
	if err != nil {
		h.sendError(conn, "bad conversationId")
		return
	}
	userID, err := primitive.ObjectIDFromHex(conn.UserID)
	if err != nil {
		h.sendError(conn, "bad user identity")
		return
	}
	if _, err := h.convs.GetForParticipant(ctx, convID, userID); err != nil {
		if err == mongo.ErrNoDocuments {
			h.sendError(conn, "conversation not found or access denied")
		} else {
			logger.Warn("join lookup failed", zap.String("conversation", req.ConversationID), zap.Error(err))
			h.sendError(conn, "conversation lookup failed")
		}
		return
	}
	h.hub.Join(req.ConversationID, conn)
	h.sendEvent(conn, bus.EvJoinedConversation, joinPayload{ConversationID: req.ConversationID})
}

func (h *Handler) handleLeave(conn *WsConn, data json.RawMessage) {
	var req joinPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		return
	}
	h.hub.Leave(req.ConversationID, conn.ID)
}

func (h *Handler) handleSend(ctx context.Context, conn *WsConn, data json.RawMessage) {
	var req delivery.SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(conn, "malformed send_message payload")
		return
	}
	senderID, err := primitive.ObjectIDFromHex(conn.UserID)
	if err != nil {
		h.sendError(conn, "bad user identity")
		return
	}

	payload, conv, err := h.pipeline.Send(ctx, senderID, req)
	if err != nil {
		h.sendError(conn, errorMessage(err))
		return
	}
	if payload.Provisional {
		h.recon.Put(payload.IdemKey, payload.TempID)
		h.bus.Emit(bus.ScopeConversation, payload.ConversationID, bus.EvNewMessage, payload)
	}

	notif := notificationPayload{
		MessagePayload: *payload,
		Conversation: conversationSummary{
			ID:           conv.ID.Hex(),
			Type:         conv.Type,
			Name:         conv.Name,
			Participants: hexIDs(conv.Participants),
		},
	}
	for _, p := range conv.Participants {
		if p == senderID {
			continue
		}
		h.bus.Emit(bus.ScopeUser, p.Hex(), bus.EvNewMessageNotification, notif)
	}

	h.sendEvent(conn, bus.EvMessageSent, gin.H{
		"tempId":         payload.TempID,
		"messageId":      payload.ID,
		"conversationId": payload.ConversationID,
	})
}

func (h *Handler) handleTyping(conn *WsConn, data json.RawMessage, event string) {
	var req typingPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		return
	}
	req.UserID = conn.UserID
	h.bus.EmitFrom(bus.ScopeConversation, req.ConversationID, event, req, conn.ID)
}

func (h *Handler) handleMarkRead(ctx context.Context, conn *WsConn, data json.RawMessage) {
	var req markReadPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		h.sendError(conn, "conversationId required")
		return
	}
	convID, err := primitive.ObjectIDFromHex(req.ConversationID)
	if err != nil {
		h.sendError(conn, "bad conversationId")
		return
	}
	userID, err := primitive.ObjectIDFromHex(conn.UserID)
	if err != nil {
		h.sendError(conn, "bad user identity")
		return
	}
	marked, err := h.msgs.MarkConversationRead(ctx, convID, userID, time.Now())
	if err != nil {
		logger.Warn("mark read failed", zap.String("conversation", req.ConversationID), zap.Error(err))
		h.sendError(conn, "mark as read failed")
		return
	}
	for _, id := range marked {
		h.bus.Emit(bus.ScopeConversation, req.ConversationID, bus.EvMessageRead, messageReadPayload{
			MessageID:      id.Hex(),
			ConversationID: req.ConversationID,
			UserID:         conn.UserID,
		})
	}
}

// HandleBusEvent delivers one cluster event to the local connections it
// targets. Canonical message records are reconciled with the
// provisional id this instance handed out, if it was the origin.
func (h *Handler) HandleBusEvent(ev bus.Event) {
	name := ev.Name
	payload := ev.Payload

	if name == bus.EvMessageSaved {
		var msg delivery.MessagePayload
		if err := json.Unmarshal(ev.Payload, &msg); err == nil {
			if tempID, ok := h.recon.Resolve(msg.IdemKey); ok {
				msg.TempID = tempID
			}
			if raw, err := json.Marshal(msg); err == nil {
				payload = raw
			}
		}
	}

	frame, err := json.Marshal(clientFrame{Event: name, Data: payload})
	if err != nil {
		logger.Error("bus event frame marshal failed", zap.String("event", name), zap.Error(err))
		return
	}

	switch ev.Scope {
	case bus.ScopeConversation:
		h.hub.Multicast(ev.Target, frame, ev.Conn)
	case bus.ScopeUser:
		h.manager.BroadcastUser(ev.Target, frame)
	case bus.ScopeAll:
		h.manager.BroadcastAll(frame)
	default:
		logger.Warn("bus event with unknown scope dropped", zap.String("scope", ev.Scope))
	}
}

func (h *Handler) sendEvent(conn *WsConn, event string, data interface{}) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		logger.Error("frame encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	conn.Send(frame)
}

func (h *Handler) sendError(conn *WsConn, msg string) {
	h.sendEvent(conn, bus.EvError, errorPayload{Message: msg})
}

// notificationPayload is the user-scope copy of a message for
// recipients who are not currently in the room.
type notificationPayload struct {
	delivery.MessagePayload
	Conversation conversationSummary `json:"conversation"`
}

type conversationSummary struct {
	ID           string   `json:"_id"`
	Type         string   `json:"type"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
}

func hexIDs(ids []primitive.ObjectID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}

func errorMessage(err error) string {
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		if ce.Detail != "" {
			return ce.Detail
		}
		return ce.Msg
	}
	return err.Error()
}
