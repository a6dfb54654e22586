package chat

import (
	"net/http"
	"strconv"
	"time"

	mw "PulseIM/middleware/security"
	"PulseIM/module/chat/model"
	"PulseIM/module/chat/service"
	"PulseIM/service/bus"
	"PulseIM/service/delivery"
	"PulseIM/tools/errs"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Emitter fans read receipts and REST-originated messages out to
// live connections.
type Emitter interface {
	Emit(scope, target, name string, payload interface{})
}

// Handler exposes the conversation and message REST surface. Sending
// goes through the same pipeline the websocket uses, so REST clients
// get identical queue-with-fallback semantics.
type Handler struct {
	convs    *service.ConversationStore
	msgs     *service.MessageStore
	pipeline *delivery.Pipeline
	bus      Emitter
}

func NewHandler(convs *service.ConversationStore, msgs *service.MessageStore, pipeline *delivery.Pipeline, emitter Emitter) *Handler {
	return &Handler{convs: convs, msgs: msgs, pipeline: pipeline, bus: emitter}
}

func (h *Handler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	g := r.Group("/api/conversations", auth)
	g.GET("", h.listConversations)
	g.POST("/group", h.createGroup)
	g.GET("/:id/messages", h.history)
	g.POST("/:id/read", h.markRead)

	m := r.Group("/api/messages", auth)
	m.POST("", h.send)
}

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		abortWith(c, errs.ErrAuth)
		return
	}
	convs, err := h.convs.ListForUser(c.Request.Context(), userID)
	if err != nil {
		abortWith(c, err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

type createGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

func (h *Handler) createGroup(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		abortWith(c, errs.ErrAuth)
		return
	}
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || len(req.Participants) == 0 {
		abortWith(c, errs.ErrValidation.WithDetail("name and participants are required"))
		return
	}

	seen := map[primitive.ObjectID]bool{userID: true}
	participants := []primitive.ObjectID{userID}
	for _, p := range req.Participants {
		id, err := primitive.ObjectIDFromHex(p)
		if err != nil {
			abortWith(c, errs.ErrValidation.WithDetail("bad participant id "+p))
			return
		}
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}
	if len(participants) < 3 {
		abortWith(c, errs.ErrValidation.WithDetail("a group needs at least three members"))
		return
	}

	conv, err := h.convs.CreateGroup(c.Request.Context(), req.Name, participants)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) history(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		abortWith(c, errs.ErrAuth)
		return
	}
	convID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		abortWith(c, errs.ErrValidation.WithDetail("bad conversation id"))
		return
	}
	if _, err := h.convs.GetForParticipant(c.Request.Context(), convID, userID); err != nil {
		if err == mongo.ErrNoDocuments {
			abortWith(c, errs.ErrAccessDenied.WithDetail("conversation not found or access denied"))
		} else {
			abortWith(c, err)
		}
		return
	}

	page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	msgs, err := h.msgs.History(c.Request.Context(), convID, page, limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) markRead(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		abortWith(c, errs.ErrAuth)
		return
	}
	convID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		abortWith(c, errs.ErrValidation.WithDetail("bad conversation id"))
		return
	}
	if _, err := h.convs.GetForParticipant(c.Request.Context(), convID, userID); err != nil {
		if err == mongo.ErrNoDocuments {
			abortWith(c, errs.ErrAccessDenied.WithDetail("conversation not found or access denied"))
		} else {
			abortWith(c, err)
		}
		return
	}

	marked, err := h.msgs.MarkConversationRead(c.Request.Context(), convID, userID, time.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	for _, id := range marked {
		h.bus.Emit(bus.ScopeConversation, convID.Hex(), bus.EvMessageRead, gin.H{
			"messageId":      id.Hex(),
			"conversationId": convID.Hex(),
			"userId":         userID.Hex(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"marked": len(marked)})
}

func (h *Handler) send(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		abortWith(c, errs.ErrAuth)
		return
	}
	var req delivery.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, errs.ErrValidation.WithDetail("malformed body"))
		return
	}
	payload, _, err := h.pipeline.Send(c.Request.Context(), userID, req)
	if err != nil {
		abortWith(c, err)
		return
	}
	if payload.Provisional {
		h.bus.Emit(bus.ScopeConversation, payload.ConversationID, bus.EvNewMessage, payload)
	}
	c.JSON(http.StatusAccepted, payload)
}

func abortWith(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
}
