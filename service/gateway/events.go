package gateway

import "encoding/json"

// Client→server event names.
const (
	evJoinConversation  = "join_conversation"
	evLeaveConversation = "leave_conversation"
	evSendMessage       = "send_message"
	evTypingStart       = "typing_start"
	evTypingStop        = "typing_stop"
	evMarkAsRead        = "mark_as_read"
	evGetOnlineUsers    = "get_online_users"
)

// clientFrame is the envelope every websocket text frame uses in both
// directions: an event name plus an event-specific data object.
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	ConversationID string `json:"conversationId"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

type markReadPayload struct {
	// MessageID is accepted for wire compatibility; marking always
	// covers every unread message of the conversation.
	MessageID      string `json:"messageId,omitempty"`
	ConversationID string `json:"conversationId"`
}

type onlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

type messageReadPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type presencePayload struct {
	UserID string `json:"userId"`
}

// encodeFrame marshals a server→client frame.
func encodeFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(clientFrame{Event: event, Data: raw})
}
