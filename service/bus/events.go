package bus

import "encoding/json"

// Delivery scopes. Conversation events reach every connection
// subscribed to the room, user events reach every connection of one
// user, all-scope events reach every live connection.
const (
	ScopeConversation = "conversation"
	ScopeUser         = "user"
	ScopeAll          = "all"
)

// Server→client event names carried over the bus and the websocket.
const (
	EvOnlineUsersList        = "online_users_list"
	EvUserOnline             = "user_online"
	EvUserOffline            = "user_offline"
	EvNewMessage             = "new_message"
	EvNewMessageNotification = "new_message_notification"
	EvMessageSaved           = "message_saved"
	EvMessageSent            = "message_sent"
	EvMessageRead            = "message_read"
	EvUserTyping             = "user_typing"
	EvUserStoppedTyping      = "user_stopped_typing"
	EvJoinedConversation     = "joined_conversation"
	EvError                  = "error"
)

// Event is the broadcast unit carried between gateway instances. Each
// instance consumes every event and delivers it to whichever target
// connections it holds locally.
type Event struct {
	Scope   string          `json:"scope"`
	Target  string          `json:"target,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin"`               // emitting gateway instance
	Conn    string          `json:"originConn,omitempty"` // connection to exclude (ephemeral room events)
}
