// Package realtime is the client side of the chat socket protocol: one
// Session per logged-in user that connects, registers, reconnects on loss
// and buffers outbound operations while offline.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Events pushed by the server.
const (
	EventUserRegistered      = "user_registered"
	EventError               = "error"
	EventMessageReceived     = "message_received"
	EventTypingIndicator     = "typing:indicator"
	EventMessageMarkedRead   = "message_marked_read"
	EventMessageDelivered    = "message_delivered"
	EventReactionAdded       = "reaction_added"
	EventReactionRemoved     = "reaction_removed"
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventConversationUpdated = "conversation_updated"
)

// Events sent by the client.
const (
	EventRegisterUser       = "register_user"
	EventJoinConversation   = "join_conversation"
	EventLeaveConversation  = "leave_conversation"
	EventSendMessage        = "send_message"
	EventTypingStart        = "typing:start"
	EventTypingStop         = "typing:stop"
	EventAddReaction        = "add_reaction"
	EventRemoveReaction     = "remove_reaction"
	EventMessageRead        = "message_read"
	EventMarkDelivered      = "message_delivered"
	EventUpdateConversation = "update_conversation"
)

// Envelope is one text frame on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload as the data of an event frame.
func NewEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// RegisterPayload is the register_user / user_registered body.
type RegisterPayload struct {
	UserID string `json:"userId"`
}

// RoomPayload joins or leaves a conversation room.
type RoomPayload struct {
	ConversationID int64 `json:"conversation_id"`
}

// SendMessagePayload announces a persisted message to the room.
type SendMessagePayload struct {
	ConversationID int64     `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TypingPayload is the body of typing:start and typing:stop.
type TypingPayload struct {
	ConversationID int64 `json:"conversationId"`
}

type ReactionPayload struct {
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	Emoji          string `json:"emoji"`
}

type ReadPayload struct {
	ConversationID int64      `json:"conversation_id"`
	MessageID      int64      `json:"message_id"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

type DeliveredPayload struct {
	ConversationID int64      `json:"conversation_id"`
	MessageID      int64      `json:"message_id"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// ConversationUpdate carries a conversation's aggregate counter and
// last-message pointer. Sent as update_conversation, received as
// conversation_updated.
type ConversationUpdate struct {
	ConversationID     int64      `json:"conversation_id"`
	TotalMessageCount  int        `json:"total_message_count"`
	LastMessageID      *int64     `json:"last_message_id"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
}

// MessageEvent is a message_received push.
type MessageEvent struct {
	SendMessagePayload
	SenderID string `json:"sender_id"`
}

// TypingEvent is a typing:indicator push.
type TypingEvent struct {
	ConversationID int64  `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ReceiptEvent is a message_marked_read or message_delivered push.
type ReceiptEvent struct {
	ConversationID int64      `json:"conversation_id"`
	MessageID      int64      `json:"message_id"`
	UserID         string     `json:"user_id"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

type ReactionEvent struct {
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	Emoji          string `json:"emoji"`
	UserID         string `json:"user_id"`
}

// PresenceEvent is a user_online or user_offline push.
type PresenceEvent struct {
	UserID string `json:"user_id"`
}

// MembershipEvent is a user_joined or user_left push.
type MembershipEvent struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ErrorEvent is an error push from the server.
type ErrorEvent struct {
	Message string `json:"message"`
}
