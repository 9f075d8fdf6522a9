package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Delivery reports what happened to an outbound operation.
type Delivery int

const (
	// Sent means the frame was written to a registered connection.
	Sent Delivery = iota
	// Queued means the operation waits in the offline queue.
	Queued
	// Dropped means the operation was discarded.
	Dropped
)

func (d Delivery) String() string {
	switch d {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("delivery(%d)", int(d))
}

// Emit sends an arbitrary event, queueing it while offline.
func (s *Session) Emit(ctx context.Context, event string, payload any) (Delivery, error) {
	return s.send(ctx, event, payload, true)
}

// SendMessage announces a persisted message to the conversation room.
func (s *Session) SendMessage(ctx context.Context, p SendMessagePayload) (Delivery, error) {
	return s.send(ctx, EventSendMessage, p, true)
}

// JoinConversation subscribes to a conversation room.
func (s *Session) JoinConversation(ctx context.Context, conversationID int64) (Delivery, error) {
	return s.send(ctx, EventJoinConversation, RoomPayload{ConversationID: conversationID}, true)
}

// LeaveConversation unsubscribes from a conversation room.
func (s *Session) LeaveConversation(ctx context.Context, conversationID int64) (Delivery, error) {
	return s.send(ctx, EventLeaveConversation, RoomPayload{ConversationID: conversationID}, true)
}

// SetTyping signals typing state. Typing signals are dropped while offline.
func (s *Session) SetTyping(ctx context.Context, conversationID int64, typing bool) (Delivery, error) {
	event := EventTypingStop
	if typing {
		event = EventTypingStart
	}
	return s.send(ctx, event, TypingPayload{ConversationID: conversationID}, false)
}

// StartTyping is SetTyping(ctx, conversationID, true).
func (s *Session) StartTyping(ctx context.Context, conversationID int64) (Delivery, error) {
	return s.SetTyping(ctx, conversationID, true)
}

// StopTyping is SetTyping(ctx, conversationID, false).
func (s *Session) StopTyping(ctx context.Context, conversationID int64) (Delivery, error) {
	return s.SetTyping(ctx, conversationID, false)
}

// AddReaction announces a reaction on a message.
func (s *Session) AddReaction(ctx context.Context, p ReactionPayload) (Delivery, error) {
	return s.send(ctx, EventAddReaction, p, true)
}

// RemoveReaction announces that a reaction was withdrawn.
func (s *Session) RemoveReaction(ctx context.Context, p ReactionPayload) (Delivery, error) {
	return s.send(ctx, EventRemoveReaction, p, true)
}

// MarkMessageAsRead tells the room that a message was read.
func (s *Session) MarkMessageAsRead(ctx context.Context, p ReadPayload) (Delivery, error) {
	return s.send(ctx, EventMessageRead, p, true)
}

// MarkMessageAsDelivered is dropped while offline; the persisted receipt
// is the source of truth.
func (s *Session) MarkMessageAsDelivered(ctx context.Context, p DeliveredPayload) (Delivery, error) {
	return s.send(ctx, EventMarkDelivered, p, false)
}

// UpdateConversation publishes new counters and last-message pointer.
func (s *Session) UpdateConversation(ctx context.Context, u ConversationUpdate) (Delivery, error) {
	return s.send(ctx, EventUpdateConversation, u, true)
}

// send writes immediately when registered. Otherwise queueable operations
// go to the offline queue and the rest are dropped. A failed write on a
// registered connection falls back the same way.
func (s *Session) send(ctx context.Context, event string, payload any, queueable bool) (Delivery, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Dropped, fmt.Errorf("encode %s: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Registered && s.conn != nil {
		err := s.writeRaw(s.conn, event, data)
		if err == nil {
			return Sent, nil
		}
		s.log.Warn("实时事件发送失败", zap.String("event", event), zap.Error(err))
	}
	if !queueable {
		return Dropped, nil
	}

	op := Op{ID: uuid.New(), Type: event, Data: data}
	if err := s.queue.Push(ctx, op); err != nil {
		return Dropped, fmt.Errorf("queue %s: %w", event, err)
	}
	s.log.Debug("离线排队", zap.String("event", event), zap.String("op_id", op.ID.String()))
	return Queued, nil
}

