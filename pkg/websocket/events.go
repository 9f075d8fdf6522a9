package websocket

import (
	"context"
	"encoding/json"
	"time"

	"freight-chat/pkg/realtime"

	"go.uber.org/zap"
)

// handleEvent 处理一个客户端事件；注册前只接受 register_user
func (h *Handler) handleEvent(ctx context.Context, c *Client, env realtime.Envelope) {
	if env.Event == realtime.EventRegisterUser {
		h.register(ctx, c, env)
		return
	}
	if !c.registered {
		h.reject(c, "unregistered", "register_user required")
		return
	}

	switch env.Event {
	case realtime.EventJoinConversation:
		var p realtime.RoomPayload
		if !h.decode(c, env, &p) {
			return
		}
		h.join(ctx, c, p.ConversationID)

	case realtime.EventLeaveConversation:
		var p realtime.RoomPayload
		if !h.decode(c, env, &p) || !h.member(ctx, c, p.ConversationID) {
			return
		}
		h.manager.SendToRoom(p.ConversationID, c, realtime.EventUserLeft, realtime.MembershipEvent{
			ConversationID: p.ConversationID,
			UserID:         c.UserID,
		})
		h.manager.Leave(c, p.ConversationID)

	case realtime.EventSendMessage:
		var p realtime.SendMessagePayload
		if !h.decode(c, env, &p) || !h.member(ctx, c, p.ConversationID) {
			return
		}
		h.manager.SendToRoom(p.ConversationID, c, realtime.EventMessageReceived, realtime.MessageEvent{
			SendMessagePayload: p,
			SenderID:           c.UserID,
		})

	case realtime.EventTypingStart, realtime.EventTypingStop:
		var p realtime.TypingPayload
		if !h.decode(c, env, &p) || !h.member(ctx, c, p.ConversationID) {
			return
		}
		h.manager.SendToRoom(p.ConversationID, c, realtime.EventTypingIndicator, realtime.TypingEvent{
			ConversationID: p.ConversationID,
			UserID:         c.UserID,
			IsTyping:       env.Event == realtime.EventTypingStart,
		})

	case realtime.EventAddReaction, realtime.EventRemoveReaction:
		var p realtime.ReactionPayload
		if !h.decode(c, env, &p) || !h.member(ctx, c, p.ConversationID) {
			return
		}
		out := realtime.EventReactionAdded
		if env.Event == realtime.EventRemoveReaction {
			out = realtime.EventReactionRemoved
		}
		h.manager.SendToRoom(p.ConversationID, c, out, realtime.ReactionEvent{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			Emoji:          p.Emoji,
			UserID:         c.UserID,
		})

	case realtime.EventMessageRead:
		var p realtime.ReadPayload
		if !h.decode(c, env, &p) || !h.member(ctx, c, p.ConversationID) {
			return
		}
		h.manager.SendToRoom(p.ConversationID, c, realtime.EventMessageMarkedRead, realtime.ReceiptEvent{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			UserID:         c.UserID,
			ReadAt:         orNow(p.ReadAt),
		})

	case realtime.EventMarkDelivered:
		var p realtime.DeliveredPayload
		if !h.decode(c, env, &p) || !h.member(ctx, c, p.ConversationID) {
			return
		}
		h.manager.SendToRoom(p.ConversationID, c, realtime.EventMessageDelivered, realtime.ReceiptEvent{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			UserID:         c.UserID,
			DeliveredAt:    orNow(p.DeliveredAt),
		})

	case realtime.EventUpdateConversation:
		var p realtime.ConversationUpdate
		if !h.decode(c, env, &p) || !h.member(ctx, c, p.ConversationID) {
			return
		}
		h.manager.SendToRoom(p.ConversationID, c, realtime.EventConversationUpdated, p)

	default:
		h.reject(c, "unknown_event", "unknown event "+env.Event)
	}
}

// register 校验 register_user 的用户与令牌一致；重复注册直接确认
func (h *Handler) register(ctx context.Context, c *Client, env realtime.Envelope) {
	var p realtime.RegisterPayload
	if !h.decode(c, env, &p) {
		return
	}
	if p.UserID != c.UserID {
		h.log.Warn("注册用户与令牌不一致", zap.String("token_user", c.UserID), zap.String("claimed", p.UserID))
		h.reject(c, "identity_mismatch", "user id does not match token")
		return
	}
	if !c.registered {
		c.registered = true
		h.manager.AddClient(ctx, c)
	}
	h.reply(c, realtime.EventUserRegistered, realtime.RegisterPayload{UserID: c.UserID})
}

func (h *Handler) join(ctx context.Context, c *Client, conversationID int64) {
	if conversationID <= 0 {
		h.reject(c, "bad_payload", "conversation_id required")
		return
	}
	if h.auth != nil {
		ok, err := h.auth.CanJoin(ctx, c.UserID, conversationID)
		if err != nil {
			h.log.Warn("会话成员校验失败", zap.Int64("conversation_id", conversationID), zap.Error(err))
			h.reject(c, "join_failed", "cannot verify conversation membership")
			return
		}
		if !ok {
			h.reject(c, "forbidden", "not a participant of this conversation")
			return
		}
	}
	h.manager.Join(c, conversationID)
	h.manager.SendToRoom(conversationID, c, realtime.EventUserJoined, realtime.MembershipEvent{
		ConversationID: conversationID,
		UserID:         c.UserID,
	})
}

// member 转发前校验连接属于该会话：已在房间内，或通过 RoomAuthorizer 校验
func (h *Handler) member(ctx context.Context, c *Client, conversationID int64) bool {
	if h.manager.InRoom(c, conversationID) {
		return true
	}
	if h.auth != nil && conversationID > 0 {
		ok, err := h.auth.CanJoin(ctx, c.UserID, conversationID)
		if err != nil {
			h.log.Warn("会话成员校验失败", zap.Int64("conversation_id", conversationID), zap.Error(err))
			h.reject(c, "forbidden", "cannot verify conversation membership")
			return false
		}
		if ok {
			return true
		}
	}
	h.reject(c, "forbidden", "not a participant of this conversation")
	return false
}

func (h *Handler) decode(c *Client, env realtime.Envelope, v any) bool {
	if len(env.Data) == 0 {
		h.reject(c, "bad_payload", env.Event+": missing data")
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.reject(c, "bad_payload", env.Event+": invalid data")
		return false
	}
	return true
}

func orNow(t *time.Time) *time.Time {
	if t != nil {
		return t
	}
	now := time.Now().UTC()
	return &now
}
