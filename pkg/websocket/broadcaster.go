package websocket

import (
	"context"

	"freight-chat/pkg/realtime"
)

// RoomBroadcaster 以服务端身份向房间推送事件（例如会话校验后的计数更新）
// 与客户端经 relay 转发的事件格式一致
type RoomBroadcaster struct {
	manager *Manager
	actor   string
}

// NewRoomBroadcaster actor 作为事件中的发送者/操作者
func NewRoomBroadcaster(m *Manager, actor string) *RoomBroadcaster {
	return &RoomBroadcaster{manager: m, actor: actor}
}

func delivery(n int) realtime.Delivery {
	if n > 0 {
		return realtime.Sent
	}
	return realtime.Dropped
}

func (b *RoomBroadcaster) SendMessage(_ context.Context, p realtime.SendMessagePayload) (realtime.Delivery, error) {
	n := b.manager.SendToRoom(p.ConversationID, nil, realtime.EventMessageReceived, realtime.MessageEvent{
		SendMessagePayload: p,
		SenderID:           b.actor,
	})
	return delivery(n), nil
}

func (b *RoomBroadcaster) UpdateConversation(_ context.Context, u realtime.ConversationUpdate) (realtime.Delivery, error) {
	return delivery(b.manager.SendToRoom(u.ConversationID, nil, realtime.EventConversationUpdated, u)), nil
}

func (b *RoomBroadcaster) MarkMessageAsRead(_ context.Context, p realtime.ReadPayload) (realtime.Delivery, error) {
	n := b.manager.SendToRoom(p.ConversationID, nil, realtime.EventMessageMarkedRead, realtime.ReceiptEvent{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		UserID:         b.actor,
		ReadAt:         orNow(p.ReadAt),
	})
	return delivery(n), nil
}

func (b *RoomBroadcaster) MarkMessageAsDelivered(_ context.Context, p realtime.DeliveredPayload) (realtime.Delivery, error) {
	n := b.manager.SendToRoom(p.ConversationID, nil, realtime.EventMessageDelivered, realtime.ReceiptEvent{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		UserID:         b.actor,
		DeliveredAt:    orNow(p.DeliveredAt),
	})
	return delivery(n), nil
}
