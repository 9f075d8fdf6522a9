package service

import (
	"context"
	"testing"

	"freight-chat/internal/model"
	"freight-chat/pkg/realtime"
	"freight-chat/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessagesDropsMalformed(t *testing.T) {
	f := newFixture(t)
	raw := []store.Record{
		{"id": 1, "conversation_id": 9, "sender_id": "u1", "message_text": "pickup at 8"},
		{"id": 2, "conversation_id": 9, "sender_id": float64(7), "message_text": "ok"},
		{"id": 3, "conversation_id": map[string]any{"id": 9}, "sender_id": map[string]any{"id": "u3", "first_name": "Ana"}, "message_text": "on my way"},
		{"id": 4, "conversation_id": 9, "sender_id": "u1", "message_text": "   "},
		{"id": 5, "conversation_id": 9, "message_text": "orphan"},
	}

	msgs := f.svc.NormalizeMessages(raw)
	require.Len(t, msgs, 3)
	assert.Equal(t, "u1", msgs[0].SenderID)
	assert.Equal(t, "7", msgs[1].SenderID)
	assert.Equal(t, "u3", msgs[2].SenderID)
	assert.Equal(t, int64(9), msgs[2].ConversationID)
	assert.Equal(t, model.MessageTypeText, msgs[0].MessageType)

	_, err := NormalizeMessage(raw[4])
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestSendUpdatesCounterAndPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")

	var last *model.Message
	for _, text := range []string{"hi", "rate?", "1200", "deal"} {
		last = f.send(t, convID, "shipper", text)
	}

	conv := f.reload(t, convID)
	assert.Equal(t, 4, conv.TotalMessageCount)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, last.ID, *conv.LastMessageID)
	require.NotNil(t, conv.LastMessageAt)
	assert.True(t, conv.LastMessageAt.Equal(last.DateCreated))

	assert.Equal(t, 4, f.rt.count(realtime.EventSendMessage))
	assert.Equal(t, 4, f.rt.count(realtime.EventUpdateConversation))
	update := f.rt.last(realtime.EventUpdateConversation).(realtime.ConversationUpdate)
	assert.Equal(t, 4, update.TotalMessageCount)
	assert.Equal(t, "deal", update.LastMessagePreview)

	_, err := f.svc.SendMessage(ctx, SendRequest{ConversationID: convID, SenderID: "shipper", Text: " "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendSurvivesRepairFailure(t *testing.T) {
	f := newFixture(t, "update:"+model.CollectionConversations)
	convID := f.conversation(t, "shipper", "driver")

	res, err := f.svc.SendMessage(context.Background(), SendRequest{ConversationID: convID, SenderID: "driver", Text: "loaded"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.RepairErr, errBackend)
	assert.Nil(t, res.Conversation)
	assert.Equal(t, realtime.Sent, res.Delivery)
	assert.Equal(t, 1, f.count(t, model.CollectionMessages))
	assert.Zero(t, f.rt.count(realtime.EventUpdateConversation))

	assert.Zero(t, f.reload(t, convID).TotalMessageCount)
}

func TestSendBumpsUnreadForOtherParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")
	_, err := f.svc.AddParticipant(ctx, convID, "shipper", "owner")
	require.NoError(t, err)
	_, err = f.svc.AddParticipant(ctx, convID, "driver", "")
	require.NoError(t, err)

	f.send(t, convID, "shipper", "one")
	f.send(t, convID, "shipper", "two")

	parts, err := f.svc.ListParticipants(ctx, convID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, 0, parts[0].UnreadCount)
	assert.Equal(t, 2, parts[1].UnreadCount)
	assert.Equal(t, defaultRole, parts[1].Role)
}

func TestDeletePointerTargetReResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")
	older := f.clock.Now()
	newer := f.clock.Now()
	f.create(t, model.CollectionMessages, store.Record{"id": 41, "conversation_id": convID, "sender_id": "driver", "message_text": "first", "is_deleted": false, "date_created": older})
	f.create(t, model.CollectionMessages, store.Record{"id": 42, "conversation_id": convID, "sender_id": "driver", "message_text": "second", "is_deleted": false, "date_created": newer})
	_, err := f.mem.Update(ctx, model.CollectionConversations, convID, store.Record{
		"total_message_count": 2, "last_message_id": int64(42), "last_message_at": newer,
	})
	require.NoError(t, err)

	res, err := f.svc.DeleteMessage(ctx, "driver", 42)
	require.NoError(t, err)
	require.NoError(t, res.RepairErr)
	conv := f.reload(t, convID)
	assert.Equal(t, 1, conv.TotalMessageCount)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, int64(41), *conv.LastMessageID)
	assert.Equal(t, "first", f.rt.last(realtime.EventUpdateConversation).(realtime.ConversationUpdate).LastMessagePreview)

	_, err = f.svc.DeleteMessage(ctx, "driver", 41)
	require.NoError(t, err)
	conv = f.reload(t, convID)
	assert.Zero(t, conv.TotalMessageCount)
	assert.Nil(t, conv.LastMessageID)
	assert.Nil(t, conv.LastMessageAt)

	// 重复删除不会再次修改计数
	again, err := f.svc.DeleteMessage(ctx, "driver", 41)
	require.NoError(t, err)
	assert.Nil(t, again.Conversation)
	assert.Zero(t, f.reload(t, convID).TotalMessageCount)
}

func TestDeleteNonLatestKeepsPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")
	first := f.send(t, convID, "shipper", "a")
	f.send(t, convID, "shipper", "b")
	last := f.send(t, convID, "shipper", "c")

	_, err := f.svc.DeleteMessage(ctx, "shipper", first.ID)
	require.NoError(t, err)
	conv := f.reload(t, convID)
	assert.Equal(t, 2, conv.TotalMessageCount)
	assert.Equal(t, last.ID, *conv.LastMessageID)
}

func TestDeleteCounterNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")
	msg := f.create(t, model.CollectionMessages, store.Record{"conversation_id": convID, "sender_id": "shipper", "message_text": "drift", "is_deleted": false, "date_created": f.clock.Now()})

	_, err := f.svc.DeleteMessage(ctx, "shipper", msg.ID())
	require.NoError(t, err)
	assert.Zero(t, f.reload(t, convID).TotalMessageCount)
}

func TestDeleteAndEditRequireSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")
	msg := f.send(t, convID, "shipper", "original")

	_, err := f.svc.DeleteMessage(ctx, "driver", msg.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.EditMessage(ctx, "driver", msg.ID, "hijack")
	assert.ErrorIs(t, err, ErrForbidden)

	edited, err := f.svc.EditMessage(ctx, "shipper", msg.ID, "corrected")
	require.NoError(t, err)
	assert.Equal(t, "corrected", edited.MessageText)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, 1, edited.EditCount)
	assert.NotNil(t, edited.EditedAt)

	_, err = f.svc.EditMessage(ctx, "shipper", msg.ID, "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestGetMessagesOldestFirstWithPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")
	var sent []*model.Message
	for _, text := range []string{"m1", "m2", "m3", "m4"} {
		sent = append(sent, f.send(t, convID, "driver", text))
	}
	f.create(t, model.CollectionMessages, store.Record{"conversation_id": convID, "sender_id": "", "message_text": "broken", "date_created": f.clock.Now()})
	_, err := f.svc.DeleteMessage(ctx, "driver", sent[1].ID)
	require.NoError(t, err)

	msgs, err := f.svc.GetMessages(ctx, "shipper", convID, Page{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m3", "m4"}, []string{msgs[0].MessageText, msgs[1].MessageText, msgs[2].MessageText})

	page, err := f.svc.GetMessages(ctx, "shipper", convID, Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].MessageText)
}
