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

func TestReconcileConversationFixesDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")
	f.send(t, convID, "shipper", "a")
	last := f.send(t, convID, "driver", "b")

	// 计数与指针被外部写坏
	_, err := f.mem.Update(ctx, model.CollectionConversations, convID, store.Record{
		"total_message_count": 7, "last_message_id": int64(999),
	})
	require.NoError(t, err)

	res, err := f.svc.ReconcileConversation(ctx, convID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 7, res.Before.TotalMessageCount)
	assert.Equal(t, 2, res.After.TotalMessageCount)
	require.NotNil(t, res.After.LastMessageID)
	assert.Equal(t, last.ID, *res.After.LastMessageID)
	assert.Equal(t, "b", f.rt.last(realtime.EventUpdateConversation).(realtime.ConversationUpdate).LastMessagePreview)

	res, err = f.svc.ReconcileConversation(ctx, convID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestReconcileEmptyConversationClearsPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.conversation(t, "shipper", "driver")
	_, err := f.mem.Update(ctx, model.CollectionConversations, convID, store.Record{
		"total_message_count": 1, "last_message_id": int64(5),
	})
	require.NoError(t, err)

	res, err := f.svc.ReconcileConversation(ctx, convID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Zero(t, res.After.TotalMessageCount)
	assert.Nil(t, res.After.LastMessageID)
}

func TestReconcilerRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	healthy := f.conversation(t, "shipper", "driver")
	f.send(t, healthy, "shipper", "fine")
	broken := f.conversation(t, "shipper", "broker")
	_, err := f.mem.Update(ctx, model.CollectionConversations, broken, store.Record{"total_message_count": 4})
	require.NoError(t, err)

	r, err := NewReconciler(f.svc, "*/5 * * * *", 10)
	require.NoError(t, err)
	fixed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, fixed, 1)
	assert.Equal(t, broken, fixed[0].ConversationID)
	assert.Zero(t, f.reload(t, broken).TotalMessageCount)
	assert.Equal(t, 1, f.reload(t, healthy).TotalMessageCount)
}

func TestNewReconcilerRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	_, err := NewReconciler(f.svc, "every tuesday", 10)
	assert.Error(t, err)
}
