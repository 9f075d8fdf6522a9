package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"freight-chat/config"
	"freight-chat/internal/model"
	"freight-chat/pkg/db"
	"freight-chat/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *CollectionRepository {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "chat.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)

	models := model.All()
	migrate := make([]interface{}, len(models))
	for i, m := range models {
		migrate[i] = m
	}
	require.NoError(t, db.AutoMigrate(conn, migrate...))

	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewCollectionRepository(conn, models...)
}

func createMessage(t *testing.T, r *CollectionRepository, convID int64, text string, at time.Time) store.Record {
	t.Helper()
	rec, err := store.Encode(model.Message{ConversationID: convID, SenderID: "u1", MessageText: text, MessageType: model.MessageTypeText, DateCreated: at})
	require.NoError(t, err)
	created, err := r.Create(context.Background(), model.CollectionMessages, rec)
	require.NoError(t, err)
	return created
}

func TestCollectionRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := createMessage(t, r, 1, "first", base)
	second := createMessage(t, r, 1, "second", base.Add(time.Minute))
	createMessage(t, r, 2, "other", base.Add(2*time.Minute))
	assert.NotZero(t, first.ID())

	recs, err := r.List(ctx, model.CollectionMessages, store.Query{
		Filter: store.And(store.Eq("conversation_id", 1), store.Eq("is_deleted", false)),
		Sort:   []string{"-date_created"},
		Fields: []string{"id", "message_text"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "second", recs[0]["message_text"])
	assert.Len(t, recs[0], 2)

	updated, err := r.Update(ctx, model.CollectionMessages, second.ID(), store.Record{
		"is_deleted": true,
		"deleted_at": base.Add(time.Hour).Format(time.RFC3339),
		"status":     "READ",
	})
	require.NoError(t, err)
	assert.Equal(t, true, updated["is_deleted"])
	assert.NotNil(t, updated["deleted_at"])
	assert.Nil(t, updated["status"])

	recs, err = r.List(ctx, model.CollectionMessages, store.Query{
		Filter: store.And(store.Eq("conversation_id", 1), store.Eq("is_deleted", false)),
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, first.ID(), recs[0].ID())

	got, err := r.Get(ctx, model.CollectionMessages, first.ID())
	require.NoError(t, err)
	assert.Equal(t, "first", got["message_text"])

	require.NoError(t, r.Delete(ctx, model.CollectionMessages, first.ID()))
	_, err = r.Get(ctx, model.CollectionMessages, first.ID())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, model.CollectionMessages, first.ID()), store.ErrNotFound)
}

func TestCollectionRepositoryNullsPointer(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)

	last := int64(42)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec, err := store.Encode(model.Conversation{InitiatorID: "u1", ReceiverID: "u2", TotalMessageCount: 1, LastMessageID: &last, LastMessageAt: &at, DateCreated: at})
	require.NoError(t, err)
	conv, err := r.Create(ctx, model.CollectionConversations, rec)
	require.NoError(t, err)

	updated, err := r.Update(ctx, model.CollectionConversations, conv.ID(), store.Record{
		"total_message_count": 0,
		"last_message_id":     nil,
		"last_message_at":     nil,
	})
	require.NoError(t, err)
	assert.Nil(t, updated["last_message_id"])
	assert.EqualValues(t, 0, updated["total_message_count"])

	recs, err := r.List(ctx, model.CollectionConversations, store.Query{Filter: store.IsNull("last_message_id")})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCollectionRepositoryTimeFilter(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, expires := range []time.Time{now.Add(-time.Second), now.Add(4 * time.Second)} {
		rec, err := store.Encode(model.TypingIndicator{ConversationID: 1, UserID: "u1", StartedAt: expires.Add(-5 * time.Second), ExpiresAt: expires})
		require.NoError(t, err)
		_, err = r.Create(ctx, model.CollectionTyping, rec)
		require.NoError(t, err)
	}

	recs, err := r.List(ctx, model.CollectionTyping, store.Query{Filter: store.Gt("expires_at", now)})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCollectionRepositoryRejectsUnknown(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)

	_, err := r.List(ctx, "shipments", store.Query{})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, r.Has("shipments"))

	msg := createMessage(t, r, 1, "x", time.Now().UTC())
	_, err = r.Update(ctx, model.CollectionMessages, msg.ID(), store.Record{"nope": 1})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = r.List(ctx, model.CollectionMessages, store.Query{Sort: []string{"id; DROP TABLE messages"}})
	assert.Error(t, err)
}
