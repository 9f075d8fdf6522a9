package realtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	a := Op{ID: uuid.New(), Type: EventSendMessage}
	b := Op{ID: uuid.New(), Type: EventAddReaction}
	require.NoError(t, q.Push(ctx, a))
	require.NoError(t, q.Push(ctx, b))
	assert.ErrorIs(t, q.Push(ctx, Op{ID: uuid.New()}), ErrQueueFull)

	head, ok, err := q.Peek(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, head.ID)

	// peek does not consume
	n, _ := q.Len(ctx)
	assert.Equal(t, 2, n)

	require.NoError(t, q.Remove(ctx))
	head, ok, _ = q.Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, b.ID, head.ID)

	require.NoError(t, q.Remove(ctx))
	_, ok, _ = q.Peek(ctx)
	assert.False(t, ok)
	require.NoError(t, q.Remove(ctx))
}

func TestMemoryQueueUnbounded(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(0)
	for i := 0; i < 1000; i++ {
		require.NoError(t, q.Push(ctx, Op{ID: uuid.New()}))
	}
	n, _ := q.Len(ctx)
	assert.Equal(t, 1000, n)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(Disconnected, Connecting))
	assert.True(t, CanTransition(Connected, Registered))
	assert.True(t, CanTransition(GaveUp, Connecting))
	assert.False(t, CanTransition(Disconnected, Registered))
	assert.False(t, CanTransition(Connecting, Registered))
	assert.False(t, CanTransition(Registered, Connecting))
	assert.Error(t, checkTransition(Registered, GaveUp))
}

func TestDispatchIgnoresMissingHandlers(t *testing.T) {
	var h Handlers
	for _, event := range []string{EventMessageReceived, EventTypingIndicator, EventUserOnline, "unknown"} {
		assert.NoError(t, h.dispatch(Envelope{Event: event, Data: []byte(`{}`)}))
	}

	var online PresenceEvent
	h.OnUserOnline = func(ev PresenceEvent) { online = ev }
	require.NoError(t, h.dispatch(Envelope{Event: EventUserOnline, Data: []byte(`{"user_id":"u9"}`)}))
	assert.Equal(t, "u9", online.UserID)

	assert.Error(t, h.dispatch(Envelope{Event: EventUserOnline, Data: []byte(`not json`)}))
}
