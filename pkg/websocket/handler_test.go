package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"freight-chat/config"
	"freight-chat/pkg/credential"
	"freight-chat/pkg/jwt"
	"freight-chat/pkg/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type denyRoom int64

func (d denyRoom) CanJoin(_ context.Context, _ string, conversationID int64) (bool, error) {
	return conversationID != int64(d), nil
}

// roomMembers 会话 -> 参与者
type roomMembers map[int64][]string

func (m roomMembers) CanJoin(_ context.Context, userID string, conversationID int64) (bool, error) {
	for _, u := range m[conversationID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

type relay struct {
	srv     *httptest.Server
	jwt     *jwt.JWTService
	manager *Manager
}

func newRelay(t *testing.T, wsCfg config.WebSocketConfig, auth RoomAuthorizer) *relay {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSvc := jwt.NewJWTService(config.JWTConfig{Secret: "relay-secret", ExpireTime: time.Hour, Issuer: "test"})
	manager := NewManager(nil, nil)
	h := NewHandler(manager, jwtSvc, wsCfg, auth, nil)

	router := gin.New()
	router.GET("/ws", h.ServeWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &relay{srv: srv, jwt: jwtSvc, manager: manager}
}

func (r *relay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

func (r *relay) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := r.jwt.GenerateToken(userID, nil)
	require.NoError(t, err)
	return token
}

func (r *relay) session(t *testing.T, userID string, h realtime.Handlers) *realtime.Session {
	t.Helper()
	s := realtime.New(realtime.Config{URL: r.url(), MaxAttempts: 1})
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Connect(ctx, credential.Static(r.token(t, userID)), userID, h))
	t.Cleanup(s.Disconnect)
	return s
}

// dial opens a raw connection for protocol-level assertions.
func (r *relay) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.url()+"?token="+r.token(t, userID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := realtime.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func read(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestRejectsMissingOrInvalidToken(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{}, nil)

	resp, err := http.Get(r.srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(r.url()+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegistrationMustMatchToken(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{}, nil)
	conn := r.dial(t, "user-a")

	send(t, conn, realtime.EventJoinConversation, realtime.RoomPayload{ConversationID: 1})
	env := read(t, conn)
	assert.Equal(t, realtime.EventError, env.Event)
	assert.Contains(t, string(env.Data), "register_user required")

	send(t, conn, realtime.EventRegisterUser, realtime.RegisterPayload{UserID: "user-x"})
	env = read(t, conn)
	assert.Equal(t, realtime.EventError, env.Event)
	assert.False(t, r.manager.IsOnline("user-x"))

	send(t, conn, realtime.EventRegisterUser, realtime.RegisterPayload{UserID: "user-a"})
	env = read(t, conn)
	assert.Equal(t, realtime.EventUserRegistered, env.Event)
	assert.JSONEq(t, `{"userId":"user-a"}`, string(env.Data))
	assert.True(t, r.manager.IsOnline("user-a"))
}

func TestRelaysRoomEventsBetweenSessions(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{}, nil)

	online := make(chan realtime.PresenceEvent, 4)
	joined := make(chan realtime.MembershipEvent, 4)
	a := r.session(t, "user-a", realtime.Handlers{
		OnUserOnline: func(ev realtime.PresenceEvent) { online <- ev },
		OnUserJoined: func(ev realtime.MembershipEvent) { joined <- ev },
	})

	messages := make(chan realtime.MessageEvent, 4)
	typing := make(chan realtime.TypingEvent, 4)
	b := r.session(t, "user-b", realtime.Handlers{
		OnMessage:     func(ev realtime.MessageEvent) { messages <- ev },
		OnTypingStart: func(ev realtime.TypingEvent) { typing <- ev },
	})
	assert.Equal(t, "user-b", receive(t, online, "user_online").UserID)

	ctx := context.Background()
	_, err := a.JoinConversation(ctx, 42)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.manager.RoomSize(42) == 1 }, waitFor, 10*time.Millisecond)

	_, err = b.JoinConversation(ctx, 42)
	require.NoError(t, err)
	ev := receive(t, joined, "user_joined")
	assert.Equal(t, "user-b", ev.UserID)
	assert.Equal(t, int64(42), ev.ConversationID)

	d, err := a.StartTyping(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, realtime.Sent, d)
	ty := receive(t, typing, "typing:indicator")
	assert.Equal(t, "user-a", ty.UserID)
	assert.True(t, ty.IsTyping)

	_, err = a.SendMessage(ctx, realtime.SendMessagePayload{ConversationID: 42, MessageID: 7, Content: "load is ready"})
	require.NoError(t, err)
	msg := receive(t, messages, "message_received")
	assert.Equal(t, "user-a", msg.SenderID)
	assert.Equal(t, int64(7), msg.MessageID)
	assert.Equal(t, "load is ready", msg.Content)
}

func TestPresenceOfflineAfterLastConnection(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{}, nil)

	offline := make(chan realtime.PresenceEvent, 2)
	r.session(t, "user-a", realtime.Handlers{
		OnUserOffline: func(ev realtime.PresenceEvent) { offline <- ev },
	})
	b := r.session(t, "user-b", realtime.Handlers{})
	require.True(t, r.manager.IsOnline("user-b"))

	b.Disconnect()
	assert.Equal(t, "user-b", receive(t, offline, "user_offline").UserID)
	assert.False(t, r.manager.IsOnline("user-b"))
}

func TestJoinRequiresParticipation(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{}, denyRoom(99))
	conn := r.dial(t, "user-a")
	send(t, conn, realtime.EventRegisterUser, realtime.RegisterPayload{UserID: "user-a"})
	read(t, conn)

	send(t, conn, realtime.EventJoinConversation, realtime.RoomPayload{ConversationID: 99})
	env := read(t, conn)
	assert.Equal(t, realtime.EventError, env.Event)
	assert.Contains(t, string(env.Data), "not a participant")
	assert.Zero(t, r.manager.RoomSize(99))
}

func TestNonMemberCannotRelayIntoRoom(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{}, roomMembers{7: {"alice", "bob"}})

	messages := make(chan realtime.MessageEvent, 2)
	alice := r.session(t, "alice", realtime.Handlers{
		OnMessage: func(ev realtime.MessageEvent) { messages <- ev },
	})
	_, err := alice.JoinConversation(context.Background(), 7)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.manager.RoomSize(7) == 1 }, waitFor, 10*time.Millisecond)

	conn := r.dial(t, "mallory")
	send(t, conn, realtime.EventRegisterUser, realtime.RegisterPayload{UserID: "mallory"})
	require.Equal(t, realtime.EventUserRegistered, read(t, conn).Event)

	send(t, conn, realtime.EventJoinConversation, realtime.RoomPayload{ConversationID: 7})
	assert.Contains(t, string(read(t, conn).Data), "not a participant")

	for _, ev := range []struct {
		name    string
		payload any
	}{
		{realtime.EventSendMessage, realtime.SendMessagePayload{ConversationID: 7, MessageID: 999, Content: "spoof"}},
		{realtime.EventTypingStart, realtime.TypingPayload{ConversationID: 7}},
		{realtime.EventAddReaction, realtime.ReactionPayload{ConversationID: 7, MessageID: 1, Emoji: "x"}},
		{realtime.EventMessageRead, realtime.ReadPayload{ConversationID: 7, MessageID: 1}},
		{realtime.EventUpdateConversation, realtime.ConversationUpdate{ConversationID: 7, TotalMessageCount: 1000}},
		{realtime.EventLeaveConversation, realtime.RoomPayload{ConversationID: 7}},
	} {
		send(t, conn, ev.name, ev.payload)
		env := read(t, conn)
		assert.Equal(t, realtime.EventError, env.Event, ev.name)
		assert.Contains(t, string(env.Data), "not a participant", ev.name)
	}

	// 参与者未加入房间也可以发送
	bob := r.dial(t, "bob")
	send(t, bob, realtime.EventRegisterUser, realtime.RegisterPayload{UserID: "bob"})
	read(t, bob)
	send(t, bob, realtime.EventSendMessage, realtime.SendMessagePayload{ConversationID: 7, MessageID: 5, Content: "hello"})
	msg := receive(t, messages, "message_received")
	assert.Equal(t, "bob", msg.SenderID)
	assert.Equal(t, int64(5), msg.MessageID)
	assert.Empty(t, messages)
}

func TestRateLimitAnswersWithError(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{RateLimit: 0.001, RateBurst: 2}, nil)
	conn := r.dial(t, "user-a")

	send(t, conn, realtime.EventRegisterUser, realtime.RegisterPayload{UserID: "user-a"})
	assert.Equal(t, realtime.EventUserRegistered, read(t, conn).Event)

	// second token of the burst; nobody else is in the room, so no reply
	send(t, conn, realtime.EventJoinConversation, realtime.RoomPayload{ConversationID: 1})
	send(t, conn, realtime.EventTypingStart, realtime.TypingPayload{ConversationID: 1})

	env := read(t, conn)
	assert.Equal(t, realtime.EventError, env.Event)
	assert.Contains(t, string(env.Data), "rate limit exceeded")
}

func TestUnknownEvent(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{}, nil)
	conn := r.dial(t, "user-a")
	send(t, conn, realtime.EventRegisterUser, realtime.RegisterPayload{UserID: "user-a"})
	read(t, conn)

	send(t, conn, "shipment:teleport", map[string]int{"id": 1})
	env := read(t, conn)
	assert.Equal(t, realtime.EventError, env.Event)
	assert.Contains(t, string(env.Data), "unknown event")
}

func TestRoomBroadcasterPushesServerEvents(t *testing.T) {
	r := newRelay(t, config.WebSocketConfig{}, nil)
	updates := make(chan realtime.ConversationUpdate, 2)
	a := r.session(t, "user-a", realtime.Handlers{
		OnConversationUpdated: func(u realtime.ConversationUpdate) { updates <- u },
	})

	b := NewRoomBroadcaster(r.manager, "system")
	ctx := context.Background()
	d, err := b.UpdateConversation(ctx, realtime.ConversationUpdate{ConversationID: 5, TotalMessageCount: 1})
	require.NoError(t, err)
	assert.Equal(t, realtime.Dropped, d)

	_, err = a.JoinConversation(ctx, 5)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.manager.RoomSize(5) == 1 }, waitFor, 10*time.Millisecond)

	d, err = b.UpdateConversation(ctx, realtime.ConversationUpdate{ConversationID: 5, TotalMessageCount: 3})
	require.NoError(t, err)
	assert.Equal(t, realtime.Sent, d)
	assert.Equal(t, 3, receive(t, updates, "conversation_updated").TotalMessageCount)
}
