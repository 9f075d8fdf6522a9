package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"freight-chat/pkg/credential"
	"freight-chat/pkg/realtime"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

// fakeServer answers register_user with user_registered and records every
// frame it receives.
type fakeServer struct {
	srv      *httptest.Server
	received chan realtime.Envelope

	// dropAfterRegister closes the first connection right after
	// acknowledging registration.
	dropAfterRegister bool

	mu    sync.Mutex
	dials int
	auth  string
	token string
	conn  *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{received: make(chan realtime.Envelope, 64)}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		f.mu.Lock()
		f.dials++
		dial := f.dials
		f.auth = r.Header.Get("Authorization")
		f.token = r.URL.Query().Get("token")
		f.conn = conn
		f.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env realtime.Envelope
			if json.Unmarshal(data, &env) != nil {
				continue
			}
			f.received <- env
			if env.Event != realtime.EventRegisterUser {
				continue
			}
			var p realtime.RegisterPayload
			_ = json.Unmarshal(env.Data, &p)
			if f.write(realtime.EventUserRegistered, p) != nil {
				return
			}
			if f.dropAfterRegister && dial == 1 {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
}

func (f *fakeServer) write(event string, payload any) error {
	frame, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn.WriteMessage(websocket.TextMessage, frame)
}

func (f *fakeServer) push(t *testing.T, event string, payload any) {
	t.Helper()
	require.NoError(t, f.write(event, payload))
}

func (f *fakeServer) next(t *testing.T) realtime.Envelope {
	t.Helper()
	select {
	case env := <-f.received:
		return env
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for client frame")
	}
	return realtime.Envelope{}
}

func (f *fakeServer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func newSession(url string, maxAttempts int) *realtime.Session {
	return realtime.New(realtime.Config{
		URL:           url,
		MaxAttempts:   maxAttempts,
		RetryDelay:    5 * time.Millisecond,
		RetryDelayMax: 10 * time.Millisecond,
	})
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectRegistersWithBearerCredential(t *testing.T) {
	f := newFakeServer(t)
	s := newSession(f.url(), 3)
	defer s.Disconnect()
	ctx := testContext(t)

	require.NoError(t, s.Connect(ctx, credential.Static("tok-1"), "user-1", realtime.Handlers{}))
	assert.Equal(t, realtime.Registered, s.State())

	env := f.next(t)
	assert.Equal(t, realtime.EventRegisterUser, env.Event)
	assert.JSONEq(t, `{"userId":"user-1"}`, string(env.Data))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "Bearer tok-1", f.auth)
	assert.Equal(t, "tok-1", f.token)
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newFakeServer(t)
	s := newSession(f.url(), 3)
	defer s.Disconnect()
	ctx := testContext(t)
	cred := credential.Static("tok")

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Connect(ctx, cred, "user-1", realtime.Handlers{})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, s.Connect(ctx, cred, "user-1", realtime.Handlers{}))
	assert.Equal(t, 1, f.dialCount())
}

func TestOfflineQueueFlushesInOrderAfterRegistration(t *testing.T) {
	f := newFakeServer(t)
	s := newSession(f.url(), 3)
	defer s.Disconnect()
	ctx := testContext(t)

	d, err := s.SendMessage(ctx, realtime.SendMessagePayload{ConversationID: 7, MessageID: 1, Content: "first"})
	require.NoError(t, err)
	assert.Equal(t, realtime.Queued, d)
	d, err = s.SendMessage(ctx, realtime.SendMessagePayload{ConversationID: 7, MessageID: 2, Content: "second"})
	require.NoError(t, err)
	assert.Equal(t, realtime.Queued, d)
	d, err = s.AddReaction(ctx, realtime.ReactionPayload{ConversationID: 7, MessageID: 1, Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, realtime.Queued, d)

	n, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, s.Connect(ctx, credential.Static("tok"), "user-1", realtime.Handlers{}))

	assert.Equal(t, realtime.EventRegisterUser, f.next(t).Event)

	first := f.next(t)
	assert.Equal(t, realtime.EventSendMessage, first.Event)
	var p realtime.SendMessagePayload
	require.NoError(t, json.Unmarshal(first.Data, &p))
	assert.Equal(t, int64(1), p.MessageID)

	second := f.next(t)
	assert.Equal(t, realtime.EventSendMessage, second.Event)
	require.NoError(t, json.Unmarshal(second.Data, &p))
	assert.Equal(t, int64(2), p.MessageID)

	assert.Equal(t, realtime.EventAddReaction, f.next(t).Event)

	n, err = s.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTypingAndDeliveryDroppedWhileOffline(t *testing.T) {
	s := newSession("ws://127.0.0.1:1/ws", 1)
	ctx := testContext(t)

	d, err := s.StartTyping(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, realtime.Dropped, d)

	d, err = s.MarkMessageAsDelivered(ctx, realtime.DeliveredPayload{ConversationID: 3, MessageID: 9})
	require.NoError(t, err)
	assert.Equal(t, realtime.Dropped, d)

	d, err = s.MarkMessageAsRead(ctx, realtime.ReadPayload{ConversationID: 3, MessageID: 9})
	require.NoError(t, err)
	assert.Equal(t, realtime.Queued, d)

	n, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueFullIsReported(t *testing.T) {
	s := realtime.New(realtime.Config{URL: "ws://127.0.0.1:1/ws", Queue: realtime.NewMemoryQueue(1)})
	ctx := testContext(t)

	_, err := s.JoinConversation(ctx, 1)
	require.NoError(t, err)
	d, err := s.JoinConversation(ctx, 2)
	assert.ErrorIs(t, err, realtime.ErrQueueFull)
	assert.Equal(t, realtime.Dropped, d)
}

func TestSendWhileRegistered(t *testing.T) {
	f := newFakeServer(t)
	s := newSession(f.url(), 3)
	defer s.Disconnect()
	ctx := testContext(t)

	require.NoError(t, s.Connect(ctx, credential.Static("tok"), "user-1", realtime.Handlers{}))
	f.next(t)

	d, err := s.StartTyping(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, realtime.Sent, d)

	env := f.next(t)
	assert.Equal(t, realtime.EventTypingStart, env.Event)
	assert.JSONEq(t, `{"conversationId":4}`, string(env.Data))
}

func TestInboundEventsDispatchToHandlers(t *testing.T) {
	f := newFakeServer(t)
	s := newSession(f.url(), 3)
	defer s.Disconnect()
	ctx := testContext(t)

	started := make(chan realtime.TypingEvent, 1)
	stopped := make(chan realtime.TypingEvent, 1)
	messages := make(chan realtime.MessageEvent, 1)
	h := realtime.Handlers{
		OnTypingStart: func(ev realtime.TypingEvent) { started <- ev },
		OnTypingStop:  func(ev realtime.TypingEvent) { stopped <- ev },
		OnMessage:     func(ev realtime.MessageEvent) { messages <- ev },
	}
	require.NoError(t, s.Connect(ctx, credential.Static("tok"), "user-1", h))

	// no handler registered for reactions
	f.push(t, realtime.EventReactionAdded, realtime.ReactionEvent{MessageID: 1, Emoji: "x"})
	f.push(t, realtime.EventTypingIndicator, realtime.TypingEvent{ConversationID: 5, UserID: "user-2", IsTyping: true})
	f.push(t, realtime.EventTypingIndicator, realtime.TypingEvent{ConversationID: 5, UserID: "user-2", IsTyping: false})
	f.push(t, realtime.EventMessageReceived, realtime.MessageEvent{
		SendMessagePayload: realtime.SendMessagePayload{ConversationID: 5, MessageID: 11, Content: "hi"},
		SenderID:           "user-2",
	})

	select {
	case ev := <-started:
		assert.Equal(t, "user-2", ev.UserID)
		assert.Equal(t, int64(5), ev.ConversationID)
	case <-time.After(waitFor):
		t.Fatal("typing start not dispatched")
	}
	select {
	case ev := <-stopped:
		assert.False(t, ev.IsTyping)
	case <-time.After(waitFor):
		t.Fatal("typing stop not dispatched")
	}
	select {
	case ev := <-messages:
		assert.Equal(t, "user-2", ev.SenderID)
		assert.Equal(t, "hi", ev.Content)
	case <-time.After(waitFor):
		t.Fatal("message not dispatched")
	}
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	f := newFakeServer(t)
	url := f.url()
	f.srv.Close()

	var failures atomic.Int32
	gaveUp := make(chan error, 1)
	s := newSession(url, 3)
	ctx := testContext(t)

	err := s.Connect(ctx, credential.Static("tok"), "user-1", realtime.Handlers{
		OnError:  func(error) { failures.Add(1) },
		OnGiveUp: func(err error) { gaveUp <- err },
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, realtime.ErrGaveUp), "first failure is reported as itself")

	select {
	case err := <-gaveUp:
		assert.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("session did not give up")
	}
	assert.Equal(t, realtime.GaveUp, s.State())
	assert.Equal(t, int32(3), failures.Load())
}

func TestConnectWaitingAtGiveUpGetsErrGaveUp(t *testing.T) {
	s := newSession("ws://127.0.0.1:1/ws", 1)
	ctx := testContext(t)

	err := s.Connect(ctx, credential.Static("tok"), "user-1", realtime.Handlers{})
	assert.ErrorIs(t, err, realtime.ErrGaveUp)
	assert.Equal(t, realtime.GaveUp, s.State())

	s.Disconnect()
	assert.Equal(t, realtime.Disconnected, s.State())
}

func TestReconnectsAfterConnectionLoss(t *testing.T) {
	f := newFakeServer(t)
	f.dropAfterRegister = true
	s := newSession(f.url(), 3)
	defer s.Disconnect()
	ctx := testContext(t)

	connected := make(chan struct{}, 4)
	disconnected := make(chan error, 4)
	require.NoError(t, s.Connect(ctx, credential.Static("tok"), "user-1", realtime.Handlers{
		OnConnect:    func() { connected <- struct{}{} },
		OnDisconnect: func(err error) { disconnected <- err },
	}))

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(waitFor):
			t.Fatalf("registration %d not observed", i+1)
		}
	}
	select {
	case <-disconnected:
	case <-time.After(waitFor):
		t.Fatal("disconnect not reported")
	}
	assert.Equal(t, 2, f.dialCount())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFakeServer(t)
	s := newSession(f.url(), 3)
	ctx := testContext(t)

	require.NoError(t, s.Connect(ctx, credential.Static("tok"), "user-1", realtime.Handlers{}))
	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, realtime.Disconnected, s.State())

	d, err := s.SendMessage(ctx, realtime.SendMessagePayload{ConversationID: 1, MessageID: 1, Content: "later"})
	require.NoError(t, err)
	assert.Equal(t, realtime.Queued, d)

	require.NoError(t, s.Connect(ctx, credential.Static("tok"), "user-1", realtime.Handlers{}))
	defer s.Disconnect()
	assert.Equal(t, 2, f.dialCount())
}

func TestConnectWithoutCredential(t *testing.T) {
	s := newSession("ws://127.0.0.1:1/ws", 1)
	err := s.Connect(context.Background(), nil, "user-1", realtime.Handlers{})
	assert.ErrorIs(t, err, realtime.ErrNoCredential)
}
