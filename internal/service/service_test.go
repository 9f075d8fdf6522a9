package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"freight-chat/internal/model"
	"freight-chat/pkg/realtime"
	"freight-chat/pkg/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBackend = errors.New("backend unavailable")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now 每次调用前进一秒，保证创建时间严格递增
func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) record(event string, payload any) (realtime.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event: event, payload: payload})
	return realtime.Sent, nil
}

func (f *fakeEmitter) SendMessage(_ context.Context, p realtime.SendMessagePayload) (realtime.Delivery, error) {
	return f.record(realtime.EventSendMessage, p)
}

func (f *fakeEmitter) UpdateConversation(_ context.Context, u realtime.ConversationUpdate) (realtime.Delivery, error) {
	return f.record(realtime.EventUpdateConversation, u)
}

func (f *fakeEmitter) MarkMessageAsRead(_ context.Context, p realtime.ReadPayload) (realtime.Delivery, error) {
	return f.record(realtime.EventMessageRead, p)
}

func (f *fakeEmitter) MarkMessageAsDelivered(_ context.Context, p realtime.DeliveredPayload) (realtime.Delivery, error) {
	return f.record(realtime.EventMarkDelivered, p)
}

func (f *fakeEmitter) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) last(event string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i].payload
		}
	}
	return nil
}

// faultyStore 对指定的 "操作:集合" 返回错误
type faultyStore struct {
	store.Store
	fail map[string]bool
}

func (f *faultyStore) failing(op, collection string) bool {
	return f.fail[op+":"+collection]
}

func (f *faultyStore) List(ctx context.Context, collection string, q store.Query) ([]store.Record, error) {
	if f.failing("list", collection) {
		return nil, errBackend
	}
	return f.Store.List(ctx, collection, q)
}

func (f *faultyStore) Get(ctx context.Context, collection string, id any, fields ...string) (store.Record, error) {
	if f.failing("get", collection) {
		return nil, errBackend
	}
	return f.Store.Get(ctx, collection, id, fields...)
}

func (f *faultyStore) Update(ctx context.Context, collection string, id any, patch store.Record) (store.Record, error) {
	if f.failing("update", collection) {
		return nil, errBackend
	}
	return f.Store.Update(ctx, collection, id, patch)
}

type fixture struct {
	mem   *store.MemoryStore
	svc   *ChatService
	rt    *fakeEmitter
	clock *clock
}

func newFixture(t *testing.T, fail ...string) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	var st store.Store = mem
	if len(fail) > 0 {
		fs := &faultyStore{Store: mem, fail: map[string]bool{}}
		for _, f := range fail {
			fs.fail[f] = true
		}
		st = fs
	}
	f := &fixture{mem: mem, rt: &fakeEmitter{}, clock: newClock()}
	f.svc = New(st, Options{
		Realtime: f.rt,
		Uploader: &fakeUploader{},
		PageSize: 20,
		Now:      f.clock.Now,
		Logger:   zap.NewNop(),
	})
	return f
}

func (f *fixture) create(t *testing.T, collection string, rec store.Record) store.Record {
	t.Helper()
	created, err := f.mem.Create(context.Background(), collection, rec)
	require.NoError(t, err)
	return created
}

func (f *fixture) conversation(t *testing.T, initiator, receiver string) int64 {
	t.Helper()
	now := f.clock.Now()
	return f.create(t, model.CollectionConversations, store.Record{
		"initiator_id":        initiator,
		"receiver_id":         receiver,
		"conversation_type":   model.ConversationTypeDirect,
		"total_message_count": 0,
		"last_message_id":     nil,
		"last_message_at":     nil,
		"date_created":        now,
		"date_updated":        now,
	}).ID()
}

func (f *fixture) reload(t *testing.T, id int64) model.Conversation {
	t.Helper()
	rec, err := f.mem.Get(context.Background(), model.CollectionConversations, id)
	require.NoError(t, err)
	var conv model.Conversation
	require.NoError(t, store.Decode(rec, &conv))
	return conv
}

func (f *fixture) send(t *testing.T, conversationID int64, sender, text string) *model.Message {
	t.Helper()
	res, err := f.svc.SendMessage(context.Background(), SendRequest{
		ConversationID: conversationID,
		SenderID:       sender,
		Text:           text,
	})
	require.NoError(t, err)
	require.NoError(t, res.RepairErr)
	return res.Message
}

func (f *fixture) count(t *testing.T, collection string) int {
	t.Helper()
	recs, err := f.mem.List(context.Background(), collection, store.Query{Limit: -1})
	require.NoError(t, err)
	return len(recs)
}
