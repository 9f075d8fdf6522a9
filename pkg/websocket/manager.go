package websocket

import (
	"context"
	"sync"

	"freight-chat/pkg/metrics"
	"freight-chat/pkg/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client 代表一个WebSocket连接
// 同一用户可以有多个连接（多端登录）
type Client struct {
	ID      uuid.UUID
	UserID  string
	Conn    *websocket.Conn
	Send    chan []byte
	limiter *rate.Limiter

	registered bool // 仅由读协程访问
}

// PresenceStore 在线状态镜像（例如 Redis），可为 nil
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
}

// Manager 管理所有已注册的连接和会话房间
type Manager struct {
	lock     sync.RWMutex
	users    map[string]map[*Client]struct{} // 用户 -> 连接
	rooms    map[int64]map[*Client]struct{}  // 会话 -> 连接
	presence PresenceStore
	log      *zap.Logger
}

// NewManager 创建连接管理器
func NewManager(presence PresenceStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		users:    make(map[string]map[*Client]struct{}),
		rooms:    make(map[int64]map[*Client]struct{}),
		presence: presence,
		log:      log,
	}
}

// AddClient 登记已注册的连接；用户的第一个连接会广播 user_online
func (m *Manager) AddClient(ctx context.Context, c *Client) {
	m.lock.Lock()
	conns, ok := m.users[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		m.users[c.UserID] = conns
	}
	conns[c] = struct{}{}
	first := len(conns) == 1
	if first {
		metrics.UsersOnline.Set(float64(len(m.users)))
	}
	m.lock.Unlock()

	if !first {
		return
	}
	m.broadcast(realtime.EventUserOnline, realtime.PresenceEvent{UserID: c.UserID}, c.UserID)
	if m.presence != nil {
		if err := m.presence.SetOnline(ctx, c.UserID); err != nil {
			m.log.Warn("更新在线状态失败", zap.String("user_id", c.UserID), zap.Error(err))
		}
	}
}

// RemoveClient 移除连接及其房间成员关系；用户最后一个连接断开时广播 user_offline
// 调用方在此之后负责关闭 c.Send
func (m *Manager) RemoveClient(ctx context.Context, c *Client) {
	m.lock.Lock()
	for id, members := range m.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(m.rooms, id)
		}
	}
	last := false
	if conns, ok := m.users[c.UserID]; ok {
		if _, member := conns[c]; member {
			delete(conns, c)
			if len(conns) == 0 {
				delete(m.users, c.UserID)
				last = true
				metrics.UsersOnline.Set(float64(len(m.users)))
			}
		}
	}
	m.lock.Unlock()

	if !last {
		return
	}
	m.broadcast(realtime.EventUserOffline, realtime.PresenceEvent{UserID: c.UserID}, c.UserID)
	if m.presence != nil {
		if err := m.presence.SetOffline(ctx, c.UserID); err != nil {
			m.log.Warn("更新离线状态失败", zap.String("user_id", c.UserID), zap.Error(err))
		}
	}
}

// Refresh 心跳时延长在线状态
func (m *Manager) Refresh(ctx context.Context, userID string) {
	if m.presence == nil {
		return
	}
	if err := m.presence.Refresh(ctx, userID); err != nil {
		m.log.Debug("刷新在线状态失败", zap.String("user_id", userID), zap.Error(err))
	}
}

// Join 加入会话房间
func (m *Manager) Join(c *Client, conversationID int64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	members, ok := m.rooms[conversationID]
	if !ok {
		members = make(map[*Client]struct{})
		m.rooms[conversationID] = members
	}
	members[c] = struct{}{}
}

// Leave 离开会话房间
func (m *Manager) Leave(c *Client, conversationID int64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if members, ok := m.rooms[conversationID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(m.rooms, conversationID)
		}
	}
}

// IsOnline 判断用户是否在线
func (m *Manager) IsOnline(userID string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.users[userID]
	return ok
}

// InRoom 连接是否已加入会话房间
func (m *Manager) InRoom(c *Client, conversationID int64) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.rooms[conversationID][c]
	return ok
}

// RoomSize 房间内的连接数
func (m *Manager) RoomSize(conversationID int64) int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.rooms[conversationID])
}

// SendToRoom 推送给房间内除 except 以外的连接，返回推送数量
func (m *Manager) SendToRoom(conversationID int64, except *Client, event string, payload any) int {
	frame, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		m.log.Error("编码事件失败", zap.String("event", event), zap.Error(err))
		return 0
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	n := 0
	for c := range m.rooms[conversationID] {
		if c == except {
			continue
		}
		if m.enqueue(c, frame) {
			n++
		}
	}
	metrics.EventsRelayed.WithLabelValues(event).Add(float64(n))
	return n
}

// SendToUser 推送给用户的所有连接
func (m *Manager) SendToUser(userID, event string, payload any) int {
	frame, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		m.log.Error("编码事件失败", zap.String("event", event), zap.Error(err))
		return 0
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	n := 0
	for c := range m.users[userID] {
		if m.enqueue(c, frame) {
			n++
		}
	}
	metrics.EventsRelayed.WithLabelValues(event).Add(float64(n))
	return n
}

// broadcast 推送给除 exceptUser 以外的所有已注册连接
func (m *Manager) broadcast(event string, payload any, exceptUser string) {
	frame, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		m.log.Error("编码事件失败", zap.String("event", event), zap.Error(err))
		return
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	n := 0
	for userID, conns := range m.users {
		if userID == exceptUser {
			continue
		}
		for c := range conns {
			if m.enqueue(c, frame) {
				n++
			}
		}
	}
	metrics.EventsRelayed.WithLabelValues(event).Add(float64(n))
}

// enqueue 必须在持有锁时调用，保证 c.Send 尚未关闭
func (m *Manager) enqueue(c *Client, frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		// 发送缓冲区已满，客户端过慢
		m.log.Warn("发送缓冲区已满，丢弃事件", zap.String("user_id", c.UserID), zap.String("conn_id", c.ID.String()))
		return false
	}
}
