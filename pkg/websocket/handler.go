package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"freight-chat/config"
	"freight-chat/pkg/jwt"
	"freight-chat/pkg/metrics"
	"freight-chat/pkg/realtime"
	"freight-chat/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// RoomAuthorizer 决定用户能否加入会话房间，可为 nil（不校验）
type RoomAuthorizer interface {
	CanJoin(ctx context.Context, userID string, conversationID int64) (bool, error)
}

// Handler 处理 /ws 连接：鉴权、注册、房间和事件转发
type Handler struct {
	manager  *Manager
	jwt      *jwt.JWTService
	cfg      config.WebSocketConfig
	auth     RoomAuthorizer
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(m *Manager, jwtSvc *jwt.JWTService, cfg config.WebSocketConfig, auth RoomAuthorizer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	return &Handler{
		manager: m,
		jwt:     jwtSvc,
		cfg:     cfg,
		auth:    auth,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 跨域由 CORS 配置处理
			},
		},
	}
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := h.cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.cfg.RateLimit), burst)
}

// ServeWS Gin路由处理函数
func (h *Handler) ServeWS(c *gin.Context) {
	token := jwt.ExtractToken(c.Request)
	if token == "" {
		response.Unauthorized(c, "缺少token")
		return
	}
	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "token无效或已过期")
		return
	}

	// 回显子协议，避免客户端提示 "Server sent no subprotocol"
	respHeader := http.Header{}
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		h.log.Warn("WebSocket升级失败", zap.Error(err))
		return
	}

	client := &Client{
		ID:      uuid.New(),
		UserID:  claims.Subject,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		limiter: h.newLimiter(),
	}
	metrics.ConnectionsActive.Inc()
	h.log.Info("WebSocket连接建立", zap.String("user_id", client.UserID), zap.String("conn_id", client.ID.String()))

	ctx := context.WithoutCancel(c.Request.Context())
	done := make(chan struct{})
	go h.writePump(client, done)

	h.readPump(ctx, client)

	h.manager.RemoveClient(ctx, client)
	close(client.Send)
	<-done
	_ = conn.Close()
	metrics.ConnectionsActive.Dec()
	h.log.Info("WebSocket连接关闭", zap.String("user_id", client.UserID), zap.String("conn_id", client.ID.String()))
}

// writePump 写协程 + 定时发送ping心跳
func (h *Handler) writePump(c *Client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Conn.Close()
				drain(c.Send)
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = c.Conn.Close()
				drain(c.Send)
				return
			}
		}
	}
}

// drain 写失败后继续消费，直到读协程关闭 Send
func drain(ch <-chan []byte) {
	for range ch {
	}
}

// readPump 读协程。若超时未收到任何读事件则断开
func (h *Handler) readPump(ctx context.Context, c *Client) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		if c.registered {
			h.manager.Refresh(ctx, c.UserID)
		}
		return c.Conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, payload, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket读取失败", zap.String("user_id", c.UserID), zap.Error(err))
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var env realtime.Envelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
			h.reject(c, "malformed", "malformed event")
			continue
		}
		metrics.EventsReceived.WithLabelValues(env.Event).Inc()

		if !c.limiter.Allow() {
			h.reject(c, "rate_limited", "rate limit exceeded")
			continue
		}
		h.handleEvent(ctx, c, env)
	}
}

// reply 直接回复当前连接，只能在读协程中调用
func (h *Handler) reply(c *Client, event string, payload any) {
	frame, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		return
	}
	select {
	case c.Send <- frame:
	default:
	}
}

func (h *Handler) reject(c *Client, reason, message string) {
	metrics.EventsRejected.WithLabelValues(reason).Inc()
	h.reply(c, realtime.EventError, realtime.ErrorEvent{Message: message})
}
