package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"freight-chat/pkg/credential"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrGaveUp is returned to Connect callers still waiting when the
	// reconnection attempts run out.
	ErrGaveUp = errors.New("realtime: reconnection attempts exhausted")
	// ErrClosed is returned to Connect callers interrupted by Disconnect.
	ErrClosed = errors.New("realtime: session disconnected")
	// ErrNoCredential is returned when Connect has no credential provider.
	ErrNoCredential = errors.New("realtime: no credential provider")
)

// Config controls a Session.
type Config struct {
	URL string
	// MaxAttempts is the number of consecutive failed connection attempts
	// before the session gives up. Zero or less retries forever.
	MaxAttempts int
	// Each retry waits a random delay in [RetryDelay, RetryDelayMax].
	RetryDelay    time.Duration
	RetryDelayMax time.Duration
	PingInterval  time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration

	Queue  Queue
	Dialer *websocket.Dialer
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.RetryDelayMax < c.RetryDelay {
		c.RetryDelayMax = c.RetryDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Queue == nil {
		c.Queue = NewMemoryQueue(DefaultQueueCapacity)
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Session owns one user's realtime connection, its registration state and
// its offline queue.
type Session struct {
	cfg   Config
	log   *zap.Logger
	queue Queue

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped by Disconnect; a run loop with a stale gen exits
	running  bool
	cancel   context.CancelFunc
	conn     *websocket.Conn
	cred     credential.Provider
	userID   string
	handlers Handlers
	waiters  []chan error
	attempts int

	writeMu sync.Mutex
}

// New returns a Session in the Disconnected state.
func New(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:   cfg,
		log:   cfg.Logger,
		queue: cfg.Queue,
		state: Disconnected,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of queued operations.
func (s *Session) Pending(ctx context.Context) (int, error) {
	return s.queue.Len(ctx)
}

// Connect starts the connection loop and blocks until the server
// acknowledges registration, the first connection attempt after this call
// fails, or ctx is done. It returns nil at once when already registered; a
// call while a connection is in progress waits on that connection. Handlers
// and userID are taken from the call that starts the loop.
func (s *Session) Connect(ctx context.Context, cred credential.Provider, userID string, h Handlers) error {
	if cred == nil {
		return ErrNoCredential
	}
	if userID == "" {
		return errors.New("realtime: empty user id")
	}

	s.mu.Lock()
	if s.state == Registered {
		s.mu.Unlock()
		return nil
	}
	if !s.running {
		if !s.setState(Connecting) {
			s.mu.Unlock()
			return fmt.Errorf("realtime: cannot connect from %s", s.state)
		}
		s.cred, s.userID, s.handlers = cred, userID, h
		s.attempts = 0
		s.gen++
		runCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.running = true
		go s.run(runCtx, s.gen)
	}
	w := make(chan error, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case err := <-w:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		s.removeWaiter(w)
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Disconnect closes the connection and stops reconnecting. Queued
// operations are kept. Calling it again is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.running = false
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.resolveWaiters(ErrClosed)
	if s.state != Disconnected {
		s.setState(Disconnected)
		s.log.Info("实时连接已断开", zap.String("user_id", s.userID))
	}
}

// setState must be called with s.mu held.
func (s *Session) setState(to State) bool {
	if s.state == to {
		return true
	}
	if err := checkTransition(s.state, to); err != nil {
		s.log.Warn("拒绝状态切换", zap.Error(err))
		return false
	}
	s.log.Debug("状态切换", zap.String("from", string(s.state)), zap.String("to", string(to)))
	s.state = to
	return true
}

func (s *Session) resolveWaiters(err error) {
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

func (s *Session) removeWaiter(target chan error) {
	for i, w := range s.waiters {
		if w == target {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Session) run(ctx context.Context, gen uint64) {
	for {
		err := s.connectOnce(ctx, gen)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		wasRegistered := s.state == Registered
		s.conn = nil
		s.setState(Disconnected)
		h := s.handlers

		giveUp := false
		if !wasRegistered {
			s.attempts++
			giveUp = s.cfg.MaxAttempts > 0 && s.attempts >= s.cfg.MaxAttempts
			if giveUp {
				s.resolveWaiters(fmt.Errorf("%w: %v", ErrGaveUp, err))
				s.setState(GaveUp)
				s.running = false
				s.cancel()
				s.cancel = nil
			} else {
				s.resolveWaiters(err)
			}
		}
		attempts := s.attempts
		s.mu.Unlock()

		if wasRegistered {
			s.log.Warn("实时连接中断，准备重连", zap.Error(err))
			if h.OnDisconnect != nil {
				h.OnDisconnect(err)
			}
		} else {
			s.log.Warn("实时连接失败", zap.Int("attempt", attempts), zap.Error(err))
			if h.OnError != nil {
				h.OnError(err)
			}
		}
		if giveUp {
			s.log.Error("重连次数已用尽", zap.Int("attempts", attempts))
			if h.OnGiveUp != nil {
				h.OnGiveUp(err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay()):
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.setState(Connecting)
		s.mu.Unlock()
	}
}

func (s *Session) retryDelay() time.Duration {
	lo, hi := s.cfg.RetryDelay, s.cfg.RetryDelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// connectOnce dials, registers and reads until the connection fails. It
// always returns a non-nil error.
func (s *Session) connectOnce(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	cred, userID := s.cred, s.userID
	s.mu.Unlock()

	token, err := cred.Credential(ctx)
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	target, err := dialURL(s.cfg.URL, token)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrClosed
	}
	s.conn = conn
	s.setState(Connected)
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go s.keepalive(ctx, conn, stop)

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	data, err := json.Marshal(RegisterPayload{UserID: userID})
	if err != nil {
		return err
	}
	if err := s.writeRaw(conn, EventRegisterUser, data); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.log.Warn("无法解析的服务端事件", zap.Error(err))
			continue
		}
		if env.Event == EventUserRegistered {
			if err := s.onRegistered(ctx, gen, conn); err != nil {
				return err
			}
			continue
		}

		s.mu.Lock()
		h := s.handlers
		s.mu.Unlock()
		if err := h.dispatch(env); err != nil {
			s.log.Warn("事件处理失败", zap.String("event", env.Event), zap.Error(err))
		}
	}
}

// onRegistered flushes the offline queue before publishing Registered, so
// no live send can overtake a queued one.
func (s *Session) onRegistered(ctx context.Context, gen uint64, conn *websocket.Conn) error {
	s.mu.Lock()
	if s.gen != gen || s.state != Connected {
		s.mu.Unlock()
		return nil
	}
	flushed, err := s.flushLocked(ctx, conn)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("flush offline queue: %w", err)
	}
	s.setState(Registered)
	s.attempts = 0
	waiters := s.waiters
	s.waiters = nil
	h := s.handlers
	userID := s.userID
	s.mu.Unlock()

	s.log.Info("实时连接已注册", zap.String("user_id", userID), zap.Int("flushed", flushed))
	if h.OnConnect != nil {
		h.OnConnect()
	}
	for _, w := range waiters {
		w <- nil
	}
	return nil
}

func (s *Session) flushLocked(ctx context.Context, conn *websocket.Conn) (int, error) {
	n := 0
	for {
		op, ok, err := s.queue.Peek(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		if err := s.writeRaw(conn, op.Type, op.Data); err != nil {
			return n, err
		}
		if err := s.queue.Remove(ctx); err != nil {
			return n, err
		}
		n++
	}
}

func (s *Session) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Session) writeRaw(conn *websocket.Conn, event string, data json.RawMessage) error {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func dialURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("realtime url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
