package service

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"freight-chat/pkg/logger"
	"freight-chat/pkg/realtime"
	"freight-chat/pkg/store"

	"go.uber.org/zap"
)

const defaultPageSize = 50

var (
	// ErrMalformedMessage 消息缺少内容或发送者
	ErrMalformedMessage = errors.New("malformed message")
	// ErrEmptyMessage 发送或编辑的内容为空
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrForbidden 当前用户不是会话成员或不是消息作者
	ErrForbidden = errors.New("forbidden")
	// ErrNoUploader 未配置文件上传
	ErrNoUploader = errors.New("file upload not configured")
)

// Emitter 实时通道中服务会用到的出站操作，*realtime.Session 实现了它
type Emitter interface {
	SendMessage(ctx context.Context, p realtime.SendMessagePayload) (realtime.Delivery, error)
	UpdateConversation(ctx context.Context, u realtime.ConversationUpdate) (realtime.Delivery, error)
	MarkMessageAsRead(ctx context.Context, p realtime.ReadPayload) (realtime.Delivery, error)
	MarkMessageAsDelivered(ctx context.Context, p realtime.DeliveredPayload) (realtime.Delivery, error)
}

// Uploader 上传文件并返回文件ID
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// Options ChatService 的可选依赖
type Options struct {
	Realtime Emitter  // 为空时不推送实时事件
	Uploader Uploader // 为空时附件上传返回 ErrNoUploader
	PageSize int      // 会话列表与消息分页的默认数量
	Now      func() time.Time
	Logger   *zap.Logger
}

// ChatService 聊天数据客户端
// 把多个集合的原始记录组合成可直接展示的会话和消息，并维护会话的消息计数和最新消息指针
type ChatService struct {
	store    store.Store
	rt       Emitter
	uploader Uploader
	pageSize int
	now      func() time.Time
	log      *zap.Logger
}

// New 创建ChatService实例
func New(st store.Store, opts Options) *ChatService {
	s := &ChatService{
		store:    st,
		rt:       opts.Realtime,
		uploader: opts.Uploader,
		pageSize: opts.PageSize,
		now:      opts.Now,
		log:      opts.Logger,
	}
	if s.pageSize <= 0 {
		s.pageSize = defaultPageSize
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.log == nil {
		s.log = logger.L()
	}
	return s
}

// Page 偏移分页，Limit 为 0 时使用默认分页大小
type Page struct {
	Limit  int
	Offset int
}

func (s *ChatService) limit(p Page) int {
	if p.Limit == 0 {
		return s.pageSize
	}
	return p.Limit
}

// first 返回第一条匹配记录，没有时返回 store.ErrNotFound
func (s *ChatService) first(ctx context.Context, collection string, q store.Query) (store.Record, error) {
	q.Limit = 1
	recs, err := s.store.List(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recs[0], nil
}

// nullable 把空指针转换为记录中的 nil
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// ref 解析记录中的引用字段：字符串、数字或展开后的 {"id": ...}
func ref(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any:
		return ref(x["id"])
	case store.Record:
		return ref(x["id"])
	}
	if n, ok := store.ToInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

func (s *ChatService) emitUpdate(ctx context.Context, u realtime.ConversationUpdate) realtime.Delivery {
	if s.rt == nil {
		return realtime.Dropped
	}
	d, err := s.rt.UpdateConversation(ctx, u)
	if err != nil {
		s.log.Warn("推送会话更新失败", zap.Int64("conversation_id", u.ConversationID), zap.Error(err))
	}
	return d
}
