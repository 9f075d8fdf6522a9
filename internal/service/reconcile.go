package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"freight-chat/internal/model"
	"freight-chat/pkg/metrics"
	"freight-chat/pkg/store"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// ReconcileResult 一次会话校验的结果
type ReconcileResult struct {
	ConversationID int64
	Before         model.Conversation
	After          model.Conversation
	Changed        bool
}

// ReconcileConversation 根据消息历史重新计算会话的消息计数和最新消息指针
func (s *ChatService) ReconcileConversation(ctx context.Context, conversationID int64) (*ReconcileResult, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	live, err := s.store.List(ctx, model.CollectionMessages, store.Query{
		Filter: liveMessages(conversationID),
		Fields: []string{"id"},
		Limit:  -1,
	})
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	latest, err := s.latestMessage(ctx, conversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve last message: %w", err)
	}

	res := &ReconcileResult{ConversationID: conversationID, Before: *conv, After: *conv}
	var wantID *int64
	var wantAt *time.Time
	if latest != nil {
		wantID, wantAt = &latest.ID, &latest.DateCreated
	}
	if conv.TotalMessageCount == len(live) && sameID(conv.LastMessageID, wantID) {
		return res, nil
	}

	rec, err := s.store.Update(ctx, model.CollectionConversations, conversationID, store.Record{
		"total_message_count": len(live),
		"last_message_id":     nullable(wantID),
		"last_message_at":     nullable(wantAt),
		"date_updated":        s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("update conversation %d: %w", conversationID, err)
	}
	if err := store.Decode(rec, &res.After); err != nil {
		return nil, err
	}
	res.Changed = true
	s.log.Info("会话计数已校正",
		zap.Int64("conversation_id", conversationID),
		zap.Int("count_before", conv.TotalMessageCount),
		zap.Int("count_after", len(live)),
	)
	s.emitUpdate(ctx, conversationUpdate(&res.After, s.pointerText(ctx, &res.After)))
	return res, nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Reconciler 按 cron 计划校验最近活跃的会话
type Reconciler struct {
	svc      *ChatService
	schedule string
	batch    int
	log      *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewReconciler 创建Reconciler，schedule 为 cron 表达式
func NewReconciler(svc *ChatService, schedule string, batch int) (*Reconciler, error) {
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid reconcile schedule %q", schedule)
	}
	if batch <= 0 {
		batch = svc.pageSize
	}
	return &Reconciler{svc: svc, schedule: schedule, batch: batch, log: svc.log}, nil
}

// RunOnce 校验一批会话，返回被校正的会话
// 单个会话失败不会中断本轮
func (r *Reconciler) RunOnce(ctx context.Context) ([]ReconcileResult, error) {
	recs, err := r.svc.store.List(ctx, model.CollectionConversations, store.Query{
		Fields: []string{"id"},
		Sort:   []string{"-date_updated", "-date_created"},
		Limit:  r.batch,
	})
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	var fixed []ReconcileResult
	var errs []error
	for _, rec := range recs {
		res, err := r.svc.ReconcileConversation(ctx, rec.ID())
		switch {
		case err != nil:
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			r.log.Warn("会话校验失败", zap.Int64("conversation_id", rec.ID()), zap.Error(err))
			errs = append(errs, err)
		case res.Changed:
			metrics.ReconcileRuns.WithLabelValues("fixed").Inc()
			fixed = append(fixed, *res)
		default:
			metrics.ReconcileRuns.WithLabelValues("ok").Inc()
		}
	}
	return fixed, errors.Join(errs...)
}

// Start 在后台按计划运行，ctx 取消后退出
func (r *Reconciler) Start(ctx context.Context) {
	r.log.Info("会话校验已启动", zap.String("cron", r.schedule), zap.Int("batch", r.batch))
	go r.loop(ctx)
}

func (r *Reconciler) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(r.schedule, time.Now(), false)
		if err != nil {
			r.log.Error("计算下次校验时间失败", zap.String("cron", r.schedule), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			r.runJob(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) runJob(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	fixed, err := r.RunOnce(ctx)
	if err != nil {
		r.log.Error("会话校验出错", zap.Error(err))
	}
	r.log.Info("会话校验完成", zap.Int("fixed", len(fixed)))
}
