package service

import (
	"context"
	"fmt"

	"freight-chat/internal/model"
	"freight-chat/pkg/store"

	"go.uber.org/zap"
)

// ListNotifications 用户的通知，查询失败时返回空列表
func (s *ChatService) ListNotifications(ctx context.Context, userID string, unreadOnly bool) []model.Notification {
	filter := store.Eq("user_id", userID)
	if unreadOnly {
		filter = store.And(filter, store.Eq("is_read", false))
	}
	recs, err := s.store.List(ctx, model.CollectionNotifications, store.Query{
		Filter: filter,
		Sort:   []string{"-date_created"},
		Limit:  s.pageSize,
	})
	if err != nil {
		s.log.Warn("查询通知失败", zap.String("user_id", userID), zap.Error(err))
		return []model.Notification{}
	}
	out, err := store.DecodeAll[model.Notification](recs)
	if err != nil {
		s.log.Warn("解析通知失败", zap.String("user_id", userID), zap.Error(err))
		return []model.Notification{}
	}
	return out
}

// CreateNotification 创建通知
func (s *ChatService) CreateNotification(ctx context.Context, n model.Notification) (*model.Notification, error) {
	if n.UserID == "" {
		return nil, fmt.Errorf("notification recipient required")
	}
	n.ID = 0
	n.IsRead = false
	if n.DateCreated.IsZero() {
		n.DateCreated = s.now()
	}
	rec, err := store.Encode(n)
	if err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, model.CollectionNotifications, rec)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	var out model.Notification
	if err := store.Decode(created, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkNotificationRead 标记通知已读，只能操作自己的通知
func (s *ChatService) MarkNotificationRead(ctx context.Context, userID string, id int64) error {
	rec, err := s.store.Get(ctx, model.CollectionNotifications, id, "user_id")
	if err != nil {
		return fmt.Errorf("get notification %d: %w", id, err)
	}
	if ref(rec["user_id"]) != userID {
		return ErrForbidden
	}
	_, err = s.store.Update(ctx, model.CollectionNotifications, id, store.Record{"is_read": true})
	return err
}
