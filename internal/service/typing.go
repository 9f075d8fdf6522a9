package service

import (
	"context"
	"fmt"
	"time"

	"freight-chat/internal/model"
	"freight-chat/pkg/store"
)

// TypingTTL 输入状态记录的有效期
const TypingTTL = 5 * time.Second

// StartTyping 记录正在输入，5秒后自然过期
// 实时推送是主要信号，这里是备用和审计路径
func (s *ChatService) StartTyping(ctx context.Context, userID string, conversationID int64) (*model.TypingIndicator, error) {
	now := s.now()
	rec, err := s.store.Create(ctx, model.CollectionTyping, store.Record{
		"conversation_id": conversationID,
		"user_id":         userID,
		"started_at":      now,
		"expires_at":      now.Add(TypingTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create typing indicator: %w", err)
	}
	var t model.TypingIndicator
	if err := store.Decode(rec, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// StopTyping 删除用户在会话中的全部输入状态记录，返回删除数量
func (s *ChatService) StopTyping(ctx context.Context, userID string, conversationID int64) (int, error) {
	recs, err := s.store.List(ctx, model.CollectionTyping, store.Query{
		Filter: store.And(
			store.Eq("conversation_id", conversationID),
			store.Eq("user_id", userID),
		),
		Fields: []string{"id"},
		Limit:  -1,
	})
	if err != nil {
		return 0, fmt.Errorf("list typing indicators: %w", err)
	}
	for i, rec := range recs {
		if err := s.store.Delete(ctx, model.CollectionTyping, rec.ID()); err != nil {
			return i, fmt.Errorf("delete typing indicator %d: %w", rec.ID(), err)
		}
	}
	return len(recs), nil
}

// GetActiveTyping 未过期的输入状态
func (s *ChatService) GetActiveTyping(ctx context.Context, conversationID int64) ([]model.TypingIndicator, error) {
	recs, err := s.store.List(ctx, model.CollectionTyping, store.Query{
		Filter: store.And(
			store.Eq("conversation_id", conversationID),
			store.Gt("expires_at", s.now()),
		),
		Sort:  []string{"started_at"},
		Limit: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("list typing indicators: %w", err)
	}
	return store.DecodeAll[model.TypingIndicator](recs)
}
