package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"freight-chat/internal/model"
	"freight-chat/pkg/store"

	"go.uber.org/zap"
)

func reactionFilter(userID string, messageID int64, emoji string) store.Filter {
	return store.And(
		store.Eq("message_id", messageID),
		store.Eq("user_id", userID),
		store.Eq("emoji", emoji),
	)
}

// AddReaction 添加表情回应，同一 (消息, 用户, 表情) 只保留一条
func (s *ChatService) AddReaction(ctx context.Context, userID string, messageID int64, emoji string) (*model.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, errors.New("emoji is required")
	}

	rec, err := s.first(ctx, model.CollectionReactions, store.Query{Filter: reactionFilter(userID, messageID, emoji)})
	if err == nil {
		var r model.Reaction
		if err := store.Decode(rec, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find reaction: %w", err)
	}

	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	rec, err = s.store.Create(ctx, model.CollectionReactions, store.Record{
		"message_id":   messageID,
		"user_id":      userID,
		"emoji":        emoji,
		"date_created": s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create reaction: %w", err)
	}
	s.setReactionCount(ctx, messageID, msg.ReactionCount+1)

	var r model.Reaction
	if err := store.Decode(rec, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RemoveReaction 移除表情回应，不存在时直接返回
func (s *ChatService) RemoveReaction(ctx context.Context, userID string, messageID int64, emoji string) error {
	rec, err := s.first(ctx, model.CollectionReactions, store.Query{
		Filter: reactionFilter(userID, messageID, strings.TrimSpace(emoji)),
		Fields: []string{"id"},
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find reaction: %w", err)
	}
	if err := s.store.Delete(ctx, model.CollectionReactions, rec.ID()); err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}

	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		s.log.Warn("查询消息失败", zap.Int64("message_id", messageID), zap.Error(err))
		return nil
	}
	s.setReactionCount(ctx, messageID, max(msg.ReactionCount-1, 0))
	return nil
}

// setReactionCount 冗余计数，失败只记录日志
func (s *ChatService) setReactionCount(ctx context.Context, messageID int64, n int) {
	if _, err := s.store.Update(ctx, model.CollectionMessages, messageID, store.Record{"reaction_count": n}); err != nil {
		s.log.Warn("更新表情计数失败", zap.Int64("message_id", messageID), zap.Error(err))
	}
}

// ListReactions 消息的全部表情回应
func (s *ChatService) ListReactions(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	recs, err := s.store.List(ctx, model.CollectionReactions, store.Query{
		Filter: store.Eq("message_id", messageID),
		Sort:   []string{"date_created", "id"},
		Limit:  -1,
	})
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return store.DecodeAll[model.Reaction](recs)
}
