package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freight-chat/internal/model"
	"freight-chat/pkg/store"
)

const defaultRole = "member"

// SettingsPatch 会话设置的局部更新，nil 字段保持不变
type SettingsPatch struct {
	IsMuted              *bool
	MutedUntil           *time.Time
	NotificationsEnabled *bool
	IsPinned             *bool
}

func memberFilter(conversationID int64, userID string) store.Filter {
	return store.And(
		store.Eq("conversation_id", conversationID),
		store.Eq("user_id", userID),
	)
}

// ListParticipants 会话成员
func (s *ChatService) ListParticipants(ctx context.Context, conversationID int64) ([]model.Participant, error) {
	recs, err := s.store.List(ctx, model.CollectionParticipants, store.Query{
		Filter: store.Eq("conversation_id", conversationID),
		Sort:   []string{"joined_at", "id"},
		Limit:  -1,
	})
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return store.DecodeAll[model.Participant](recs)
}

// AddParticipant 添加成员，已存在时返回已有记录
func (s *ChatService) AddParticipant(ctx context.Context, conversationID int64, userID, role string) (*model.Participant, error) {
	rec, err := s.first(ctx, model.CollectionParticipants, store.Query{Filter: memberFilter(conversationID, userID)})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find participant: %w", err)
		}
		if role == "" {
			role = defaultRole
		}
		rec, err = s.store.Create(ctx, model.CollectionParticipants, store.Record{
			"conversation_id":      conversationID,
			"user_id":              userID,
			"role":                 role,
			"is_muted":             false,
			"unread_count":         0,
			"last_read_message_id": nil,
			"joined_at":            s.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("create participant: %w", err)
		}
	}
	var p model.Participant
	if err := store.Decode(rec, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RemoveParticipant 移除成员
func (s *ChatService) RemoveParticipant(ctx context.Context, conversationID int64, userID string) error {
	rec, err := s.first(ctx, model.CollectionParticipants, store.Query{
		Filter: memberFilter(conversationID, userID),
		Fields: []string{"id"},
	})
	if err != nil {
		return fmt.Errorf("find participant: %w", err)
	}
	return s.store.Delete(ctx, model.CollectionParticipants, rec.ID())
}

// GetSettings 用户对会话的设置，没有记录时返回默认值
func (s *ChatService) GetSettings(ctx context.Context, userID string, conversationID int64) (*model.ConversationSettings, error) {
	rec, err := s.first(ctx, model.CollectionSettings, store.Query{Filter: memberFilter(conversationID, userID)})
	if errors.Is(err, store.ErrNotFound) {
		return &model.ConversationSettings{
			ConversationID:       conversationID,
			UserID:               userID,
			NotificationsEnabled: true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	var cs model.ConversationSettings
	if err := store.Decode(rec, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// UpdateSettings 更新设置，不存在时以默认值为基础创建
func (s *ChatService) UpdateSettings(ctx context.Context, userID string, conversationID int64, patch SettingsPatch) (*model.ConversationSettings, error) {
	rec := store.Record{}
	if patch.IsMuted != nil {
		rec["is_muted"] = *patch.IsMuted
	}
	if patch.MutedUntil != nil {
		rec["muted_until"] = *patch.MutedUntil
	}
	if patch.NotificationsEnabled != nil {
		rec["notifications_enabled"] = *patch.NotificationsEnabled
	}
	if patch.IsPinned != nil {
		rec["is_pinned"] = *patch.IsPinned
	}
	return s.upsertSettings(ctx, userID, conversationID, rec)
}

// MuteConversation 静音，until 为 nil 表示一直静音
func (s *ChatService) MuteConversation(ctx context.Context, userID string, conversationID int64, until *time.Time) (*model.ConversationSettings, error) {
	return s.upsertSettings(ctx, userID, conversationID, store.Record{
		"is_muted":    true,
		"muted_until": nullable(until),
	})
}

// UnmuteConversation 取消静音
func (s *ChatService) UnmuteConversation(ctx context.Context, userID string, conversationID int64) (*model.ConversationSettings, error) {
	return s.upsertSettings(ctx, userID, conversationID, store.Record{
		"is_muted":    false,
		"muted_until": nil,
	})
}

func (s *ChatService) upsertSettings(ctx context.Context, userID string, conversationID int64, patch store.Record) (*model.ConversationSettings, error) {
	current, err := s.GetSettings(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	var rec store.Record
	if current.ID == 0 {
		base, err := store.Encode(current)
		if err != nil {
			return nil, err
		}
		for k, v := range patch {
			base[k] = v
		}
		rec, err = s.store.Create(ctx, model.CollectionSettings, base)
		if err != nil {
			return nil, fmt.Errorf("create settings: %w", err)
		}
	} else if len(patch) > 0 {
		rec, err = s.store.Update(ctx, model.CollectionSettings, current.ID, patch)
		if err != nil {
			return nil, fmt.Errorf("update settings: %w", err)
		}
	} else {
		return current, nil
	}

	var cs model.ConversationSettings
	if err := store.Decode(rec, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}
