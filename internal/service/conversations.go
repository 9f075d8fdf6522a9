package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"freight-chat/internal/model"
	"freight-chat/pkg/store"

	"go.uber.org/zap"
)

const (
	previewLength   = 60
	noMessagesLabel = "No messages yet"
)

// Party 会话另一方的展示信息
type Party struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
}

// Preview 会话列表中的最新消息摘要
type Preview struct {
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
	Empty bool      `json:"empty"`
}

// ConversationView 带展示信息的会话，原始字段保持不变
type ConversationView struct {
	model.Conversation
	OtherParty Party   `json:"other_party"`
	Preview    Preview `json:"preview"`
	Archived   bool    `json:"archived"`
}

// NewConversation 创建会话的参数
type NewConversation struct {
	InitiatorID string
	ReceiverID  string
	ShipmentID  *int64
	BidID       *int64
}

func participantFilter(userID string) store.Filter {
	return store.Or(store.Eq("initiator_id", userID), store.Eq("receiver_id", userID))
}

// ListConversations 按最近活动（date_updated，创建时即写入）倒序返回用户的会话，并补全对方信息和消息摘要
// 补全失败只会降级为默认值，不影响整个列表
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	recs, err := s.store.List(ctx, model.CollectionConversations, store.Query{
		Filter: participantFilter(userID),
		Sort:   []string{"-date_updated", "-date_created"},
		Limit:  s.pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	views := make([]ConversationView, 0, len(recs))
	for _, rec := range recs {
		var conv model.Conversation
		if err := store.Decode(rec, &conv); err != nil {
			s.log.Warn("跳过无法解析的会话", zap.Any("id", rec["id"]), zap.Error(err))
			continue
		}
		views = append(views, ConversationView{
			Conversation: conv,
			OtherParty:   s.resolveParty(ctx, conv.OtherParty(userID)),
			Preview:      s.preview(ctx, &conv),
			Archived:     conv.IsArchivedFor(userID),
		})
	}
	return views, nil
}

// resolveParty 组合用户姓名与资料头像，任一查询失败时返回 "User {id}"
func (s *ChatService) resolveParty(ctx context.Context, userID string) Party {
	fallback := Party{ID: userID, Name: "User " + userID}

	user, err := s.store.Get(ctx, model.CollectionUsers, userID, "first_name", "last_name")
	if err != nil {
		s.log.Warn("查询用户信息失败", zap.String("user_id", userID), zap.Error(err))
		return fallback
	}
	profiles, err := s.store.List(ctx, model.CollectionProfiles, store.Query{
		Filter: store.Eq("user_id", userID),
		Fields: []string{"avatar"},
		Limit:  1,
	})
	if err != nil {
		s.log.Warn("查询用户资料失败", zap.String("user_id", userID), zap.Error(err))
		return fallback
	}

	party := fallback
	first, _ := user["first_name"].(string)
	last, _ := user["last_name"].(string)
	if name := strings.TrimSpace(first + " " + last); name != "" {
		party.Name = name
	}
	if len(profiles) > 0 {
		if avatar := ref(profiles[0]["avatar"]); avatar != "" {
			party.Avatar = &avatar
		}
	}
	return party
}

// preview 计数为正且有最新消息指针时取该消息内容，否则显示占位文本
func (s *ChatService) preview(ctx context.Context, conv *model.Conversation) Preview {
	placeholder := Preview{Text: noMessagesLabel, At: conv.DateCreated, Empty: true}
	if conv.TotalMessageCount <= 0 || conv.LastMessageID == nil {
		return placeholder
	}

	rec, err := s.store.Get(ctx, model.CollectionMessages, *conv.LastMessageID, "message_text", "date_created")
	if err != nil {
		s.log.Warn("查询最新消息失败", zap.Int64("conversation_id", conv.ID), zap.Int64("message_id", *conv.LastMessageID), zap.Error(err))
		if conv.LastMessageAt != nil {
			placeholder.At = *conv.LastMessageAt
		}
		return placeholder
	}

	var msg model.Message
	if err := store.Decode(rec, &msg); err != nil || msg.MessageText == "" {
		return placeholder
	}
	return Preview{Text: truncate(msg.MessageText, previewLength), At: msg.DateCreated}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// GetConversation 获取会话，userID 必须是会话一方
func (s *ChatService) GetConversation(ctx context.Context, userID string, id int64) (*model.Conversation, error) {
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conv, nil
}

// CanJoin 用户能否加入会话房间（必须是会话双方之一）
func (s *ChatService) CanJoin(ctx context.Context, userID string, conversationID int64) (bool, error) {
	_, err := s.GetConversation(ctx, userID, conversationID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrForbidden), errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *ChatService) getConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	rec, err := s.store.Get(ctx, model.CollectionConversations, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	var conv model.Conversation
	if err := store.Decode(rec, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetOrCreateConversation 查找两个用户关于同一运单的会话，不存在时创建
// 返回值 created 表示是否新建
func (s *ChatService) GetOrCreateConversation(ctx context.Context, req NewConversation) (*model.Conversation, bool, error) {
	if req.InitiatorID == "" || req.ReceiverID == "" {
		return nil, false, errors.New("both participants are required")
	}
	if req.InitiatorID == req.ReceiverID {
		return nil, false, errors.New("cannot start a conversation with yourself")
	}

	a, b := req.InitiatorID, req.ReceiverID
	shipment := store.IsNull("shipment_id")
	if req.ShipmentID != nil {
		shipment = store.Eq("shipment_id", *req.ShipmentID)
	}
	rec, err := s.first(ctx, model.CollectionConversations, store.Query{
		Filter: store.And(
			store.Or(
				store.And(store.Eq("initiator_id", a), store.Eq("receiver_id", b)),
				store.And(store.Eq("initiator_id", b), store.Eq("receiver_id", a)),
			),
			shipment,
		),
		Sort: []string{"-date_created"},
	})
	switch {
	case err == nil:
		var conv model.Conversation
		if err := store.Decode(rec, &conv); err != nil {
			return nil, false, err
		}
		return &conv, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}

	now := s.now()
	created, err := s.store.Create(ctx, model.CollectionConversations, store.Record{
		"initiator_id":             a,
		"receiver_id":              b,
		"shipment_id":              nullable(req.ShipmentID),
		"bid_id":                   nullable(req.BidID),
		"conversation_type":        model.ConversationTypeDirect,
		"total_message_count":      0,
		"last_message_id":          nil,
		"last_message_at":          nil,
		"is_archived_by_initiator": false,
		"is_archived_by_receiver":  false,
		"is_closed":                false,
		"date_created":             now,
		"date_updated":             now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	var conv model.Conversation
	if err := store.Decode(created, &conv); err != nil {
		return nil, false, err
	}
	s.log.Info("创建会话", zap.Int64("conversation_id", conv.ID), zap.String("initiator_id", a), zap.String("receiver_id", b))
	return &conv, true, nil
}

// ArchiveConversation 只对 userID 一方归档
func (s *ChatService) ArchiveConversation(ctx context.Context, userID string, id int64) error {
	return s.setArchived(ctx, userID, id, true)
}

// UnarchiveConversation 取消归档
func (s *ChatService) UnarchiveConversation(ctx context.Context, userID string, id int64) error {
	return s.setArchived(ctx, userID, id, false)
}

func (s *ChatService) setArchived(ctx context.Context, userID string, id int64, archived bool) error {
	conv, err := s.GetConversation(ctx, userID, id)
	if err != nil {
		return err
	}
	field := "is_archived_by_receiver"
	if conv.InitiatorID == userID {
		field = "is_archived_by_initiator"
	}
	_, err = s.store.Update(ctx, model.CollectionConversations, id, store.Record{
		field:          archived,
		"date_updated": s.now(),
	})
	return err
}

// CloseConversation 关闭会话（双方可见）
func (s *ChatService) CloseConversation(ctx context.Context, userID string, id int64) error {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return err
	}
	_, err := s.store.Update(ctx, model.CollectionConversations, id, store.Record{
		"is_closed":    true,
		"date_updated": s.now(),
	})
	return err
}
