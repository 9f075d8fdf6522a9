package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"freight-chat/internal/model"
	"freight-chat/pkg/realtime"
	"freight-chat/pkg/store"

	"go.uber.org/zap"
)

// SendRequest 发送消息的参数
type SendRequest struct {
	ConversationID int64
	SenderID       string
	Text           string
	MessageType    string // 为空时为 text
	ReplyToID      *int64
}

// SendResult 发送结果
// 消息写入成功即返回 nil error；计数修复失败记录在 RepairErr，实时推送结果在 Delivery
type SendResult struct {
	Message      *model.Message
	Conversation *model.Conversation // 修复失败时为 nil
	RepairErr    error
	Delivery     realtime.Delivery
}

// DeleteResult 删除结果，语义同 SendResult
type DeleteResult struct {
	Message      *model.Message
	Conversation *model.Conversation
	RepairErr    error
	Delivery     realtime.Delivery
}

// NormalizeMessage 校验并整理原始消息记录
// 内容为空或无法解析发送者时返回 ErrMalformedMessage
func NormalizeMessage(rec store.Record) (*model.Message, error) {
	text, _ := rec["message_text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message %d has no text", ErrMalformedMessage, rec.ID())
	}
	sender := ref(rec["sender_id"])
	if sender == "" {
		return nil, fmt.Errorf("%w: message %d has no sender", ErrMalformedMessage, rec.ID())
	}

	row := make(store.Record, len(rec))
	for k, v := range rec {
		row[k] = v
	}
	row["sender_id"] = sender
	if conv, ok := rec["conversation_id"].(map[string]any); ok {
		row["conversation_id"] = conv["id"]
	}
	if row["message_type"] == nil || row["message_type"] == "" {
		row["message_type"] = model.MessageTypeText
	}

	var msg model.Message
	if err := store.Decode(row, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &msg, nil
}

// NormalizeMessages 整理一组消息，丢弃格式错误的记录并记录日志
func (s *ChatService) NormalizeMessages(recs []store.Record) []model.Message {
	out := make([]model.Message, 0, len(recs))
	for _, rec := range recs {
		msg, err := NormalizeMessage(rec)
		if err != nil {
			s.log.Warn("丢弃格式错误的消息", zap.Any("id", rec["id"]), zap.Error(err))
			continue
		}
		out = append(out, *msg)
	}
	return out
}

func liveMessages(conversationID int64) store.Filter {
	return store.And(
		store.Eq("conversation_id", conversationID),
		store.Neq("is_deleted", true),
	)
}

// GetMessages 按时间正序分页获取会话消息，并合并当前用户视角的回执状态
func (s *ChatService) GetMessages(ctx context.Context, userID string, conversationID int64, page Page) ([]model.Message, error) {
	recs, err := s.store.List(ctx, model.CollectionMessages, store.Query{
		Filter: liveMessages(conversationID),
		Sort:   []string{"date_created", "id"},
		Limit:  s.limit(page),
		Offset: page.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := s.NormalizeMessages(recs)
	if len(msgs) == 0 {
		return msgs, nil
	}

	reads, err := s.readsFor(ctx, msgs)
	if err != nil {
		s.log.Warn("查询消息回执失败", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return msgs, nil
	}
	mergeReadState(msgs, reads, userID)
	return msgs, nil
}

func (s *ChatService) readsFor(ctx context.Context, msgs []model.Message) (map[int64][]model.MessageRead, error) {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	recs, err := s.store.List(ctx, model.CollectionMessageReads, store.Query{
		Filter: store.In("message_id", ids...),
		Limit:  -1,
	})
	if err != nil {
		return nil, err
	}
	reads, err := store.DecodeAll[model.MessageRead](recs)
	if err != nil {
		return nil, err
	}
	byMessage := make(map[int64][]model.MessageRead, len(msgs))
	for _, r := range reads {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}
	return byMessage, nil
}

// mergeReadState 自己发的消息：其他读者全部 READ 才是 READ，有回执则为 DELIVERED
// 收到的消息：直接取自己的回执
func mergeReadState(msgs []model.Message, reads map[int64][]model.MessageRead, userID string) {
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID == userID {
			others := make([]model.MessageRead, 0, len(reads[m.ID]))
			for _, r := range reads[m.ID] {
				if r.ReaderID != userID {
					others = append(others, r)
				}
			}
			m.Status = effectiveStatus(others)
			continue
		}
		for _, r := range reads[m.ID] {
			if r.ReaderID == userID {
				m.Status = r.Status
				m.ReadAt = r.ReadAt
				m.DeliveredAt = r.DeliveredAt
				break
			}
		}
	}
}

// SendMessage 两阶段发送：先写入消息（必须成功），再尽力更新会话计数和最新消息指针
func (s *ChatService) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}
	if req.SenderID == "" {
		return nil, fmt.Errorf("%w: sender required", ErrMalformedMessage)
	}
	msgType := req.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	rec, err := s.store.Create(ctx, model.CollectionMessages, store.Record{
		"conversation_id": req.ConversationID,
		"sender_id":       req.SenderID,
		"message_text":    req.Text,
		"message_type":    msgType,
		"reply_to_id":     nullable(req.ReplyToID),
		"is_deleted":      false,
		"is_edited":       false,
		"edit_count":      0,
		"reaction_count":  0,
		"date_created":    s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	msg, err := NormalizeMessage(rec)
	if err != nil {
		return nil, fmt.Errorf("created message is invalid: %w", err)
	}

	res := &SendResult{Message: msg, Delivery: realtime.Dropped}
	res.Conversation, res.RepairErr = s.applySend(ctx, msg)
	if res.RepairErr != nil {
		s.log.Warn("发送后更新会话计数失败", zap.Int64("conversation_id", msg.ConversationID), zap.Int64("message_id", msg.ID), zap.Error(res.RepairErr))
	}
	s.bumpUnread(ctx, msg)

	if s.rt != nil {
		d, err := s.rt.SendMessage(ctx, realtime.SendMessagePayload{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Content:        msg.MessageText,
			CreatedAt:      msg.DateCreated,
		})
		if err != nil {
			s.log.Warn("推送新消息失败", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
		res.Delivery = d
		if res.Conversation != nil {
			s.emitUpdate(ctx, conversationUpdate(res.Conversation, msg.MessageText))
		}
	}
	return res, nil
}

// applySend 计数加一并把指针移到新消息
func (s *ChatService) applySend(ctx context.Context, msg *model.Message) (*model.Conversation, error) {
	conv, err := s.getConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	at := msg.DateCreated
	rec, err := s.store.Update(ctx, model.CollectionConversations, conv.ID, store.Record{
		"total_message_count": conv.TotalMessageCount + 1,
		"last_message_id":     msg.ID,
		"last_message_at":     at,
		"date_updated":        s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("update conversation %d: %w", conv.ID, err)
	}
	var updated model.Conversation
	if err := store.Decode(rec, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// bumpUnread 其他成员未读数加一，失败只记录日志
func (s *ChatService) bumpUnread(ctx context.Context, msg *model.Message) {
	recs, err := s.store.List(ctx, model.CollectionParticipants, store.Query{
		Filter: store.And(
			store.Eq("conversation_id", msg.ConversationID),
			store.Neq("user_id", msg.SenderID),
		),
		Fields: []string{"id", "unread_count"},
		Limit:  -1,
	})
	if err != nil {
		s.log.Warn("查询会话成员失败", zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
		return
	}
	for _, rec := range recs {
		n, _ := store.ToInt64(rec["unread_count"])
		if _, err := s.store.Update(ctx, model.CollectionParticipants, rec.ID(), store.Record{"unread_count": n + 1}); err != nil {
			s.log.Warn("更新未读数失败", zap.Int64("participant_id", rec.ID()), zap.Error(err))
		}
	}
}

// EditMessage 修改消息内容，只有发送者可以编辑
func (s *ChatService) EditMessage(ctx context.Context, userID string, messageID int64, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrForbidden
	}
	if msg.IsDeleted {
		return nil, fmt.Errorf("message %d: %w", messageID, store.ErrNotFound)
	}

	rec, err := s.store.Update(ctx, model.CollectionMessages, messageID, store.Record{
		"message_text": text,
		"is_edited":    true,
		"edit_count":   msg.EditCount + 1,
		"edited_at":    s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("edit message %d: %w", messageID, err)
	}
	return NormalizeMessage(rec)
}

func (s *ChatService) getMessage(ctx context.Context, id int64) (*model.Message, error) {
	rec, err := s.store.Get(ctx, model.CollectionMessages, id)
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return NormalizeMessage(rec)
}

// DeleteMessage 软删除消息后修复会话：计数减一（不小于0），并重新计算最新消息指针
// 已删除的消息再次删除不会重复修复
func (s *ChatService) DeleteMessage(ctx context.Context, userID string, messageID int64) (*DeleteResult, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrForbidden
	}
	res := &DeleteResult{Message: msg, Delivery: realtime.Dropped}
	if msg.IsDeleted {
		return res, nil
	}

	now := s.now()
	if _, err := s.store.Update(ctx, model.CollectionMessages, messageID, store.Record{
		"is_deleted": true,
		"deleted_at": now,
	}); err != nil {
		return nil, fmt.Errorf("delete message %d: %w", messageID, err)
	}
	msg.IsDeleted = true
	msg.DeletedAt = &now

	res.Conversation, res.RepairErr = s.applyDelete(ctx, msg.ConversationID)
	if res.RepairErr != nil {
		s.log.Warn("删除后修复会话失败", zap.Int64("conversation_id", msg.ConversationID), zap.Int64("message_id", messageID), zap.Error(res.RepairErr))
		return res, nil
	}
	res.Delivery = s.emitUpdate(ctx, conversationUpdate(res.Conversation, s.pointerText(ctx, res.Conversation)))
	return res, nil
}

// applyDelete 计数减一并从剩余消息中重新确定指针
func (s *ChatService) applyDelete(ctx context.Context, conversationID int64) (*model.Conversation, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	latest, err := s.latestMessage(ctx, conversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve last message: %w", err)
	}

	count := max(conv.TotalMessageCount-1, 0)
	patch := store.Record{
		"total_message_count": count,
		"last_message_id":     nil,
		"last_message_at":     nil,
		"date_updated":        s.now(),
	}
	if latest != nil {
		patch["last_message_id"] = latest.ID
		patch["last_message_at"] = latest.DateCreated
	}
	rec, err := s.store.Update(ctx, model.CollectionConversations, conversationID, patch)
	if err != nil {
		return nil, fmt.Errorf("update conversation %d: %w", conversationID, err)
	}
	var updated model.Conversation
	if err := store.Decode(rec, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// latestMessage 会话中最新的未删除消息
func (s *ChatService) latestMessage(ctx context.Context, conversationID int64) (*model.Message, error) {
	rec, err := s.first(ctx, model.CollectionMessages, store.Query{
		Filter: liveMessages(conversationID),
		Fields: []string{"id", "message_text", "date_created"},
		Sort:   []string{"-date_created", "-id"},
	})
	if err != nil {
		return nil, err
	}
	var msg model.Message
	if err := store.Decode(rec, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *ChatService) pointerText(ctx context.Context, conv *model.Conversation) string {
	if conv.LastMessageID == nil {
		return ""
	}
	rec, err := s.store.Get(ctx, model.CollectionMessages, *conv.LastMessageID, "message_text")
	if err != nil {
		return ""
	}
	text, _ := rec["message_text"].(string)
	return text
}

func conversationUpdate(conv *model.Conversation, text string) realtime.ConversationUpdate {
	return realtime.ConversationUpdate{
		ConversationID:     conv.ID,
		TotalMessageCount:  conv.TotalMessageCount,
		LastMessageID:      conv.LastMessageID,
		LastMessageAt:      conv.LastMessageAt,
		LastMessagePreview: truncate(text, previewLength),
	}
}
