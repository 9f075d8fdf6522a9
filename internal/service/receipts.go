package service

import (
	"context"
	"errors"
	"fmt"

	"freight-chat/internal/model"
	"freight-chat/pkg/realtime"
	"freight-chat/pkg/store"

	"go.uber.org/zap"
)

// effectiveStatus 发送者视角的状态：全部 READ 为 READ，有回执为 DELIVERED，否则为空
func effectiveStatus(reads []model.MessageRead) string {
	if len(reads) == 0 {
		return ""
	}
	for _, r := range reads {
		if r.Status != model.StatusRead {
			return model.StatusDelivered
		}
	}
	return model.StatusRead
}

// EffectiveStatus 计算 senderID 发出的消息当前的回执状态
func (s *ChatService) EffectiveStatus(ctx context.Context, senderID string, messageID int64) (string, error) {
	recs, err := s.store.List(ctx, model.CollectionMessageReads, store.Query{
		Filter: store.And(
			store.Eq("message_id", messageID),
			store.Neq("reader_id", senderID),
		),
		Limit: -1,
	})
	if err != nil {
		return "", fmt.Errorf("list receipts: %w", err)
	}
	reads, err := store.DecodeAll[model.MessageRead](recs)
	if err != nil {
		return "", err
	}
	return effectiveStatus(reads), nil
}

func (s *ChatService) findReceipt(ctx context.Context, readerID string, messageID int64) (*model.MessageRead, error) {
	rec, err := s.first(ctx, model.CollectionMessageReads, store.Query{
		Filter: store.And(
			store.Eq("message_id", messageID),
			store.Eq("reader_id", readerID),
		),
	})
	if err != nil {
		return nil, err
	}
	var r model.MessageRead
	if err := store.Decode(rec, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeReceipt(rec store.Record, err error) (*model.MessageRead, error) {
	if err != nil {
		return nil, err
	}
	var r model.MessageRead
	if err := store.Decode(rec, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func receiptRecord(readerID string, messageID, conversationID int64) store.Record {
	rec := store.Record{
		"message_id":      messageID,
		"reader_id":       readerID,
		"conversation_id": nil,
	}
	if conversationID > 0 {
		rec["conversation_id"] = conversationID
	}
	return rec
}

// MarkAsDelivered 标记已送达，已有回执时不做任何事
// conversationID 大于0时同时推送 message_delivered
func (s *ChatService) MarkAsDelivered(ctx context.Context, readerID string, messageID, conversationID int64) (*model.MessageRead, error) {
	existing, err := s.findReceipt(ctx, readerID, messageID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find receipt: %w", err)
	}

	now := s.now()
	rec := receiptRecord(readerID, messageID, conversationID)
	rec["status"] = model.StatusDelivered
	rec["delivered_at"] = now
	rec["read_at"] = nil
	receipt, err := decodeReceipt(s.store.Create(ctx, model.CollectionMessageReads, rec))
	if err != nil {
		return nil, fmt.Errorf("create receipt: %w", err)
	}

	if s.rt != nil && conversationID > 0 {
		if _, err := s.rt.MarkMessageAsDelivered(ctx, realtime.DeliveredPayload{
			ConversationID: conversationID,
			MessageID:      messageID,
			DeliveredAt:    &now,
		}); err != nil {
			s.log.Warn("推送送达回执失败", zap.Int64("message_id", messageID), zap.Error(err))
		}
	}
	return receipt, nil
}

// MarkAsRead 标记已读：已有 DELIVERED 回执时原地升级，没有回执时直接创建 READ
func (s *ChatService) MarkAsRead(ctx context.Context, readerID string, messageID, conversationID int64) (*model.MessageRead, error) {
	r, _, err := s.markRead(ctx, readerID, messageID, conversationID)
	return r, err
}

// markRead changed 表示是否发生了状态变化
func (s *ChatService) markRead(ctx context.Context, readerID string, messageID, conversationID int64) (*model.MessageRead, bool, error) {
	existing, err := s.findReceipt(ctx, readerID, messageID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("find receipt: %w", err)
	}
	if existing != nil && existing.Status == model.StatusRead {
		return existing, false, nil
	}

	now := s.now()
	var receipt *model.MessageRead
	if existing != nil {
		receipt, err = decodeReceipt(s.store.Update(ctx, model.CollectionMessageReads, existing.ID, store.Record{
			"status":  model.StatusRead,
			"read_at": now,
		}))
	} else {
		rec := receiptRecord(readerID, messageID, conversationID)
		rec["status"] = model.StatusRead
		rec["delivered_at"] = now
		rec["read_at"] = now
		receipt, err = decodeReceipt(s.store.Create(ctx, model.CollectionMessageReads, rec))
	}
	if err != nil {
		return nil, false, fmt.Errorf("save receipt: %w", err)
	}

	if s.rt != nil && conversationID > 0 {
		if _, err := s.rt.MarkMessageAsRead(ctx, realtime.ReadPayload{
			ConversationID: conversationID,
			MessageID:      messageID,
			ReadAt:         &now,
		}); err != nil {
			s.log.Warn("推送已读回执失败", zap.Int64("message_id", messageID), zap.Error(err))
		}
	}
	return receipt, true, nil
}

// MarkConversationAsRead 把会话中收到的消息全部标记为已读，并清零成员未读数
// 返回新标记的消息数量
func (s *ChatService) MarkConversationAsRead(ctx context.Context, readerID string, conversationID int64) (int, error) {
	recs, err := s.store.List(ctx, model.CollectionMessages, store.Query{
		Filter: store.And(liveMessages(conversationID), store.Neq("sender_id", readerID)),
		Fields: []string{"id"},
		Sort:   []string{"date_created", "id"},
		Limit:  -1,
	})
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}

	marked := 0
	var lastID int64
	for _, rec := range recs {
		_, changed, err := s.markRead(ctx, readerID, rec.ID(), conversationID)
		if err != nil {
			return marked, err
		}
		if changed {
			marked++
		}
		lastID = rec.ID()
	}

	participant, err := s.first(ctx, model.CollectionParticipants, store.Query{
		Filter: store.And(
			store.Eq("conversation_id", conversationID),
			store.Eq("user_id", readerID),
		),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		s.log.Warn("查询会话成员失败", zap.Int64("conversation_id", conversationID), zap.Error(err))
	default:
		patch := store.Record{"unread_count": 0}
		if lastID > 0 {
			patch["last_read_message_id"] = lastID
		}
		if _, err := s.store.Update(ctx, model.CollectionParticipants, participant.ID(), patch); err != nil {
			s.log.Warn("清零未读数失败", zap.Int64("conversation_id", conversationID), zap.Error(err))
		}
	}
	return marked, nil
}
