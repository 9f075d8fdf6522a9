package handler

import (
	"context"
	"errors"
	"fmt"

	"freight-chat/internal/model"
	"freight-chat/pkg/store"
)

// errForbidden 调用者无权写入该记录
var errForbidden = errors.New("forbidden")

// ownerFields 按单个字段归属用户的集合
var ownerFields = map[string]string{
	model.CollectionUsers:        "id",
	model.CollectionProfiles:     "user_id",
	model.CollectionSettings:     "user_id",
	model.CollectionTyping:       "user_id",
	model.CollectionReactions:    "user_id",
	model.CollectionMessageReads: "reader_id",
	model.CollectionFiles:        "uploaded_by",
}

// senderOnlyFields 只有发送者能修改的消息字段，其余（如 reaction_count）会话成员均可更新
var senderOnlyFields = []string{
	"message_text", "is_edited", "edit_count", "edited_at",
	"is_deleted", "deleted_at", "sender_id", "conversation_id",
}

// writeOp 一次写操作：Create 时 current 为请求体；Update 时 current 为原记录、patch 为变更
type writeOp struct {
	userID     string
	collection string
	current    store.Record
	patch      store.Record
	create     bool
	delete     bool
}

// accessPolicy /items 写操作的归属校验
// 会话类数据要求调用者是会话成员，个人数据要求归属字段等于调用者
type accessPolicy struct {
	store store.Store
}

func (p accessPolicy) authorize(ctx context.Context, op writeOp) error {
	if err := p.check(ctx, op, op.current); err != nil {
		return err
	}
	if len(op.patch) == 0 {
		return nil
	}
	// 不允许把记录改到别人名下
	merged := make(store.Record, len(op.current)+len(op.patch))
	for k, v := range op.current {
		merged[k] = v
	}
	for k, v := range op.patch {
		merged[k] = v
	}
	return p.check(ctx, op, merged)
}

func (p accessPolicy) check(ctx context.Context, op writeOp, rec store.Record) error {
	switch op.collection {
	case model.CollectionConversations:
		if !isParty(rec, op.userID) {
			return errForbidden
		}
		return nil

	case model.CollectionMessages:
		convID, _ := store.ToInt64(rec["conversation_id"])
		if err := p.participant(ctx, op.userID, convID); err != nil {
			return err
		}
		if op.create || op.delete || touches(op.patch, senderOnlyFields) {
			if sender, _ := rec["sender_id"].(string); sender != op.userID {
				return errForbidden
			}
		}
		return nil

	case model.CollectionParticipants:
		convID, _ := store.ToInt64(rec["conversation_id"])
		return p.participant(ctx, op.userID, convID)

	case model.CollectionAttachments:
		msgID, _ := store.ToInt64(rec["message_id"])
		msg, err := p.store.Get(ctx, model.CollectionMessages, msgID, "conversation_id")
		if errors.Is(err, store.ErrNotFound) {
			return errForbidden
		}
		if err != nil {
			return err
		}
		convID, _ := store.ToInt64(msg["conversation_id"])
		return p.participant(ctx, op.userID, convID)

	case model.CollectionNotifications:
		// 通知由发送方为接收者创建，之后只有接收者能修改或删除
		if op.create {
			return nil
		}
		if owner, _ := rec["user_id"].(string); owner != op.userID {
			return errForbidden
		}
		return nil
	}

	if field, ok := ownerFields[op.collection]; ok {
		if owner, _ := rec[field].(string); owner != op.userID {
			return errForbidden
		}
	}
	return nil
}

// participant 用户是会话双方之一，或在成员表中
func (p accessPolicy) participant(ctx context.Context, userID string, conversationID int64) error {
	if conversationID <= 0 {
		return errForbidden
	}
	conv, err := p.store.Get(ctx, model.CollectionConversations, conversationID, "id", "initiator_id", "receiver_id")
	if errors.Is(err, store.ErrNotFound) {
		return errForbidden
	}
	if err != nil {
		return fmt.Errorf("load conversation %d: %w", conversationID, err)
	}
	if isParty(conv, userID) {
		return nil
	}
	members, err := p.store.List(ctx, model.CollectionParticipants, store.Query{
		Filter: store.And(store.Eq("conversation_id", conversationID), store.Eq("user_id", userID)),
		Fields: []string{"id"},
		Limit:  1,
	})
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	if len(members) == 0 {
		return errForbidden
	}
	return nil
}

func isParty(rec store.Record, userID string) bool {
	initiator, _ := rec["initiator_id"].(string)
	receiver, _ := rec["receiver_id"].(string)
	return userID != "" && (initiator == userID || receiver == userID)
}

func touches(patch store.Record, fields []string) bool {
	for _, f := range fields {
		if _, ok := patch[f]; ok {
			return true
		}
	}
	return false
}
