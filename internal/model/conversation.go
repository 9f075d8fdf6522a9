package model

import "time"

// ConversationTypeDirect 两个用户之间的会话
const ConversationTypeDirect = "direct"

// Conversation 会话
// TotalMessageCount 必须等于未删除消息数，LastMessageID 指向最新的未删除消息
type Conversation struct {
	ID                    int64      `json:"id,omitempty" gorm:"primaryKey"`
	InitiatorID           string     `json:"initiator_id" gorm:"type:varchar(64);not null;index;comment:发起者"`
	ReceiverID            string     `json:"receiver_id" gorm:"type:varchar(64);not null;index;comment:接收者"`
	ShipmentID            *int64     `json:"shipment_id" gorm:"index;comment:关联运单"`
	BidID                 *int64     `json:"bid_id" gorm:"index;comment:关联报价"`
	ConversationType      string     `json:"conversation_type" gorm:"type:varchar(32);default:'direct'"`
	TotalMessageCount     int        `json:"total_message_count" gorm:"not null;default:0;comment:消息总数"`
	LastMessageID         *int64     `json:"last_message_id" gorm:"comment:最新消息"`
	LastMessageAt         *time.Time `json:"last_message_at" gorm:"index"`
	IsArchivedByInitiator bool       `json:"is_archived_by_initiator" gorm:"default:false"`
	IsArchivedByReceiver  bool       `json:"is_archived_by_receiver" gorm:"default:false"`
	IsClosed              bool       `json:"is_closed" gorm:"default:false"`
	DateCreated           time.Time  `json:"date_created" gorm:"autoCreateTime"`
	DateUpdated           *time.Time `json:"date_updated"`
}

func (Conversation) TableName() string { return CollectionConversations }

// OtherParty 返回会话中 userID 之外的另一方
func (c Conversation) OtherParty(userID string) string {
	if c.InitiatorID == userID {
		return c.ReceiverID
	}
	return c.InitiatorID
}

// IsArchivedFor 会话是否被 userID 归档
func (c Conversation) IsArchivedFor(userID string) bool {
	if c.InitiatorID == userID {
		return c.IsArchivedByInitiator
	}
	if c.ReceiverID == userID {
		return c.IsArchivedByReceiver
	}
	return false
}

// HasParticipant userID 是否为会话双方之一
func (c Conversation) HasParticipant(userID string) bool {
	return c.InitiatorID == userID || c.ReceiverID == userID
}

// Participant 会话成员
type Participant struct {
	ID                int64     `json:"id,omitempty" gorm:"primaryKey"`
	ConversationID    int64     `json:"conversation_id" gorm:"not null;index"`
	UserID            string    `json:"user_id" gorm:"type:varchar(64);not null;index"`
	Role              string    `json:"role" gorm:"type:varchar(32);default:'member'"`
	IsMuted           bool      `json:"is_muted" gorm:"default:false"`
	UnreadCount       int       `json:"unread_count" gorm:"default:0"`
	LastReadMessageID *int64    `json:"last_read_message_id"`
	JoinedAt          time.Time `json:"joined_at"`
}

func (Participant) TableName() string { return CollectionParticipants }

// ConversationSettings 用户对会话的个人设置
type ConversationSettings struct {
	ID                   int64      `json:"id,omitempty" gorm:"primaryKey"`
	ConversationID       int64      `json:"conversation_id" gorm:"not null;index"`
	UserID               string     `json:"user_id" gorm:"type:varchar(64);not null;index"`
	IsMuted              bool       `json:"is_muted" gorm:"default:false"`
	MutedUntil           *time.Time `json:"muted_until"`
	NotificationsEnabled bool       `json:"notifications_enabled" gorm:"default:true"`
	IsPinned             bool       `json:"is_pinned" gorm:"default:false"`
}

func (ConversationSettings) TableName() string { return CollectionSettings }

// TypingIndicator 正在输入（短暂状态，约5秒过期）
type TypingIndicator struct {
	ID             int64     `json:"id,omitempty" gorm:"primaryKey"`
	ConversationID int64     `json:"conversation_id" gorm:"not null;index"`
	UserID         string    `json:"user_id" gorm:"type:varchar(64);not null"`
	StartedAt      time.Time `json:"started_at"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"index"`
}

func (TypingIndicator) TableName() string { return CollectionTyping }

// Notification 通知
type Notification struct {
	ID             int64     `json:"id,omitempty" gorm:"primaryKey"`
	UserID         string    `json:"user_id" gorm:"type:varchar(64);not null;index;comment:接收者"`
	ConversationID *int64    `json:"conversation_id"`
	MessageID      *int64    `json:"message_id"`
	Type           string    `json:"type" gorm:"type:varchar(32)"`
	Title          string    `json:"title" gorm:"type:varchar(255)"`
	Body           string    `json:"body" gorm:"type:text"`
	IsRead         bool      `json:"is_read" gorm:"default:false"`
	DateCreated    time.Time `json:"date_created" gorm:"autoCreateTime"`
}

func (Notification) TableName() string { return CollectionNotifications }
