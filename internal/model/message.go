package model

import "time"

// MessageTypeText 默认消息类型
const MessageTypeText = "text"

// 回执状态，只能 DELIVERED -> READ
const (
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
)

// Message 消息模型
// 删除为软删除（IsDeleted + DeletedAt）
// Status/ReadAt/DeliveredAt 为展示字段，由回执合并得出，不落库
type Message struct {
	ID             int64      `json:"id,omitempty" gorm:"primaryKey"`
	ConversationID int64      `json:"conversation_id" gorm:"not null;index;comment:所属会话"`
	SenderID       string     `json:"sender_id" gorm:"type:varchar(64);not null;index;comment:发送者"`
	MessageText    string     `json:"message_text" gorm:"type:text;not null;comment:消息内容"`
	MessageType    string     `json:"message_type" gorm:"type:varchar(32);default:'text'"`
	ReplyToID      *int64     `json:"reply_to_id"`
	IsDeleted      bool       `json:"is_deleted" gorm:"default:false;index"`
	DeletedAt      *time.Time `json:"deleted_at"`
	IsEdited       bool       `json:"is_edited" gorm:"default:false"`
	EditCount      int        `json:"edit_count" gorm:"default:0"`
	EditedAt       *time.Time `json:"edited_at"`
	ReactionCount  int        `json:"reaction_count" gorm:"default:0"`
	DateCreated    time.Time  `json:"date_created" gorm:"index;autoCreateTime"`

	Status      string     `json:"status,omitempty" gorm:"-"`
	ReadAt      *time.Time `json:"read_at,omitempty" gorm:"-"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" gorm:"-"`
}

func (Message) TableName() string { return CollectionMessages }

// MessageRead 每个 (消息, 读者) 至多一条回执
type MessageRead struct {
	ID             int64      `json:"id,omitempty" gorm:"primaryKey"`
	MessageID      int64      `json:"message_id" gorm:"not null;uniqueIndex:idx_message_reader"`
	ReaderID       string     `json:"reader_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_message_reader"`
	ConversationID *int64     `json:"conversation_id" gorm:"index"`
	Status         string     `json:"status" gorm:"type:varchar(16);not null"`
	DeliveredAt    *time.Time `json:"delivered_at"`
	ReadAt         *time.Time `json:"read_at"`
}

func (MessageRead) TableName() string { return CollectionMessageReads }

// Reaction 表情回应 (消息, 用户, 表情)
type Reaction struct {
	ID          int64     `json:"id,omitempty" gorm:"primaryKey"`
	MessageID   int64     `json:"message_id" gorm:"not null;index"`
	UserID      string    `json:"user_id" gorm:"type:varchar(64);not null"`
	Emoji       string    `json:"emoji" gorm:"type:varchar(32);not null"`
	DateCreated time.Time `json:"date_created" gorm:"autoCreateTime"`
}

func (Reaction) TableName() string { return CollectionReactions }

// Attachment 消息附件，FileID 指向上传后的文件
type Attachment struct {
	ID          int64     `json:"id,omitempty" gorm:"primaryKey"`
	MessageID   int64     `json:"message_id" gorm:"not null;index"`
	FileID      string    `json:"file_id" gorm:"type:varchar(64);not null"`
	FileName    string    `json:"file_name" gorm:"type:varchar(255)"`
	MimeType    string    `json:"mime_type" gorm:"type:varchar(128)"`
	FileSize    int64     `json:"file_size"`
	DateCreated time.Time `json:"date_created" gorm:"autoCreateTime"`
}

func (Attachment) TableName() string { return CollectionAttachments }
