package model

// 集合名称，同时也是数据库表名
const (
	CollectionUsers         = "users"
	CollectionProfiles      = "profiles"
	CollectionConversations = "conversations"
	CollectionMessages      = "messages"
	CollectionMessageReads  = "message_reads"
	CollectionReactions     = "message_reactions"
	CollectionTyping        = "typing_indicators"
	CollectionParticipants  = "conversation_participants"
	CollectionSettings      = "conversation_settings"
	CollectionNotifications = "notifications"
	CollectionAttachments   = "message_attachments"
	CollectionFiles         = "files"
)

// All 返回全部模型，用于自动迁移与集合注册
func All() []Collection {
	return []Collection{
		&User{}, &Profile{}, &Conversation{}, &Message{}, &MessageRead{}, &Reaction{},
		&TypingIndicator{}, &Participant{}, &ConversationSettings{}, &Notification{},
		&Attachment{}, &File{},
	}
}

// Collection 可按集合名存取的模型
type Collection interface {
	TableName() string
}
