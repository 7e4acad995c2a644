package model

import "time"

// ChatMessage 是缓存在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 对应 conversations 表，一行是一次问答。
type Conversation struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"type:varchar(64);index" json:"conversationId"`
	UserID         uint      `gorm:"index;not null" json:"userId"`
	Question       string    `gorm:"type:text;not null" json:"question"`
	Answer         string    `gorm:"type:text;not null" json:"answer"`
	ReferenceCount int       `gorm:"not null;default:0" json:"referenceCount"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}
