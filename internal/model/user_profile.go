package model

import "time"

// UserProfile 对应 user_profiles 表，记录通过 token 校验的用户。
// 主键直接使用认证平台下发的用户 ID。
type UserProfile struct {
	ID         uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Username   string    `gorm:"type:varchar(255)" json:"username"`
	Role       string    `gorm:"type:varchar(16);not null;default:USER" json:"role"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UserProfile) TableName() string {
	return "user_profiles"
}

// SearchHistory 对应 search_history 表。
type SearchHistory struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"userId"`
	Query       string    `gorm:"type:text;not null" json:"query"`
	ResultCount int       `gorm:"not null" json:"resultCount"`
	TopScore    float64   `json:"topScore"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SearchHistory) TableName() string {
	return "search_history"
}
