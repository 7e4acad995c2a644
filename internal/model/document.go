// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SourceType 标识文档来源。
type SourceType string

const (
	SourceFile    SourceType = "file"
	SourceYouTube SourceType = "youtube"
	SourceWeb     SourceType = "web"
)

// DocumentStatus 是文档在入库流水线中的处理状态。
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

// Document 对应 documents 表。
// 同一个 DedupKey（文件按内容哈希，URL 按规范化地址）最多只有一条未删除的记录。
type Document struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint           `gorm:"not null;index" json:"userId"`
	Title        string         `gorm:"type:varchar(255)" json:"title"`
	SourceType   SourceType     `gorm:"type:varchar(16);not null" json:"sourceType"`
	ContentHash  string         `gorm:"type:char(64);index" json:"contentHash"`
	CanonicalURL *string        `gorm:"type:varchar(2048)" json:"canonicalUrl"`
	DedupKey     string         `gorm:"type:varchar(80);not null;index" json:"-"`
	ObjectName   string         `gorm:"type:varchar(255)" json:"-"`
	SizeBytes    int64          `gorm:"not null;default:0" json:"sizeBytes"`
	Metadata     datatypes.JSON `json:"metadata"`
	Status       DocumentStatus `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	ChunkCount   int            `gorm:"not null;default:0" json:"chunkCount"`
	ErrorMessage string         `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 对应 document_chunks 表，每行是文档的一个切块。
type DocumentChunk struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID   uint      `gorm:"not null;index" json:"documentId"`
	UserID       uint      `gorm:"not null;index" json:"userId"`
	ChunkIndex   int       `gorm:"not null" json:"chunkIndex"`
	Offset       int       `gorm:"column:char_offset;not null" json:"offset"`
	Content      string    `gorm:"type:text" json:"content"`
	ModelVersion string    `gorm:"type:varchar(64)" json:"modelVersion"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "document_chunks"
}
