package model

import (
	"time"

	"gorm.io/datatypes"
)

// RequestType 是隐私请求的类型。
type RequestType string

const (
	RequestExport        RequestType = "export"
	RequestDeletion      RequestType = "deletion"
	RequestRectification RequestType = "rectification"
	RequestPortability   RequestType = "portability"
)

// Valid 报告是否为受支持的请求类型。
func (t RequestType) Valid() bool {
	switch t {
	case RequestExport, RequestDeletion, RequestRectification, RequestPortability:
		return true
	}
	return false
}

// RequestStatus 是隐私请求的生命周期状态。
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusCompleted RequestStatus = "completed"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

// DataSubjectRequest 对应 data_subject_requests 表。
// 进入终态（completed / rejected / cancelled）后不再修改。
// Version 用于乐观并发控制，每次状态变更加一。
type DataSubjectRequest struct {
	ID          string         `gorm:"type:char(36);primaryKey" json:"id"`
	SubjectID   uint           `gorm:"not null;index" json:"subjectId"`
	SubjectName string         `gorm:"type:varchar(255)" json:"subjectName"`
	Type        RequestType    `gorm:"column:request_type;type:varchar(32);not null;index" json:"requestType"`
	Status      RequestStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	Reason      string         `gorm:"type:text" json:"reason"`
	AdminNotes  string         `gorm:"type:text" json:"adminNotes"`
	Result      datatypes.JSON `json:"result"`
	ProcessedBy *uint          `json:"processedBy"`
	SubmittedAt time.Time      `gorm:"not null" json:"submittedAt"`
	ApprovedAt  *time.Time     `json:"approvedAt"`
	CompletedAt *time.Time     `json:"completedAt"`
	Version     int            `gorm:"not null;default:1" json:"version"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DataSubjectRequest) TableName() string {
	return "data_subject_requests"
}

// Audit target types.
const (
	AuditTargetRequest = "data_subject_request"
	AuditTargetConsent = "consent_record"
)

// AuditEntry 对应 audit_log 表，只追加，不修改也不删除。
type AuditEntry struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	TargetType string         `gorm:"type:varchar(32);not null;index:idx_audit_target" json:"targetType"`
	TargetID   string         `gorm:"type:varchar(64);not null;index:idx_audit_target" json:"targetId"`
	Action     string         `gorm:"type:varchar(32);not null" json:"action"`
	ActorID    uint           `gorm:"not null" json:"actorId"`
	ActorRole  string         `gorm:"type:varchar(16)" json:"actorRole"`
	OldStatus  string         `gorm:"type:varchar(16)" json:"oldStatus"`
	NewStatus  string         `gorm:"type:varchar(16)" json:"newStatus"`
	Before     datatypes.JSON `json:"before"`
	After      datatypes.JSON `json:"after"`
	Changes    datatypes.JSON `json:"changes"`
	IPAddress  string         `gorm:"type:varchar(64)" json:"ipAddress"`
	UserAgent  string         `gorm:"type:varchar(512)" json:"userAgent"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (AuditEntry) TableName() string {
	return "audit_log"
}

// ConsentRecord 对应 consent_records 表。
// 新的同意记录只追加，不覆盖；某类型的"当前"状态取最新创建的那条。
type ConsentRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SubjectID     uint      `gorm:"not null;index" json:"subjectId"`
	ConsentType   string    `gorm:"type:varchar(64);not null" json:"consentType"`
	Granted       bool      `gorm:"not null" json:"granted"`
	PolicyVersion string    `gorm:"type:varchar(32)" json:"policyVersion"`
	IPAddress     string    `gorm:"type:varchar(64)" json:"ipAddress"`
	UserAgent     string    `gorm:"type:varchar(512)" json:"userAgent"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConsentRecord) TableName() string {
	return "consent_records"
}
