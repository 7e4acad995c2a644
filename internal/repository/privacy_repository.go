package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/apperr"
)

// RequestFilter 是管理端列表的过滤条件，空值表示不过滤。
type RequestFilter struct {
	Status    model.RequestStatus
	Type      model.RequestType
	SubjectID uint
}

// RequestRepository 定义了隐私请求的持久化操作。
type RequestRepository interface {
	Create(ctx context.Context, req *model.DataSubjectRequest) error
	FindByID(ctx context.Context, id string) (*model.DataSubjectRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]model.DataSubjectRequest, error)
	// FindOpen 返回主体同类型的未结束请求（pending / approved），没有时返回 nil, nil。
	FindOpen(ctx context.Context, subjectID uint, t model.RequestType) (*model.DataSubjectRequest, error)
	// UpdateVersioned 以 expectedVersion 为条件整行更新，成功后 req.Version 加一。
	// 没有行被更新时返回 ConflictError。
	UpdateVersioned(ctx context.Context, req *model.DataSubjectRequest, expectedVersion int) error
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository 创建一个新的 RequestRepository 实例。
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.DataSubjectRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id string) (*model.DataSubjectRequest, error) {
	var req model.DataSubjectRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("request", id)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.DataSubjectRequest, error) {
	q := r.db.WithContext(ctx).Model(&model.DataSubjectRequest{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("request_type = ?", filter.Type)
	}
	if filter.SubjectID != 0 {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	var reqs []model.DataSubjectRequest
	err := q.Order("submitted_at DESC").Find(&reqs).Error
	return reqs, err
}

func (r *requestRepository) FindOpen(ctx context.Context, subjectID uint, t model.RequestType) (*model.DataSubjectRequest, error) {
	var req model.DataSubjectRequest
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND request_type = ? AND status IN ?", subjectID, t,
			[]model.RequestStatus{model.StatusPending, model.StatusApproved}).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) UpdateVersioned(ctx context.Context, req *model.DataSubjectRequest, expectedVersion int) error {
	res := r.db.WithContext(ctx).Model(&model.DataSubjectRequest{}).
		Where("id = ? AND version = ?", req.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":       req.Status,
			"admin_notes":  req.AdminNotes,
			"result":       req.Result,
			"processed_by": req.ProcessedBy,
			"approved_at":  req.ApprovedAt,
			"completed_at": req.CompletedAt,
			"version":      expectedVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &apperr.ConflictError{Resource: "request", ID: req.ID}
	}
	req.Version = expectedVersion + 1
	return nil
}

// AuditRepository 只追加审计日志。
type AuditRepository interface {
	Create(ctx context.Context, entry *model.AuditEntry) error
	ListByTarget(ctx context.Context, targetType, targetID string) ([]model.AuditEntry, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 创建一个新的 AuditRepository 实例。
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *model.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) ListByTarget(ctx context.Context, targetType, targetID string) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// ConsentRepository 定义了同意记录的持久化操作。
type ConsentRepository interface {
	Create(ctx context.Context, rec *model.ConsentRecord) error
	// ListBySubject 按创建时间正序返回完整历史。
	ListBySubject(ctx context.Context, subjectID uint) ([]model.ConsentRecord, error)
	DeleteBySubject(ctx context.Context, subjectID uint) (int64, error)
}

type consentRepository struct {
	db *gorm.DB
}

// NewConsentRepository 创建一个新的 ConsentRepository 实例。
func NewConsentRepository(db *gorm.DB) ConsentRepository {
	return &consentRepository{db: db}
}

func (r *consentRepository) Create(ctx context.Context, rec *model.ConsentRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *consentRepository) ListBySubject(ctx context.Context, subjectID uint) ([]model.ConsentRecord, error) {
	var recs []model.ConsentRecord
	err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("created_at ASC, id ASC").Find(&recs).Error
	return recs, err
}

func (r *consentRepository) DeleteBySubject(ctx context.Context, subjectID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Delete(&model.ConsentRecord{})
	return res.RowsAffected, res.Error
}
