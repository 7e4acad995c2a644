// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/apperr"
)

// DocumentRepository 定义了文档记录的持久化操作。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id uint) (*model.Document, error)
	// FindByDedupKey 在用户自己的文档里按去重键查找，只查未删除的文档，不存在时返回 nil, nil。
	FindByDedupKey(ctx context.Context, userID uint, key string) (*model.Document, error)
	ListByUser(ctx context.Context, userID uint) ([]model.Document, error)
	UpdateStatus(ctx context.Context, id uint, status model.DocumentStatus, chunkCount int, errMsg string) error
	Delete(ctx context.Context, id uint) error
	// ObjectNamesBySubject 返回主体名下所有文档（含已软删除）的对象名，供级联删除清理 MinIO。
	ObjectNamesBySubject(ctx context.Context, userID uint) ([]string, error)
	DeleteBySubject(ctx context.Context, userID uint) (int64, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) FindByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("document", strconv.FormatUint(uint64(id), 10))
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindByDedupKey(ctx context.Context, userID uint, key string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("user_id = ? AND dedup_key = ?", userID, key).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) ListByUser(ctx context.Context, userID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id uint, status model.DocumentStatus, chunkCount int, errMsg string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"chunk_count":   chunkCount,
		"error_message": errMsg,
	}).Error
}

func (r *documentRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.Document{}, id).Error
}

func (r *documentRepository) ObjectNamesBySubject(ctx context.Context, userID uint) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Unscoped().Model(&model.Document{}).
		Where("user_id = ? AND object_name <> ''", userID).
		Pluck("object_name", &names).Error
	return names, err
}

// DeleteBySubject 物理删除，软删除的行也一并清除。
func (r *documentRepository) DeleteBySubject(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().Where("user_id = ?", userID).Delete(&model.Document{})
	return res.RowsAffected, res.Error
}
