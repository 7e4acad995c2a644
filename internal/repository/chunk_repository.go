package repository

import (
	"context"

	"gorm.io/gorm"

	"ragdesk-go/internal/model"
)

// ChunkRepository 定义了文档切块的持久化操作。
type ChunkRepository interface {
	// ReplaceForDocument 在一个事务里删除文档的旧切块并写入新切块，写入后 chunks 带有自增 ID。
	ReplaceForDocument(ctx context.Context, documentID uint, chunks []model.DocumentChunk) error
	ListByDocument(ctx context.Context, documentID uint) ([]model.DocumentChunk, error)
	DeleteByDocument(ctx context.Context, documentID uint) (int64, error)
	DeleteBySubject(ctx context.Context, userID uint) (int64, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) ReplaceForDocument(ctx context.Context, documentID uint, chunks []model.DocumentChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error
	})
}

func (r *chunkRepository) ListByDocument(ctx context.Context, documentID uint) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, documentID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.DocumentChunk{})
	return res.RowsAffected, res.Error
}

func (r *chunkRepository) DeleteBySubject(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.DocumentChunk{})
	return res.RowsAffected, res.Error
}
