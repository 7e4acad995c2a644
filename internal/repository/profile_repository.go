package repository

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/apperr"
)

// ProfileRepository 定义了用户档案的持久化操作。
type ProfileRepository interface {
	// Upsert 按主键插入或更新 username / role / last_seen_at。
	Upsert(ctx context.Context, p *model.UserProfile) error
	FindByID(ctx context.Context, id uint) (*model.UserProfile, error)
	DeleteBySubject(ctx context.Context, id uint) (int64, error)
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建一个新的 ProfileRepository 实例。
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Upsert(ctx context.Context, p *model.UserProfile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "role", "last_seen_at", "updated_at"}),
	}).Create(p).Error
}

func (r *profileRepository) FindByID(ctx context.Context, id uint) (*model.UserProfile, error) {
	var p model.UserProfile
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("profile", strconv.FormatUint(uint64(id), 10))
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepository) DeleteBySubject(ctx context.Context, id uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.UserProfile{})
	return res.RowsAffected, res.Error
}

// SearchHistoryRepository 定义了检索历史的持久化操作。
type SearchHistoryRepository interface {
	Create(ctx context.Context, h *model.SearchHistory) error
	ListByUser(ctx context.Context, userID uint, limit int) ([]model.SearchHistory, error)
	DeleteBySubject(ctx context.Context, userID uint) (int64, error)
}

type searchHistoryRepository struct {
	db *gorm.DB
}

// NewSearchHistoryRepository 创建一个新的 SearchHistoryRepository 实例。
func NewSearchHistoryRepository(db *gorm.DB) SearchHistoryRepository {
	return &searchHistoryRepository{db: db}
}

func (r *searchHistoryRepository) Create(ctx context.Context, h *model.SearchHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

// ListByUser limit <= 0 时返回全部。
func (r *searchHistoryRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]model.SearchHistory, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.SearchHistory
	err := q.Find(&out).Error
	return out, err
}

func (r *searchHistoryRepository) DeleteBySubject(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.SearchHistory{})
	return res.RowsAffected, res.Error
}
