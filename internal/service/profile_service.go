package service

import (
	"context"
	"time"

	"ragdesk-go/internal/model"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/token"
)

// ProfileService 维护通过 token 校验的用户档案。
type ProfileService interface {
	Ensure(ctx context.Context, claims *token.CustomClaims) error
}

type profileService struct {
	profileRepo repository.ProfileRepository
}

// NewProfileService 创建一个新的 ProfileService 实例。
func NewProfileService(profileRepo repository.ProfileRepository) ProfileService {
	return &profileService{profileRepo: profileRepo}
}

// Ensure 按 token 中的用户 ID 插入或刷新档案。
func (s *profileService) Ensure(ctx context.Context, claims *token.CustomClaims) error {
	role := claims.Role
	if role == "" {
		role = token.RoleUser
	}
	return s.profileRepo.Upsert(ctx, &model.UserProfile{
		ID:         claims.UserID,
		Username:   claims.Username,
		Role:       role,
		LastSeenAt: time.Now(),
	})
}
