package service

import (
	"context"

	"ragdesk-go/internal/model"
	"ragdesk-go/internal/repository"
)

// ConversationService 定义了对话记录的查询接口。
type ConversationService interface {
	// CurrentHistory 返回 Redis 中当前会话的上下文消息。
	CurrentHistory(ctx context.Context, userID uint) (string, []model.ChatMessage, error)
	// ListExchanges 返回 conversations 表中该用户的全部问答，按时间倒序。
	ListExchanges(ctx context.Context, userID uint) ([]model.Conversation, error)
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

func (s *conversationService) CurrentHistory(ctx context.Context, userID uint) (string, []model.ChatMessage, error) {
	conversationID, err := s.repo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	history, err := s.repo.GetConversationHistory(ctx, conversationID)
	if err != nil {
		return "", nil, err
	}
	return conversationID, history, nil
}

func (s *conversationService) ListExchanges(ctx context.Context, userID uint) ([]model.Conversation, error) {
	return s.repo.ListByUser(ctx, userID)
}
