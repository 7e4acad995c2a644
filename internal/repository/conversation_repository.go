package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"ragdesk-go/internal/model"
)

const (
	historyTTL      = 7 * 24 * time.Hour
	historyMaxItems = 20
)

// ConversationRepository 定义了对话的操作接口：Redis 缓存最近的上下文，MySQL 保存完整问答。
type ConversationRepository interface {
	GetOrCreateConversationID(ctx context.Context, userID uint) (string, error)
	GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	UpdateConversationHistory(ctx context.Context, conversationID string, messages []model.ChatMessage) error
	SaveExchange(ctx context.Context, c *model.Conversation) error
	ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error)
	// DeleteBySubject 删除用户的全部问答行并清理缓存，返回删除的行数。
	DeleteBySubject(ctx context.Context, userID uint) (int64, error)
}

type conversationRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB, redisClient *redis.Client) ConversationRepository {
	return &conversationRepository{db: db, redisClient: redisClient}
}

func currentConversationKey(userID uint) string {
	return fmt.Sprintf("user:%d:current_conversation", userID)
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// GetOrCreateConversationID 获取或创建一个新的对话ID。
func (r *conversationRepository) GetOrCreateConversationID(ctx context.Context, userID uint) (string, error) {
	userKey := currentConversationKey(userID)
	convID, err := r.redisClient.Get(ctx, userKey).Result()
	if err == redis.Nil {
		convID = uuid.NewString()
		if err := r.redisClient.Set(ctx, userKey, convID, historyTTL).Err(); err != nil {
			return "", fmt.Errorf("failed to set conversation id: %w", err)
		}
		return convID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get conversation id: %w", err)
	}
	return convID, nil
}

// GetConversationHistory 从 Redis 获取对话历史记录。
func (r *conversationRepository) GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(conversationID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// UpdateConversationHistory 在 Redis 中更新对话历史记录，只保留最近 20 条。
func (r *conversationRepository) UpdateConversationHistory(ctx context.Context, conversationID string, messages []model.ChatMessage) error {
	if len(messages) > historyMaxItems {
		messages = messages[len(messages)-historyMaxItems:]
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(conversationID), jsonData, historyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

func (r *conversationRepository) SaveExchange(ctx context.Context, c *model.Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error) {
	var out []model.Conversation
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *conversationRepository) DeleteBySubject(ctx context.Context, userID uint) (int64, error) {
	var convIDs []string
	if err := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("user_id = ?", userID).Distinct().Pluck("conversation_id", &convIDs).Error; err != nil {
		return 0, err
	}

	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.Conversation{})
	if res.Error != nil {
		return 0, res.Error
	}

	keys := []string{currentConversationKey(userID)}
	if current, err := r.redisClient.Get(ctx, currentConversationKey(userID)).Result(); err == nil {
		convIDs = append(convIDs, current)
	}
	for _, id := range convIDs {
		if id != "" {
			keys = append(keys, conversationKey(id))
		}
	}
	if err := r.redisClient.Del(ctx, keys...).Err(); err != nil {
		return res.RowsAffected, fmt.Errorf("failed to clear conversation cache: %w", err)
	}
	return res.RowsAffected, nil
}
