package service

import (
	"context"
	"strings"

	"ragdesk-go/internal/config"
	"ragdesk-go/internal/gateway"
	"ragdesk-go/internal/model"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/log"
)

// SearchService 接口定义了检索操作。
type SearchService interface {
	// Search threshold 为 nil 或 limit <= 0 时使用配置的默认值。
	Search(ctx context.Context, userID uint, query string, threshold *float64, limit int) ([]model.SearchResultDTO, error)
}

type searchService struct {
	searcher          TextSearcher
	documentRepo      repository.DocumentRepository
	searchHistoryRepo repository.SearchHistoryRepository
	cfg               config.SearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(searcher TextSearcher, documentRepo repository.DocumentRepository, searchHistoryRepo repository.SearchHistoryRepository, cfg config.SearchConfig) SearchService {
	return &searchService{
		searcher:          searcher,
		documentRepo:      documentRepo,
		searchHistoryRepo: searchHistoryRepo,
		cfg:               cfg,
	}
}

// Search 在用户自己的文档中做相似度检索，补充文档标题并记录检索历史。
func (s *searchService) Search(ctx context.Context, userID uint, query string, threshold *float64, limit int) ([]model.SearchResultDTO, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Invalid("query", "must not be empty")
	}
	th := s.cfg.DefaultThreshold
	if threshold != nil {
		th = *threshold
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit <= 0 {
		limit = 10
	}

	log.Infof("[SearchService] 开始检索, query: '%s', threshold: %.2f, limit: %d, user: %d", query, th, limit, userID)
	matches, err := s.searcher.SearchText(ctx, query, th, limit, gateway.WithUser(userID))
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResultDTO, 0, len(matches))
	titles := make(map[uint]string)
	missing := make(map[uint]bool)
	for _, m := range matches {
		if missing[m.DocumentID] {
			continue
		}
		title, ok := titles[m.DocumentID]
		if !ok {
			doc, err := s.documentRepo.FindByID(ctx, m.DocumentID)
			if err != nil {
				// 文档已删除而向量尚未清理时跳过
				log.Warnf("[SearchService] 命中的文档 %d 不可用: %v", m.DocumentID, err)
				missing[m.DocumentID] = true
				continue
			}
			title = doc.Title
			titles[m.DocumentID] = title
		}
		results = append(results, model.SearchResultDTO{
			ChunkID:       m.ChunkID,
			DocumentID:    m.DocumentID,
			DocumentTitle: title,
			ChunkIndex:    m.ChunkIndex,
			Content:       m.Content,
			Score:         m.Score,
		})
	}

	history := &model.SearchHistory{UserID: userID, Query: query, ResultCount: len(results)}
	if len(results) > 0 {
		history.TopScore = results[0].Score
	}
	if err := s.searchHistoryRepo.Create(ctx, history); err != nil {
		log.Errorf("[SearchService] 记录检索历史失败: %v", err)
	}
	log.Infof("[SearchService] 检索完成, 返回 %d 条结果", len(results))
	return results, nil
}
