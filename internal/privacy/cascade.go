package privacy

import (
	"context"

	"ragdesk-go/pkg/log"
)

// 级联删除的集合名，顺序即删除顺序：先删依赖数据，最后删身份表。
const (
	CollectionSearchHistory  = "search_history"
	CollectionConversations  = "conversations"
	CollectionChunkVectors   = "chunk_vectors"
	CollectionDocumentChunks = "document_chunks"
	CollectionDocuments      = "documents"
	CollectionConsents       = "consent_records"
	CollectionProfiles       = "user_profiles"
)

// DefaultOrder 是级联删除的固定顺序。
var DefaultOrder = []string{
	CollectionSearchHistory,
	CollectionConversations,
	CollectionChunkVectors,
	CollectionDocumentChunks,
	CollectionDocuments,
	CollectionConsents,
	CollectionProfiles,
}

// DeleteFunc 删除某个主体在一个集合中的全部记录，返回删除条数。
type DeleteFunc func(ctx context.Context, subjectID uint) (int64, error)

// Collection 是参与级联删除的一个集合。
type Collection struct {
	Name   string
	Delete DeleteFunc
}

// CollectionResult 是单个集合的删除结果。
type CollectionResult struct {
	Table   string `json:"table"`
	Deleted int64  `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// CollectionError 记录一个集合的失败信息。
type CollectionError struct {
	Table string `json:"table"`
	Error string `json:"error"`
}

// DeletionSummary 是级联删除的汇总，写入请求的 result。
// 部分失败不是错误：调用方据此展示需要人工清理的集合。
type DeletionSummary struct {
	TablesAffected []string           `json:"tables_affected"`
	RecordsDeleted int64              `json:"records_deleted"`
	Errors         []CollectionError  `json:"errors"`
	Results        []CollectionResult `json:"results"`
}

// Partial 报告是否有集合删除失败。
func (s DeletionSummary) Partial() bool {
	return len(s.Errors) > 0
}

// Cascade 按顺序逐个删除集合。单个集合失败只记录，不中断后续集合，也不回滚。
func Cascade(ctx context.Context, subjectID uint, collections []Collection) DeletionSummary {
	summary := DeletionSummary{
		TablesAffected: []string{},
		Errors:         []CollectionError{},
		Results:        make([]CollectionResult, 0, len(collections)),
	}

	for _, c := range collections {
		n, err := c.Delete(ctx, subjectID)
		res := CollectionResult{Table: c.Name, Deleted: n}
		if err != nil {
			log.Errorf("[Cascade] 删除集合 %s 失败, subject=%d, 已删除 %d 条, error: %v", c.Name, subjectID, n, err)
			res.Error = err.Error()
			summary.Errors = append(summary.Errors, CollectionError{Table: c.Name, Error: err.Error()})
		} else {
			log.Infof("[Cascade] 集合 %s 删除完成, subject=%d, 删除 %d 条", c.Name, subjectID, n)
		}
		if n > 0 {
			summary.TablesAffected = append(summary.TablesAffected, c.Name)
			summary.RecordsDeleted += n
		}
		summary.Results = append(summary.Results, res)
	}
	return summary
}
