package service

import (
	"context"
	"io"
	"time"

	"ragdesk-go/internal/gateway"
	"ragdesk-go/internal/privacy"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/tasks"
)

// ObjectStore 是服务层用到的对象存储能力，由 *storage.MinioStore 实现。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, objectName string) ([]byte, error)
	Remove(ctx context.Context, objectName string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// TaskPublisher 投递入库任务，由 *kafka.Producer 实现。
type TaskPublisher interface {
	PublishDocumentTask(ctx context.Context, task tasks.DocumentProcessingTask) error
}

// VectorIndex 是向量索引的删除能力，由 *es.Store 实现。
type VectorIndex interface {
	DeleteByDocument(ctx context.Context, documentID uint) (int64, error)
	DeleteBySubject(ctx context.Context, userID uint) (int64, error)
}

// TextSearcher 由 *gateway.Gateway 实现。
type TextSearcher interface {
	SearchText(ctx context.Context, query string, threshold float64, limit int, opts ...gateway.SearchOption) ([]gateway.Match, error)
}

// recordAudit 写一条审计日志。失败只记录日志，不影响调用方。
func recordAudit(ctx context.Context, repo repository.AuditRepository, ev privacy.AuditEvent) {
	entry := ev.Entry()
	if err := repo.Create(ctx, &entry); err != nil {
		log.Errorf("[Audit] 写入审计日志失败, target=%s/%s, action=%s, error: %v", ev.TargetType, ev.TargetID, ev.Action, err)
	}
}
