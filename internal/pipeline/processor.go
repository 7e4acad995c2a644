// Package pipeline 定义了文档入库处理的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"ragdesk-go/internal/chunker"
	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/tasks"
	"ragdesk-go/pkg/transcript"
	"ragdesk-go/pkg/webpage"
)

// DocumentStore 是流水线需要的文档读写操作。
type DocumentStore interface {
	FindByID(ctx context.Context, id uint) (*model.Document, error)
	UpdateStatus(ctx context.Context, id uint, status model.DocumentStatus, chunkCount int, errMsg string) error
}

// ChunkStore 保存切块文本。
type ChunkStore interface {
	ReplaceForDocument(ctx context.Context, documentID uint, chunks []model.DocumentChunk) error
	ListByDocument(ctx context.Context, documentID uint) ([]model.DocumentChunk, error)
}

type ObjectReader interface {
	Get(ctx context.Context, objectName string) ([]byte, error)
}

type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName, contentType string) (string, error)
}

type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (*transcript.Transcript, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*webpage.Page, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter 写入或清理某文档的向量。
type VectorWriter interface {
	IndexChunks(ctx context.Context, docs []model.EsChunk) error
	DeleteByDocument(ctx context.Context, documentID uint) (int64, error)
}

// Processor 封装了文档处理的所有依赖和逻辑。
type Processor struct {
	documents    DocumentStore
	chunks       ChunkStore
	objects      ObjectReader
	extractor    TextExtractor
	transcripts  TranscriptFetcher
	pages        PageFetcher
	embedder     Embedder
	vectors      VectorWriter
	plan         chunker.Plan
	modelVersion string
}

// Deps 汇总 Processor 的外部依赖。
type Deps struct {
	Documents   DocumentStore
	Chunks      ChunkStore
	Objects     ObjectReader
	Extractor   TextExtractor
	Transcripts TranscriptFetcher
	Pages       PageFetcher
	Embedder    Embedder
	Vectors     VectorWriter
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(deps Deps, plan chunker.Plan, modelVersion string) *Processor {
	return &Processor{
		documents:    deps.Documents,
		chunks:       deps.Chunks,
		objects:      deps.Objects,
		extractor:    deps.Extractor,
		transcripts:  deps.Transcripts,
		pages:        deps.Pages,
		embedder:     deps.Embedder,
		vectors:      deps.Vectors,
		plan:         plan,
		modelVersion: modelVersion,
	}
}

// Process 是文档处理的主函数。
// 返回 nil 表示任务已结束（成功或不可重试的失败），返回错误则由消费者重试。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentProcessingTask) error {
	log.Infof("[Processor] 开始处理文档, DocumentID: %d, SourceType: %s, UserID: %d", task.DocumentID, task.SourceType, task.UserID)

	doc, err := p.documents.FindByID(ctx, task.DocumentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// 提交任务后文档已被删除
			log.Warnf("[Processor] 文档 %d 不存在, 跳过", task.DocumentID)
			return nil
		}
		return fmt.Errorf("加载文档失败: %w", err)
	}
	if err := p.documents.UpdateStatus(ctx, doc.ID, model.DocumentProcessing, 0, ""); err != nil {
		log.Warnf("[Processor] 更新文档 %d 状态为 processing 失败: %v", doc.ID, err)
	}

	count, err := p.run(ctx, doc, task)
	if err != nil {
		log.Errorf("[Processor] 文档 %d 处理失败: %v", doc.ID, err)
		if uerr := p.documents.UpdateStatus(ctx, doc.ID, model.DocumentFailed, 0, err.Error()); uerr != nil {
			log.Errorf("[Processor] 更新文档 %d 状态为 failed 失败: %v", doc.ID, uerr)
		}
		if errors.Is(err, apperr.ErrValidation) {
			// 内容本身的问题，重试也无济于事
			return nil
		}
		return err
	}

	if err := p.documents.UpdateStatus(ctx, doc.ID, model.DocumentReady, count, ""); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	log.Infof("[Processor] 文档处理成功完成, DocumentID: %d, 分块数: %d", doc.ID, count)
	return nil
}

func (p *Processor) run(ctx context.Context, doc *model.Document, task tasks.DocumentProcessingTask) (int, error) {
	// 1. 获取文本
	text, err := p.loadText(ctx, doc, task)
	if err != nil {
		return 0, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, apperr.Invalid("content", "no text could be extracted")
	}
	log.Infof("[Processor] 步骤1: 文本获取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 2. 切块
	pieces, err := p.plan.Apply(text)
	if err != nil {
		return 0, err
	}
	if len(pieces) == 0 {
		return 0, apperr.Invalid("content", "no chunks produced")
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, 模式: %s, 共 %d 个分块", p.plan.Mode, len(pieces))

	// 阶段一：切块写入数据库（替换旧切块，重复处理幂等）
	rows := make([]model.DocumentChunk, 0, len(pieces))
	for _, c := range pieces {
		rows = append(rows, model.DocumentChunk{
			DocumentID:   doc.ID,
			UserID:       doc.UserID,
			ChunkIndex:   c.Index,
			Offset:       c.Offset,
			Content:      c.Content,
			ModelVersion: p.modelVersion,
		})
	}
	if err := p.chunks.ReplaceForDocument(ctx, doc.ID, rows); err != nil {
		return 0, fmt.Errorf("保存文本分块失败: %w", err)
	}

	// 阶段二：从数据库读回，拿到切块 ID 后向量化并索引
	saved, err := p.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("从数据库读取分块失败: %w", err)
	}
	texts := make([]string, len(saved))
	for i, c := range saved {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	log.Infof("[Processor] 步骤3: 向量化完成, 共 %d 个向量", len(vectors))

	if _, err := p.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		log.Warnf("[Processor] 清理文档 %d 旧向量失败: %v", doc.ID, err)
	}
	esDocs := make([]model.EsChunk, 0, len(saved))
	for i, c := range saved {
		esDocs = append(esDocs, model.EsChunk{
			VectorID:     fmt.Sprintf("%d_%d", doc.ID, c.ChunkIndex),
			ChunkID:      c.ID,
			DocumentID:   doc.ID,
			ChunkIndex:   c.ChunkIndex,
			Content:      c.Content,
			Vector:       vectors[i],
			ModelVersion: p.modelVersion,
			UserID:       doc.UserID,
		})
	}
	if err := p.vectors.IndexChunks(ctx, esDocs); err != nil {
		return 0, &apperr.SearchError{Err: err}
	}
	log.Infof("[Processor] 步骤4: 已索引 %d 个分块到 Elasticsearch", len(esDocs))
	return len(saved), nil
}

// loadText 按来源类型取得原始文本。
func (p *Processor) loadText(ctx context.Context, doc *model.Document, task tasks.DocumentProcessingTask) (string, error) {
	objectName := task.ObjectName
	if objectName == "" {
		objectName = doc.ObjectName
	}

	switch {
	case doc.SourceType == model.SourceFile:
		data, err := p.objects.Get(ctx, objectName)
		if err != nil {
			return "", fmt.Errorf("从 MinIO 下载文件失败: %w", err)
		}
		if len(data) == 0 {
			return "", apperr.Invalid("content", "file is empty")
		}
		text, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), path.Base(objectName), "")
		if err != nil {
			return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
		}
		return text, nil

	case objectName != "":
		// 用户随 URL 一起提交的正文
		data, err := p.objects.Get(ctx, objectName)
		if err != nil {
			return "", fmt.Errorf("从 MinIO 读取文本失败: %w", err)
		}
		return string(data), nil

	case doc.SourceType == model.SourceYouTube:
		id, err := videoID(sourceURL(doc, task))
		if err != nil {
			return "", err
		}
		t, err := p.transcripts.Fetch(ctx, id)
		if err != nil {
			return "", fmt.Errorf("获取视频字幕失败: %w", err)
		}
		return t.Text(), nil

	case doc.SourceType == model.SourceWeb:
		u := sourceURL(doc, task)
		page, err := p.pages.Fetch(ctx, u)
		if err != nil {
			if errors.Is(err, webpage.ErrTooLarge) || errors.Is(err, webpage.ErrBlockedAddress) {
				return "", apperr.Invalid("source_url", err.Error())
			}
			return "", err
		}
		text, err := p.extractor.ExtractText(ctx, bytes.NewReader(page.Body), path.Base(u), page.ContentType)
		if err != nil {
			return "", fmt.Errorf("使用 Tika 提取网页正文失败: %w", err)
		}
		return text, nil
	}
	return "", apperr.Invalid("source_type", fmt.Sprintf("unsupported source type %q", doc.SourceType))
}

func sourceURL(doc *model.Document, task tasks.DocumentProcessingTask) string {
	if task.SourceURL != "" {
		return task.SourceURL
	}
	if doc.CanonicalURL != nil {
		return *doc.CanonicalURL
	}
	return ""
}

// videoID 从规范化的 https://youtube.com/watch?v=<id> 中取出视频 ID。
func videoID(canonical string) (string, error) {
	u, err := url.Parse(canonical)
	if err != nil {
		return "", apperr.Invalid("source_url", err.Error())
	}
	id := u.Query().Get("v")
	if id == "" {
		return "", apperr.Invalid("source_url", "missing video id")
	}
	return id, nil
}
