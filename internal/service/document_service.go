// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"

	"ragdesk-go/internal/chunker"
	"ragdesk-go/internal/model"
	"ragdesk-go/internal/normalizer"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/tasks"
)

// ChunkPreview 是切块预览的结果。Lossless 只对 fixed 模式有意义：按重叠拼回后是否与原文一致。
type ChunkPreview struct {
	Mode     chunker.Mode    `json:"mode"`
	Count    int             `json:"count"`
	Chunks   []chunker.Chunk `json:"chunks"`
	Lossless bool            `json:"lossless"`
}

// DownloadInfoDTO 封装了文件下载链接所需的信息。
type DownloadInfoDTO struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// DocumentService 接口定义了文档入库与管理相关的业务操作。
type DocumentService interface {
	Normalize(raw string) normalizer.Result
	IngestFile(ctx context.Context, userID uint, fileName string, r io.Reader) (*model.Document, error)
	IngestURL(ctx context.Context, userID uint, rawURL, title, text string) (*model.Document, error)
	List(ctx context.Context, userID uint) ([]model.Document, error)
	Get(ctx context.Context, userID, id uint) (*model.Document, error)
	Chunks(ctx context.Context, userID, id uint) ([]model.DocumentChunk, error)
	Delete(ctx context.Context, userID, id uint) error
	DownloadURL(ctx context.Context, userID, id uint) (*DownloadInfoDTO, error)
	PreviewChunks(text string, plan chunker.Plan) (*ChunkPreview, error)
}

type documentService struct {
	documentRepo repository.DocumentRepository
	chunkRepo    repository.ChunkRepository
	locker       repository.DedupLocker
	objects      ObjectStore
	publisher    TaskPublisher
	vectors      VectorIndex
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	documentRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	locker repository.DedupLocker,
	objects ObjectStore,
	publisher TaskPublisher,
	vectors VectorIndex,
) DocumentService {
	return &documentService{
		documentRepo: documentRepo,
		chunkRepo:    chunkRepo,
		locker:       locker,
		objects:      objects,
		publisher:    publisher,
		vectors:      vectors,
	}
}

func (s *documentService) Normalize(raw string) normalizer.Result {
	return normalizer.Normalize(raw)
}

// IngestFile 按内容哈希去重后保存源文件并投递处理任务。
func (s *documentService) IngestFile(ctx context.Context, userID uint, fileName string, r io.Reader) (*model.Document, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, apperr.Invalid("file", "file name is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, apperr.Invalid("file", "must not be empty")
	}

	hash := normalizer.ContentHash(data)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := &model.Document{
		UserID:      userID,
		Title:       fileName,
		SourceType:  model.SourceFile,
		ContentHash: hash,
		DedupKey:    normalizer.DedupKey("", hash),
		ObjectName:  fmt.Sprintf("sources/%d/%s/%s", userID, hash, fileName),
		SizeBytes:   int64(len(data)),
		Metadata:    metadataJSON(map[string]any{"file_name": fileName, "content_type": contentType}),
		Status:      model.DocumentPending,
	}
	return s.ingest(ctx, doc, data, contentType, "")
}

// IngestURL 按规范化 URL 去重。text 非空时直接使用调用方提供的正文，否则由流水线抓取。
func (s *documentService) IngestURL(ctx context.Context, userID uint, rawURL, title, text string) (*model.Document, error) {
	res := normalizer.Normalize(rawURL)
	if !res.Valid() {
		return nil, apperr.Invalid("url", "malformed or unsupported URL")
	}
	sourceType := model.SourceWeb
	if res.Kind == normalizer.KindYouTube {
		sourceType = model.SourceYouTube
	}
	canonical := res.Canonical
	title = strings.TrimSpace(title)
	if title == "" {
		title = canonical
	}

	doc := &model.Document{
		UserID:       userID,
		Title:        title,
		SourceType:   sourceType,
		CanonicalURL: &canonical,
		DedupKey:     normalizer.DedupKey(canonical, ""),
		Metadata:     metadataJSON(map[string]any{"submitted_url": rawURL, "kind": string(res.Kind)}),
		Status:       model.DocumentPending,
	}
	var body []byte
	if strings.TrimSpace(text) != "" {
		body = []byte(text)
		doc.ContentHash = normalizer.ContentHash(body)
		// 按 URL 命名，不同 URL 提交相同正文时各自持有一份
		doc.ObjectName = fmt.Sprintf("sources/%d/%s.txt", userID, strings.ReplaceAll(doc.DedupKey, ":", "-"))
		doc.SizeBytes = int64(len(body))
	}
	return s.ingest(ctx, doc, body, "text/plain; charset=utf-8", canonical)
}

// ingest 在去重锁内完成查重、存储源内容、建档和投递任务。
func (s *documentService) ingest(ctx context.Context, doc *model.Document, body []byte, contentType, sourceURL string) (*model.Document, error) {
	lockKey := strconv.FormatUint(uint64(doc.UserID), 10) + ":" + doc.DedupKey
	ok, err := s.locker.Acquire(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apperr.ConflictError{Resource: "document", ID: doc.DedupKey, Reason: "an ingest for the same content is already in progress"}
	}
	defer func() {
		if err := s.locker.Release(context.Background(), lockKey); err != nil {
			log.Warnf("[DocumentService] 释放去重锁失败, key=%s, error: %v", lockKey, err)
		}
	}()

	existing, err := s.documentRepo.FindByDedupKey(ctx, doc.UserID, doc.DedupKey)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		return nil, &apperr.DuplicateError{Key: doc.DedupKey, ExistingID: existing.ID}
	}

	if doc.ObjectName != "" {
		if err := s.objects.Put(ctx, doc.ObjectName, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
			return nil, apperr.Provider("store source", err)
		}
	}

	if err := s.documentRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	task := tasks.DocumentProcessingTask{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		SourceType: string(doc.SourceType),
		ObjectName: doc.ObjectName,
		SourceURL:  sourceURL,
		Title:      doc.Title,
	}
	if err := s.publisher.PublishDocumentTask(ctx, task); err != nil {
		log.Errorf("[DocumentService] 投递处理任务失败, document=%d, error: %v", doc.ID, err)
		// 回滚文档记录，允许用户重新提交
		if delErr := s.documentRepo.Delete(context.Background(), doc.ID); delErr != nil {
			log.Errorf("[DocumentService] 回滚文档 %d 失败: %v", doc.ID, delErr)
		}
		return nil, apperr.Provider("publish task", err)
	}
	log.Infof("[DocumentService] 文档 %d 已入队, source=%s, user=%d", doc.ID, doc.SourceType, doc.UserID)
	return doc, nil
}

func (s *documentService) List(ctx context.Context, userID uint) ([]model.Document, error) {
	return s.documentRepo.ListByUser(ctx, userID)
}

// Get 只返回属于该用户的文档，其他用户的文档按不存在处理。
func (s *documentService) Get(ctx context.Context, userID, id uint) (*model.Document, error) {
	doc, err := s.documentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, apperr.NotFound("document", strconv.FormatUint(uint64(id), 10))
	}
	return doc, nil
}

func (s *documentService) Chunks(ctx context.Context, userID, id uint) ([]model.DocumentChunk, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.chunkRepo.ListByDocument(ctx, id)
}

// Delete 软删除文档记录，并清理切块、向量和源文件。
func (s *documentService) Delete(ctx context.Context, userID, id uint) error {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.documentRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if _, err := s.chunkRepo.DeleteByDocument(ctx, id); err != nil {
		log.Errorf("[DocumentService] 删除文档 %d 的切块失败: %v", id, err)
	}
	if _, err := s.vectors.DeleteByDocument(ctx, id); err != nil {
		log.Errorf("[DocumentService] 删除文档 %d 的向量失败: %v", id, err)
	}
	if doc.ObjectName != "" {
		if err := s.objects.Remove(ctx, doc.ObjectName); err != nil {
			log.Errorf("[DocumentService] 删除文档 %d 的源文件失败: %v", id, err)
		}
	}
	log.Infof("[DocumentService] 用户 %d 删除了文档 %d", userID, id)
	return nil
}

// DownloadURL 生成源文件的临时下载链接，有效期为1小时。
func (s *documentService) DownloadURL(ctx context.Context, userID, id uint) (*DownloadInfoDTO, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if doc.ObjectName == "" {
		return nil, apperr.NotFound("source object", strconv.FormatUint(uint64(id), 10))
	}
	u, err := s.objects.PresignedURL(ctx, doc.ObjectName, time.Hour)
	if err != nil {
		return nil, apperr.Provider("presign", err)
	}
	return &DownloadInfoDTO{FileName: doc.Title, DownloadURL: u, FileSize: doc.SizeBytes}, nil
}

func (s *documentService) PreviewChunks(text string, plan chunker.Plan) (*ChunkPreview, error) {
	chunks, err := plan.Apply(text)
	if err != nil {
		return nil, err
	}
	if plan.Mode == "" {
		plan.Mode = chunker.ModeFixed
	}
	preview := &ChunkPreview{Mode: plan.Mode, Count: len(chunks), Chunks: chunks}
	if plan.Mode == chunker.ModeFixed {
		contents := make([]string, len(chunks))
		for i, c := range chunks {
			contents[i] = c.Content
		}
		preview.Lossless = chunker.Reassemble(contents, plan.Fixed.Overlap) == text
	}
	return preview, nil
}

func metadataJSON(v map[string]any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
