package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"ragdesk-go/internal/config"
	"ragdesk-go/internal/model"
	"ragdesk-go/internal/privacy"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/token"
)

// ProcessResult 是一次状态变更的返回结果。
type ProcessResult struct {
	RequestID           string              `json:"request_id"`
	NewStatus           model.RequestStatus `json:"new_status"`
	ProcessedAt         time.Time           `json:"processed_at"`
	ProcessingTimeHours float64             `json:"processing_time_hours"`
	Result              json.RawMessage     `json:"result,omitempty"`
	ExportURL           string              `json:"export_url,omitempty"`
}

// PrivacyService 定义了数据主体请求的业务操作。
type PrivacyService interface {
	Submit(ctx context.Context, subjectID uint, subjectName string, t model.RequestType, reason string, origin privacy.Origin) (*model.DataSubjectRequest, error)
	Process(ctx context.Context, id string, action privacy.Action, actor privacy.Actor, origin privacy.Origin) (*ProcessResult, error)
	CancelOwn(ctx context.Context, id string, subjectID uint, origin privacy.Origin) (*ProcessResult, error)
	Get(ctx context.Context, id string) (*model.DataSubjectRequest, error)
	List(ctx context.Context, filter repository.RequestFilter) ([]model.DataSubjectRequest, error)
	ListForSubject(ctx context.Context, subjectID uint) ([]model.DataSubjectRequest, error)
	AuditTrail(ctx context.Context, id string) ([]model.AuditEntry, error)
	ExportPreview(ctx context.Context, subjectID uint) (*ExportBundle, error)
}

type privacyService struct {
	requestRepo repository.RequestRepository
	auditRepo   repository.AuditRepository
	objects     ObjectStore
	exporter    SubjectExporter
	collections []privacy.Collection
	cfg         config.PrivacyConfig
	now         func() time.Time
}

// NewPrivacyService 创建一个新的 PrivacyService 实例。collections 按删除顺序排列。
func NewPrivacyService(
	requestRepo repository.RequestRepository,
	auditRepo repository.AuditRepository,
	objects ObjectStore,
	exporter SubjectExporter,
	collections []privacy.Collection,
	cfg config.PrivacyConfig,
) PrivacyService {
	return &privacyService{
		requestRepo: requestRepo,
		auditRepo:   auditRepo,
		objects:     objects,
		exporter:    exporter,
		collections: collections,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

const maxReasonLength = 2000

func (s *privacyService) Submit(ctx context.Context, subjectID uint, subjectName string, t model.RequestType, reason string, origin privacy.Origin) (*model.DataSubjectRequest, error) {
	if !t.Valid() {
		return nil, apperr.Invalid("request_type", "must be one of export, deletion, rectification, portability")
	}
	if len([]rune(reason)) > maxReasonLength {
		return nil, apperr.Invalid("reason", fmt.Sprintf("must be at most %d characters", maxReasonLength))
	}

	open, err := s.requestRepo.FindOpen(ctx, subjectID, t)
	if err != nil {
		return nil, fmt.Errorf("check open requests: %w", err)
	}
	if open != nil {
		return nil, &apperr.ConflictError{Resource: "request", ID: open.ID, Reason: fmt.Sprintf("an open %s request already exists", t)}
	}

	req := &model.DataSubjectRequest{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		SubjectName: subjectName,
		Type:        t,
		Status:      model.StatusPending,
		Reason:      reason,
		SubmittedAt: s.now(),
		Version:     1,
	}
	if err := s.requestRepo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	log.Infof("[Privacy] 主体 %d 提交了 %s 请求 %s", subjectID, t, req.ID)

	recordAudit(ctx, s.auditRepo, privacy.AuditEvent{
		TargetType: model.AuditTargetRequest,
		TargetID:   req.ID,
		Action:     "submitted",
		Actor:      privacy.Actor{ID: subjectID, Role: token.RoleUser},
		Origin:     origin,
		NewStatus:  string(req.Status),
		After:      privacy.RequestSnapshot(*req),
	})
	return req, nil
}

func (s *privacyService) Process(ctx context.Context, id string, action privacy.Action, actor privacy.Actor, origin privacy.Origin) (*ProcessResult, error) {
	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, req, action, actor, origin)
}

func (s *privacyService) CancelOwn(ctx context.Context, id string, subjectID uint, origin privacy.Origin) (*ProcessResult, error) {
	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.SubjectID != subjectID {
		// 不暴露他人请求的存在
		return nil, apperr.NotFound("request", id)
	}
	return s.transition(ctx, req, privacy.Cancel{}, privacy.Actor{ID: subjectID, Role: token.RoleUser}, origin)
}

// transition 计算新状态、执行副作用、带版本号落库，最后写一条审计日志。
// 删除请求先以版本号占住 completed 状态，成功后才执行不可撤销的级联删除。
func (s *privacyService) transition(ctx context.Context, req *model.DataSubjectRequest, action privacy.Action, actor privacy.Actor, origin privacy.Origin) (*ProcessResult, error) {
	now := s.now()
	next, err := privacy.Apply(*req, action, actor.ID, now)
	if err != nil {
		return nil, err
	}

	res := &ProcessResult{
		RequestID:           req.ID,
		NewStatus:           next.Status,
		ProcessedAt:         now,
		ProcessingTimeHours: privacy.ProcessingHours(req.SubmittedAt, now),
	}

	switch {
	case next.Status == model.StatusCompleted && next.Type == model.RequestDeletion:
		next.Result = nil
		if err := s.requestRepo.UpdateVersioned(ctx, &next, req.Version); err != nil {
			return nil, err
		}
		s.runDeletion(ctx, &next)

	case next.Status == model.StatusCompleted:
		if err := s.archiveIfPresent(ctx, &next, action, res); err != nil {
			return nil, err
		}
		if err := s.requestRepo.UpdateVersioned(ctx, &next, req.Version); err != nil {
			if len(next.Result) > 0 {
				s.discardExport(ctx, next.ID)
			}
			return nil, err
		}

	default:
		if err := s.requestRepo.UpdateVersioned(ctx, &next, req.Version); err != nil {
			return nil, err
		}
	}
	log.Infof("[Privacy] 请求 %s 状态 %s -> %s, 操作人 %d", req.ID, req.Status, next.Status, actor.ID)

	recordAudit(ctx, s.auditRepo, privacy.AuditEvent{
		TargetType: model.AuditTargetRequest,
		TargetID:   req.ID,
		Action:     action.Name(),
		Actor:      actor,
		Origin:     origin,
		OldStatus:  string(req.Status),
		NewStatus:  string(next.Status),
		Before:     privacy.RequestSnapshot(*req),
		After:      privacy.RequestSnapshot(next),
	})

	if len(next.Result) > 0 {
		res.Result = json.RawMessage(next.Result)
	}
	return res, nil
}

// runDeletion 在请求已被占住后执行级联删除，并把删除摘要写回请求。
// 摘要写回失败时请求仍是 completed，只记录日志。
func (s *privacyService) runDeletion(ctx context.Context, next *model.DataSubjectRequest) {
	summary := privacy.Cascade(ctx, next.SubjectID, s.collections)
	if summary.Partial() {
		log.Warnf("[Privacy] 请求 %s 级联删除部分失败: %d 个集合出错", next.ID, len(summary.Errors))
	}
	b, err := json.Marshal(summary)
	if err != nil {
		log.Errorf("[Privacy] 序列化删除摘要失败, request=%s, error: %v", next.ID, err)
		return
	}
	next.Result = datatypes.JSON(b)
	if err := s.requestRepo.UpdateVersioned(ctx, next, next.Version); err != nil {
		log.Errorf("[Privacy] 保存删除摘要失败, request=%s, error: %v", next.ID, err)
	}
}

// archiveIfPresent 归档操作员提供的导出包。归档是可撤销的，所以在落库之前执行。
func (s *privacyService) archiveIfPresent(ctx context.Context, next *model.DataSubjectRequest, action privacy.Action, res *ProcessResult) error {
	if next.Type != model.RequestExport && next.Type != model.RequestPortability {
		return nil
	}
	complete, _ := action.(privacy.Complete)
	if len(complete.ExportData) == 0 {
		return nil
	}
	url, err := s.archiveExport(ctx, next.ID, complete.ExportData)
	if err != nil {
		return err
	}
	next.Result = datatypes.JSON(complete.ExportData)
	res.ExportURL = url
	return nil
}

func (s *privacyService) discardExport(ctx context.Context, requestID string) {
	if err := s.objects.Remove(ctx, s.exportObjectName(requestID)); err != nil {
		log.Warnf("[Privacy] 清理导出包失败, request=%s, error: %v", requestID, err)
	}
}

// archiveExport 把导出包存入对象存储并返回临时下载地址。
func (s *privacyService) archiveExport(ctx context.Context, requestID string, data json.RawMessage) (string, error) {
	name := s.exportObjectName(requestID)
	if err := s.objects.Put(ctx, name, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		log.Errorf("[Privacy] 归档导出包失败, request=%s, error: %v", requestID, err)
		return "", apperr.Provider("archive export", err)
	}
	expiry := time.Duration(s.cfg.ExportURLExpiryMinutes) * time.Minute
	if expiry <= 0 {
		expiry = time.Hour
	}
	url, err := s.objects.PresignedURL(ctx, name, expiry)
	if err != nil {
		// 包已归档，下载地址可稍后重新生成
		log.Warnf("[Privacy] 生成导出包下载地址失败, request=%s, error: %v", requestID, err)
		return "", nil
	}
	return url, nil
}

func (s *privacyService) exportObjectName(requestID string) string {
	prefix := strings.Trim(s.cfg.ExportPrefix, "/")
	if prefix == "" {
		prefix = "exports"
	}
	return prefix + "/" + requestID + ".json"
}

func (s *privacyService) Get(ctx context.Context, id string) (*model.DataSubjectRequest, error) {
	return s.requestRepo.FindByID(ctx, id)
}

func (s *privacyService) List(ctx context.Context, filter repository.RequestFilter) ([]model.DataSubjectRequest, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, apperr.Invalid("type", "unknown request type")
	}
	switch filter.Status {
	case "", model.StatusPending, model.StatusApproved, model.StatusCompleted, model.StatusRejected, model.StatusCancelled:
	default:
		return nil, apperr.Invalid("status", "unknown request status")
	}
	return s.requestRepo.List(ctx, filter)
}

func (s *privacyService) ListForSubject(ctx context.Context, subjectID uint) ([]model.DataSubjectRequest, error) {
	return s.requestRepo.List(ctx, repository.RequestFilter{SubjectID: subjectID})
}

func (s *privacyService) AuditTrail(ctx context.Context, id string) ([]model.AuditEntry, error) {
	if _, err := s.requestRepo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.auditRepo.ListByTarget(ctx, model.AuditTargetRequest, id)
}

func (s *privacyService) ExportPreview(ctx context.Context, subjectID uint) (*ExportBundle, error) {
	if subjectID == 0 {
		return nil, apperr.Invalid("subject_id", "must be a positive integer")
	}
	return s.exporter.Export(ctx, subjectID)
}

// CascadeCollections 按固定顺序组装级联删除的集合，身份表（user_profiles）最后删除。
func CascadeCollections(
	searchHistoryRepo repository.SearchHistoryRepository,
	conversationRepo repository.ConversationRepository,
	vectors VectorIndex,
	chunkRepo repository.ChunkRepository,
	documentRepo repository.DocumentRepository,
	objects ObjectStore,
	consentRepo repository.ConsentRepository,
	profileRepo repository.ProfileRepository,
) []privacy.Collection {
	funcs := map[string]privacy.DeleteFunc{
		privacy.CollectionSearchHistory:  searchHistoryRepo.DeleteBySubject,
		privacy.CollectionConversations:  conversationRepo.DeleteBySubject,
		privacy.CollectionChunkVectors:   vectors.DeleteBySubject,
		privacy.CollectionDocumentChunks: chunkRepo.DeleteBySubject,
		privacy.CollectionDocuments:      deleteDocumentsWithObjects(documentRepo, objects),
		privacy.CollectionConsents:       consentRepo.DeleteBySubject,
		privacy.CollectionProfiles:       profileRepo.DeleteBySubject,
	}
	out := make([]privacy.Collection, 0, len(privacy.DefaultOrder))
	for _, name := range privacy.DefaultOrder {
		out = append(out, privacy.Collection{Name: name, Delete: funcs[name]})
	}
	return out
}

// deleteDocumentsWithObjects 先删行再删源文件。对象删除失败时仍返回已删除的行数。
func deleteDocumentsWithObjects(documentRepo repository.DocumentRepository, objects ObjectStore) privacy.DeleteFunc {
	return func(ctx context.Context, subjectID uint) (int64, error) {
		names, err := documentRepo.ObjectNamesBySubject(ctx, subjectID)
		if err != nil {
			return 0, err
		}
		n, err := documentRepo.DeleteBySubject(ctx, subjectID)
		if err != nil {
			return n, err
		}
		var failed []string
		for _, name := range names {
			if err := objects.Remove(ctx, name); err != nil {
				failed = append(failed, name)
			}
		}
		if len(failed) > 0 {
			return n, fmt.Errorf("failed to remove %d source objects: %s", len(failed), strings.Join(failed, ", "))
		}
		return n, nil
	}
}
