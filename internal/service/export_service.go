package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ragdesk-go/internal/model"
	"ragdesk-go/internal/privacy"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/apperr"
)

// ExportBundle 汇总一个主体在系统中的全部个人数据，供管理员完成导出请求前核对。
type ExportBundle struct {
	SubjectID       uint                       `json:"subject_id"`
	GeneratedAt     time.Time                  `json:"generated_at"`
	Profile         *model.UserProfile         `json:"profile"`
	CurrentConsents []model.ConsentRecord      `json:"current_consents"`
	ConsentHistory  []model.ConsentRecord      `json:"consent_history"`
	Documents       []model.Document           `json:"documents"`
	Conversations   []model.Conversation       `json:"conversations"`
	SearchHistory   []model.SearchHistory      `json:"search_history"`
	Requests        []model.DataSubjectRequest `json:"requests"`
}

// SubjectExporter 收集主体数据。
type SubjectExporter interface {
	Export(ctx context.Context, subjectID uint) (*ExportBundle, error)
}

type subjectExporter struct {
	profileRepo       repository.ProfileRepository
	consentRepo       repository.ConsentRepository
	documentRepo      repository.DocumentRepository
	conversationRepo  repository.ConversationRepository
	searchHistoryRepo repository.SearchHistoryRepository
	requestRepo       repository.RequestRepository
}

// NewSubjectExporter 创建一个新的 SubjectExporter 实例。
func NewSubjectExporter(
	profileRepo repository.ProfileRepository,
	consentRepo repository.ConsentRepository,
	documentRepo repository.DocumentRepository,
	conversationRepo repository.ConversationRepository,
	searchHistoryRepo repository.SearchHistoryRepository,
	requestRepo repository.RequestRepository,
) SubjectExporter {
	return &subjectExporter{
		profileRepo:       profileRepo,
		consentRepo:       consentRepo,
		documentRepo:      documentRepo,
		conversationRepo:  conversationRepo,
		searchHistoryRepo: searchHistoryRepo,
		requestRepo:       requestRepo,
	}
}

func (e *subjectExporter) Export(ctx context.Context, subjectID uint) (*ExportBundle, error) {
	bundle := &ExportBundle{SubjectID: subjectID, GeneratedAt: time.Now().UTC()}

	profile, err := e.profileRepo.FindByID(ctx, subjectID)
	switch {
	case err == nil:
		bundle.Profile = profile
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, fmt.Errorf("load profile: %w", err)
	}

	if bundle.ConsentHistory, err = e.consentRepo.ListBySubject(ctx, subjectID); err != nil {
		return nil, fmt.Errorf("load consents: %w", err)
	}
	bundle.CurrentConsents = privacy.CurrentConsents(bundle.ConsentHistory)

	if bundle.Documents, err = e.documentRepo.ListByUser(ctx, subjectID); err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	if bundle.Conversations, err = e.conversationRepo.ListByUser(ctx, subjectID); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if bundle.SearchHistory, err = e.searchHistoryRepo.ListByUser(ctx, subjectID, 0); err != nil {
		return nil, fmt.Errorf("load search history: %w", err)
	}
	if bundle.Requests, err = e.requestRepo.List(ctx, repository.RequestFilter{SubjectID: subjectID}); err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	return bundle, nil
}
