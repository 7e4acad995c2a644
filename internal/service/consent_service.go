package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ragdesk-go/internal/model"
	"ragdesk-go/internal/privacy"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/token"
)

// ConsentService 定义了同意记录的业务操作。
type ConsentService interface {
	Record(ctx context.Context, subjectID uint, consentType string, granted bool, policyVersion string, origin privacy.Origin) (*model.ConsentRecord, error)
	Current(ctx context.Context, subjectID uint) ([]model.ConsentRecord, error)
	History(ctx context.Context, subjectID uint) ([]model.ConsentRecord, error)
}

type consentService struct {
	consentRepo repository.ConsentRepository
	auditRepo   repository.AuditRepository
}

// NewConsentService 创建一个新的 ConsentService 实例。
func NewConsentService(consentRepo repository.ConsentRepository, auditRepo repository.AuditRepository) ConsentService {
	return &consentService{consentRepo: consentRepo, auditRepo: auditRepo}
}

// Record 追加一条同意记录，旧记录保留作为历史。
func (s *consentService) Record(ctx context.Context, subjectID uint, consentType string, granted bool, policyVersion string, origin privacy.Origin) (*model.ConsentRecord, error) {
	consentType = strings.TrimSpace(consentType)
	if consentType == "" {
		return nil, apperr.Invalid("consent_type", "is required")
	}
	if len(consentType) > 64 {
		return nil, apperr.Invalid("consent_type", "must be at most 64 characters")
	}

	history, err := s.consentRepo.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load consent history: %w", err)
	}
	var before privacy.Snapshot
	for _, c := range privacy.CurrentConsents(history) {
		if c.ConsentType == consentType {
			before = privacy.ConsentSnapshot(c)
		}
	}

	rec := &model.ConsentRecord{
		SubjectID:     subjectID,
		ConsentType:   consentType,
		Granted:       granted,
		PolicyVersion: policyVersion,
		IPAddress:     origin.IPAddress,
		UserAgent:     origin.UserAgent,
	}
	if err := s.consentRepo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create consent record: %w", err)
	}

	action := "consent_granted"
	if !granted {
		action = "consent_withdrawn"
	}
	recordAudit(ctx, s.auditRepo, privacy.AuditEvent{
		TargetType: model.AuditTargetConsent,
		TargetID:   strconv.FormatUint(uint64(rec.ID), 10),
		Action:     action,
		Actor:      privacy.Actor{ID: subjectID, Role: token.RoleUser},
		Origin:     origin,
		Before:     before,
		After:      privacy.ConsentSnapshot(*rec),
	})
	return rec, nil
}

func (s *consentService) Current(ctx context.Context, subjectID uint) ([]model.ConsentRecord, error) {
	history, err := s.consentRepo.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return privacy.CurrentConsents(history), nil
}

func (s *consentService) History(ctx context.Context, subjectID uint) ([]model.ConsentRecord, error) {
	return s.consentRepo.ListBySubject(ctx, subjectID)
}
