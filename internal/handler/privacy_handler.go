package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragdesk-go/internal/model"
	"ragdesk-go/internal/privacy"
	"ragdesk-go/internal/repository"
	"ragdesk-go/internal/service"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/log"
)

// PrivacyHandler 处理数据主体请求和同意记录相关的接口，包括管理员的审核接口。
type PrivacyHandler struct {
	privacyService service.PrivacyService
	consentService service.ConsentService
}

// NewPrivacyHandler 创建一个新的 PrivacyHandler 实例。
func NewPrivacyHandler(privacyService service.PrivacyService, consentService service.ConsentService) *PrivacyHandler {
	return &PrivacyHandler{privacyService: privacyService, consentService: consentService}
}

type submitRequestBody struct {
	RequestType string `json:"request_type"`
	Reason      string `json:"reason"`
}

// Submit 提交一个新的数据主体请求。
func (h *PrivacyHandler) Submit(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	var body submitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, "SubmitRequest", apperr.Invalid("body", err.Error()))
		return
	}
	req, err := h.privacyService.Submit(c.Request.Context(), claims.UserID, claims.Username,
		model.RequestType(body.RequestType), body.Reason, originOf(c))
	if err != nil {
		respondError(c, "SubmitRequest", err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"request": req})
}

// ListOwn 列出当前用户自己的请求。
func (h *PrivacyHandler) ListOwn(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	reqs, err := h.privacyService.ListForSubject(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, "ListOwnRequests", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"requests": reqs})
}

// CancelOwn 撤销自己尚未完成的请求。
func (h *PrivacyHandler) CancelOwn(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	res, err := h.privacyService.CancelOwn(c.Request.Context(), c.Param("id"), claims.UserID, originOf(c))
	if err != nil {
		respondError(c, "CancelRequest", err)
		return
	}
	respondOK(c, http.StatusOK, processResultBody(res))
}

type consentBody struct {
	ConsentType   string `json:"consent_type"`
	Granted       *bool  `json:"granted"`
	PolicyVersion string `json:"policy_version"`
}

// RecordConsent 追加一条同意或撤回记录。
func (h *PrivacyHandler) RecordConsent(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	var body consentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, "RecordConsent", apperr.Invalid("body", err.Error()))
		return
	}
	if body.Granted == nil {
		respondError(c, "RecordConsent", apperr.Invalid("granted", "is required"))
		return
	}
	rec, err := h.consentService.Record(c.Request.Context(), claims.UserID, body.ConsentType, *body.Granted, body.PolicyVersion, originOf(c))
	if err != nil {
		respondError(c, "RecordConsent", err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"consent": rec})
}

// CurrentConsents 返回每种同意类型的最新状态。
func (h *PrivacyHandler) CurrentConsents(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	recs, err := h.consentService.Current(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, "CurrentConsents", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"consents": recs})
}

func (h *PrivacyHandler) ConsentHistory(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	recs, err := h.consentService.History(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, "ConsentHistory", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"consents": recs})
}

// --- 管理员接口 ---

// AdminList 按状态和类型过滤请求。
func (h *PrivacyHandler) AdminList(c *gin.Context) {
	filter := repository.RequestFilter{
		Status: model.RequestStatus(c.Query("status")),
		Type:   model.RequestType(c.Query("type")),
	}
	if raw := c.Query("subject_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, "AdminListRequests", apperr.Invalid("subject_id", "must be a positive integer"))
			return
		}
		filter.SubjectID = uint(v)
	}
	reqs, err := h.privacyService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "AdminListRequests", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"requests": reqs, "count": len(reqs)})
}

func (h *PrivacyHandler) AdminGet(c *gin.Context) {
	req, err := h.privacyService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "AdminGetRequest", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"request": req})
}

type processBody struct {
	Action     string          `json:"action"`
	Notes      string          `json:"notes"`
	ExportData json.RawMessage `json:"export_data"`
}

// AdminProcess 对请求执行 approve / reject / complete / cancel。
func (h *PrivacyHandler) AdminProcess(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	var body processBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, "ProcessRequest", apperr.Invalid("body", err.Error()))
		return
	}
	action, err := privacy.ParseAction(body.Action, body.Notes, body.ExportData)
	if err != nil {
		respondError(c, "ProcessRequest", err)
		return
	}

	id := c.Param("id")
	log.Infof("[PrivacyHandler] 管理员 %d 对请求 %s 执行 %s", claims.UserID, id, action.Name())
	res, err := h.privacyService.Process(c.Request.Context(), id, action,
		privacy.Actor{ID: claims.UserID, Role: claims.Role}, originOf(c))
	if err != nil {
		respondError(c, "ProcessRequest", err)
		return
	}
	respondOK(c, http.StatusOK, processResultBody(res))
}

func (h *PrivacyHandler) AdminAudit(c *gin.Context) {
	entries, err := h.privacyService.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "AuditTrail", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"entries": entries})
}

// AdminExportPreview 汇总某个主体当前持有的全部数据，不落库。
func (h *PrivacyHandler) AdminExportPreview(c *gin.Context) {
	subjectID, ok := uintParam(c, "subjectId")
	if !ok {
		return
	}
	bundle, err := h.privacyService.ExportPreview(c.Request.Context(), subjectID)
	if err != nil {
		respondError(c, "ExportPreview", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"export": bundle})
}

func processResultBody(res *service.ProcessResult) gin.H {
	body := gin.H{
		"request_id":            res.RequestID,
		"new_status":            res.NewStatus,
		"processed_at":          res.ProcessedAt,
		"processing_time_hours": res.ProcessingTimeHours,
		"result":                res.Result,
	}
	if res.ExportURL != "" {
		body["export_url"] = res.ExportURL
	}
	return body
}
