package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragdesk-go/internal/chunker"
	"ragdesk-go/internal/config"
	"ragdesk-go/internal/service"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/log"
)

// DocumentHandler 负责处理所有与文档入库和管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
	chunking   config.ChunkingConfig
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, chunking config.ChunkingConfig) *DocumentHandler {
	return &DocumentHandler{docService: docService, chunking: chunking}
}

type normalizeRequest struct {
	URL string `json:"url"`
}

// Normalize 返回 URL 的规范形式和类型，不落库。
func (h *DocumentHandler) Normalize(c *gin.Context) {
	var req normalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "Normalize", apperr.Invalid("body", err.Error()))
		return
	}
	res := h.docService.Normalize(req.URL)
	var normalized *string
	if res.Valid() {
		normalized = &res.Canonical
	}
	respondOK(c, http.StatusOK, gin.H{"normalized": normalized, "type": res.Kind})
}

// Upload 处理 multipart 文件上传。
func (h *DocumentHandler) Upload(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, "Upload", apperr.Invalid("file", "multipart field 'file' is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, "Upload", err)
		return
	}
	defer f.Close()

	log.Infof("[DocumentHandler] 收到文件上传, user: %d, file: %s, size: %d", claims.UserID, fileHeader.Filename, fileHeader.Size)
	doc, err := h.docService.IngestFile(c.Request.Context(), claims.UserID, fileHeader.Filename, f)
	if err != nil {
		respondError(c, "Upload", err)
		return
	}
	respondOK(c, http.StatusAccepted, gin.H{"document": doc})
}

type submitURLRequest struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// SubmitURL 提交一个 YouTube 或网页链接，可附带正文。
func (h *DocumentHandler) SubmitURL(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	var req submitURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "SubmitURL", apperr.Invalid("url", "is required"))
		return
	}
	doc, err := h.docService.IngestURL(c.Request.Context(), claims.UserID, req.URL, req.Title, req.Text)
	if err != nil {
		respondError(c, "SubmitURL", err)
		return
	}
	respondOK(c, http.StatusAccepted, gin.H{"document": doc})
}

// List 列出当前用户的文档。
func (h *DocumentHandler) List(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	docs, err := h.docService.List(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, "ListDocuments", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"documents": docs})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	doc, err := h.docService.Get(c.Request.Context(), claims.UserID, id)
	if err != nil {
		respondError(c, "GetDocument", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"document": doc})
}

func (h *DocumentHandler) Chunks(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	chunks, err := h.docService.Chunks(c.Request.Context(), claims.UserID, id)
	if err != nil {
		respondError(c, "DocumentChunks", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"chunks": chunks, "count": len(chunks)})
}

// Delete 删除文档及其切块、向量和原始文件。
func (h *DocumentHandler) Delete(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.docService.Delete(c.Request.Context(), claims.UserID, id); err != nil {
		respondError(c, "DeleteDocument", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"document_id": id})
}

// Download 生成原始文件的预签名下载链接。
func (h *DocumentHandler) Download(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	info, err := h.docService.DownloadURL(c.Request.Context(), claims.UserID, id)
	if err != nil {
		respondError(c, "DownloadDocument", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"download": info})
}

type chunkPreviewRequest struct {
	Text             string  `json:"text"`
	Mode             *string `json:"mode"`
	ChunkSize        *int    `json:"chunk_size"`
	Overlap          *int    `json:"overlap"`
	MaxChunks        *int    `json:"max_chunks"`
	ParagraphMaxSize *int    `json:"paragraph_max_size"`
}

// PreviewChunks 按给定参数切分文本，未给出的参数取配置默认值。
func (h *DocumentHandler) PreviewChunks(c *gin.Context) {
	var req chunkPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "PreviewChunks", apperr.Invalid("body", err.Error()))
		return
	}
	mode := h.chunking.Mode
	if req.Mode != nil {
		mode = *req.Mode
	}
	plan, err := chunker.NewPlan(mode,
		orDefault(req.ChunkSize, h.chunking.ChunkSize),
		orDefault(req.Overlap, h.chunking.Overlap),
		orDefault(req.MaxChunks, h.chunking.MaxChunks),
		orDefault(req.ParagraphMaxSize, h.chunking.ParagraphMaxSize),
	)
	if err != nil {
		respondError(c, "PreviewChunks", err)
		return
	}
	preview, err := h.docService.PreviewChunks(req.Text, plan)
	if err != nil {
		respondError(c, "PreviewChunks", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"preview": preview})
}

func orDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
