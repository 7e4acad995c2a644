package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragdesk-go/internal/service"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/log"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 在当前用户的文档中做相似度检索。
func (h *SearchHandler) Search(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	query := c.Query("query")
	log.Infof("[SearchHandler] 收到检索请求, query: %s", query)

	var threshold *float64
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			respondError(c, "Search", apperr.Invalid("threshold", "must be a number in [0, 1]"))
			return
		}
		threshold = &v
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 100 {
			respondError(c, "Search", apperr.Invalid("limit", "must be an integer in [1, 100]"))
			return
		}
		limit = v
	}

	results, err := h.searchService.Search(c.Request.Context(), claims.UserID, query, threshold, limit)
	if err != nil {
		respondError(c, "Search", err)
		return
	}
	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	respondOK(c, http.StatusOK, gin.H{"results": results, "count": len(results)})
}
