// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragdesk-go/internal/middleware"
	"ragdesk-go/internal/privacy"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/token"
)

// respondOK 输出 {"success": true, ...data}。
func respondOK(c *gin.Context, status int, data gin.H) {
	body := gin.H{"success": true}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(status, body)
}

// respondError 按错误分类映射 HTTP 状态码，输出 {"error": "..."}。
func respondError(c *gin.Context, op string, err error) {
	var dup *apperr.DuplicateError
	switch {
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "document_id": dup.ExistingID})
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrAlreadyFinalized),
		errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrProvider):
		log.Errorf("[%s] 外部服务失败: %v", op, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "上游服务暂时不可用，请稍后重试"})
	default:
		log.Errorf("[%s] 内部错误: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	}
}

// currentClaims 取出已认证用户；缺失时直接写 401。
func currentClaims(c *gin.Context) (*token.CustomClaims, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return nil, false
	}
	return claims, true
}

func originOf(c *gin.Context) privacy.Origin {
	return privacy.Origin{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// uintParam 解析路径中的数字 ID。
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		respondError(c, "params", apperr.Invalid(name, "must be a positive integer"))
		return 0, false
	}
	return uint(v), true
}
