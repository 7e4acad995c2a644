// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ragdesk-go/internal/service"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/token"
)

// ClaimsKey 是 gin 上下文中保存 *token.CustomClaims 的键。
const ClaimsKey = "claims"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// token 由外部认证平台签发，这里只校验签名并刷新用户档案。
func AuthMiddleware(jwtManager *token.JWTManager, profileService service.ProfileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		if err := profileService.Ensure(c.Request.Context(), claims); err != nil {
			// 档案写入失败不影响本次请求
			log.Warnf("[Auth] 更新用户档案失败, userID: %d, err: %v", claims.UserID, err)
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom 取出 AuthMiddleware 写入的 claims。
func ClaimsFrom(c *gin.Context) (*token.CustomClaims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*token.CustomClaims)
	return claims, ok
}
