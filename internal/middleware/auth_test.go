package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk-go/pkg/token"
)

type recordingProfiles struct {
	seen []uint
	err  error
}

func (r *recordingProfiles) Ensure(_ context.Context, claims *token.CustomClaims) error {
	r.seen = append(r.seen, claims.UserID)
	return r.err
}

func newRouter(jwt *token.JWTManager, profiles *recordingProfiles) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	auth := r.Group("/", AuthMiddleware(jwt, profiles))
	auth.GET("/me", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.JSON(http.StatusOK, gin.H{"userId": claims.UserID})
	})
	auth.GET("/admin", AdminAuthMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	jwt := token.NewJWTManager("secret")
	profiles := &recordingProfiles{}
	r := newRouter(jwt, profiles)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Bearer not-a-jwt").Code)

	tok, err := jwt.GenerateToken(9, "ann", token.RoleUser, time.Hour)
	require.NoError(t, err)
	w := do(r, "/me", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":9}`, w.Body.String())
	assert.Equal(t, []uint{9}, profiles.seen)

	// 档案写入失败不拦截请求
	profiles.err = errors.New("db down")
	assert.Equal(t, http.StatusOK, do(r, "/me", "Bearer "+tok).Code)
}

func TestAdminAuthMiddleware(t *testing.T) {
	jwt := token.NewJWTManager("secret")
	r := newRouter(jwt, &recordingProfiles{})

	user, _ := jwt.GenerateToken(9, "ann", token.RoleUser, time.Hour)
	admin, _ := jwt.GenerateToken(1, "root", token.RoleAdmin, time.Hour)

	assert.Equal(t, http.StatusForbidden, do(r, "/admin", "Bearer "+user).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", "Bearer "+admin).Code)
}

func TestTruncate(t *testing.T) {
	long := make([]byte, maxLoggedBody+10)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, truncate(string(long)), maxLoggedBody+len("...(truncated)"))
	assert.Equal(t, "short", truncate("short"))
}
