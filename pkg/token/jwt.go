// Package token 校验由外部认证平台签发的 JSON Web Token。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the token.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// JWTManager 负责 JWT 的验证；GenerateToken 仅用于本地调试和测试。
type JWTManager struct {
	secretKey []byte
}

// CustomClaims 定义了 JWT 中携带的自定义数据。
type CustomClaims struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin 报告 token 是否为管理员。
func (c *CustomClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{secretKey: []byte(secret)}
}

// GenerateToken 根据给定的用户信息签发一个 HS256 token。
func (m *JWTManager) GenerateToken(userID uint, username, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串，签名不匹配、过期或缺少用户 ID 都视为无效。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == 0 {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}
