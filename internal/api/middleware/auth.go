package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"maxyourpoints/internal/api/response"
	"maxyourpoints/internal/model"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/token"
)

const (
	claimsKey = "claims"
	// CookieName 登录后下发的令牌 cookie。
	CookieName = "auth_token"
)

// BearerToken 从 Authorization 头读取令牌，缺失时回退到 auth_token cookie。
func BearerToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if v, err := c.Cookie(CookieName); err == nil {
		return v
	}
	return ""
}

// AuthMiddleware 校验 JWT 并将身份写入上下文。
func AuthMiddleware(tokens *token.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c)
		if raw == "" {
			response.Error(c, nil, apperr.Unauthorized("No authentication token provided"), false)
			return
		}
		claims, err := tokens.Verify(raw)
		if err != nil {
			response.Error(c, nil, apperr.Unauthorized("Invalid or expired token"), false)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole 要求调用者角色不低于 min，须放在 AuthMiddleware 之后。
func RequireRole(min model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, nil, apperr.Unauthorized("No authentication token provided"), false)
			return
		}
		if !claims.Role.AtLeast(min) {
			response.Error(c, nil, apperr.Forbidden("Insufficient permissions"), false)
			return
		}
		c.Next()
	}
}

// Claims 返回 AuthMiddleware 写入的身份。
func Claims(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok && claims != nil
}

// SetClaims 供测试或上游中间件注入身份。
func SetClaims(c *gin.Context, claims *token.Claims) {
	c.Set(claimsKey, claims)
}
