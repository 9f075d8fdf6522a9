package jwt

import (
	"net/http"
	"strings"

	"freight-chat/pkg/logger"
	"freight-chat/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ContextUserIDKey 用户ID在gin.Context中的键名
	ContextUserIDKey = "user_id"
)

// ExtractToken 依次从 Authorization: Bearer、?token= 和
// Sec-WebSocket-Protocol 中取出令牌
func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	// 浏览器无法设置 WebSocket 请求头，令牌放在子协议里
	for _, proto := range strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",") {
		proto = strings.TrimSpace(proto)
		if strings.HasPrefix(proto, "Bearer ") {
			return strings.TrimPrefix(proto, "Bearer ")
		}
		if proto != "" && strings.Count(proto, ".") == 2 {
			return proto
		}
	}
	return ""
}

// AuthMiddleware JWT认证中间件
// 验证token并将用户信息存入gin.Context
func (s *JWTService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c.Request)
		if tokenString == "" {
			response.Unauthorized(c, "缺少访问令牌")
			return
		}

		claims, err := s.ValidateToken(tokenString)
		if err != nil {
			logger.Warn("JWT验证失败",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			response.Unauthorized(c, "token无效或已过期")
			return
		}

		c.Set(ContextUserIDKey, claims.Subject)

		logger.Debug("用户访问接口",
			zap.String("user_id", claims.Subject),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)

		c.Next()
	}
}

// GetUserID 从gin.Context中获取用户ID
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get(ContextUserIDKey); exists {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return ""
}
