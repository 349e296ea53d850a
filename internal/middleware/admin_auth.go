// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"kenny-gateway/pkg/token"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 检查调用方是否具有管理员权限。
// 此中间件必须在 required 为 true 的 AuthMiddleware 之后使用。
func AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无法获取用户信息", "data": nil})
			return
		}

		if claims.Role != token.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足，需要管理员权限", "data": nil})
			return
		}

		c.Next()
	}
}
