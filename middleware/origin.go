package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// Origin 校验 /ws 握手的 Origin；allowed 为空时不限制
func Origin(allowed []string) gin.HandlerFunc {
	allowed = lo.Map(allowed, func(s string, _ int) string { return strings.ToLower(strings.TrimSpace(s)) })
	return func(c *gin.Context) {
		if len(allowed) == 0 || c.Request.Method != http.MethodGet || c.Request.URL.Path != "/ws" {
			c.Next()
			return
		}
		origin := strings.ToLower(c.GetHeader("Origin"))
		if origin != "" && !lo.Contains(allowed, origin) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
