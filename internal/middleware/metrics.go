package middleware

import (
	"strconv"
	"time"

	"kenny-gateway/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics 记录每个请求的计数与耗时，path 使用路由模板避免高基数。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
