package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger 是可以做健康检查的依赖。
type Pinger func(ctx context.Context) error

// HealthHandler 汇总各依赖的健康状态。进程本身可用时总是返回 200。
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler 创建一个新的 HealthHandler。
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Healthz 返回每个依赖的状态。
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = "down: " + err.Error()
			continue
		}
		deps[name] = "up"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "dependencies": deps})
}
