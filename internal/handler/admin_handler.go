// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"kenny-gateway/internal/middleware"
	"kenny-gateway/internal/model"
	"kenny-gateway/internal/service"
	"kenny-gateway/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// SessionStats 返回进程内会话缓存的统计。
func (h *AdminHandler) SessionStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.adminService.SessionStats()})
}

// EvictSessionCache 将会话从两级缓存中移除。
func (h *AdminHandler) EvictSessionCache(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := h.adminService.EvictSession(c.Request.Context(), sessionID); err != nil {
		log.Error("EvictSessionCache: Failed to evict session", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清除会话缓存失败", "data": nil})
		return
	}
	if claims := middleware.ClaimsFrom(c); claims != nil {
		log.Infof("Admin user '%s' evicted session '%s'", claims.UserID, sessionID)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// ReapSessions 立即清理过期会话。
func (h *AdminHandler) ReapSessions(c *gin.Context) {
	removed := h.adminService.ReapNow(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"removed": removed}})
}

// SearchTurns 在轮次索引中检索。
func (h *AdminHandler) SearchTurns(c *gin.Context) {
	q := service.TurnQuery{
		Text:      c.Query("q"),
		UserID:    c.Query("userId"),
		SessionID: c.Query("sessionId"),
		Intent:    c.Query("intent"),
	}
	q.Size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))

	var ok bool
	if q.From, ok = parseTimeParam(c, "startTime"); !ok {
		return
	}
	if q.To, ok = parseTimeParam(c, "endTime"); !ok {
		return
	}

	results, err := h.adminService.SearchTurns(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, service.ErrSearchDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "未配置检索服务", "data": nil})
			return
		}
		log.Error("SearchTurns: Failed to search turns", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": results})
}

// PersistenceStats 返回后台持久化队列的状态。
func (h *AdminHandler) PersistenceStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.adminService.PersistenceStats()})
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := model.ParseLocalTime(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的时间参数: " + name, "data": nil})
		return nil, false
	}
	return &t, true
}
