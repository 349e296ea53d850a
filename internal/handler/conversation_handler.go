// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"kenny-gateway/internal/model"
	"kenny-gateway/internal/service"
	"kenny-gateway/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与会话查询相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetSession 返回会话当前的工作集。
func (h *ConversationHandler) GetSession(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}
	view, err := h.service.GetSession(c.Request.Context(), c.Param("sessionId"), userID)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// ListSessions 列出用户最近的会话。
func (h *ConversationHandler) ListSessions(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	sessions, err := h.service.ListSessions(c.Request.Context(), userID, limit)
	if err != nil {
		log.Error("ListSessions: Failed to list sessions", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取会话列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": sessions})
}

// ExportTranscript 将完整对话导出到对象存储并返回下载地址。
func (h *ConversationHandler) ExportTranscript(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}
	export, err := h.service.ExportTranscript(c.Request.Context(), c.Param("sessionId"), userID)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": export})
}

// requireOwner 返回调用方身份（JWT 优先，其次 user_id 查询参数），缺失时返回 400。
func requireOwner(c *gin.Context) (string, bool) {
	userID := callerIdentity(c, model.UserInfo{ID: c.Query("user_id")}).ID
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id", "data": nil})
		return "", false
	}
	return userID, true
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
	case errors.Is(err, service.ErrSessionForbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "无权访问该会话", "data": nil})
	case errors.Is(err, service.ErrTranscriptDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "未配置对象存储", "data": nil})
	default:
		log.Errorf("会话请求失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务器内部错误", "data": nil})
	}
}
