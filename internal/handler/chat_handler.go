// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"kenny-gateway/internal/middleware"
	"kenny-gateway/internal/model"
	"kenny-gateway/internal/service"
	"kenny-gateway/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// SessionHeader 携带会话 ID，请求中可选，响应中总是返回。
const SessionHeader = "X-Session-Id"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatCompletionRequest 是聊天接口的请求体，只有最后一条消息会被处理。
type ChatCompletionRequest struct {
	Messages  []model.ChatMessage `json:"messages"`
	User      model.UserInfo      `json:"user"`
	SessionID string              `json:"session_id"`
	Stream    *bool               `json:"stream,omitempty"`
}

// wsMessage 是 WebSocket 上的一条 JSON 消息，纯文本消息直接作为内容。
type wsMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatHandler 负责处理聊天请求。
type ChatHandler struct {
	gateway service.GatewayService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(gateway service.GatewayService) *ChatHandler {
	return &ChatHandler{gateway: gateway}
}

// Completions 处理一次聊天请求并以 text/event-stream 流式返回。
func (h *ChatHandler) Completions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Completions: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	if req.SessionID == "" {
		req.SessionID = c.GetHeader(SessionHeader)
	}
	if len(req.SessionID) > model.MaxSessionIDLength {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "session_id 过长", "data": nil})
		return
	}

	sessionID, stream := h.gateway.Handle(c.Request.Context(), service.GatewayRequest{
		Messages:  req.Messages,
		SessionID: req.SessionID,
		User:      callerIdentity(c, req.User),
	})

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	if sessionID != "" {
		header.Set(SessionHeader, sessionID)
	}
	c.Status(http.StatusOK)

	for chunk := range stream {
		b, err := chunk.Encode()
		if err != nil {
			log.Errorf("编码事件失败: %v", err)
			continue
		}
		if _, err := c.Writer.Write(b); err != nil {
			// 客户端断开不视为错误
			log.Debugf("客户端已断开, sessionId: %s", sessionID)
			return
		}
		c.Writer.Flush()
	}
}

// Models 返回可用的模型列表。
func (h *ChatHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{{
			"id":          "kenny",
			"object":      "model",
			"name":        "Kenny Assistant",
			"description": "Kenny V4 - Your local AI assistant with access to Mail, Calendar, Messages, WhatsApp, and more",
		}},
	})
}

// HandleWebSocket 处理 WebSocket 连接：每条入站消息是一轮对话，每个事件作为一个文本帧发送。
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	user := callerIdentity(c, model.UserInfo{
		ID:    c.Query("user_id"),
		Email: c.Query("email"),
		Name:  c.Query("name"),
	})
	sessionID := c.Query("session_id")
	if len(sessionID) > model.MaxSessionIDLength {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "session_id 过长", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.ID)
	ctx := c.Request.Context()

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		content := string(message)
		if trimmed := strings.TrimSpace(content); strings.HasPrefix(trimmed, "{") {
			var m wsMessage
			if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
				content = m.Message
				if m.SessionID != "" && len(m.SessionID) <= model.MaxSessionIDLength {
					sessionID = m.SessionID
				}
			}
		}

		var messages []model.ChatMessage
		if content != "" {
			messages = []model.ChatMessage{{Role: "user", Content: content}}
		}
		sid, stream := h.gateway.Handle(ctx, service.GatewayRequest{
			Messages:  messages,
			SessionID: sessionID,
			User:      user,
		})
		if sid != "" {
			sessionID = sid
		}

		for chunk := range stream {
			payload, err := chunk.Payload()
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warnf("向 WebSocket 写入失败: %v", err)
				return
			}
		}
	}
}

// callerIdentity 优先使用 JWT 中的身份，没有认证时使用请求中携带的身份。
func callerIdentity(c *gin.Context, fallback model.UserInfo) model.UserInfo {
	if claims := middleware.ClaimsFrom(c); claims != nil {
		return model.UserInfo{ID: claims.UserID, Email: claims.Email, Name: claims.Name}
	}
	return fallback
}
