package handler

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"kenny-gateway/internal/middleware"
	"kenny-gateway/internal/model"
	"kenny-gateway/internal/service"
	"kenny-gateway/pkg/sse"
	"kenny-gateway/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubGateway 记录请求并返回固定的事件序列。
type stubGateway struct {
	mu       sync.Mutex
	requests []service.GatewayRequest
	chunks   []sse.Chunk
}

func (g *stubGateway) Handle(_ context.Context, req service.GatewayRequest) (string, iter.Seq[sse.Chunk]) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	sid := req.SessionID
	if sid == "" {
		sid = "generated"
	}
	return sid, func(yield func(sse.Chunk) bool) {
		for _, c := range g.chunks {
			if !yield(c) {
				return
			}
		}
	}
}

func (g *stubGateway) last() service.GatewayRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func newChatRouter(gw service.GatewayService, jwt *token.JWTManager) *gin.Engine {
	r := gin.New()
	h := NewChatHandler(gw)
	r.POST("/v1/chat/completions", middleware.AuthMiddleware(jwt, false), h.Completions)
	r.GET("/v1/models", h.Models)
	r.GET("/chat/ws", middleware.AuthMiddleware(jwt, false), h.HandleWebSocket)
	return r
}

func TestCompletions_StreamsEvents(t *testing.T) {
	gw := &stubGateway{chunks: []sse.Chunk{sse.Content("Hello "), sse.Content("there"), sse.Finish(), sse.Done()}}
	r := newChatRouter(gw, nil)

	body := `{"messages":[{"role":"user","content":"hi"}],"user":{"id":"u-1","email":"u@example.com"},"session_id":"s-1"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "s-1", w.Header().Get(SessionHeader))
	assert.Equal(t,
		`data: {"choices":[{"delta":{"content":"Hello "}}]}`+"\n\n"+
			`data: {"choices":[{"delta":{"content":"there"}}]}`+"\n\n"+
			`data: {"choices":[{"finish_reason":"stop"}]}`+"\n\n"+
			"data: [DONE]\n\n",
		w.Body.String())

	req := gw.last()
	assert.Equal(t, "u-1", req.User.ID)
	assert.Equal(t, "s-1", req.SessionID)
	require.Len(t, req.Messages, 1)
}

func TestCompletions_SessionHeaderAndClaims(t *testing.T) {
	gw := &stubGateway{chunks: []sse.Chunk{sse.Done()}}
	jwt := token.NewJWTManager("secret", 1)
	r := newChatRouter(gw, jwt)
	tok, err := jwt.GenerateToken("jwt-user", "j@example.com", "J", "USER")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"user":{"id":"spoofed"}}`))
	req.Header.Set(SessionHeader, "from-header")
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from-header", gw.last().SessionID)
	assert.Equal(t, "jwt-user", gw.last().User.ID)
}

func TestCompletions_InvalidBody(t *testing.T) {
	r := newChatRouter(&stubGateway{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletions_RejectsOverlongSessionID(t *testing.T) {
	gw := &stubGateway{}
	r := newChatRouter(gw, nil)

	body := `{"messages":[{"role":"user","content":"hi"}],"session_id":"` + strings.Repeat("x", model.MaxSessionIDLength+1) + `"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, gw.requests)

	body = `{"messages":[{"role":"user","content":"hi"}],"session_id":"` + strings.Repeat("x", model.MaxSessionIDLength) + `"}`
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestModels(t *testing.T) {
	r := newChatRouter(&stubGateway{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "kenny", resp.Data[0].ID)
}

func TestHandleWebSocket(t *testing.T) {
	gw := &stubGateway{chunks: []sse.Chunk{sse.Content("hi"), sse.Done()}}
	srv := httptest.NewServer(newChatRouter(gw, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws?user_id=u-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"hello","session_id":"s-9"}`)))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"choices":[{"delta":{"content":"hi"}}]}`, string(first))
	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "[DONE]", string(second))

	req := gw.last()
	assert.Equal(t, "s-9", req.SessionID)
	assert.Equal(t, "u-1", req.User.ID)
	assert.Equal(t, "hello", req.Messages[0].Content)

	// 纯文本消息沿用同一会话
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("plain text")))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "s-9", gw.last().SessionID)
	assert.Equal(t, "plain text", gw.last().Messages[0].Content)
}
