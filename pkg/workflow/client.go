// Package workflow provides a client for the external decision workflow (n8n router webhook).
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ErrMalformedResponse is returned when the workflow answers 2xx with a body that is not a JSON object.
var ErrMalformedResponse = errors.New("workflow returned a malformed response body")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("workflow router failed: %d, body: %s", e.StatusCode, e.Body)
}

// Client defines the interface for a workflow router client.
type Client interface {
	// Route 发送一次请求，不做重试；截止时间由 ctx 控制。
	Route(ctx context.Context, req RouteRequest) (*RouteResponse, error)
}

// User 是请求负载中的调用方身份。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// HistoryItem 是随请求发送的一条历史轮次。时间戳为 unix 秒（带小数）。
type HistoryItem struct {
	UserMessage   string  `json:"user_message"`
	KennyResponse string  `json:"kenny_response"`
	Intent        string  `json:"intent"`
	Confidence    float64 `json:"confidence"`
	Timestamp     float64 `json:"timestamp"`
}

// RouteRequest 是 POST 到 webhook 的 JSON 负载。
type RouteRequest struct {
	Message             string        `json:"message"`
	SessionID           string        `json:"session_id"`
	User                User          `json:"user"`
	Timestamp           float64       `json:"timestamp"`
	ConversationHistory []HistoryItem `json:"conversation_history"`
}

// RouteResponse 是工作流成功时的响应体，字段均可缺省。
type RouteResponse struct {
	Response   *string  `json:"response"`
	Intent     *string  `json:"intent"`
	Confidence *float64 `json:"confidence"`
}

type webhookClient struct {
	url    string
	client *resty.Client
}

// NewClient creates a new workflow client posting to the given webhook URL.
func NewClient(webhookURL string) Client {
	return &webhookClient{
		url: webhookURL,
		client: resty.New().
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetRetryCount(0),
	}
}

// Route posts the turn to the workflow and decodes its answer.
func (c *webhookClient) Route(ctx context.Context, req RouteRequest) (*RouteResponse, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []HistoryItem{}
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to call workflow router: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}

	var out RouteResponse
	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || body[0] != '{' {
		return nil, ErrMalformedResponse
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
