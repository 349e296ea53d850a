package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"

	"kenny-gateway/internal/model"
	"kenny-gateway/pkg/log"
	"kenny-gateway/pkg/metrics"
	"kenny-gateway/pkg/workflow"
)

const (
	// DefaultRelayTimeout 是调用工作流的默认截止时间。
	DefaultRelayTimeout = 30 * time.Second
	// MissingResponseText 是工作流成功但没有返回 response 字段时使用的回复。
	MissingResponseText = "I'm having trouble processing your request."
	// DefaultUserName 是调用方没有提供名字时发送给工作流的名字。
	DefaultUserName = "User"
)

// RelayReason 是一次工作流调用的分类结果。
type RelayReason string

const (
	RelaySuccess RelayReason = "success"
	RelayTimeout RelayReason = "timeout"
	RelayError   RelayReason = "error"
)

// RelayOutcome 描述了工作流调用的结果；OK 为 false 时只有 Reason/Detail/Err 有意义。
type RelayOutcome struct {
	OK           bool
	Reason       RelayReason
	Detail       string
	Err          error
	ResponseText string
	Intent       string
	Confidence   float64
}

// WorkflowRelay 定义了将一轮对话转发给外部工作流的接口。
type WorkflowRelay interface {
	Dispatch(ctx context.Context, turnText, sessionID string, user model.UserInfo, history []model.TurnRecord) RelayOutcome
}

type workflowRelay struct {
	client  workflow.Client
	timeout time.Duration
	debug   bool
}

// NewWorkflowRelay 创建一个新的 WorkflowRelay 实例。
func NewWorkflowRelay(client workflow.Client, timeout time.Duration, debug bool) WorkflowRelay {
	if timeout <= 0 {
		timeout = DefaultRelayTimeout
	}
	return &workflowRelay{client: client, timeout: timeout, debug: debug}
}

// Dispatch 发送一次请求，永远不会返回错误，失败被编码在 RelayOutcome 中。
func (r *workflowRelay) Dispatch(ctx context.Context, turnText, sessionID string, user model.UserInfo, history []model.TurnRecord) RelayOutcome {
	if user.ID == "" {
		user.ID = AnonymousUserID
	}
	if user.Name == "" {
		user.Name = DefaultUserName
	}
	req := workflow.RouteRequest{
		Message:             turnText,
		SessionID:           sessionID,
		User:                workflow.User{ID: user.ID, Email: user.Email, Name: user.Name},
		Timestamp:           unixSeconds(time.Now()),
		ConversationHistory: make([]workflow.HistoryItem, 0, len(history)),
	}
	for _, t := range history {
		req.ConversationHistory = append(req.ConversationHistory, workflow.HistoryItem{
			UserMessage:   t.UserMessage,
			KennyResponse: t.Response,
			Intent:        t.Intent,
			Confidence:    t.Confidence,
			Timestamp:     unixSeconds(t.Timestamp),
		})
	}

	if r.debug {
		if b, err := json.Marshal(req); err == nil {
			log.Debugf("发送到工作流的负载: %s", string(b))
		}
	}

	relayCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.client.Route(relayCtx, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if isTimeout(relayCtx, err) {
			metrics.RecordRelay(string(RelayTimeout), elapsed)
			log.Warnw("工作流调用超时", "sessionId", sessionID, "timeout", r.timeout)
			return RelayOutcome{Reason: RelayTimeout, Detail: "Kenny router timeout", Err: ErrRelayTimeout}
		}
		metrics.RecordRelay(string(RelayError), elapsed)
		log.Warnw("工作流调用失败", "sessionId", sessionID, "error", err)
		detail := "Kenny router error: " + err.Error()
		var statusErr *workflow.StatusError
		if errors.As(err, &statusErr) {
			detail = "n8n router failed: " + strconv.Itoa(statusErr.StatusCode)
		}
		return RelayOutcome{Reason: RelayError, Detail: detail, Err: errors.Join(ErrRelayFailed, err)}
	}

	metrics.RecordRelay(string(RelaySuccess), elapsed)
	out := RelayOutcome{
		OK:           true,
		Reason:       RelaySuccess,
		ResponseText: MissingResponseText,
		Intent:       model.UnknownIntent,
	}
	if resp.Response != nil {
		out.ResponseText = *resp.Response
	}
	if resp.Intent != nil && *resp.Intent != "" {
		out.Intent = *resp.Intent
	}
	if resp.Confidence != nil {
		out.Confidence = clampConfidence(*resp.Confidence)
	}
	return out
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func clampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
