package service

import (
	"context"
	"fmt"
	"iter"
	"runtime/debug"

	"kenny-gateway/internal/model"
	"kenny-gateway/pkg/log"
	"kenny-gateway/pkg/sse"
	"kenny-gateway/pkg/tasks"

	"github.com/google/uuid"
)

const (
	// NoMessagesError 是请求中没有任何消息时返回的错误描述。
	NoMessagesError = "No messages provided"
	// AnonymousUserID 是未携带用户身份时使用的用户 ID。
	AnonymousUserID = "anonymous"
)

// GatewayRequest 是一次聊天请求，只有最后一条消息会作为新的轮次。
type GatewayRequest struct {
	Messages  []model.ChatMessage
	SessionID string
	User      model.UserInfo
}

// PersistScheduler 接收后台持久化任务，不允许阻塞。
type PersistScheduler interface {
	Schedule(task tasks.PersistTask) bool
}

// GatewayService 协调会话解析、工作流调用、轮次追加和流式输出。
type GatewayService interface {
	// Handle 返回本次使用的会话 ID 和事件序列；序列在首次拉取时才开始执行。
	Handle(ctx context.Context, req GatewayRequest) (string, iter.Seq[sse.Chunk])
}

type gatewayService struct {
	store     SessionStore
	relay     WorkflowRelay
	responder *Responder
	persister PersistScheduler
}

// NewGatewayService 创建一个新的 GatewayService 实例。
func NewGatewayService(store SessionStore, relay WorkflowRelay, responder *Responder, persister PersistScheduler) GatewayService {
	return &gatewayService{
		store:     store,
		relay:     relay,
		responder: responder,
		persister: persister,
	}
}

func (s *gatewayService) Handle(ctx context.Context, req GatewayRequest) (string, iter.Seq[sse.Chunk]) {
	if len(req.Messages) == 0 {
		return "", errorStream(NoMessagesError)
	}
	if req.User.ID == "" {
		req.User.ID = AnonymousUserID
	}
	turnText := req.Messages[len(req.Messages)-1].Content

	sessionID := req.SessionID
	if sessionID == "" {
		if id, ok := s.store.FindActiveForUser(req.User.ID); ok {
			sessionID = id
		} else {
			sessionID = uuid.NewString()
		}
	}

	return sessionID, func(yield func(sse.Chunk) bool) {
		outcome, err := s.prepare(ctx, sessionID, turnText, req.User)
		if err != nil {
			fault := asFault(err)
			log.Errorw("网关处理失败", "sessionId", sessionID, "stage", fault.Stage, "error", fault.Err)
			for c := range errorStream(fault.Error()) {
				if !yield(c) {
					return
				}
			}
			return
		}
		for c := range s.responder.Stream(ctx, outcome, turnText) {
			if !yield(c) {
				return
			}
		}
	}
}

// prepare 执行解析、调用、追加和调度持久化；panic 被转换为 GatewayFault。
func (s *gatewayService) prepare(ctx context.Context, sessionID, turnText string, user model.UserInfo) (outcome RelayOutcome, err error) {
	stage := "resolve"
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("网关 panic: %v\n%s", r, debug.Stack())
			err = &GatewayFault{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	record, err := s.store.Resolve(ctx, sessionID, user.ID)
	if err != nil {
		return RelayOutcome{}, &GatewayFault{Stage: stage, Err: err}
	}
	if record.UserID != user.ID {
		// 历史不能转发给会话所有者以外的调用方
		return RelayOutcome{}, &GatewayFault{Stage: stage, Err: ErrSessionForbidden}
	}

	stage = "dispatch"
	outcome = s.relay.Dispatch(ctx, turnText, sessionID, user, record.HistoryWindow(model.HistoryWindow))

	stage = "append"
	turn := model.TurnRecord{
		UserMessage: turnText,
		Intent:      model.UnknownIntent,
	}
	if outcome.OK {
		turn.Response = outcome.ResponseText
		turn.Intent = outcome.Intent
		turn.Confidence = outcome.Confidence
	} else {
		turn.Response = FallbackMessage(turnText)
	}
	updated, err := s.store.AppendTurn(ctx, sessionID, turn)
	if err != nil {
		return RelayOutcome{}, &GatewayFault{Stage: stage, Err: err}
	}

	stage = "schedule"
	last := updated.Turns[len(updated.Turns)-1]
	if !s.persister.Schedule(tasks.PersistTask{Record: updated, Turn: last}) {
		log.Warnw("持久化任务未能入队", "sessionId", sessionID, "turn", last.TurnNumber)
	}
	return outcome, nil
}

func asFault(err error) *GatewayFault {
	if f, ok := err.(*GatewayFault); ok {
		return f
	}
	return &GatewayFault{Stage: "unknown", Err: err}
}

// errorStream 返回单个错误事件加结束哨兵。
func errorStream(msg string) iter.Seq[sse.Chunk] {
	return func(yield func(sse.Chunk) bool) {
		if !yield(sse.Error(msg)) {
			return
		}
		yield(sse.Done())
	}
}
