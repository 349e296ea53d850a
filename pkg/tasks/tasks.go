// Package tasks 定义了后台持久化任务与发送到 Kafka 的事件结构。
package tasks

import (
	"time"

	"kenny-gateway/internal/model"
)

// PersistTask 是一次轮次追加后需要异步落库的快照。
type PersistTask struct {
	Record *model.ConversationRecord
	Turn   model.TurnRecord
}

// TurnEvent 是发布到 Kafka 的轮次事件。
type TurnEvent struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	TurnNumber  int       `json:"turn_number"`
	UserMessage string    `json:"user_message"`
	Response    string    `json:"kenny_response"`
	Intent      string    `json:"intent"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewTurnEvent 根据持久化任务构造事件。
func NewTurnEvent(task PersistTask) TurnEvent {
	return TurnEvent{
		SessionID:   task.Record.SessionID,
		UserID:      task.Record.UserID,
		TurnNumber:  task.Turn.TurnNumber,
		UserMessage: task.Turn.UserMessage,
		Response:    task.Turn.Response,
		Intent:      task.Turn.Intent,
		Confidence:  task.Turn.Confidence,
		Timestamp:   task.Turn.Timestamp,
	}
}
