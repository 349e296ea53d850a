// Package model 包含了应用的数据模型定义。
package model

import (
	"maps"
	"slices"
	"time"
)

const (
	// MaxRetainedTurns 是会话工作集中保留的最近轮次数。
	MaxRetainedTurns = 10
	// HistoryWindow 是随请求发送给工作流的历史轮次数。
	HistoryWindow = 5
	// UnknownIntent 是未分类轮次的意图标签。
	UnknownIntent = "unknown"
	// MaxSessionIDLength 是会话 ID 的最大字节数，与 session_id 列宽一致。
	MaxSessionIDLength = 255
)

// ChatMessage 代表客户端请求中的单条消息。
type ChatMessage struct {
	Role    string `json:"role"` // "user" 或 "assistant"
	Content string `json:"content"`
}

// UserInfo 是调用方身份。
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// TurnRecord 代表一次用户消息与系统回复的配对，追加后不可变。
type TurnRecord struct {
	TurnNumber  int       `json:"turn_number"`
	UserMessage string    `json:"user_message"`
	Response    string    `json:"kenny_response"`
	Intent      string    `json:"intent"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConversationRecord 是一个多轮会话的完整快照。
// Turns 按对话顺序排列，最多保留 MaxRetainedTurns 条；TurnCount 为已分配的最大轮次号。
type ConversationRecord struct {
	SessionID    string                 `json:"session_id"`
	UserID       string                 `json:"user_id"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
	TurnCount    int                    `json:"turn_count"`
	Turns        []TurnRecord           `json:"turns"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// NewConversationRecord 创建一个没有任何轮次的新会话。
func NewConversationRecord(sessionID, userID string, now time.Time) *ConversationRecord {
	return &ConversationRecord{
		SessionID:    sessionID,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Turns:        []TurnRecord{},
		Metadata:     map[string]interface{}{},
	}
}

// AppendTurn 分配下一个轮次号并追加，随后截断到最近 MaxRetainedTurns 条。
// 调用方需要保证同一会话上的调用是串行的。
func (r *ConversationRecord) AppendTurn(turn TurnRecord, now time.Time) TurnRecord {
	r.TurnCount++
	turn.TurnNumber = r.TurnCount
	if turn.Intent == "" {
		turn.Intent = UnknownIntent
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	r.Turns = append(r.Turns, turn)
	if len(r.Turns) > MaxRetainedTurns {
		r.Turns = slices.Clone(r.Turns[len(r.Turns)-MaxRetainedTurns:])
	}
	r.LastActivity = now
	return turn
}

// Touch 刷新最后活跃时间，时间不会倒退。
func (r *ConversationRecord) Touch(now time.Time) {
	if now.After(r.LastActivity) {
		r.LastActivity = now
	}
}

// IsExpired 判断会话空闲是否超过 timeout。
func (r *ConversationRecord) IsExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.LastActivity) > timeout
}

// HistoryWindow 返回最近 n 条轮次（最新的在最后）。
func (r *ConversationRecord) HistoryWindow(n int) []TurnRecord {
	if n <= 0 || len(r.Turns) == 0 {
		return []TurnRecord{}
	}
	start := 0
	if len(r.Turns) > n {
		start = len(r.Turns) - n
	}
	return slices.Clone(r.Turns[start:])
}

// Clone 返回一个不与原记录共享切片或 map 的副本。
func (r *ConversationRecord) Clone() *ConversationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Turns = slices.Clone(r.Turns)
	if c.Turns == nil {
		c.Turns = []TurnRecord{}
	}
	c.Metadata = maps.Clone(r.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]interface{}{}
	}
	return &c
}
