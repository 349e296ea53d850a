package model

import (
	"fmt"
	"time"
)

// TurnDocument 定义了存储在 Elasticsearch 中的轮次文档结构。
type TurnDocument struct {
	DocID         string    `json:"doc_id"` // sessionId + turnNumber
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	TurnNumber    int       `json:"turn_number"`
	UserMessage   string    `json:"user_message"`
	KennyResponse string    `json:"kenny_response"`
	Intent        string    `json:"intent"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// TurnSearchResultDTO 定义了返回给管理端的轮次检索结果。
type TurnSearchResultDTO struct {
	TurnDocument
	Score float64 `json:"score"`
}

// NewTurnDocument 由会话归属与轮次构造索引文档。
func NewTurnDocument(sessionID, userID string, t TurnRecord) TurnDocument {
	return TurnDocument{
		DocID:         fmt.Sprintf("%s:%d", sessionID, t.TurnNumber),
		SessionID:     sessionID,
		UserID:        userID,
		TurnNumber:    t.TurnNumber,
		UserMessage:   t.UserMessage,
		KennyResponse: t.Response,
		Intent:        t.Intent,
		Confidence:    t.Confidence,
		Timestamp:     t.Timestamp,
	}
}
