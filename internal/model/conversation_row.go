package model

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation 对应 conversations 表，每个会话一行。
type Conversation struct {
	ID           uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string            `gorm:"type:varchar(255);uniqueIndex;not null" json:"sessionId"`
	UserID       string            `gorm:"type:varchar(255);index;not null" json:"userId"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	TurnCount    int               `gorm:"not null;default:0" json:"turnCount"`
	CreatedAt    time.Time         `gorm:"not null" json:"createdAt"`
	LastActivity time.Time         `gorm:"not null" json:"lastActivity"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ConversationTurn 对应 conversation_turns 表。
// (session_id, turn_number) 唯一，重复写入会被忽略，保证持久化幂等。
type ConversationTurn struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID     string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_session_turn,priority:1" json:"sessionId"`
	TurnNumber    int       `gorm:"not null;uniqueIndex:ux_session_turn,priority:2" json:"turnNumber"`
	UserMessage   string    `gorm:"type:text;not null" json:"userMessage"`
	KennyResponse string    `gorm:"type:text;not null" json:"kennyResponse"`
	Intent        string    `gorm:"column:intent_classified;type:varchar(128)" json:"intent"`
	Confidence    float64   `gorm:"column:intent_confidence" json:"confidence"`
	CreatedAt     time.Time `gorm:"not null" json:"createdAt"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}

// NewConversationRow 从会话快照构造数据库行。
func NewConversationRow(r *ConversationRecord) *Conversation {
	return &Conversation{
		SessionID:    r.SessionID,
		UserID:       r.UserID,
		Metadata:     datatypes.JSONMap(r.Metadata),
		TurnCount:    r.TurnCount,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
	}
}

// NewTurnRow 将一条轮次转换为数据库行。
func NewTurnRow(sessionID string, t TurnRecord) ConversationTurn {
	return ConversationTurn{
		SessionID:     sessionID,
		TurnNumber:    t.TurnNumber,
		UserMessage:   t.UserMessage,
		KennyResponse: t.Response,
		Intent:        t.Intent,
		Confidence:    t.Confidence,
		CreatedAt:     t.Timestamp,
	}
}

// ToTurnRecord 将数据库行转换回轮次。
func (t ConversationTurn) ToTurnRecord() TurnRecord {
	intent := t.Intent
	if intent == "" {
		intent = UnknownIntent
	}
	return TurnRecord{
		TurnNumber:  t.TurnNumber,
		UserMessage: t.UserMessage,
		Response:    t.KennyResponse,
		Intent:      intent,
		Confidence:  t.Confidence,
		Timestamp:   t.CreatedAt,
	}
}

// ToRecord 由会话行和按轮次号升序排列的轮次行物化出会话快照。
func (c *Conversation) ToRecord(turns []ConversationTurn, now time.Time) *ConversationRecord {
	r := &ConversationRecord{
		SessionID:    c.SessionID,
		UserID:       c.UserID,
		CreatedAt:    c.CreatedAt,
		LastActivity: now,
		TurnCount:    c.TurnCount,
		Turns:        make([]TurnRecord, 0, len(turns)),
		Metadata:     map[string]interface{}{},
	}
	for k, v := range c.Metadata {
		r.Metadata[k] = v
	}
	for _, t := range turns {
		r.Turns = append(r.Turns, t.ToTurnRecord())
		if t.TurnNumber > r.TurnCount {
			r.TurnCount = t.TurnNumber
		}
	}
	if len(r.Turns) > MaxRetainedTurns {
		r.Turns = r.Turns[len(r.Turns)-MaxRetainedTurns:]
	}
	return r
}
