// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kenny-gateway/internal/model"
	"kenny-gateway/internal/repository"
	"kenny-gateway/pkg/log"

	"gorm.io/gorm"
)

// ErrTranscriptDisabled 表示没有配置对象存储。
var ErrTranscriptDisabled = errors.New("transcript export is not configured")

// SessionView 是会话对外展示的结构。
type SessionView struct {
	SessionID    string                 `json:"sessionId"`
	UserID       string                 `json:"userId"`
	CreatedAt    model.LocalTime        `json:"createdAt"`
	LastActivity model.LocalTime        `json:"lastActivity"`
	TurnCount    int                    `json:"turnCount"`
	Turns        []model.TurnRecord     `json:"turns"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// SessionSummary 是会话列表中的一项。
type SessionSummary struct {
	SessionID    string          `json:"sessionId"`
	TurnCount    int             `json:"turnCount"`
	CreatedAt    model.LocalTime `json:"createdAt"`
	LastActivity model.LocalTime `json:"lastActivity"`
}

// TranscriptExport 是一次对话导出的结果。
type TranscriptExport struct {
	SessionID  string    `json:"sessionId"`
	ObjectName string    `json:"objectName"`
	URL        string    `json:"url"`
	TurnCount  int       `json:"turnCount"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// TranscriptStore 是导出文件的存放位置。
type TranscriptStore interface {
	PutJSON(ctx context.Context, objectName string, data []byte) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// transcript 是导出文件的内容，包含持久层中的全部轮次。
type transcript struct {
	SessionID  string             `json:"session_id"`
	UserID     string             `json:"user_id"`
	CreatedAt  time.Time          `json:"created_at"`
	ExportedAt time.Time          `json:"exported_at"`
	Turns      []model.TurnRecord `json:"turns"`
}

// ConversationService 定义了会话查询与导出的接口。
type ConversationService interface {
	GetSession(ctx context.Context, sessionID, userID string) (*SessionView, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error)
	ExportTranscript(ctx context.Context, sessionID, userID string) (*TranscriptExport, error)
}

type conversationService struct {
	store         SessionStore
	repo          repository.ConversationRepository
	transcripts   TranscriptStore
	presignExpiry time.Duration
}

// NewConversationService 创建一个新的 ConversationService。transcripts 为空时禁用导出。
func NewConversationService(store SessionStore, repo repository.ConversationRepository, transcripts TranscriptStore, presignExpiry time.Duration) ConversationService {
	if presignExpiry <= 0 {
		presignExpiry = 24 * time.Hour
	}
	return &conversationService{
		store:         store,
		repo:          repo,
		transcripts:   transcripts,
		presignExpiry: presignExpiry,
	}
}

// GetSession 返回会话的当前工作集，只有所有者可以读取。
func (s *conversationService) GetSession(ctx context.Context, sessionID, userID string) (*SessionView, error) {
	record, err := s.store.Lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		return nil, ErrSessionForbidden
	}
	return &SessionView{
		SessionID:    record.SessionID,
		UserID:       record.UserID,
		CreatedAt:    model.LocalTime(record.CreatedAt),
		LastActivity: model.LocalTime(record.LastActivity),
		TurnCount:    record.TurnCount,
		Turns:        record.Turns,
		Metadata:     record.Metadata,
	}, nil
}

// ListSessions 从持久层列出用户最近的会话。
func (s *conversationService) ListSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	convs, err := s.repo.FindByUserID(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, SessionSummary{
			SessionID:    c.SessionID,
			TurnCount:    c.TurnCount,
			CreatedAt:    model.LocalTime(c.CreatedAt),
			LastActivity: model.LocalTime(c.LastActivity),
		})
	}
	return out, nil
}

// ExportTranscript 将持久层中的完整对话导出到对象存储并返回限时下载地址。
func (s *conversationService) ExportTranscript(ctx context.Context, sessionID, userID string) (*TranscriptExport, error) {
	if s.transcripts == nil {
		return nil, ErrTranscriptDisabled
	}
	conv, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrSessionForbidden
	}
	rows, err := s.repo.FindTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	doc := transcript{
		SessionID:  conv.SessionID,
		UserID:     conv.UserID,
		CreatedAt:  conv.CreatedAt,
		ExportedAt: now,
		Turns:      make([]model.TurnRecord, 0, len(rows)),
	}
	for _, r := range rows {
		doc.Turns = append(doc.Turns, r.ToTurnRecord())
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	objectName := fmt.Sprintf("transcripts/%s/%d.json", sessionID, now.Unix())
	if err := s.transcripts.PutJSON(ctx, objectName, data); err != nil {
		return nil, fmt.Errorf("upload transcript: %w", err)
	}
	url, err := s.transcripts.PresignedURL(ctx, objectName, s.presignExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign transcript: %w", err)
	}
	log.Infof("导出对话记录成功, sessionId: %s, turns: %d", sessionID, len(doc.Turns))
	return &TranscriptExport{
		SessionID:  sessionID,
		ObjectName: objectName,
		URL:        url,
		TurnCount:  len(doc.Turns),
		ExpiresAt:  now.Add(s.presignExpiry),
	}, nil
}
