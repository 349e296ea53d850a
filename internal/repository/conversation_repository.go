package repository

import (
	"context"
	"slices"

	"kenny-gateway/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository 定义了持久层（关系型数据库）中会话与轮次的操作。
type ConversationRepository interface {
	// FindBySessionID 查找会话行，不存在时返回 gorm.ErrRecordNotFound。
	FindBySessionID(ctx context.Context, sessionID string) (*model.Conversation, error)
	// Create 插入会话行，session_id 已存在时静默忽略。
	Create(ctx context.Context, conv *model.Conversation) error
	// FindRecentTurns 返回最近 limit 条轮次，按轮次号升序。
	FindRecentTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error)
	// FindTurns 返回全部轮次，按轮次号升序。
	FindTurns(ctx context.Context, sessionID string) ([]model.ConversationTurn, error)
	// SaveSnapshot 在一个事务中幂等地写入轮次并更新会话行。
	SaveSnapshot(ctx context.Context, conv *model.Conversation, turns []model.ConversationTurn) error
	FindByUserID(ctx context.Context, userID string, limit int) ([]model.Conversation, error)
}

// conversationRepository 是 ConversationRepository 接口的 GORM 实现。
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// AutoMigrate 创建或更新会话相关的表结构。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Conversation{}, &model.ConversationTurn{})
}

func (r *conversationRepository) FindBySessionID(ctx context.Context, sessionID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}}, DoNothing: true}).
		Create(conv).Error
}

func (r *conversationRepository) FindRecentTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error) {
	var turns []model.ConversationTurn
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_number desc").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}

func (r *conversationRepository) FindTurns(ctx context.Context, sessionID string) ([]model.ConversationTurn, error) {
	var turns []model.ConversationTurn
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("turn_number asc").Find(&turns).Error
	return turns, err
}

func (r *conversationRepository) SaveSnapshot(ctx context.Context, conv *model.Conversation, turns []model.ConversationTurn) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 会话行可能尚未写入（例如创建时持久层不可用），先补齐
		if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}}, DoNothing: true}).
			Create(conv).Error; err != nil {
			return err
		}
		if len(turns) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}, {Name: "turn_number"}},
				DoNothing: true,
			}).Create(&turns).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&model.Conversation{}).
			Where("session_id = ? AND last_activity < ?", conv.SessionID, conv.LastActivity).
			Updates(map[string]interface{}{
				"last_activity": conv.LastActivity,
				"metadata":      conv.Metadata,
			}).Error; err != nil {
			return err
		}
		// turn_count 只增不减，避免较旧的快照覆盖较新的计数
		return tx.Model(&model.Conversation{}).
			Where("session_id = ? AND turn_count < ?", conv.SessionID, conv.TurnCount).
			Update("turn_count", conv.TurnCount).Error
	})
}

func (r *conversationRepository) FindByUserID(ctx context.Context, userID string, limit int) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity desc").
		Limit(limit).
		Find(&convs).Error
	return convs, err
}
