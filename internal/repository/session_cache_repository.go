// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kenny-gateway/internal/model"

	"github.com/go-redis/redis/v8"
)

// SessionCacheRepository 定义了网络缓存层（Redis）中会话快照的操作接口。
type SessionCacheRepository interface {
	// Get 读取会话快照，未命中时返回 (nil, nil)。
	Get(ctx context.Context, sessionID string) (*model.ConversationRecord, error)
	// Set 写入完整快照并刷新 TTL。
	Set(ctx context.Context, record *model.ConversationRecord) error
	Delete(ctx context.Context, sessionID string) error
}

type redisSessionCacheRepository struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
}

// NewSessionCacheRepository 创建一个新的 SessionCacheRepository 实例。
func NewSessionCacheRepository(redisClient *redis.Client, keyPrefix string, ttl time.Duration) SessionCacheRepository {
	if keyPrefix == "" {
		keyPrefix = "kenny:session:"
	}
	return &redisSessionCacheRepository{redisClient: redisClient, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *redisSessionCacheRepository) key(sessionID string) string {
	return r.keyPrefix + sessionID
}

// Get 从 Redis 获取会话快照。
func (r *redisSessionCacheRepository) Get(ctx context.Context, sessionID string) (*model.ConversationRecord, error) {
	data, err := r.redisClient.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}
	return model.DecodeCachedSession(data, sessionID)
}

// Set 在 Redis 中写入会话快照。
func (r *redisSessionCacheRepository) Set(ctx context.Context, record *model.ConversationRecord) error {
	data, err := model.EncodeCachedSession(record)
	if err != nil {
		return fmt.Errorf("failed to marshal cached session: %w", err)
	}
	if err := r.redisClient.Set(ctx, r.key(record.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached session: %w", err)
	}
	return nil
}

// Delete 删除会话快照，键不存在不视为错误。
func (r *redisSessionCacheRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.redisClient.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached session: %w", err)
	}
	return nil
}
