package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SessionCacheVersion 是 Redis 中会话快照的序列化版本，结构变化时递增。
const SessionCacheVersion = 1

// ErrCacheSchemaMismatch 表示缓存快照的版本或内容与当前结构不一致。
var ErrCacheSchemaMismatch = errors.New("session cache schema mismatch")

// CachedSession 是写入网络缓存层的带版本封装。
type CachedSession struct {
	Version int                 `json:"version"`
	Record  *ConversationRecord `json:"record"`
}

// EncodeCachedSession 将会话序列化为带版本的 JSON。
func EncodeCachedSession(record *ConversationRecord) ([]byte, error) {
	return json.Marshal(CachedSession{Version: SessionCacheVersion, Record: record})
}

// DecodeCachedSession 反序列化并校验快照，sessionID 必须与键一致。
func DecodeCachedSession(data []byte, sessionID string) (*ConversationRecord, error) {
	var env CachedSession
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached session: %w", err)
	}
	if env.Version != SessionCacheVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCacheSchemaMismatch, env.Version)
	}
	if env.Record == nil || env.Record.SessionID != sessionID {
		return nil, fmt.Errorf("%w: record does not belong to session %s", ErrCacheSchemaMismatch, sessionID)
	}
	if len(env.Record.Turns) > MaxRetainedTurns {
		return nil, fmt.Errorf("%w: %d turns cached", ErrCacheSchemaMismatch, len(env.Record.Turns))
	}
	if env.Record.Turns == nil {
		env.Record.Turns = []TurnRecord{}
	}
	if env.Record.Metadata == nil {
		env.Record.Metadata = map[string]interface{}{}
	}
	return env.Record, nil
}
