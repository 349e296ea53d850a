// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kenny-gateway/internal/model"
	"kenny-gateway/internal/repository"
	"kenny-gateway/pkg/log"
	"kenny-gateway/pkg/metrics"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	// DefaultIdleTimeout 是会话默认空闲超时。
	DefaultIdleTimeout = time.Hour
	// DefaultMaxLocalEntries 是进程内缓存的默认容量。
	DefaultMaxLocalEntries = 10000
)

// SessionStore 按 进程内 → Redis → 数据库 的顺序解析会话，并负责轮次追加与持久化。
type SessionStore interface {
	Resolve(ctx context.Context, sessionID, userID string) (*model.ConversationRecord, error)
	// Lookup 与 Resolve 相同但不会新建会话，也不刷新活跃时间。
	Lookup(ctx context.Context, sessionID string) (*model.ConversationRecord, error)
	FindActiveForUser(userID string) (string, bool)
	AppendTurn(ctx context.Context, sessionID string, turn model.TurnRecord) (*model.ConversationRecord, error)
	Persist(ctx context.Context, record *model.ConversationRecord) error
	Evict(ctx context.Context, sessionID string) error
	Reap(ctx context.Context) int
	Stats() SessionStats
	IdleTimeout() time.Duration
}

// SessionStats 是进程内缓存的统计信息。
type SessionStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// SessionStoreConfig 配置会话存储。
type SessionStoreConfig struct {
	IdleTimeout     time.Duration
	MaxLocalEntries int
	// Clock 为空时使用 time.Now。
	Clock func() time.Time
}

// sessionEntry 是进程内缓存中的权威副本，mu 串行化同一会话上的所有读写。
type sessionEntry struct {
	mu      sync.Mutex
	record  *model.ConversationRecord
	evicted atomic.Bool
}

type sessionStore struct {
	local       *lru.Cache
	maxEntries  int
	installMu   sync.Mutex
	loads       singleflight.Group
	cache       repository.SessionCacheRepository
	repo        repository.ConversationRepository
	idleTimeout time.Duration
	now         func() time.Time
}

// NewSessionStore 创建一个新的三层会话存储。
func NewSessionStore(cache repository.SessionCacheRepository, repo repository.ConversationRepository, cfg SessionStoreConfig) SessionStore {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxLocalEntries <= 0 {
		cfg.MaxLocalEntries = DefaultMaxLocalEntries
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &sessionStore{
		maxEntries:  cfg.MaxLocalEntries,
		cache:       cache,
		repo:        repo,
		idleTimeout: cfg.IdleTimeout,
		now:         cfg.Clock,
	}
	// 只有 size <= 0 时才会返回错误
	s.local, _ = lru.NewWithEvict(cfg.MaxLocalEntries, func(_ interface{}, value interface{}) {
		value.(*sessionEntry).evicted.Store(true)
	})
	return s
}

func (s *sessionStore) IdleTimeout() time.Duration {
	return s.idleTimeout
}

// Resolve 获取会话，必要时从较慢的层加载或新建，返回的是副本。
func (s *sessionStore) Resolve(ctx context.Context, sessionID, userID string) (*model.ConversationRecord, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	if entry := s.getLocal(sessionID); entry != nil {
		entry.mu.Lock()
		if !entry.evicted.Load() && !entry.record.IsExpired(s.now(), s.idleTimeout) {
			entry.record.Touch(s.now())
			snapshot := entry.record.Clone()
			entry.mu.Unlock()
			metrics.RecordResolve("local")
			return snapshot, nil
		}
		entry.mu.Unlock()
	}

	v, err, _ := s.loads.Do("resolve:"+sessionID, func() (interface{}, error) {
		return s.load(ctx, sessionID, userID, true)
	})
	if err != nil {
		return nil, err
	}
	entry := v.(*sessionEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.record.Touch(s.now())
	return entry.record.Clone(), nil
}

func (s *sessionStore) Lookup(ctx context.Context, sessionID string) (*model.ConversationRecord, error) {
	if entry := s.getLocal(sessionID); entry != nil {
		entry.mu.Lock()
		if !entry.evicted.Load() && !entry.record.IsExpired(s.now(), s.idleTimeout) {
			snapshot := entry.record.Clone()
			entry.mu.Unlock()
			return snapshot, nil
		}
		entry.mu.Unlock()
	}
	v, err, _ := s.loads.Do("append:"+sessionID, func() (interface{}, error) {
		return s.load(ctx, sessionID, "", false)
	})
	if err != nil {
		return nil, err
	}
	entry := v.(*sessionEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.record.Clone(), nil
}

// load 依次探测 Redis 与数据库；create 为 true 时在全部未命中后新建会话。
func (s *sessionStore) load(ctx context.Context, sessionID, userID string, create bool) (*sessionEntry, error) {
	if entry := s.getLocal(sessionID); entry != nil && s.isLive(entry) {
		return entry, nil
	}

	now := s.now()
	cached, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		log.Warnw("会话缓存读取失败，回退到数据库", "sessionId", sessionID, "error", err)
		cached = nil
	}
	if cached != nil {
		metrics.RecordResolve("cache")
		return s.install(sessionID, cached), nil
	}

	var record *model.ConversationRecord
	conv, err := s.repo.FindBySessionID(ctx, sessionID)
	switch {
	case err == nil:
		turns, err := s.repo.FindRecentTurns(ctx, sessionID, model.MaxRetainedTurns)
		if err != nil {
			return nil, fmt.Errorf("load turns for session %s: %w", sessionID, err)
		}
		record = conv.ToRecord(turns, now)
		if record.UserID == "" {
			record.UserID = userID
		}
		metrics.RecordResolve("durable")
	case errors.Is(err, gorm.ErrRecordNotFound):
		if !create {
			return nil, ErrSessionNotFound
		}
		record = model.NewConversationRecord(sessionID, userID, now)
		if err := s.repo.Create(ctx, model.NewConversationRow(record)); err != nil {
			// 会话行会在下一次 Persist 时补写
			log.Errorw("创建会话记录失败", "sessionId", sessionID, "error", &PersistenceError{SessionID: sessionID, Err: err})
		}
		metrics.RecordResolve("created")
	default:
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	entry := s.install(sessionID, record)
	entry.mu.Lock()
	snapshot := entry.record.Clone()
	entry.mu.Unlock()
	s.writeThrough(ctx, snapshot)
	return entry, nil
}

// install 将记录放入进程内缓存；若已有存活条目则沿用，保证同一会话只有一个权威副本。
func (s *sessionStore) install(sessionID string, record *model.ConversationRecord) *sessionEntry {
	s.installMu.Lock()
	defer s.installMu.Unlock()

	if v, ok := s.local.Get(sessionID); ok {
		existing := v.(*sessionEntry)
		if s.isLive(existing) {
			return existing
		}
		s.removeEntry(sessionID, existing)
	}
	// 主动腾出容量，等待被淘汰条目上正在进行的追加完成
	for s.local.Len() >= s.maxEntries {
		key, v, ok := s.local.GetOldest()
		if !ok {
			break
		}
		s.removeEntry(key.(string), v.(*sessionEntry))
	}
	entry := &sessionEntry{record: record}
	s.local.Add(sessionID, entry)
	return entry
}

// removeEntry 在持有条目锁的情况下移除，淘汰回调会把条目标记为 evicted。
func (s *sessionStore) removeEntry(sessionID string, entry *sessionEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if v, ok := s.local.Peek(sessionID); ok && v.(*sessionEntry) == entry {
		s.local.Remove(sessionID)
	}
	entry.evicted.Store(true)
}

func (s *sessionStore) getLocal(sessionID string) *sessionEntry {
	v, ok := s.local.Get(sessionID)
	if !ok {
		return nil
	}
	return v.(*sessionEntry)
}

func (s *sessionStore) isLive(entry *sessionEntry) bool {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return !entry.evicted.Load() && !entry.record.IsExpired(s.now(), s.idleTimeout)
}

func (s *sessionStore) writeThrough(ctx context.Context, record *model.ConversationRecord) {
	if err := s.cache.Set(ctx, record); err != nil {
		metrics.CacheWriteFailuresTotal.Inc()
		log.Warnw("会话缓存写入失败", "sessionId", record.SessionID, "error", err)
	}
}

// FindActiveForUser 只扫描进程内缓存，返回该用户最近活跃且未过期的会话。
func (s *sessionStore) FindActiveForUser(userID string) (string, bool) {
	now := s.now()
	var (
		found  string
		latest time.Time
	)
	for _, k := range s.local.Keys() {
		v, ok := s.local.Peek(k)
		if !ok {
			continue
		}
		entry := v.(*sessionEntry)
		entry.mu.Lock()
		if !entry.evicted.Load() && entry.record.UserID == userID && !entry.record.IsExpired(now, s.idleTimeout) {
			if found == "" || entry.record.LastActivity.After(latest) {
				found = entry.record.SessionID
				latest = entry.record.LastActivity
			}
		}
		entry.mu.Unlock()
	}
	return found, found != ""
}

// AppendTurn 在会话上追加一轮并同步写入 Redis，返回追加后的快照。
func (s *sessionStore) AppendTurn(ctx context.Context, sessionID string, turn model.TurnRecord) (*model.ConversationRecord, error) {
	for {
		entry := s.getLocal(sessionID)
		if entry == nil {
			v, err, _ := s.loads.Do("append:"+sessionID, func() (interface{}, error) {
				return s.load(ctx, sessionID, "", false)
			})
			if err != nil {
				return nil, err
			}
			entry = v.(*sessionEntry)
		}

		entry.mu.Lock()
		if entry.evicted.Load() {
			// 条目在等待期间被淘汰，重新查找
			entry.mu.Unlock()
			continue
		}
		entry.record.AppendTurn(turn, s.now())
		snapshot := entry.record.Clone()
		s.writeThrough(ctx, snapshot)
		entry.mu.Unlock()
		return snapshot, nil
	}
}

// Persist 幂等地将快照中的轮次写入数据库。
func (s *sessionStore) Persist(ctx context.Context, record *model.ConversationRecord) error {
	turns := make([]model.ConversationTurn, 0, len(record.Turns))
	for _, t := range record.Turns {
		turns = append(turns, model.NewTurnRow(record.SessionID, t))
	}
	if err := s.repo.SaveSnapshot(ctx, model.NewConversationRow(record), turns); err != nil {
		return &PersistenceError{SessionID: record.SessionID, Err: err}
	}
	return nil
}

// Evict 将会话从两个缓存层中移除，数据库不受影响。
func (s *sessionStore) Evict(ctx context.Context, sessionID string) error {
	if v, ok := s.local.Peek(sessionID); ok {
		s.removeEntry(sessionID, v.(*sessionEntry))
	}
	return s.cache.Delete(ctx, sessionID)
}

// Reap 移除进程内已过期的会话，并尽力删除对应的 Redis 键。
func (s *sessionStore) Reap(ctx context.Context) int {
	now := s.now()
	var expired []string
	for _, k := range s.local.Keys() {
		v, ok := s.local.Peek(k)
		if !ok {
			continue
		}
		entry := v.(*sessionEntry)
		entry.mu.Lock()
		if entry.record.IsExpired(now, s.idleTimeout) {
			if cur, ok := s.local.Peek(k); ok && cur.(*sessionEntry) == entry {
				s.local.Remove(k)
			}
			entry.evicted.Store(true)
			expired = append(expired, k.(string))
		}
		entry.mu.Unlock()
	}

	for _, sid := range expired {
		if err := s.cache.Delete(ctx, sid); err != nil {
			log.Warnw("清理会话缓存失败", "sessionId", sid, "error", err)
		}
	}
	return len(expired)
}

// Stats 返回进程内缓存中的会话数量。
func (s *sessionStore) Stats() SessionStats {
	now := s.now()
	stats := SessionStats{}
	for _, k := range s.local.Keys() {
		v, ok := s.local.Peek(k)
		if !ok {
			continue
		}
		stats.Total++
		entry := v.(*sessionEntry)
		entry.mu.Lock()
		if !entry.record.IsExpired(now, s.idleTimeout) {
			stats.Active++
		}
		entry.mu.Unlock()
	}
	return stats
}
