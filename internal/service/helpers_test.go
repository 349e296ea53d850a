package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kenny-gateway/internal/model"
	"kenny-gateway/internal/repository"
	"kenny-gateway/pkg/sse"
	"kenny-gateway/pkg/tasks"
	"kenny-gateway/pkg/workflow"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tiers 是测试中的 Redis 与数据库两层。
type tiers struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	db    *gorm.DB
	cache repository.SessionCacheRepository
	repo  repository.ConversationRepository
}

func newTiers(t *testing.T, idle time.Duration) *tiers {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	dsn := filepath.Join(t.TempDir(), "kenny.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.AutoMigrate(db))

	return &tiers{
		mr:    mr,
		rdb:   rdb,
		db:    db,
		cache: repository.NewSessionCacheRepository(rdb, "kenny:session:", idle),
		repo:  repository.NewConversationRepository(db),
	}
}

func (tr *tiers) newStore(idle time.Duration, clock *testClock) SessionStore {
	cfg := SessionStoreConfig{IdleTimeout: idle, MaxLocalEntries: 100}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	return NewSessionStore(tr.cache, tr.repo, cfg)
}

// fakeWorkflow 返回预设结果的工作流客户端。
type fakeWorkflow struct {
	mu       sync.Mutex
	resp     *workflow.RouteResponse
	err      error
	delay    time.Duration
	requests []workflow.RouteRequest
}

func (f *fakeWorkflow) Route(ctx context.Context, req workflow.RouteRequest) (*workflow.RouteResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeWorkflow) lastRequest() workflow.RouteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeScheduler 同步记录持久化任务。
type fakeScheduler struct {
	mu     sync.Mutex
	tasks  []tasks.PersistTask
	reject bool
}

func (f *fakeScheduler) Schedule(task tasks.PersistTask) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.tasks = append(f.tasks, task)
	return true
}

func (f *fakeScheduler) scheduled() []tasks.PersistTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tasks.PersistTask(nil), f.tasks...)
}

func ptr[T any](v T) *T { return &v }

func collect(seq func(func(sse.Chunk) bool)) []sse.Chunk {
	var out []sse.Chunk
	for c := range seq {
		out = append(out, c)
	}
	return out
}

func contentOf(chunks []sse.Chunk) string {
	var s string
	for _, c := range chunks {
		if c.Kind == sse.KindContent {
			s += c.Content
		}
	}
	return s
}

func appendN(t *testing.T, store SessionStore, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.AppendTurn(context.Background(), sessionID, model.TurnRecord{UserMessage: "q", Response: "a"})
		require.NoError(t, err)
	}
}
