// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"

	"kenny-gateway/internal/model"
)

// PersistenceStats 是后台持久化队列的运行状态。
type PersistenceStats struct {
	Depth    int   `json:"depth"`
	Failures int64 `json:"failures"`
	Dropped  int64 `json:"dropped"`
}

// PersistenceMonitor 暴露后台持久化队列的计数器。
type PersistenceMonitor interface {
	Failures() int64
	Dropped() int64
	Depth() int
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	SessionStats() SessionStats
	EvictSession(ctx context.Context, sessionID string) error
	ReapNow(ctx context.Context) int
	SearchTurns(ctx context.Context, q TurnQuery) ([]model.TurnSearchResultDTO, error)
	PersistenceStats() PersistenceStats
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	store   SessionStore
	reaper  *SessionReaper
	search  TurnSearchService
	persist PersistenceMonitor
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(store SessionStore, reaper *SessionReaper, search TurnSearchService, persist PersistenceMonitor) AdminService {
	return &adminService{
		store:   store,
		reaper:  reaper,
		search:  search,
		persist: persist,
	}
}

func (s *adminService) SessionStats() SessionStats {
	return s.store.Stats()
}

// EvictSession 从两级缓存中移除会话，下一次访问会从数据库重新加载。
func (s *adminService) EvictSession(ctx context.Context, sessionID string) error {
	return s.store.Evict(ctx, sessionID)
}

// ReapNow 立即执行一次过期会话清理。
func (s *adminService) ReapNow(ctx context.Context) int {
	return s.reaper.ReapOnce(ctx)
}

func (s *adminService) SearchTurns(ctx context.Context, q TurnQuery) ([]model.TurnSearchResultDTO, error) {
	return s.search.SearchTurns(ctx, q)
}

func (s *adminService) PersistenceStats() PersistenceStats {
	return PersistenceStats{
		Depth:    s.persist.Depth(),
		Failures: s.persist.Failures(),
		Dropped:  s.persist.Dropped(),
	}
}
