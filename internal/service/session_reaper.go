package service

import (
	"context"
	"sync"
	"time"

	"kenny-gateway/pkg/log"
	"kenny-gateway/pkg/metrics"
)

// SessionReaper 周期性地清理进程内过期的会话。
type SessionReaper struct {
	store    SessionStore
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSessionReaper 创建清理器，interval <= 0 时使用会话的空闲超时作为周期。
func NewSessionReaper(store SessionStore, interval time.Duration) *SessionReaper {
	if interval <= 0 {
		interval = store.IdleTimeout()
	}
	return &SessionReaper{
		store:    store,
		interval: interval,
	}
}

// Start 启动后台清理，重复调用无副作用。
func (r *SessionReaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	reapCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.run(reapCtx, r.done)
}

// Stop 停止清理并等待后台 goroutine 退出。
func (r *SessionReaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
}

// IsRunning 返回清理器是否在运行。
func (r *SessionReaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *SessionReaper) run(ctx context.Context, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.running = false
		close(done)
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("会话清理器已停止")
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce 执行一次清理，返回移除的会话数。
func (r *SessionReaper) ReapOnce(ctx context.Context) int {
	start := time.Now()
	removed := r.store.Reap(ctx)
	if removed > 0 {
		metrics.SessionsReapedTotal.Add(float64(removed))
		log.Infow("清理过期会话", "removed", removed, "duration", time.Since(start))
	}
	stats := r.store.Stats()
	log.Debugf("会话统计: total=%d active=%d", stats.Total, stats.Active)
	return removed
}
