// Package pipeline 定义了轮次落库的后台处理流程。
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"kenny-gateway/internal/model"
	"kenny-gateway/pkg/log"
	"kenny-gateway/pkg/metrics"
	"kenny-gateway/pkg/tasks"
)

const (
	DefaultWorkers     = 2
	DefaultQueueSize   = 256
	DefaultTaskTimeout = 10 * time.Second
)

// SnapshotWriter 将会话快照写入持久层。
type SnapshotWriter interface {
	Persist(ctx context.Context, record *model.ConversationRecord) error
}

// TurnSink 是落库之后的附加去向（检索索引、事件总线），失败只记录日志。
type TurnSink interface {
	Name() string
	Handle(ctx context.Context, task tasks.PersistTask) error
}

// PersisterConfig 配置后台持久化队列。
type PersisterConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Persister 是一个有界队列加固定数量 worker 的后台持久化器。
type Persister struct {
	writer  SnapshotWriter
	sinks   []TurnSink
	timeout time.Duration
	queue   chan tasks.PersistTask
	workers int
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	failures atomic.Int64
	dropped  atomic.Int64
}

// NewPersister 创建一个新的 Persister，需要调用 Start 启动 worker。
func NewPersister(writer SnapshotWriter, cfg PersisterConfig, sinks ...TurnSink) *Persister {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	return &Persister{
		writer:  writer,
		sinks:   sinks,
		timeout: cfg.TaskTimeout,
		queue:   make(chan tasks.PersistTask, cfg.QueueSize),
		workers: cfg.Workers,
	}
}

// Start 启动 worker，重复调用无副作用。
func (p *Persister) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	log.Infof("[Persister] 已启动 %d 个 worker, 队列容量 %d", p.workers, cap(p.queue))
}

// Schedule 非阻塞地提交任务，队列已满或已关闭时返回 false。
func (p *Persister) Schedule(task tasks.PersistTask) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(task, "closed")
		return false
	}
	select {
	case p.queue <- task:
		metrics.SetPersistQueueDepth(len(p.queue))
		return true
	default:
		p.drop(task, "queue full")
		return false
	}
}

func (p *Persister) drop(task tasks.PersistTask, reason string) {
	p.dropped.Add(1)
	metrics.RecordPersist("dropped")
	log.Warnw("[Persister] 丢弃持久化任务", "sessionId", task.Record.SessionID, "turn", task.Turn.TurnNumber, "reason", reason)
}

// Stop 关闭队列并等待已排队的任务处理完，超时返回 false。
func (p *Persister) Stop(timeout time.Duration) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return true
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("[Persister] 所有任务已处理完毕")
		return true
	case <-time.After(timeout):
		log.Warnf("[Persister] 等待队列清空超时, 剩余 %d 个任务", len(p.queue))
		return false
	}
}

func (p *Persister) run(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		metrics.SetPersistQueueDepth(len(p.queue))
		p.Process(task)
	}
	log.Debugf("[Persister] worker %d 退出", id)
}

// Process 同步处理单个任务：先写持久层，再依次投递给各个附加去向。
// 持久化基于快照并且幂等，因此任务之间的先后顺序不影响结果。
func (p *Persister) Process(task tasks.PersistTask) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.writer.Persist(ctx, task.Record); err != nil {
		p.failures.Add(1)
		metrics.RecordPersist("failure")
		log.Errorw("[Persister] 会话落库失败", "sessionId", task.Record.SessionID, "turn", task.Turn.TurnNumber, "error", err)
	} else {
		metrics.RecordPersist("success")
	}

	for _, sink := range p.sinks {
		if err := sink.Handle(ctx, task); err != nil {
			log.Warnw("[Persister] 附加投递失败", "sink", sink.Name(), "sessionId", task.Record.SessionID, "error", err)
		}
	}
}

// Failures 返回落库失败的次数。
func (p *Persister) Failures() int64 { return p.failures.Load() }

// Dropped 返回因队列满或已关闭而被丢弃的任务数。
func (p *Persister) Dropped() int64 { return p.dropped.Load() }

// Depth 返回当前排队中的任务数。
func (p *Persister) Depth() int { return len(p.queue) }
