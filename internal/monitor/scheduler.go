// Package monitor 驱动周期性探测：每个 tick 并发探测全部目标，整批提交后再推送给观察者
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"svcmonitor/internal/logger"
	"svcmonitor/internal/probe"
	"svcmonitor/internal/registry"
	"svcmonitor/internal/report"
	"svcmonitor/internal/storage"
)

// State 调度器生命周期
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// Store 调度器依赖的持久化操作
type Store interface {
	Commit(batch []probe.Event) error
	Checkpoint() error
	Track(targets []registry.Target)
	Counters() storage.Snapshot
	Successes(key string) uint64
}

// Scheduler 探测调度器，计数只经由 Store 修改
type Scheduler struct {
	store        Store
	prober       probe.Prober
	reporter     report.Reporter
	stateManager *StateManager
	runID        string

	mu       sync.RWMutex
	reg      *registry.Registry
	pending  *registry.Registry // 下一个 tick 边界生效的新目标集合
	state    State
	ticks    uint64
	lastTick time.Time
}

// Option 可选参数
type Option func(*Scheduler)

// WithReporter 设置实时观察者
func WithReporter(r report.Reporter) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithRunID 设置运行ID，仅用于日志和状态展示
func WithRunID(id string) Option {
	return func(s *Scheduler) { s.runID = id }
}

// NewScheduler 创建调度器；store 必须已完成恢复
func NewScheduler(reg *registry.Registry, store Store, prober probe.Prober, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		prober:       prober,
		reporter:     report.Nop{},
		stateManager: NewStateManager(),
		reg:          reg,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stateManager.Sync(reg.Targets())
	store.Track(reg.Targets())
	return s
}

// Run 运行探测循环直到 ctx 取消
// 取消后完成当前 tick，写最终快照后返回 nil；持久化失败时立即返回错误
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("调度器状态为 %s，无法启动", st)
	}
	s.state = StateRunning
	reg := s.reg
	s.mu.Unlock()

	logger.Info("==========================================")
	logger.Info("启动服务可用性监控")
	logger.Infof("运行ID: %s", s.runID)
	logger.Infof("监控目标: %d 个", reg.Len())
	logger.Infof("检测间隔: %v, 超时: %v", reg.Interval(), reg.Timeout())
	if reg.TimeoutExceedsInterval() {
		logger.Warnf("超时 (%v) 大于检测间隔 (%v)，实际检测频率会低于配置值", reg.Timeout(), reg.Interval())
	}
	logger.Info("==========================================")

	// 启动后立即执行一次检测
	if err := s.tick(ctx); err != nil {
		return s.fail(err)
	}

	ticker := time.NewTicker(reg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.drain()
		case <-ticker.C:
			// 两个通道同时就绪时 select 随机选择，这里优先处理停止
			if ctx.Err() != nil {
				return s.drain()
			}
			if interval, changed := s.applyPending(); changed {
				ticker.Reset(interval)
			}
			if err := s.tick(ctx); err != nil {
				return s.fail(err)
			}
		}
	}
}

// RunOnce 执行一个 tick 并提交
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.applyPending()
	return s.tick(ctx)
}

// Reload 提交新的目标集合，在下一个 tick 边界生效
func (s *Scheduler) Reload(reg *registry.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = reg
	logger.Infof("新的目标集合已排队 (%d 个目标)，下一个周期生效", reg.Len())
}

// State 当前生命周期状态
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning 检查是否正在运行
func (s *Scheduler) IsRunning() bool {
	return s.State() == StateRunning
}

// Snapshot 成功计数的只读副本
func (s *Scheduler) Snapshot() storage.Snapshot {
	return s.store.Counters()
}

// Targets 当前生效的目标
func (s *Scheduler) Targets() []registry.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Targets()
}

// TargetStates 各目标运行时状态
func (s *Scheduler) TargetStates() []TargetState {
	return s.stateManager.GetAllStates()
}

// TargetState 单个目标的运行时状态
func (s *Scheduler) TargetState(key string) (TargetState, bool) {
	return s.stateManager.GetState(key)
}

// RunID 运行ID
func (s *Scheduler) RunID() string {
	return s.runID
}

// Ticks 已完成的 tick 数与最近一次完成时间
func (s *Scheduler) Ticks() (uint64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks, s.lastTick
}

// applyPending 在 tick 边界切换目标集合
func (s *Scheduler) applyPending() (time.Duration, bool) {
	s.mu.Lock()
	next := s.pending
	if next == nil {
		interval := s.reg.Interval()
		s.mu.Unlock()
		return interval, false
	}
	old := s.reg
	s.reg = next
	s.pending = nil
	s.mu.Unlock()

	for _, t := range next.Targets() {
		if _, ok := old.Lookup(t.Key()); !ok {
			logger.Infof("➕ 新增监控目标: %s (%s)", t.Name, t.Key())
		}
	}
	s.stateManager.Sync(next.Targets())
	s.store.Track(next.Targets())
	logger.Infof("目标集合已切换: %d -> %d 个目标", old.Len(), next.Len())
	return next.Interval(), old.Interval() != next.Interval()
}

// tick 并发探测所有目标，按注册顺序整批提交，再推送给观察者
func (s *Scheduler) tick(ctx context.Context) error {
	s.mu.RLock()
	reg := s.reg
	s.mu.RUnlock()

	targets := reg.Targets()
	timeout := reg.Timeout()
	startTime := time.Now()

	// 停止信号不打断进行中的探测，由各自的超时约束
	probeCtx := context.WithoutCancel(ctx)

	events := make([]probe.Event, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t registry.Target) {
			defer wg.Done()
			ev := s.prober.Probe(probeCtx, t, timeout)
			if ev.TargetKey == "" {
				ev.TargetKey = t.Key()
			}
			if ev.Name == "" {
				ev.Name = t.Name
			}
			if ev.Timestamp.IsZero() {
				ev.Timestamp = startTime
			}
			events[i] = ev
		}(i, t)
	}
	wg.Wait()

	if err := s.store.Commit(events); err != nil {
		return fmt.Errorf("提交探测结果失败: %w", err)
	}

	ok := 0
	for _, ev := range events {
		if ev.Success {
			ok++
		}
		s.stateManager.Record(ev)
		s.reporter.Report(ev, s.store.Successes(ev.TargetKey))
	}

	s.mu.Lock()
	s.ticks++
	s.lastTick = time.Now()
	s.mu.Unlock()

	logger.Debugf("本轮检测完成: %d/%d 成功 (耗时: %v)", ok, len(events), time.Since(startTime))
	return nil
}

// drain 写最终快照后进入 Stopped
func (s *Scheduler) drain() error {
	s.setState(StateDraining)
	logger.Info("正在停止监控服务...")

	err := s.store.Checkpoint()
	s.setState(StateStopped)
	if err != nil {
		logger.Errorf("写入最终快照失败: %v", err)
		return fmt.Errorf("写入最终快照失败: %w", err)
	}

	total := s.store.Counters().Total()
	logger.Infof("监控服务已停止，累计成功 %d 次", total)
	return nil
}

func (s *Scheduler) fail(err error) error {
	s.setState(StateStopped)
	logger.Errorf("监控服务异常终止: %v", err)
	return err
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
