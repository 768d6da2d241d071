// Package schedule 管理与探测循环并行的 cron 定时任务（统计摘要、归档）
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"svcmonitor/internal/logger"
)

// Manager 定时任务管理器
type Manager struct {
	cron      *cron.Cron
	tasks     map[string]*Task        // 任务列表
	cronIDs   map[string]cron.EntryID // 任务ID -> cron EntryID 映射
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
}

// NewManager 创建定时任务管理器
// 同一任务上一次未结束时跳过本次触发
func NewManager() *Manager {
	l := cronLogger{}
	return &Manager{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		tasks:   make(map[string]*Task),
		cronIDs: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

// Start 启动调度器，ctx 传给每次任务执行
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return
	}

	m.ctx = ctx
	m.cron.Start()
	m.isRunning = true
	logger.Infof("[Schedule] 定时任务调度器已启动 (%d 个任务)", len(m.tasks))
}

// Stop 停止调度器并等待正在执行的任务结束
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	logger.Info("[Schedule] 定时任务调度器已停止")
}

// AddTask 添加任务
func (m *Manager) AddTask(task *Task) error {
	if task == nil || task.job == nil {
		return errors.New("任务缺少执行体")
	}
	// 验证 cron 表达式
	if _, err := cron.ParseStandard(task.Cron); err != nil {
		return fmt.Errorf("无效的 cron 表达式 %q: %w", task.Cron, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	// 如果任务已存在，先移除
	if oldID, exists := m.cronIDs[task.ID]; exists {
		m.cron.Remove(oldID)
		delete(m.cronIDs, task.ID)
	}

	if task.Enabled {
		if err := m.scheduleLocked(task); err != nil {
			return err
		}
	}

	m.tasks[task.ID] = task
	logger.Infof("[Schedule] 任务已添加: %s (%s) - %s", task.Name, task.ID, task.Cron)
	return nil
}

func (m *Manager) scheduleLocked(task *Task) error {
	id := task.ID
	entryID, err := m.cron.AddFunc(task.Cron, func() {
		m.executeTask(id)
	})
	if err != nil {
		return fmt.Errorf("添加 cron 任务失败: %w", err)
	}
	m.cronIDs[id] = entryID
	return nil
}

// RemoveTask 移除任务
func (m *Manager) RemoveTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, exists := m.cronIDs[taskID]; exists {
		m.cron.Remove(entryID)
		delete(m.cronIDs, taskID)
	}

	if _, exists := m.tasks[taskID]; !exists {
		return fmt.Errorf("任务不存在: %s", taskID)
	}

	delete(m.tasks, taskID)
	logger.Infof("[Schedule] 任务已移除: %s", taskID)
	return nil
}

// GetTask 获取任务副本
func (m *Manager) GetTask(taskID string) (Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, exists := m.tasks[taskID]
	if !exists {
		return Task{}, false
	}
	return *task, true
}

// GetAllTasks 获取所有任务副本，按名称排序
func (m *Manager) GetAllTasks() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, *task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

// NextRun 任务下一次触发时间，未启用或调度器未运行时为零值
func (m *Manager) NextRun(taskID string) time.Time {
	m.mu.RLock()
	entryID, exists := m.cronIDs[taskID]
	m.mu.RUnlock()
	if !exists {
		return time.Time{}
	}
	return m.cron.Entry(entryID).Next
}

// EnableTask 启用任务
func (m *Manager) EnableTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, exists := m.tasks[taskID]
	if !exists {
		return fmt.Errorf("任务不存在: %s", taskID)
	}
	if task.Enabled {
		return nil // 已启用
	}

	if err := m.scheduleLocked(task); err != nil {
		return fmt.Errorf("启用任务失败: %w", err)
	}
	task.Enabled = true
	task.UpdatedAt = time.Now()

	logger.Infof("[Schedule] 任务已启用: %s", task.Name)
	return nil
}

// DisableTask 禁用任务
func (m *Manager) DisableTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, exists := m.tasks[taskID]
	if !exists {
		return fmt.Errorf("任务不存在: %s", taskID)
	}
	if !task.Enabled {
		return nil // 已禁用
	}

	task.Enabled = false
	task.UpdatedAt = time.Now()

	// 从 cron 移除
	if entryID, exists := m.cronIDs[taskID]; exists {
		m.cron.Remove(entryID)
		delete(m.cronIDs, taskID)
	}

	logger.Infof("[Schedule] 任务已禁用: %s", task.Name)
	return nil
}

// executeTask cron 触发的执行
func (m *Manager) executeTask(taskID string) {
	m.mu.RLock()
	task, exists := m.tasks[taskID]
	enabled := exists && task.Enabled
	ctx := m.ctx
	m.mu.RUnlock()

	if !enabled {
		return
	}

	logger.Infof("[Schedule] 开始执行任务: %s (%s)", task.Name, taskID)
	result := m.run(ctx, task, "")

	if result.Success {
		logger.Infof("[Schedule] 任务执行完成: %s - %s (耗时 %v)", task.Name, result.Message, result.Duration)
	} else {
		logger.Warnf("[Schedule] 任务执行失败: %s - %s", task.Name, result.Message)
	}
}

// RunTaskNow 立即执行任务（手动触发）
func (m *Manager) RunTaskNow(ctx context.Context, taskID string) (*TaskResult, error) {
	m.mu.RLock()
	task, exists := m.tasks[taskID]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("任务不存在: %s", taskID)
	}

	logger.Infof("[Schedule] 手动执行任务: %s", task.Name)
	result := m.run(ctx, task, " (手动执行)")
	return &result, nil
}

// run 执行任务并更新状态
func (m *Manager) run(ctx context.Context, task *Task, suffix string) TaskResult {
	start := time.Now()
	message, err := task.job(ctx)

	result := TaskResult{
		TaskID:     task.ID,
		TaskName:   task.Name,
		Kind:       task.Kind,
		Success:    err == nil,
		Message:    message,
		ExecutedAt: start,
		Duration:   time.Since(start),
	}
	if err != nil {
		result.Message = err.Error()
	}

	// 更新任务状态
	m.mu.Lock()
	task.LastRunAt = &start
	task.Runs++
	if err == nil {
		task.LastResult = "成功" + suffix + ": " + message
	} else {
		task.LastResult = "失败" + suffix + ": " + err.Error()
	}
	m.mu.Unlock()

	return result
}

// IsRunning 检查是否在运行
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// GetTaskCount 获取任务数量
func (m *Manager) GetTaskCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// cronLogger 把 cron 内部日志转到 logrus
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugf("[Schedule] %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("[Schedule] %s: %v %v", msg, err, keysAndValues)
}
