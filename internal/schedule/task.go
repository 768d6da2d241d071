package schedule

import (
	"context"
	"time"
)

// Kind 任务类型
type Kind string

const (
	KindSummary Kind = "summary" // 周期性统计摘要
	KindArchive Kind = "archive" // 周期性归档到 S3
)

// JobFunc 任务执行体，返回一行结果描述
type JobFunc func(ctx context.Context) (string, error)

// Task 定时任务结构
type Task struct {
	ID         string     `json:"id"`          // 任务ID
	Name       string     `json:"name"`        // 任务名称
	Kind       Kind       `json:"kind"`        // 任务类型
	Enabled    bool       `json:"enabled"`     // 是否启用
	Cron       string     `json:"cron"`        // Cron 表达式 (如: "0 18 * * *" 每天18点，或 "@every 1h")
	CreatedAt  time.Time  `json:"created_at"`  // 创建时间
	UpdatedAt  time.Time  `json:"updated_at"`  // 更新时间
	LastRunAt  *time.Time `json:"last_run_at"` // 上次执行时间
	LastResult string     `json:"last_result"` // 上次执行结果
	Runs       int        `json:"runs"`        // 执行次数

	job JobFunc
}

// NewTask 创建启用状态的任务
func NewTask(kind Kind, cronExpr string, job JobFunc) *Task {
	return &Task{
		Name:    string(kind),
		Kind:    kind,
		Enabled: true,
		Cron:    cronExpr,
		job:     job,
	}
}

// TaskResult 任务执行结果
type TaskResult struct {
	TaskID     string        `json:"task_id"`
	TaskName   string        `json:"task_name"`
	Kind       Kind          `json:"kind"`
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	ExecutedAt time.Time     `json:"executed_at"`
	Duration   time.Duration `json:"duration"`
}
