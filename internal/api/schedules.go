package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"svcmonitor/internal/logger"
	"svcmonitor/internal/schedule"
)

// Schedules 定时任务管理接口，*schedule.Manager 满足此接口
type Schedules interface {
	GetAllTasks() []schedule.Task
	GetTask(taskID string) (schedule.Task, bool)
	GetTaskCount() int
	IsRunning() bool
	NextRun(taskID string) time.Time
	RunTaskNow(ctx context.Context, taskID string) (*schedule.TaskResult, error)
	EnableTask(taskID string) error
	DisableTask(taskID string) error
	RemoveTask(taskID string) error
}

// ScheduleView 定时任务及下一次触发时间
type ScheduleView struct {
	schedule.Task
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func (s *Server) scheduleView(task schedule.Task) ScheduleView {
	v := ScheduleView{Task: task}
	if next := s.schedules.NextRun(task.ID); !next.IsZero() {
		v.NextRunAt = &next
	}
	return v
}

// requireSchedules 未启用定时任务时返回 false 并写入错误
func (s *Server) requireSchedules(w http.ResponseWriter) bool {
	if s.schedules == nil {
		respondError(w, "定时任务未启用", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// handleGetSchedules 获取所有定时任务
func (s *Server) handleGetSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	tasks := s.schedules.GetAllTasks()
	views := make([]ScheduleView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, s.scheduleView(t))
	}
	respondSuccess(w, "获取成功", map[string]interface{}{
		"tasks":   views,
		"count":   s.schedules.GetTaskCount(),
		"running": s.schedules.IsRunning(),
	})
}

// handleGetSchedule 获取单个定时任务
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	id := mux.Vars(r)["id"]
	task, ok := s.schedules.GetTask(id)
	if !ok {
		respondError(w, "任务不存在", http.StatusNotFound)
		return
	}
	respondSuccess(w, "获取成功", s.scheduleView(task))
}

// handleDeleteSchedule 从本次运行中移除任务，重启后按配置恢复
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.schedules.RemoveTask(id); err != nil {
		respondError(w, err.Error(), http.StatusNotFound)
		return
	}
	logger.Infof("[API] 删除定时任务: %s", id)
	respondSuccess(w, "删除成功", nil)
}

// handleRunSchedule 立即执行任务
func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, ok := s.schedules.GetTask(id); !ok {
		respondError(w, "任务不存在", http.StatusNotFound)
		return
	}

	result, err := s.schedules.RunTaskNow(r.Context(), id)
	if err != nil {
		respondError(w, fmt.Sprintf("执行失败: %v", err), http.StatusInternalServerError)
		return
	}
	respondSuccess(w, "执行完成", result)
}

// handleEnableSchedule 启用任务
func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.toggleSchedule(w, r, true)
}

// handleDisableSchedule 禁用任务
func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.toggleSchedule(w, r, false)
}

func (s *Server) toggleSchedule(w http.ResponseWriter, r *http.Request, enable bool) {
	if !s.requireSchedules(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, ok := s.schedules.GetTask(id); !ok {
		respondError(w, "任务不存在", http.StatusNotFound)
		return
	}

	var err error
	msg := "已启用"
	if enable {
		err = s.schedules.EnableTask(id)
	} else {
		err = s.schedules.DisableTask(id)
		msg = "已禁用"
	}
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	task, _ := s.schedules.GetTask(id)
	respondSuccess(w, msg, s.scheduleView(task))
}

var _ Schedules = (*schedule.Manager)(nil)
