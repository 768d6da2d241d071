// Package api 提供只读的状态 HTTP 接口和实时事件 websocket
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"svcmonitor/internal/config"
	"svcmonitor/internal/logger"
	"svcmonitor/internal/monitor"
	"svcmonitor/internal/registry"
	"svcmonitor/internal/stats"
	"svcmonitor/internal/storage"
)

// Monitor 状态接口依赖的调度器视图
type Monitor interface {
	State() monitor.State
	IsRunning() bool
	RunID() string
	Ticks() (uint64, time.Time)
	Snapshot() storage.Snapshot
	Targets() []registry.Target
	TargetStates() []monitor.TargetState
	TargetState(key string) (monitor.TargetState, bool)
}

// StatsFunc 生成统计报告
type StatsFunc func(opts stats.Options) (stats.Report, error)

// Server Web API 服务器
type Server struct {
	cfg       *config.Config
	monitor   Monitor
	stats     StatsFunc
	hub       *Hub
	schedules Schedules
	router    *mux.Router
	server    *http.Server
	addr      string
}

// NewServer 创建 API 服务器，jobs 为 nil 时定时任务接口返回 503
func NewServer(cfg *config.Config, m Monitor, statsFn StatsFunc, hub *Hub, jobs Schedules) *Server {
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{
		cfg:       cfg,
		monitor:   m,
		stats:     statsFn,
		hub:       hub,
		schedules: jobs,
		router:    mux.NewRouter(),
	}

	// 注册路由
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// registerRoutes 注册路由
func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/ws/events", s.hub.ServeWS).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/targets/{key}", s.handleGetTarget).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/logs", s.handleGetLogs).Methods("GET")

	api.HandleFunc("/schedules", s.handleGetSchedules).Methods("GET")
	api.HandleFunc("/schedules/{id}", s.handleGetSchedule).Methods("GET")
	api.HandleFunc("/schedules/{id}", s.handleDeleteSchedule).Methods("DELETE")
	api.HandleFunc("/schedules/{id}/run", s.handleRunSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}/enable", s.handleEnableSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}/disable", s.handleDisableSchedule).Methods("POST")
}

// Handler 带 CORS 的根处理器
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

// Start 监听端口并在后台提供服务，端口占用等错误同步返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.server.Addr, err)
	}
	s.addr = ln.Addr().String()
	logger.Infof("[API] 状态接口启动: http://%s", s.addr)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[API] 服务器错误: %v", err)
		}
	}()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	return s.addr
}

// Stop 停止 API 服务器
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("[API] 正在停止状态接口...")
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// StatusResponse /api/status 响应
type StatusResponse struct {
	State          monitor.State         `json:"state"`
	Running        bool                  `json:"running"`
	RunID          string                `json:"run_id"`
	Ticks          uint64                `json:"ticks"`
	LastTick       *time.Time            `json:"last_tick,omitempty"`
	TotalSuccesses uint64                `json:"total_successes"`
	Counters       storage.Snapshot      `json:"counters"`
	Targets        []monitor.TargetState `json:"targets"`
	Clients        int                   `json:"websocket_clients"`
}

// handleGetStatus 运行状态与计数
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ticks, last := s.monitor.Ticks()
	snap := s.monitor.Snapshot()

	resp := StatusResponse{
		State:          s.monitor.State(),
		Running:        s.monitor.IsRunning(),
		RunID:          s.monitor.RunID(),
		Ticks:          ticks,
		TotalSuccesses: snap.Total(),
		Counters:       snap,
		Targets:        s.monitor.TargetStates(),
		Clients:        s.hub.Count(),
	}
	if !last.IsZero() {
		resp.LastTick = &last
	}
	respondSuccess(w, "获取状态成功", resp)
}

// handleGetTarget 单个目标的运行时状态与累计成功次数
func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	st, ok := s.monitor.TargetState(key)
	if !ok {
		respondError(w, "目标不存在: "+key, http.StatusNotFound)
		return
	}
	respondSuccess(w, "获取目标成功", map[string]interface{}{
		"state":            st,
		"successful_pings": s.monitor.Snapshot().Successes(key),
	})
}

// handleGetStats 从事件日志生成统计
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		respondError(w, "统计未启用", http.StatusServiceUnavailable)
		return
	}

	opts := stats.Options{Percentile: s.cfg.Stats.Percentile}
	if v := r.URL.Query().Get("percentile"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p <= 0 || p > 100 {
			respondError(w, "percentile 必须在 (0, 100] 范围内", http.StatusBadRequest)
			return
		}
		opts.Percentile = p
	}

	rep, err := s.stats(opts)
	if err != nil {
		logger.Errorf("[API] 生成统计失败: %v", err)
		respondError(w, fmt.Sprintf("生成统计失败: %v", err), http.StatusInternalServerError)
		return
	}
	respondSuccess(w, "获取统计成功", rep)
}

// handleGetConfig 当前生效的配置与目标
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, "获取配置成功", map[string]interface{}{
		"source":                 s.cfg.Source,
		"targets":                s.monitor.Targets(),
		"check_interval_seconds": s.cfg.CheckIntervalSeconds,
		"timeout_seconds":        s.cfg.TimeoutSeconds,
		"storage":                s.cfg.Storage,
		"stats":                  s.cfg.Stats,
		"jobs":                   s.cfg.Jobs,
	})
}

// handleGetLogs 获取内存日志
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	n := 100 // 默认返回最后100条
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, "n 必须为正整数", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	buffer := logger.GetBuffer()
	if buffer == nil {
		respondError(w, "日志缓冲区未初始化", http.StatusInternalServerError)
		return
	}

	entries := buffer.Recent(n)
	respondSuccess(w, "获取日志成功", map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// respondSuccess 成功响应
func respondSuccess(w http.ResponseWriter, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// respondError 错误响应
func respondError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}
