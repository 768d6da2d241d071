package monitor

import (
	"sort"
	"sync"
	"time"

	"svcmonitor/internal/logger"
	"svcmonitor/internal/probe"
	"svcmonitor/internal/registry"
)

// TargetState 目标运行时状态（仅存在于内存中）
type TargetState struct {
	Key                 string       `json:"key"`
	Name                string       `json:"name"`
	ConsecutiveFailures int          `json:"consecutive_failures"` // 当前连续失败次数
	IsDown              bool         `json:"is_down"`              // 最近一次探测是否失败
	LastSuccess         time.Time    `json:"last_success,omitzero"`
	LastChange          time.Time    `json:"last_change,omitzero"` // 最近一次状态翻转
	LastEvent           *probe.Event `json:"last_event,omitempty"`
}

// StateManager 状态管理器
type StateManager struct {
	states map[string]*TargetState
	mu     sync.RWMutex
}

// NewStateManager 创建状态管理器
func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[string]*TargetState),
	}
}

// InitTarget 初始化目标状态，已存在时保留
func (sm *StateManager) InitTarget(t registry.Target) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if st, exists := sm.states[t.Key()]; exists {
		st.Name = t.Name
		return
	}
	sm.states[t.Key()] = &TargetState{Key: t.Key(), Name: t.Name}
}

// Record 根据探测结果更新状态，返回更新后的副本
func (sm *StateManager) Record(ev probe.Event) TargetState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st, exists := sm.states[ev.TargetKey]
	if !exists {
		st = &TargetState{Key: ev.TargetKey, Name: ev.Name}
		sm.states[ev.TargetKey] = st
	}

	e := ev
	st.LastEvent = &e
	if ev.Success {
		if st.IsDown {
			logger.Infof("✓ %s (%s) 已恢复，此前连续失败 %d 次", st.Name, st.Key, st.ConsecutiveFailures)
			st.LastChange = ev.Timestamp
		}
		st.ConsecutiveFailures = 0
		st.IsDown = false
		st.LastSuccess = ev.Timestamp
	} else {
		st.ConsecutiveFailures++
		if !st.IsDown {
			logger.Warnf("✗ %s (%s) 不可达: %s", st.Name, st.Key, ev.ErrorKind)
			st.LastChange = ev.Timestamp
		}
		st.IsDown = true
	}
	return st.copy()
}

// GetState 获取目标状态
func (sm *StateManager) GetState(key string) (TargetState, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if st, exists := sm.states[key]; exists {
		return st.copy(), true
	}
	return TargetState{Key: key}, false
}

// Sync 新增/删除目标后对齐状态表
func (sm *StateManager) Sync(targets []registry.Target) {
	keep := make(map[string]bool, len(targets))
	for _, t := range targets {
		keep[t.Key()] = true
		sm.InitTarget(t)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for key := range sm.states {
		if !keep[key] {
			logger.Infof("➖ 移除监控目标: %s", key)
			delete(sm.states, key)
		}
	}
}

// GetAllStates 获取所有目标状态，按键排序
func (sm *StateManager) GetAllStates() []TargetState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TargetState, 0, len(sm.states))
	for _, st := range sm.states {
		result = append(result, st.copy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

func (st *TargetState) copy() TargetState {
	out := *st
	if st.LastEvent != nil {
		e := *st.LastEvent
		out.LastEvent = &e
	}
	return out
}
