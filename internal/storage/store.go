package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"svcmonitor/internal/logger"
	"svcmonitor/internal/probe"
	"svcmonitor/internal/registry"
)

// RecoveryMode 启动时计数器的来源
type RecoveryMode string

const (
	RecoveryFresh    RecoveryMode = "fresh"
	RecoverySnapshot RecoveryMode = "snapshot"
	RecoveryReplay   RecoveryMode = "replay"
)

// Options 存储参数
type Options struct {
	Backend      string
	EventLogPath string
	SnapshotPath string
	RunID        string
	// Now 测试可注入时钟
	Now func() time.Time
}

// Recovery 恢复结果
type Recovery struct {
	Mode             RecoveryMode `json:"mode"`
	Replayed         int          `json:"replayed"`
	SnapshotPosition int64        `json:"snapshot_position"`
	LogPosition      int64        `json:"log_position"`
	Warnings         []string     `json:"warnings,omitempty"`
}

// Store 唯一写入者：事件日志 + 快照 + 内存中的成功计数
type Store struct {
	opts     Options
	log      EventLog
	counters Snapshot
	mu       sync.RWMutex
}

// Open 打开事件日志并恢复成功计数
func Open(opts Options) (*Store, Recovery, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log, err := OpenEventLog(opts.Backend, opts.EventLogPath)
	if err != nil {
		return nil, Recovery{}, err
	}

	s := &Store{opts: opts, log: log, counters: NewSnapshot()}
	rec, err := s.recover()
	if err != nil {
		log.Close()
		return nil, rec, err
	}
	return s, rec, nil
}

func (s *Store) recover() (Recovery, error) {
	rec := Recovery{LogPosition: s.log.Position()}
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		logger.Warn(msg)
		rec.Warnings = append(rec.Warnings, msg)
	}

	snap, err := ReadSnapshot(s.opts.SnapshotPath)
	from := int64(0)
	materialize := false

	switch {
	case err == nil:
		rec.Mode = RecoverySnapshot
		rec.SnapshotPosition = snap.LogPosition
		s.counters = snap
		from = snap.LogPosition
		if snap.LogPosition > rec.LogPosition {
			// 日志比快照短：以快照计数为准，位置回退到日志末尾
			warn("事件日志短于快照记录的位置 (%d > %d)，沿用快照计数", snap.LogPosition, rec.LogPosition)
			s.counters.LogPosition = rec.LogPosition
			return rec, s.writeSnapshot()
		}
	case IsMissing(err):
		if rec.LogPosition == 0 {
			rec.Mode = RecoveryFresh
			return rec, nil
		}
		warn("快照不存在，从事件日志全量重放")
		rec.Mode = RecoveryReplay
		materialize = true
	case errors.Is(err, ErrSnapshotCorrupt):
		warn("快照无法解析，从事件日志全量重放: %v", err)
		rec.Mode = RecoveryReplay
		materialize = true
	default:
		return rec, err
	}

	pos, err := s.log.Replay(from, func(_ int64, ev probe.Event) error {
		s.counters.record(ev.TargetKey, ev.Name, ev.Success)
		rec.Replayed++
		return nil
	})
	if err != nil {
		return rec, fmt.Errorf("重放事件日志失败: %w", err)
	}
	s.counters.LogPosition = pos

	if rec.Replayed > 0 {
		logger.Infof("已从事件日志重放 %d 条事件 (位置 %d -> %d)", rec.Replayed, from, pos)
		materialize = true
	}
	if materialize {
		return rec, s.writeSnapshot()
	}
	return rec, nil
}

// Commit 追加一个 tick 的整批事件，更新计数并重写快照
// 返回的错误均满足 errors.Is(err, ErrPersistenceWrite)
func (s *Store) Commit(batch []probe.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.log.Append(batch)
	if err != nil {
		return err
	}
	for _, ev := range batch {
		s.counters.record(ev.TargetKey, ev.Name, ev.Success)
	}
	s.counters.LogPosition = pos
	return s.writeSnapshotLocked()
}

// Track 登记当前配置的目标，未成功过的目标以 0 次出现在快照中
// 只更新内存，下一次 Commit 或 Checkpoint 时落盘
func (s *Store) Track(targets []registry.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range targets {
		s.counters.track(t.Key(), t.Name)
	}
}

// Checkpoint 重写快照
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSnapshotLocked()
}

func (s *Store) writeSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSnapshotLocked()
}

func (s *Store) writeSnapshotLocked() error {
	s.counters.LastUpdated = s.opts.Now()
	s.counters.RunID = s.opts.RunID
	return WriteSnapshot(s.opts.SnapshotPath, s.counters)
}

// Counters 返回计数副本
func (s *Store) Counters() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters.Clone()
}

// Successes 指定目标当前的成功次数
func (s *Store) Successes(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters.Successes(key)
}

// Log 底层事件日志，只应用于读取
func (s *Store) Log() EventLog {
	return s.log
}

// Close 关闭事件日志
func (s *Store) Close() error {
	return s.log.Close()
}
