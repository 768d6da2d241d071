package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// TargetCount 单个目标的累计成功次数
type TargetCount struct {
	Name            string `json:"name"`
	IP              string `json:"ip"`
	Port            uint16 `json:"port"`
	SuccessfulPings uint64 `json:"successful_pings"`
}

// Snapshot 成功计数快照，覆盖事件日志中 LogPosition 之前的全部事件
type Snapshot struct {
	LastUpdated time.Time              `json:"last_updated"`
	RunID       string                 `json:"run_id"`
	LogPosition int64                  `json:"log_position"`
	PerTarget   map[string]TargetCount `json:"per_target"`
}

// NewSnapshot 空快照
func NewSnapshot() Snapshot {
	return Snapshot{PerTarget: make(map[string]TargetCount)}
}

// Clone 深拷贝
func (s Snapshot) Clone() Snapshot {
	out := s
	out.PerTarget = make(map[string]TargetCount, len(s.PerTarget))
	for k, v := range s.PerTarget {
		out.PerTarget[k] = v
	}
	return out
}

// Total 所有目标的成功次数之和
func (s Snapshot) Total() uint64 {
	var total uint64
	for _, c := range s.PerTarget {
		total += c.SuccessfulPings
	}
	return total
}

// Keys 按字典序返回目标键
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.PerTarget))
	for k := range s.PerTarget {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Successes 指定目标的成功次数
func (s Snapshot) Successes(key string) uint64 {
	return s.PerTarget[key].SuccessfulPings
}

// track 确保目标存在（成功次数可为 0），并刷新显示名称
func (s *Snapshot) track(key, name string) TargetCount {
	c, ok := s.PerTarget[key]
	if !ok {
		if host, port, err := net.SplitHostPort(key); err == nil {
			c.IP = host
			if p, err := strconv.ParseUint(port, 10, 16); err == nil {
				c.Port = uint16(p)
			}
		}
	}
	if name != "" {
		c.Name = name
	}
	s.PerTarget[key] = c
	return c
}

// record 记录一次探测结果，成功时累加
func (s *Snapshot) record(key, name string, success bool) uint64 {
	c := s.track(key, name)
	if success {
		c.SuccessfulPings++
		s.PerTarget[key] = c
	}
	return c.SuccessfulPings
}

// ReadSnapshot 读取快照文件
// 文件不存在时错误满足 errors.Is(err, os.ErrNotExist)，内容无法解析时返回 ErrSnapshotCorrupt
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("读取快照失败: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if snap.LogPosition < 0 {
		return Snapshot{}, fmt.Errorf("%w: log_position 为负数", ErrSnapshotCorrupt)
	}
	if snap.PerTarget == nil {
		snap.PerTarget = make(map[string]TargetCount)
	}
	return snap, nil
}

// WriteSnapshot 先写临时文件并 fsync，再原子替换目标文件
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: 序列化快照失败: %v", ErrPersistenceWrite, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: 创建快照目录失败: %v", ErrPersistenceWrite, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: 创建临时快照失败: %v", ErrPersistenceWrite, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: 写入临时快照失败: %v", ErrPersistenceWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: 同步临时快照失败: %v", ErrPersistenceWrite, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: 关闭临时快照失败: %v", ErrPersistenceWrite, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: 替换快照文件失败: %v", ErrPersistenceWrite, err)
	}

	syncDir(dir)
	return nil
}

// syncDir 让 rename 本身落盘；部分平台不支持目录 fsync，忽略错误
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// IsMissing 快照不存在
func IsMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
