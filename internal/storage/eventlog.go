// Package storage 负责探测事件的持久化：追加式事件日志、成功计数快照以及启动恢复
package storage

import (
	"errors"
	"fmt"
	"os"

	"svcmonitor/internal/config"
	"svcmonitor/internal/probe"
)

var (
	// ErrPersistenceWrite 事件日志或快照无法写入，运行期致命
	ErrPersistenceWrite = errors.New("持久化写入失败")
	// ErrSnapshotCorrupt 快照无法解析，恢复时改为全量重放
	ErrSnapshotCorrupt = errors.New("快照文件损坏")
)

// EventLog 追加式事件日志
// position 为不透明的日志位置：JSONL 为字节偏移，SQLite 为最后一行的 rowid
type EventLog interface {
	// Append 以整批为单位写入并落盘，返回写入后的位置
	Append(batch []probe.Event) (int64, error)
	// Replay 依次回调 from 之后的每条事件，返回最后一条完整事件之后的位置
	Replay(from int64, fn func(pos int64, ev probe.Event) error) (int64, error)
	// Position 当前日志末尾位置
	Position() int64
	Close() error
}

// OpenEventLog 以读写方式打开事件日志
func OpenEventLog(backend, path string) (EventLog, error) {
	switch backend {
	case config.BackendSQLite:
		return OpenSQLiteLog(path)
	case config.BackendJSONL, "":
		return OpenJSONLLog(path)
	default:
		return nil, fmt.Errorf("%w: 未知的存储后端 %q", config.ErrConfigInvalid, backend)
	}
}

// OpenReader 以只读方式打开事件日志，文件不存在时视为空日志
// 可与正在运行的写入进程并发使用
func OpenReader(backend, path string) (EventLog, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyLog{}, nil
		}
		return nil, fmt.Errorf("访问事件日志失败: %w", err)
	}

	switch backend {
	case config.BackendSQLite:
		return openSQLiteReader(path)
	case config.BackendJSONL, "":
		return openJSONLReader(path)
	default:
		return nil, fmt.Errorf("%w: 未知的存储后端 %q", config.ErrConfigInvalid, backend)
	}
}

// emptyLog 不存在的日志
type emptyLog struct{}

func (emptyLog) Append([]probe.Event) (int64, error) {
	return 0, fmt.Errorf("%w: 只读日志", ErrPersistenceWrite)
}

func (emptyLog) Replay(from int64, _ func(int64, probe.Event) error) (int64, error) {
	return from, nil
}

func (emptyLog) Position() int64 { return 0 }
func (emptyLog) Close() error    { return nil }
