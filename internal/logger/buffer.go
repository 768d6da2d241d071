package logger

import (
	"container/ring"
	"sync"
	"time"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogBuffer 内存日志缓冲区（环形，写满后覆盖最旧的条目）
type LogBuffer struct {
	buffer *ring.Ring
	mu     sync.RWMutex
	size   int
}

var globalBuffer *LogBuffer

// InitBuffer 初始化日志缓冲区
func InitBuffer(size int) {
	globalBuffer = NewBuffer(size)
}

// NewBuffer 创建指定容量的缓冲区
func NewBuffer(size int) *LogBuffer {
	if size < 1 {
		size = 1
	}
	return &LogBuffer{
		buffer: ring.New(size),
		size:   size,
	}
}

// AddLog 添加日志到缓冲区
func (lb *LogBuffer) AddLog(ts time.Time, level, message string, fields map[string]interface{}) {
	if lb == nil {
		return
	}

	var copied map[string]interface{}
	if len(fields) > 0 {
		copied = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.buffer.Value = LogEntry{
		Timestamp: ts,
		Level:     level,
		Message:   message,
		Fields:    copied,
	}
	lb.buffer = lb.buffer.Next()
}

// Recent 按时间顺序返回最近的 n 条日志
func (lb *LogBuffer) Recent(n int) []LogEntry {
	if lb == nil || n <= 0 {
		return []LogEntry{}
	}

	lb.mu.RLock()
	defer lb.mu.RUnlock()

	// 当前指针指向最旧的槽位，Do 从旧到新遍历
	all := make([]LogEntry, 0, lb.size)
	lb.buffer.Do(func(v interface{}) {
		if v != nil {
			all = append(all, v.(LogEntry))
		}
	})

	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Clear 清空日志缓冲区
func (lb *LogBuffer) Clear() {
	if lb == nil {
		return
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.buffer = ring.New(lb.size)
}

// GetBuffer 获取全局缓冲区
func GetBuffer() *LogBuffer {
	return globalBuffer
}
