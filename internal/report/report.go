// Package report 按产生顺序把探测事件推送给实时观察者
package report

import (
	"fmt"
	"io"
	"sync"

	"svcmonitor/internal/probe"
)

// Reporter 实时事件接收者；successes 为提交该事件后目标的累计成功次数
type Reporter interface {
	Report(ev probe.Event, successes uint64)
}

// Multi 按顺序分发给多个 Reporter
type Multi []Reporter

// Report 实现 Reporter
func (m Multi) Report(ev probe.Event, successes uint64) {
	for _, r := range m {
		if r != nil {
			r.Report(ev, successes)
		}
	}
}

// Nop 丢弃所有事件
type Nop struct{}

// Report 实现 Reporter
func (Nop) Report(probe.Event, uint64) {}

// TimestampLayout 控制台时间格式
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Console 控制台输出，每个事件一行
type Console struct {
	w  io.Writer
	mu sync.Mutex
}

// NewConsole 创建控制台输出
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Report 输出格式: 时间 ✓/✗ 名称 (host:port) - 12.3ms - 消息 [Total successful: N]
func (c *Console) Report(ev probe.Event, successes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, FormatLine(ev, successes))
}

// FormatLine 渲染单个事件
func FormatLine(ev probe.Event, successes uint64) string {
	status := "✗"
	if ev.Success {
		status = "✓"
	}
	return fmt.Sprintf("%s %s %s (%s) - %.1fms - %s [Total successful: %d]",
		ev.Timestamp.Local().Format(TimestampLayout), status, ev.Name, ev.TargetKey,
		ev.LatencyMs, ev.Message(), successes)
}

var (
	_ Reporter = Multi(nil)
	_ Reporter = Nop{}
	_ Reporter = (*Console)(nil)
)
