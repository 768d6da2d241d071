// Package probe 对单个目标执行一次连通性探测，结果以 Event 形式返回
package probe

import (
	"context"
	"fmt"
	"time"

	"svcmonitor/internal/registry"
)

// ErrorKind 失败分类
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindConnectionRefused ErrorKind = "connection-refused"
	KindHostUnreachable   ErrorKind = "host-unreachable"
	KindDNSFailure        ErrorKind = "dns-failure"
	KindOther             ErrorKind = "other"
)

// 成功时的消息文本
const MessageConnected = "Connected successfully"

// Event 一次探测的结果，写入事件日志后不可变
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	TargetKey    string    `json:"target_key"`
	Name         string    `json:"name"`
	Success      bool      `json:"success"`
	LatencyMs    float64   `json:"latency_ms"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Message 控制台展示用的结果描述
func (e Event) Message() string {
	if e.Success {
		return MessageConnected
	}
	if e.ErrorMessage == "" {
		return fmt.Sprintf("Connection failed (%s)", e.ErrorKind)
	}
	return fmt.Sprintf("Connection failed (%s): %s", e.ErrorKind, e.ErrorMessage)
}

// Prober 探测器接口
// 失败作为数据返回，实现不得返回 error 或 panic
type Prober interface {
	Probe(ctx context.Context, target registry.Target, timeout time.Duration) Event
}

// ProberFunc 函数适配器
type ProberFunc func(ctx context.Context, target registry.Target, timeout time.Duration) Event

// Probe 实现 Prober
func (f ProberFunc) Probe(ctx context.Context, target registry.Target, timeout time.Duration) Event {
	return f(ctx, target, timeout)
}

// Multi 按目标协议分发到对应探测器
type Multi struct {
	TCP  Prober
	ICMP Prober
}

// NewMulti 创建默认的协议分发器
func NewMulti(privilegedICMP bool) *Multi {
	return &Multi{
		TCP:  NewTCPProber(),
		ICMP: NewICMPProber(privilegedICMP),
	}
}

// Probe 实现 Prober
func (m *Multi) Probe(ctx context.Context, target registry.Target, timeout time.Duration) Event {
	var p Prober
	switch target.Protocol {
	case registry.ProtocolICMP:
		p = m.ICMP
	default:
		p = m.TCP
	}
	if p == nil {
		return failure(target, time.Now(), 0, KindOther, fmt.Sprintf("协议 %s 未配置探测器", target.Protocol))
	}
	return p.Probe(ctx, target, timeout)
}

func newEvent(target registry.Target, start time.Time, elapsed time.Duration) Event {
	return Event{
		Timestamp: start,
		TargetKey: target.Key(),
		Name:      target.Name,
		LatencyMs: float64(elapsed) / float64(time.Millisecond),
	}
}

func failure(target registry.Target, start time.Time, elapsed time.Duration, kind ErrorKind, msg string) Event {
	ev := newEvent(target, start, elapsed)
	ev.ErrorKind = kind
	ev.ErrorMessage = msg
	return ev
}

var (
	_ Prober = (*Multi)(nil)
	_ Prober = ProberFunc(nil)
)
