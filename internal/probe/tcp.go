package probe

import (
	"context"
	"net"
	"time"

	"svcmonitor/internal/registry"
)

// TCPProber TCP 建连探测，成功后立即关闭连接
type TCPProber struct {
	dialer net.Dialer
}

// NewTCPProber 创建TCP探测器
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// Probe 执行一次TCP建连
func (p *TCPProber) Probe(ctx context.Context, target registry.Target, timeout time.Duration) Event {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", target.Key())
	elapsed := time.Since(start)
	if err != nil {
		return failure(target, start, elapsed, Classify(err), err.Error())
	}
	_ = conn.Close()

	ev := newEvent(target, start, elapsed)
	ev.Success = true
	return ev
}

var _ Prober = (*TCPProber)(nil)
