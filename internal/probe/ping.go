package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	goping "github.com/go-ping/ping"

	"svcmonitor/internal/logger"
	"svcmonitor/internal/registry"
)

// ICMPProber 单次 ICMP echo 探测
type ICMPProber struct {
	privileged bool
	lookup     func(ctx context.Context, host string) ([]string, error)
}

// NewICMPProber 创建ICMP探测器；Linux 下非特权模式需要 net.ipv4.ping_group_range
func NewICMPProber(privileged bool) *ICMPProber {
	return &ICMPProber{
		privileged: privileged,
		lookup:     net.DefaultResolver.LookupHost,
	}
}

// Probe 执行一次 ICMP echo
func (p *ICMPProber) Probe(ctx context.Context, target registry.Target, timeout time.Duration) Event {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	// 域名先走系统 DNS 解析，解析失败单独归类
	ipAddr := target.Host
	if net.ParseIP(ipAddr) == nil {
		ips, err := p.lookup(ctx, target.Host)
		if err != nil {
			kind := Classify(err)
			if kind == KindOther {
				kind = KindDNSFailure
			}
			return failure(target, start, time.Since(start), kind, fmt.Sprintf("DNS解析失败 (%s): %v", target.Host, err))
		}
		if len(ips) == 0 {
			return failure(target, start, time.Since(start), KindDNSFailure, fmt.Sprintf("DNS解析未返回IP地址: %s", target.Host))
		}
		ipAddr = ips[0]
		logger.Debugf("DNS解析: %s -> %s", target.Host, ipAddr)
	}

	pinger, err := goping.NewPinger(ipAddr)
	if err != nil {
		return failure(target, start, time.Since(start), KindOther, fmt.Sprintf("创建pinger失败: %v", err))
	}
	pinger.SetPrivileged(p.privileged)
	pinger.Count = 1
	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		return failure(target, start, time.Since(start), KindTimeout, "ICMP探测超时")
	}
	pinger.Timeout = remaining

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		pinger.Stop()
		err = <-done
	}
	elapsed := time.Since(start)
	if err != nil {
		return failure(target, start, elapsed, Classify(err), fmt.Sprintf("执行ping失败: %v", err))
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return failure(target, start, elapsed, KindTimeout,
			fmt.Sprintf("ICMP应答超时 (发送: %d, 接收: %d)", stats.PacketsSent, stats.PacketsRecv))
	}

	ev := newEvent(target, start, elapsed)
	if stats.AvgRtt > 0 {
		ev.LatencyMs = float64(stats.AvgRtt) / float64(time.Millisecond)
	}
	ev.Success = true
	return ev
}

var _ Prober = (*ICMPProber)(nil)
