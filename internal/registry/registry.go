// Package registry 保存一次运行内不可变的有序监控目标集合
package registry

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"svcmonitor/internal/config"
)

// Protocol 探测协议
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolICMP Protocol = "icmp"
)

// Target 监控目标，身份键为 host:port
type Target struct {
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     uint16   `json:"port"`
	Protocol Protocol `json:"protocol"`
}

// Key 返回规范化的 host:port
func (t Target) Key() string {
	return Key(t.Host, t.Port)
}

// Key 生成规范化的目标键
func Key(host string, port uint16) string {
	return net.JoinHostPort(strings.ToLower(strings.TrimSpace(host)), strconv.Itoa(int(port)))
}

// Registry 一次运行使用的目标集合，加载后只读
type Registry struct {
	targets  []Target
	index    map[string]int
	interval time.Duration
	timeout  time.Duration
}

// Load 从配置构建目标集合
func Load(cfg *config.Config) (*Registry, error) {
	interval, err := seconds("check_interval_seconds", cfg.CheckIntervalSeconds, cfg.Interval)
	if err != nil {
		return nil, err
	}
	timeout, err := seconds("timeout_seconds", cfg.TimeoutSeconds, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if len(cfg.Services) == 0 {
		return nil, fmt.Errorf("%w: 至少需要配置一个监控目标", config.ErrConfigInvalid)
	}

	r := &Registry{
		targets:  make([]Target, 0, len(cfg.Services)),
		index:    make(map[string]int, len(cfg.Services)),
		interval: interval,
		timeout:  timeout,
	}

	for i, svc := range cfg.Services {
		t, err := buildTarget(i, svc)
		if err != nil {
			return nil, err
		}
		key := t.Key()
		if prev, dup := r.index[key]; dup {
			return nil, fmt.Errorf("%w: 目标 %d 与目标 %d 重复 (%s)", config.ErrConfigInvalid, i, prev, key)
		}
		r.index[key] = len(r.targets)
		r.targets = append(r.targets, t)
	}

	return r, nil
}

// maxSeconds 间隔与超时的上限，超过后换算 time.Duration 会溢出
const maxSeconds = 7 * 24 * 3600

// seconds 校验秒数并确认换算后的时长仍为正
func seconds(field string, v float64, convert func() time.Duration) (time.Duration, error) {
	if !(v > 0) {
		return 0, fmt.Errorf("%w: %s 必须大于 0", config.ErrConfigInvalid, field)
	}
	if v > maxSeconds {
		return 0, fmt.Errorf("%w: %s 不能超过 %d: %v", config.ErrConfigInvalid, field, maxSeconds, v)
	}
	d := convert()
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s 过小: %v", config.ErrConfigInvalid, field, v)
	}
	return d, nil
}

func buildTarget(i int, svc config.ServiceConfig) (Target, error) {
	host := svc.Address()
	if host == "" {
		return Target{}, fmt.Errorf("%w: 目标 %d 缺少 host", config.ErrConfigInvalid, i)
	}

	proto := Protocol(strings.ToLower(strings.TrimSpace(svc.Protocol)))
	if proto == "" {
		proto = ProtocolTCP
	}
	switch proto {
	case ProtocolTCP:
		if svc.Port == 0 {
			return Target{}, fmt.Errorf("%w: 目标 %d (%s) 缺少 port", config.ErrConfigInvalid, i, host)
		}
	case ProtocolICMP:
	default:
		return Target{}, fmt.Errorf("%w: 目标 %d 协议未知: %q", config.ErrConfigInvalid, i, svc.Protocol)
	}
	if svc.Port < 0 || svc.Port > 65535 {
		return Target{}, fmt.Errorf("%w: 目标 %d 端口越界: %d", config.ErrConfigInvalid, i, svc.Port)
	}

	name := strings.TrimSpace(svc.Name)
	if name == "" {
		name = Key(host, uint16(svc.Port))
	}

	return Target{
		Name:     name,
		Host:     host,
		Port:     uint16(svc.Port),
		Protocol: proto,
	}, nil
}

// Targets 返回有序目标列表的副本
func (r *Registry) Targets() []Target {
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Len 目标数量
func (r *Registry) Len() int {
	return len(r.targets)
}

// Lookup 按键查找目标
func (r *Registry) Lookup(key string) (Target, bool) {
	i, ok := r.index[key]
	if !ok {
		return Target{}, false
	}
	return r.targets[i], true
}

// Interval 检测间隔
func (r *Registry) Interval() time.Duration {
	return r.interval
}

// Timeout 单次探测超时
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// TimeoutExceedsInterval 超时大于间隔时节奏会退化，但不视为错误
func (r *Registry) TimeoutExceedsInterval() bool {
	return r.timeout > r.interval
}
