// Package stats 从事件日志或快照汇总各目标的可用性统计
package stats

import (
	"iter"
	"math"
	"sort"
	"time"

	"svcmonitor/internal/probe"
	"svcmonitor/internal/registry"
	"svcmonitor/internal/storage"
)

// DefaultPercentile 默认延迟分位数
const DefaultPercentile = 95

// Options 统计参数
type Options struct {
	Percentile float64
}

func (o Options) percentile() float64 {
	if o.Percentile <= 0 || o.Percentile > 100 {
		return DefaultPercentile
	}
	return o.Percentile
}

// TargetStats 单个目标的统计
// 延迟只统计成功的探测，为 nil 表示没有数据
type TargetStats struct {
	Key                  string                     `json:"key"`
	Name                 string                     `json:"name"`
	Configured           bool                       `json:"configured"`
	Total                uint64                     `json:"total"`
	Successes            uint64                     `json:"successes"`
	Failures             uint64                     `json:"failures"`
	SuccessRate          float64                    `json:"success_rate"`
	MeanLatencyMs        *float64                   `json:"mean_latency_ms"`
	PercentileLatencyMs  *float64                   `json:"percentile_latency_ms"`
	LongestFailureStreak uint64                     `json:"longest_failure_streak"`
	CurrentFailureStreak uint64                     `json:"current_failure_streak"`
	ErrorKinds           map[probe.ErrorKind]uint64 `json:"error_kinds,omitempty"`
	FirstSeen            *time.Time                 `json:"first_seen"`
	LastSeen             *time.Time                 `json:"last_seen"`
}

// Totals 全部目标合计
type Totals struct {
	Targets     int     `json:"targets"`
	Total       uint64  `json:"total"`
	Successes   uint64  `json:"successes"`
	Failures    uint64  `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}

// Report 统计报告
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Source      string        `json:"source"`
	Partial     bool          `json:"partial"`
	Percentile  float64       `json:"percentile"`
	LastUpdated *time.Time    `json:"last_updated,omitempty"`
	Targets     []TargetStats `json:"targets"`
	Totals      Totals        `json:"totals"`
}

// 报告来源
const (
	SourceLog      = "event_log"
	SourceSnapshot = "snapshot"
)

type accumulator struct {
	stats     TargetStats
	latencies []float64
	streak    uint64
}

// Aggregator 增量汇总事件
type Aggregator struct {
	opts  Options
	order []string
	byKey map[string]*accumulator
}

// NewAggregator 预先登记配置中的目标，没有事件的目标也会出现在报告中
func NewAggregator(targets []registry.Target, opts Options) *Aggregator {
	a := &Aggregator{
		opts:  opts,
		byKey: make(map[string]*accumulator, len(targets)),
	}
	for _, t := range targets {
		key := t.Key()
		if _, ok := a.byKey[key]; ok {
			continue
		}
		a.order = append(a.order, key)
		a.byKey[key] = &accumulator{stats: TargetStats{Key: key, Name: t.Name, Configured: true}}
	}
	return a
}

// Add 累加一条事件
func (a *Aggregator) Add(ev probe.Event) {
	acc, ok := a.byKey[ev.TargetKey]
	if !ok {
		acc = &accumulator{stats: TargetStats{Key: ev.TargetKey, Name: ev.Name}}
		a.byKey[ev.TargetKey] = acc
	}
	st := &acc.stats
	if st.Name == "" {
		st.Name = ev.Name
	}

	st.Total++
	ts := ev.Timestamp
	if st.FirstSeen == nil || ts.Before(*st.FirstSeen) {
		first := ts
		st.FirstSeen = &first
	}
	if st.LastSeen == nil || ts.After(*st.LastSeen) {
		last := ts
		st.LastSeen = &last
	}

	if ev.Success {
		st.Successes++
		acc.latencies = append(acc.latencies, ev.LatencyMs)
		acc.streak = 0
		return
	}

	st.Failures++
	if st.ErrorKinds == nil {
		st.ErrorKinds = make(map[probe.ErrorKind]uint64)
	}
	st.ErrorKinds[ev.ErrorKind]++
	acc.streak++
	if acc.streak > st.LongestFailureStreak {
		st.LongestFailureStreak = acc.streak
	}
}

// Report 生成报告：配置中的目标按注册顺序在前，仅出现在日志中的目标按键排序在后
func (a *Aggregator) Report() Report {
	p := a.opts.percentile()
	r := Report{
		GeneratedAt: time.Now(),
		Source:      SourceLog,
		Percentile:  p,
	}

	var extra []string
	configured := make(map[string]bool, len(a.order))
	for _, k := range a.order {
		configured[k] = true
	}
	for k := range a.byKey {
		if !configured[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	for _, key := range append(append([]string(nil), a.order...), extra...) {
		acc := a.byKey[key]
		st := acc.stats
		st.CurrentFailureStreak = acc.streak
		if st.Total > 0 {
			st.SuccessRate = float64(st.Successes) / float64(st.Total)
		}
		if len(acc.latencies) > 0 {
			mean := Mean(acc.latencies)
			pct := Percentile(acc.latencies, p)
			st.MeanLatencyMs = &mean
			st.PercentileLatencyMs = &pct
		}
		r.Targets = append(r.Targets, st)

		r.Totals.Total += st.Total
		r.Totals.Successes += st.Successes
		r.Totals.Failures += st.Failures
	}
	r.Totals.Targets = len(r.Targets)
	if r.Totals.Total > 0 {
		r.Totals.SuccessRate = float64(r.Totals.Successes) / float64(r.Totals.Total)
	}
	return r
}

// Summarize 汇总一组事件
func Summarize(targets []registry.Target, events iter.Seq[probe.Event], opts Options) Report {
	a := NewAggregator(targets, opts)
	for ev := range events {
		a.Add(ev)
	}
	return a.Report()
}

// FromLog 从事件日志汇总，可与写入进程并发执行
func FromLog(log storage.EventLog, targets []registry.Target, opts Options) (Report, error) {
	a := NewAggregator(targets, opts)
	if _, err := log.Replay(0, func(_ int64, ev probe.Event) error {
		a.Add(ev)
		return nil
	}); err != nil {
		return Report{}, err
	}
	return a.Report(), nil
}

// FromSnapshot 仅根据快照生成报告，只有成功次数可用
func FromSnapshot(snap storage.Snapshot, targets []registry.Target, opts Options) Report {
	r := Report{
		GeneratedAt: time.Now(),
		Source:      SourceSnapshot,
		Partial:     true,
		Percentile:  opts.percentile(),
	}
	if !snap.LastUpdated.IsZero() {
		lu := snap.LastUpdated
		r.LastUpdated = &lu
	}

	seen := make(map[string]bool, len(targets))
	add := func(key, name string, configured bool) {
		c := snap.PerTarget[key]
		if name == "" {
			name = c.Name
		}
		r.Targets = append(r.Targets, TargetStats{
			Key:        key,
			Name:       name,
			Configured: configured,
			Successes:  c.SuccessfulPings,
		})
		r.Totals.Successes += c.SuccessfulPings
	}
	for _, t := range targets {
		if seen[t.Key()] {
			continue
		}
		seen[t.Key()] = true
		add(t.Key(), t.Name, true)
	}
	for _, key := range snap.Keys() {
		if !seen[key] {
			add(key, "", false)
		}
	}
	r.Totals.Targets = len(r.Targets)
	return r
}

// Mean 算术平均
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Percentile 最近秩法分位数，p 取值 (0, 100]
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p * float64(len(sorted)) / 100))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
