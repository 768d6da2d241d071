package stats

import (
	"bytes"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"svcmonitor/internal/config"
	"svcmonitor/internal/probe"
	"svcmonitor/internal/registry"
	"svcmonitor/internal/storage"
)

var (
	good = registry.Target{Name: "Good", Host: "10.0.0.1", Port: 80, Protocol: registry.ProtocolTCP}
	bad  = registry.Target{Name: "Bad", Host: "10.0.0.2", Port: 81, Protocol: registry.ProtocolTCP}
)

func event(tg registry.Target, tick int, ok bool, latency float64) probe.Event {
	ev := probe.Event{
		Timestamp: time.Date(2024, 5, 1, 12, 0, tick, 0, time.UTC),
		TargetKey: tg.Key(),
		Name:      tg.Name,
		Success:   ok,
		LatencyMs: latency,
	}
	if !ok {
		ev.ErrorKind = probe.KindTimeout
	}
	return ev
}

func find(t *testing.T, r Report, key string) TargetStats {
	t.Helper()
	for _, ts := range r.Targets {
		if ts.Key == key {
			return ts
		}
	}
	t.Fatalf("target %s missing from report", key)
	return TargetStats{}
}

func TestSummarize_EmptyLog(t *testing.T) {
	r := Summarize([]registry.Target{good, bad}, slices.Values([]probe.Event(nil)), Options{})
	if len(r.Targets) != 2 || r.Percentile != DefaultPercentile {
		t.Fatalf("report = %+v", r)
	}
	for _, ts := range r.Targets {
		if ts.Total != 0 || ts.Successes != 0 || ts.SuccessRate != 0 {
			t.Fatalf("non-zero counts: %+v", ts)
		}
		if ts.MeanLatencyMs != nil || ts.PercentileLatencyMs != nil || ts.FirstSeen != nil {
			t.Fatalf("latency must be absent: %+v", ts)
		}
	}
}

// 一个目标始终失败、一个始终成功，运行 10 个 tick
func TestSummarize_AlwaysUpAndAlwaysDown(t *testing.T) {
	var events []probe.Event
	for i := 0; i < 10; i++ {
		events = append(events, event(bad, i, false, 1000), event(good, i, true, float64(i+1)))
	}
	r := Summarize([]registry.Target{bad, good}, slices.Values(events), Options{Percentile: 95})

	b := find(t, r, bad.Key())
	if b.SuccessRate != 0 || b.LongestFailureStreak != 10 || b.CurrentFailureStreak != 10 || b.Failures != 10 {
		t.Fatalf("failing target: %+v", b)
	}
	if b.MeanLatencyMs != nil {
		t.Fatalf("failures must not contribute latency")
	}
	if b.ErrorKinds[probe.KindTimeout] != 10 {
		t.Fatalf("error kinds: %+v", b.ErrorKinds)
	}

	g := find(t, r, good.Key())
	if g.SuccessRate != 1 || g.LongestFailureStreak != 0 || g.Total != 10 {
		t.Fatalf("succeeding target: %+v", g)
	}
	if g.MeanLatencyMs == nil || *g.MeanLatencyMs != 5.5 {
		t.Fatalf("mean = %v", g.MeanLatencyMs)
	}
	if g.PercentileLatencyMs == nil || *g.PercentileLatencyMs != 10 {
		t.Fatalf("p95 = %v", g.PercentileLatencyMs)
	}
	if !g.FirstSeen.Equal(events[1].Timestamp) || !g.LastSeen.Equal(events[19].Timestamp) {
		t.Fatalf("seen range: %v .. %v", g.FirstSeen, g.LastSeen)
	}

	if r.Targets[0].Key != bad.Key() {
		t.Fatalf("configured order not kept")
	}
	if r.Totals.Total != 20 || r.Totals.Successes != 10 || r.Totals.SuccessRate != 0.5 {
		t.Fatalf("totals = %+v", r.Totals)
	}
}

func TestSummarize_StreaksAndUnconfiguredTargets(t *testing.T) {
	other := registry.Target{Name: "Old", Host: "10.0.0.9", Port: 22}
	pattern := []bool{false, false, true, false, false, false, true, false}
	var events []probe.Event
	for i, ok := range pattern {
		events = append(events, event(good, i, ok, 2))
	}
	events = append(events, event(other, 0, true, 3))

	r := Summarize([]registry.Target{good}, slices.Values(events), Options{})
	g := find(t, r, good.Key())
	if g.LongestFailureStreak != 3 || g.CurrentFailureStreak != 1 {
		t.Fatalf("streaks: longest=%d current=%d", g.LongestFailureStreak, g.CurrentFailureStreak)
	}

	o := find(t, r, other.Key())
	if o.Configured || o.Name != "Old" || o.Successes != 1 {
		t.Fatalf("log-only target: %+v", o)
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	values := []float64{15, 20, 35, 40, 50}
	cases := map[float64]float64{5: 15, 30: 20, 40: 20, 50: 35, 100: 50, 95: 50}
	for p, want := range cases {
		if got := Percentile(values, p); got != want {
			t.Fatalf("p%v = %v, want %v", p, got, want)
		}
	}
	if Percentile(nil, 95) != 0 {
		t.Fatalf("empty percentile")
	}
}

func TestFromLogAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	opts := storage.Options{
		Backend:      config.BackendJSONL,
		EventLogPath: filepath.Join(dir, "events.jsonl"),
		SnapshotPath: filepath.Join(dir, "monitor_results.json"),
	}
	s, _, err := storage.Open(opts)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := s.Commit([]probe.Event{event(good, i, true, 1), event(bad, i, i == 0, 1)}); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}
	_ = s.Close()

	reader, err := storage.OpenReader(config.BackendJSONL, opts.EventLogPath)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()
	r, err := FromLog(reader, []registry.Target{good, bad}, Options{})
	if err != nil {
		t.Fatalf("FromLog: %v", err)
	}
	if find(t, r, good.Key()).Successes != 4 || find(t, r, bad.Key()).LongestFailureStreak != 3 {
		t.Fatalf("log report: %+v", r.Targets)
	}

	snap, err := storage.ReadSnapshot(opts.SnapshotPath)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	sr := FromSnapshot(snap, []registry.Target{good, bad}, Options{})
	if !sr.Partial || sr.Source != SourceSnapshot || sr.LastUpdated == nil {
		t.Fatalf("snapshot report header: %+v", sr)
	}
	if find(t, sr, good.Key()).Successes != 4 || find(t, sr, bad.Key()).Successes != 1 || sr.Totals.Successes != 5 {
		t.Fatalf("snapshot report: %+v", sr.Targets)
	}

	var buf bytes.Buffer
	if err := Render(&buf, r); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "MONITORING STATISTICS") || !strings.Contains(out, "Good (10.0.0.1:80)") ||
		!strings.Contains(out, "Total successful pings: 5") {
		t.Fatalf("render output:\n%s", out)
	}
}
