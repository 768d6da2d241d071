package schedule

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"svcmonitor/internal/archive"
	"svcmonitor/internal/stats"
)

func counterJob(n *int32, err error) JobFunc {
	return func(ctx context.Context) (string, error) {
		atomic.AddInt32(n, 1)
		return "ok", err
	}
}

func TestAddTask_RejectsInvalidCron(t *testing.T) {
	m := NewManager()
	var n int32
	if err := m.AddTask(NewTask(KindSummary, "not a cron", counterJob(&n, nil))); err == nil {
		t.Fatalf("expected invalid cron error")
	}
	if err := m.AddTask(&Task{Cron: "@every 1h"}); err == nil {
		t.Fatalf("expected missing job error")
	}
	if m.GetTaskCount() != 0 {
		t.Fatalf("invalid tasks were stored")
	}
}

func TestRunTaskNow_UpdatesState(t *testing.T) {
	m := NewManager()
	var n int32
	task := NewTask(KindSummary, "@every 1h", counterJob(&n, nil))
	if err := m.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.ID == "" {
		t.Fatalf("task id not assigned")
	}

	res, err := m.RunTaskNow(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("RunTaskNow: %v", err)
	}
	if !res.Success || res.Message != "ok" || res.Kind != KindSummary {
		t.Fatalf("result = %+v", res)
	}

	got, ok := m.GetTask(task.ID)
	if !ok || got.Runs != 1 || got.LastRunAt == nil || !strings.HasPrefix(got.LastResult, "成功") {
		t.Fatalf("task = %+v", got)
	}

	if _, err := m.RunTaskNow(context.Background(), "missing"); err == nil {
		t.Fatalf("expected missing task error")
	}
}

func TestRunTaskNow_RecordsFailure(t *testing.T) {
	m := NewManager()
	var n int32
	task := NewTask(KindArchive, "@daily", counterJob(&n, errors.New("boom")))
	_ = m.AddTask(task)

	res, _ := m.RunTaskNow(context.Background(), task.ID)
	if res.Success || res.Message != "boom" {
		t.Fatalf("result = %+v", res)
	}
	got, _ := m.GetTask(task.ID)
	if !strings.HasPrefix(got.LastResult, "失败") {
		t.Fatalf("last result = %q", got.LastResult)
	}
}

func TestEnableDisableTask(t *testing.T) {
	m := NewManager()
	var n int32
	task := NewTask(KindSummary, "@every 1h", counterJob(&n, nil))
	_ = m.AddTask(task)
	m.Start(context.Background())
	defer m.Stop()

	if m.NextRun(task.ID).IsZero() {
		t.Fatalf("enabled task has no next run")
	}
	if err := m.DisableTask(task.ID); err != nil {
		t.Fatalf("DisableTask: %v", err)
	}
	if !m.NextRun(task.ID).IsZero() {
		t.Fatalf("disabled task still scheduled")
	}
	if err := m.EnableTask(task.ID); err != nil {
		t.Fatalf("EnableTask: %v", err)
	}
	if got, _ := m.GetTask(task.ID); !got.Enabled {
		t.Fatalf("task not enabled")
	}
	if err := m.RemoveTask(task.ID); err != nil || m.GetTaskCount() != 0 {
		t.Fatalf("RemoveTask: %v", err)
	}
	if err := m.EnableTask(task.ID); err == nil {
		t.Fatalf("expected missing task error")
	}
}

func TestManager_FiresOnSchedule(t *testing.T) {
	m := NewManager()
	var n int32
	_ = m.AddTask(NewTask(KindSummary, "@every 1s", counterJob(&n, nil)))
	m.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&n) == 0 {
		if time.Now().After(deadline) {
			m.Stop()
			t.Fatalf("task never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
	m.Stop()
	if m.IsRunning() {
		t.Fatalf("manager still running")
	}
}

func TestSummaryJob(t *testing.T) {
	mean := 4.0
	source := func(opts stats.Options) (stats.Report, error) {
		return stats.Report{
			Percentile: opts.Percentile,
			Targets: []stats.TargetStats{
				{Key: "a:1", Name: "A", Total: 4, Successes: 3, SuccessRate: 0.75, MeanLatencyMs: &mean},
			},
			Totals: stats.Totals{Targets: 1, Total: 4, Successes: 3, SuccessRate: 0.75},
		}, nil
	}
	msg, err := SummaryJob(source, stats.Options{Percentile: 90})(context.Background())
	if err != nil || msg != "1 个目标, 共 4 次探测, 成功率 75.0%" {
		t.Fatalf("msg = %q err = %v", msg, err)
	}

	failing := func(stats.Options) (stats.Report, error) { return stats.Report{}, errors.New("no log") }
	if _, err := SummaryJob(failing, stats.Options{})(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeArchiver struct {
	res archive.Result
	err error
}

func (f fakeArchiver) Archive(ctx context.Context) (archive.Result, error) { return f.res, f.err }

func TestArchiveJob(t *testing.T) {
	msg, err := ArchiveJob(fakeArchiver{res: archive.Result{Keys: []string{"a", "b"}, Bytes: 42}})(context.Background())
	if err != nil || msg != "上传 2 个文件 (42 字节)" {
		t.Fatalf("msg = %q err = %v", msg, err)
	}
	if _, err := ArchiveJob(fakeArchiver{err: errors.New("denied")})(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
