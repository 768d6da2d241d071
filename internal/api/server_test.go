package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"svcmonitor/internal/config"
	"svcmonitor/internal/logger"
	"svcmonitor/internal/monitor"
	"svcmonitor/internal/probe"
	"svcmonitor/internal/registry"
	"svcmonitor/internal/schedule"
	"svcmonitor/internal/stats"
	"svcmonitor/internal/storage"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	cfg       *config.Config
	store     *storage.Store
	scheduler *monitor.Scheduler
	hub       *Hub
	srv       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Services = []config.ServiceConfig{
		{Name: "Up", Host: "10.0.0.1", Port: 80},
		{Name: "Down", Host: "10.0.0.2", Port: 81},
	}
	cfg.Storage.DataDir = dir
	reg, err := registry.Load(cfg)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}

	store, _, err := storage.Open(storage.Options{
		Backend:      cfg.Storage.Backend,
		EventLogPath: cfg.EventLogPath(),
		SnapshotPath: cfg.SnapshotPath(),
		RunID:        "run-api",
	})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := NewHub()
	prober := probe.ProberFunc(func(ctx context.Context, tg registry.Target, _ time.Duration) probe.Event {
		ev := probe.Event{Timestamp: time.Now(), TargetKey: tg.Key(), Name: tg.Name, LatencyMs: 2}
		if tg.Name == "Up" {
			ev.Success = true
		} else {
			ev.ErrorKind = probe.KindTimeout
		}
		return ev
	})
	sched := monitor.NewScheduler(reg, store, prober, monitor.WithReporter(hub), monitor.WithRunID("run-api"))

	statsFn := func(opts stats.Options) (stats.Report, error) {
		r, err := storage.OpenReader(cfg.Storage.Backend, cfg.EventLogPath())
		if err != nil {
			return stats.Report{}, err
		}
		defer r.Close()
		return stats.FromLog(r, sched.Targets(), opts)
	}

	s := NewServer(cfg, sched, statsFn, hub, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &fixture{cfg: cfg, store: store, scheduler: sched, hub: hub, srv: srv}
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	if out != nil && env.Success {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestStatusAndStats(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if err := f.scheduler.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	var st StatusResponse
	if code := getJSON(t, f.srv.URL+"/api/status", &st); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if st.State != monitor.StateIdle || st.Running || st.RunID != "run-api" || st.Ticks != 3 || st.TotalSuccesses != 3 {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Targets) != 2 || st.LastTick == nil {
		t.Fatalf("targets = %+v", st.Targets)
	}

	var rep stats.Report
	if code := getJSON(t, f.srv.URL+"/api/stats?percentile=50", &rep); code != http.StatusOK {
		t.Fatalf("stats code %d", code)
	}
	if rep.Percentile != 50 || len(rep.Targets) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Targets[0].SuccessRate != 1 || rep.Targets[1].LongestFailureStreak != 3 {
		t.Fatalf("report targets = %+v", rep.Targets)
	}

	if code := getJSON(t, f.srv.URL+"/api/stats?percentile=150", nil); code != http.StatusBadRequest {
		t.Fatalf("bad percentile code %d", code)
	}
}

func TestConfigAndLogs(t *testing.T) {
	f := newFixture(t)
	logger.InitBuffer(100)
	logger.InitConsoleOnly("info")
	logger.Info("hello from test")

	var cfg struct {
		Targets []registry.Target `json:"targets"`
	}
	if code := getJSON(t, f.srv.URL+"/api/config", &cfg); code != http.StatusOK || len(cfg.Targets) != 2 {
		t.Fatalf("config code=%d targets=%+v", code, cfg.Targets)
	}

	var logs struct {
		Entries []logger.LogEntry `json:"entries"`
		Count   int               `json:"count"`
	}
	if code := getJSON(t, f.srv.URL+"/api/logs?n=5", &logs); code != http.StatusOK {
		t.Fatalf("logs code %d", code)
	}
	found := false
	for _, e := range logs.Entries {
		if strings.Contains(e.Message, "hello from test") {
			found = true
		}
	}
	if !found || logs.Count > 5 {
		t.Fatalf("logs = %+v", logs)
	}

	if code := getJSON(t, f.srv.URL+"/api/logs?n=abc", nil); code != http.StatusBadRequest {
		t.Fatalf("bad n code %d", code)
	}
}

func TestWebsocketReceivesEventsInOrder(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for f.hub.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := f.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first, second EventMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.TargetKey != "10.0.0.1:80" || !first.Success || first.TotalSuccessful != 1 {
		t.Fatalf("first = %+v", first)
	}
	if second.TargetKey != "10.0.0.2:81" || second.Success || second.ErrorKind != probe.KindTimeout {
		t.Fatalf("second = %+v", second)
	}
}

func TestStatsUnavailableWithoutSource(t *testing.T) {
	f := newFixture(t)
	s := NewServer(f.cfg, f.scheduler, nil, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestServerStartStop(t *testing.T) {
	f := newFixture(t)
	cfg := *f.cfg
	cfg.API.Addr = "127.0.0.1:0"
	s := NewServer(&cfg, f.scheduler, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func postJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	if out != nil && env.Success {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return resp.StatusCode
}

func TestTargetState(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		if err := f.scheduler.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	var got struct {
		State           monitor.TargetState `json:"state"`
		SuccessfulPings uint64              `json:"successful_pings"`
	}
	if code := getJSON(t, f.srv.URL+"/api/targets/10.0.0.2:81", &got); code != http.StatusOK {
		t.Fatalf("code %d", code)
	}
	if got.State.ConsecutiveFailures != 2 || got.SuccessfulPings != 0 || got.State.Name != "Down" {
		t.Fatalf("target = %+v", got)
	}

	if code := getJSON(t, f.srv.URL+"/api/targets/10.9.9.9:1", nil); code != http.StatusNotFound {
		t.Fatalf("unknown target code %d", code)
	}
}

func TestSchedules(t *testing.T) {
	f := newFixture(t)

	jobs := schedule.NewManager()
	var runs int32
	task := schedule.NewTask(schedule.KindSummary, "@every 1h", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&runs, 1)
		return "done", nil
	})
	if err := jobs.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	jobs.Start(context.Background())
	defer jobs.Stop()

	srv := httptest.NewServer(NewServer(f.cfg, f.scheduler, nil, nil, jobs).Handler())
	defer srv.Close()
	base := srv.URL + "/api/schedules"

	var list struct {
		Tasks   []ScheduleView `json:"tasks"`
		Count   int            `json:"count"`
		Running bool           `json:"running"`
	}
	if code := getJSON(t, base, &list); code != http.StatusOK {
		t.Fatalf("list code %d", code)
	}
	if list.Count != 1 || !list.Running || list.Tasks[0].ID != task.ID || list.Tasks[0].NextRunAt == nil {
		t.Fatalf("list = %+v", list)
	}

	var result schedule.TaskResult
	if code := postJSON(t, base+"/"+task.ID+"/run", &result); code != http.StatusOK {
		t.Fatalf("run code %d", code)
	}
	if !result.Success || result.Message != "done" || atomic.LoadInt32(&runs) != 1 {
		t.Fatalf("result = %+v runs=%d", result, runs)
	}

	var view ScheduleView
	if code := postJSON(t, base+"/"+task.ID+"/disable", &view); code != http.StatusOK {
		t.Fatalf("disable code %d", code)
	}
	if view.Enabled || view.NextRunAt != nil {
		t.Fatalf("disabled view = %+v", view)
	}
	if code := postJSON(t, base+"/"+task.ID+"/enable", &view); code != http.StatusOK {
		t.Fatalf("enable code %d", code)
	}
	if !view.Enabled || view.Runs != 1 {
		t.Fatalf("enabled view = %+v", view)
	}

	if code := getJSON(t, base+"/"+task.ID, &view); code != http.StatusOK || view.ID != task.ID {
		t.Fatalf("get code %d view %+v", code, view)
	}
	if code := postJSON(t, base+"/missing/run", nil); code != http.StatusNotFound {
		t.Fatalf("missing run code %d", code)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/"+task.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || jobs.GetTaskCount() != 0 {
		t.Fatalf("delete code %d count %d", resp.StatusCode, jobs.GetTaskCount())
	}
}

func TestSchedulesUnavailableWithoutManager(t *testing.T) {
	f := newFixture(t)
	if code := getJSON(t, f.srv.URL+"/api/schedules", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", code)
	}
}
