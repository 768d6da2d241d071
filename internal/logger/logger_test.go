package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInit_CreatesDirAndWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "monitor.log")

	if err := Init("debug", path, 7); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("hello_from_logger_test")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello_from_logger_test") {
		t.Fatalf("log file missing message: %q", data)
	}
}

func TestInitWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("warn", &buf)
	defer InitWriter("info", &bytes.Buffer{})

	Info("quiet")
	Warnf("loud %d", 1)

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "loud 1") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	saved := Log
	Log = nil
	defer func() { Log = saved }()

	Info("x")
	Errorf("y %d", 1)
	WithFields(Fields{"k": "v"}).Info("z")
}

func TestLogBuffer_RecentKeepsNewest(t *testing.T) {
	b := NewBuffer(3)
	now := time.Now()
	for i, msg := range []string{"a", "b", "c", "d"} {
		b.AddLog(now.Add(time.Duration(i)*time.Second), "info", msg, nil)
	}

	got := b.Recent(10)
	if len(got) != 3 {
		t.Fatalf("want 3 entries, got %d", len(got))
	}
	if got[0].Message != "b" || got[2].Message != "d" {
		t.Fatalf("unexpected order: %+v", got)
	}

	if last := b.Recent(1); len(last) != 1 || last[0].Message != "d" {
		t.Fatalf("Recent(1) = %+v", last)
	}

	b.Clear()
	if len(b.Recent(5)) != 0 {
		t.Fatalf("expected empty buffer after Clear")
	}
}

func TestMemoryHook_CapturesFields(t *testing.T) {
	InitBuffer(10)
	InitConsoleOnly("info")
	defer InitWriter("info", &bytes.Buffer{})
	Log.SetOutput(&bytes.Buffer{})

	WithFields(Fields{"target": "127.0.0.1:80"}).Info("probe")

	entries := GetBuffer().Recent(1)
	if len(entries) != 1 || entries[0].Message != "probe" {
		t.Fatalf("hook did not capture entry: %+v", entries)
	}
	if entries[0].Fields["target"] != "127.0.0.1:80" {
		t.Fatalf("fields not captured: %+v", entries[0].Fields)
	}
}
