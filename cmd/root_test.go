package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"svcmonitor/internal/config"
	"svcmonitor/internal/registry"
	"svcmonitor/internal/stats"
	"svcmonitor/internal/storage"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("load: %w", config.ErrConfigInvalid), ExitConfigInvalid},
		{fmt.Errorf("commit: %w", storage.ErrPersistenceWrite), ExitPersistenceWrite},
		{errors.New("boom"), ExitFailure},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestLoadConfig_GeneratesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor_config.json")
	t.Setenv("MONITOR_CONFIG", path)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if len(cfg.Services) != len(config.Default().Services) {
		t.Fatalf("services = %d", len(cfg.Services))
	}
}

func TestSetupJobs(t *testing.T) {
	noStats := func(stats.Options) (stats.Report, error) { return stats.Report{}, nil }

	cfg := config.Default()
	m, err := setupJobs(cfg, noStats, "run")
	if err != nil || m.GetTaskCount() != 0 {
		t.Fatalf("empty crons: count=%v err=%v", m, err)
	}

	cfg.Jobs.SummaryCron = "@every 10m"
	m, err = setupJobs(cfg, noStats, "run")
	if err != nil || m.GetTaskCount() != 1 {
		t.Fatalf("summary job: err=%v", err)
	}

	cfg.Jobs.SummaryCron = "every ten minutes"
	if _, err := setupJobs(cfg, noStats, "run"); !errors.Is(err, config.ErrConfigInvalid) {
		t.Fatalf("invalid cron err = %v", err)
	}

	cfg.Jobs.SummaryCron = ""
	cfg.Jobs.ArchiveCron = "@daily"
	cfg.Archive.Bucket = ""
	if _, err := setupJobs(cfg, noStats, "run"); !errors.Is(err, config.ErrConfigInvalid) {
		t.Fatalf("archive without bucket err = %v", err)
	}
}

func TestLogStats_EmptyLog(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	reg, err := registry.Load(cfg)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	rep, err := logStats(cfg, reg.Targets)(stats.Options{})
	if err != nil {
		t.Fatalf("logStats: %v", err)
	}
	if len(rep.Targets) != reg.Len() || rep.Totals.Total != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestSnapshotStats_MissingSnapshotIsZero(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	reg, err := registry.Load(cfg)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	rep, err := snapshotStats(cfg.SnapshotPath(), reg.Targets(), stats.Options{})
	if err != nil {
		t.Fatalf("snapshotStats: %v", err)
	}
	if !rep.Partial || len(rep.Targets) != reg.Len() || rep.Totals.Successes != 0 {
		t.Fatalf("report = %+v", rep)
	}

	if err := os.WriteFile(cfg.SnapshotPath(), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := snapshotStats(cfg.SnapshotPath(), reg.Targets(), stats.Options{}); !errors.Is(err, storage.ErrSnapshotCorrupt) {
		t.Fatalf("corrupt snapshot err = %v", err)
	}
}
