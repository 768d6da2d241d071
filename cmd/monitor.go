package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"svcmonitor/internal/api"
	"svcmonitor/internal/archive"
	"svcmonitor/internal/config"
	"svcmonitor/internal/logger"
	"svcmonitor/internal/monitor"
	"svcmonitor/internal/probe"
	"svcmonitor/internal/registry"
	"svcmonitor/internal/report"
	"svcmonitor/internal/schedule"
	"svcmonitor/internal/stats"
	"svcmonitor/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var (
	runOnce   bool
	enableAPI bool

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "启动监控",
		Long:  "恢复成功计数后进入探测循环，SIGINT/SIGTERM 停止，SIGHUP 重新加载配置",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := InitSystem(); err != nil {
				return err
			}
			return runMonitor(GetConfig())
		},
	}
)

func runMonitor(cfg *config.Config) error {
	reg, err := registry.Load(cfg)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	store, rec, err := storage.Open(storage.Options{
		Backend:      cfg.Storage.Backend,
		EventLogPath: cfg.EventLogPath(),
		SnapshotPath: cfg.SnapshotPath(),
		RunID:        runID,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	logger.WithFields(logger.Fields{
		"mode":     rec.Mode,
		"replayed": rec.Replayed,
		"position": rec.LogPosition,
	}).Infof("恢复完成，累计成功 %d 次", store.Counters().Total())

	hub := api.NewHub()
	sched := monitor.NewScheduler(reg, store, probe.NewMulti(cfg.ICMP.Privileged),
		monitor.WithReporter(report.Multi{report.NewConsole(os.Stdout), hub}),
		monitor.WithRunID(runID),
	)

	if runOnce {
		return sched.RunOnce(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statsFn := logStats(cfg, sched.Targets)

	jobs, err := setupJobs(cfg, statsFn, runID)
	if err != nil {
		return err
	}
	jobs.Start(ctx)
	defer jobs.Stop()

	if enableAPI || cfg.API.Enabled {
		srv := api.NewServer(cfg, sched, statsFn, hub, jobs)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(sctx); err != nil {
				logger.Warnf("[API] 关闭失败: %v", err)
			}
		}()
	}

	go watchReload(ctx, cfg.Source, sched)

	logger.Info("监控服务运行中，按 Ctrl+C 停止...")
	if err := sched.Run(ctx); err != nil {
		return err
	}
	logger.Info("监控已停止")
	return nil
}

// setupJobs 按配置注册定时任务，cron 表达式为空的任务不注册
func setupJobs(cfg *config.Config, statsFn schedule.StatsSource, runID string) (*schedule.Manager, error) {
	m := schedule.NewManager()

	if cfg.Jobs.SummaryCron != "" {
		task := schedule.NewTask(schedule.KindSummary, cfg.Jobs.SummaryCron,
			schedule.SummaryJob(statsFn, stats.Options{Percentile: cfg.Stats.Percentile}))
		if err := m.AddTask(task); err != nil {
			return nil, fmt.Errorf("%w: jobs.summary_cron: %v", config.ErrConfigInvalid, err)
		}
	}

	if cfg.Jobs.ArchiveCron != "" {
		a, err := newArchiver(context.Background(), cfg, runID)
		if err != nil {
			return nil, err
		}
		task := schedule.NewTask(schedule.KindArchive, cfg.Jobs.ArchiveCron, schedule.ArchiveJob(a))
		if err := m.AddTask(task); err != nil {
			return nil, fmt.Errorf("%w: jobs.archive_cron: %v", config.ErrConfigInvalid, err)
		}
	}
	return m, nil
}

func newArchiver(ctx context.Context, cfg *config.Config, runID string) (*archive.Archiver, error) {
	if cfg.Archive.Bucket == "" {
		return nil, fmt.Errorf("%w: 未配置 archive.bucket", config.ErrConfigInvalid)
	}
	client, err := archive.NewS3Client(ctx, cfg.Archive.Region)
	if err != nil {
		return nil, err
	}
	return archive.New(client, cfg.Archive.Bucket, cfg.Archive.Prefix, runID, archive.FilesFor(cfg)...)
}

// watchReload 收到 SIGHUP 时重新加载目标列表，在下一个 tick 边界生效
func watchReload(ctx context.Context, source string, sched *monitor.Scheduler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(source)
			if err != nil {
				logger.Errorf("重新加载配置失败，继续使用当前目标: %v", err)
				continue
			}
			reg, err := registry.Load(cfg)
			if err != nil {
				logger.Errorf("重新加载目标失败，继续使用当前目标: %v", err)
				continue
			}
			sched.Reload(reg)
			logger.Infof("已加载新配置 (%d 个目标)，将在下一个 tick 生效", reg.Len())
		}
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().BoolVar(&runOnce, "once", false, "只执行一个 tick 后退出")
	startCmd.Flags().BoolVar(&enableAPI, "api", false, "启用状态接口（也可在配置中开启）")
}
