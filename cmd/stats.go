package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"svcmonitor/internal/config"
	"svcmonitor/internal/registry"
	"svcmonitor/internal/stats"
	"svcmonitor/internal/storage"
)

var (
	fromSnapshot bool
	statsJSON    bool
	percentile   float64

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "输出统计报告",
		Long:  "从事件日志生成完整统计；--snapshot 只读取快照中的成功计数",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initQuiet()
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg)
			if err != nil {
				return err
			}

			opts := stats.Options{Percentile: cfg.Stats.Percentile}
			if cmd.Flags().Changed("percentile") {
				if percentile <= 0 || percentile > 100 {
					return fmt.Errorf("%w: percentile 必须在 (0, 100] 范围内: %v", config.ErrConfigInvalid, percentile)
				}
				opts.Percentile = percentile
			}

			var rep stats.Report
			if fromSnapshot {
				rep, err = snapshotStats(cfg.SnapshotPath(), reg.Targets(), opts)
				if err != nil {
					return err
				}
			} else {
				rep, err = logStats(cfg, reg.Targets)(opts)
				if err != nil {
					return err
				}
			}

			if statsJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			return stats.Render(os.Stdout, rep)
		},
	}
)

// snapshotStats 从快照生成统计，首次运行尚无快照时按零计数处理
func snapshotStats(path string, targets []registry.Target, opts stats.Options) (stats.Report, error) {
	snap, err := storage.ReadSnapshot(path)
	if storage.IsMissing(err) {
		snap, err = storage.NewSnapshot(), nil
	}
	if err != nil {
		return stats.Report{}, err
	}
	return stats.FromSnapshot(snap, targets, opts), nil
}

// logStats 以只读方式打开事件日志生成统计，可与正在运行的写入者并发
func logStats(cfg *config.Config, targets func() []registry.Target) func(stats.Options) (stats.Report, error) {
	return func(opts stats.Options) (stats.Report, error) {
		r, err := storage.OpenReader(cfg.Storage.Backend, cfg.EventLogPath())
		if err != nil {
			return stats.Report{}, err
		}
		defer r.Close()
		return stats.FromLog(r, targets(), opts)
	}
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&fromSnapshot, "snapshot", false, "从快照生成（只有成功计数）")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "以 JSON 输出")
	statsCmd.Flags().Float64Var(&percentile, "percentile", stats.DefaultPercentile, "延迟百分位 (0, 100]")
}
