package schedule

import (
	"context"
	"fmt"

	"svcmonitor/internal/archive"
	"svcmonitor/internal/logger"
	"svcmonitor/internal/stats"
)

// StatsSource 统计报告来源
type StatsSource func(opts stats.Options) (stats.Report, error)

// Archiver 归档执行者
type Archiver interface {
	Archive(ctx context.Context) (archive.Result, error)
}

// SummaryJob 生成统计报告并逐目标写入日志
func SummaryJob(source StatsSource, opts stats.Options) JobFunc {
	return func(ctx context.Context) (string, error) {
		rep, err := source(opts)
		if err != nil {
			return "", fmt.Errorf("生成统计失败: %w", err)
		}

		for _, ts := range rep.Targets {
			fields := logger.Fields{
				"target":         ts.Key,
				"total":          ts.Total,
				"successes":      ts.Successes,
				"success_rate":   ts.SuccessRate,
				"longest_streak": ts.LongestFailureStreak,
			}
			if ts.MeanLatencyMs != nil {
				fields["mean_ms"] = *ts.MeanLatencyMs
			}
			if ts.PercentileLatencyMs != nil {
				fields[fmt.Sprintf("p%g_ms", rep.Percentile)] = *ts.PercentileLatencyMs
			}
			logger.WithFields(fields).Infof("[摘要] %s", ts.Name)
		}

		return fmt.Sprintf("%d 个目标, 共 %d 次探测, 成功率 %.1f%%",
			len(rep.Targets), rep.Totals.Total, rep.Totals.SuccessRate*100), nil
	}
}

// ArchiveJob 上传事件日志和快照
func ArchiveJob(a Archiver) JobFunc {
	return func(ctx context.Context) (string, error) {
		res, err := a.Archive(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("上传 %d 个文件 (%d 字节)", len(res.Keys), res.Bytes), nil
	}
}
