package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"svcmonitor/internal/storage"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "上传事件日志和快照到 S3",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := initQuiet()
		if err != nil {
			return err
		}

		// 沿用快照中的运行 ID 作为对象前缀
		runID := "manual"
		if snap, err := storage.ReadSnapshot(cfg.SnapshotPath()); err == nil && snap.RunID != "" {
			runID = snap.RunID
		}

		ctx := context.Background()
		a, err := newArchiver(ctx, cfg, runID)
		if err != nil {
			return err
		}
		res, err := a.Archive(ctx)
		if err != nil {
			return err
		}
		for _, key := range res.Keys {
			fmt.Printf("s3://%s/%s\n", cfg.Archive.Bucket, key)
		}
		fmt.Printf("共上传 %d 个文件 (%d 字节)\n", len(res.Keys), res.Bytes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}
