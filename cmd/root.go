package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"svcmonitor/internal/config"
	"svcmonitor/internal/storage"
)

// 进程退出码
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitConfigInvalid    = 2
	ExitPersistenceWrite = 3
)

const defaultConfigFile = "monitor_config.json"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "svcmonitor",
		Short: "服务可达性持续监控",
		Long: `svcmonitor 按固定间隔探测一组 host:port 目标，
持久化每次探测结果，维护跨重启的成功计数，并按需生成统计报告。`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute 执行根命令并按错误类型设置退出码
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	}
	os.Exit(ExitCode(err))
}

// ExitCode 错误到退出码的映射
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrConfigInvalid):
		return ExitConfigInvalid
	case errors.Is(err, storage.ErrPersistenceWrite):
		return ExitPersistenceWrite
	default:
		return ExitFailure
	}
}

func init() {
	// 全局flags - 支持本地文件路径或HTTP(S) URL
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "配置文件路径或URL (支持 http:// 或 https://)，默认读取 MONITOR_CONFIG")
}

// GetConfigFile 获取配置来源，未显式指定时使用 MONITOR_CONFIG（含 .env）
func GetConfigFile() string {
	if rootCmd.PersistentFlags().Changed("config") {
		return cfgFile
	}
	_ = godotenv.Load()
	return config.GetEnvString("MONITOR_CONFIG", cfgFile)
}
