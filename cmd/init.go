package cmd

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"svcmonitor/internal/config"
	"svcmonitor/internal/logger"
)

var (
	globalConfig *config.Config
	initOnce     sync.Once
	initError    error

	forceInit bool

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "生成默认配置文件",
		Long:  "在 --config 指定的位置写入默认配置（包含默认服务列表），已存在时需要 --force 覆盖",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := GetConfigFile()
			if config.IsRemote(path) {
				return fmt.Errorf("%w: 无法向远程地址写入配置: %s", config.ErrConfigInvalid, path)
			}
			if _, err := os.Stat(path); err == nil && !forceInit {
				return fmt.Errorf("配置文件已存在: %s (使用 --force 覆盖)", path)
			}
			if err := config.GenerateDefault(path); err != nil {
				return fmt.Errorf("生成配置失败: %w", err)
			}
			fmt.Printf("已生成: %s\n", path)
			return nil
		},
	}
)

// loadConfig 加载配置；本地文件不存在时先生成默认配置
func loadConfig() (*config.Config, error) {
	source := GetConfigFile()
	cfg, err := config.Load(source)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) || config.IsRemote(source) {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "配置文件不存在，正在生成默认配置: %s\n", source)
	if err := config.GenerateDefault(source); err != nil {
		return nil, fmt.Errorf("生成配置失败: %w", err)
	}
	return config.Load(source)
}

// InitSystem 加载配置并初始化日志（文件+控制台），供 start 使用
func InitSystem() error {
	initOnce.Do(func() {
		cfg, err := loadConfig()
		if err != nil {
			initError = err
			return
		}
		globalConfig = cfg

		// 根据配置决定是否启用文件日志
		if cfg.Log.Enabled {
			if err := logger.Init(cfg.Log.Level, cfg.Log.Path, cfg.Log.MaxDays); err != nil {
				initError = fmt.Errorf("日志初始化失败: %w", err)
				return
			}
			logger.Info("日志系统初始化成功（文件+控制台）")
		} else {
			logger.InitConsoleOnly(cfg.Log.Level)
			logger.Info("日志系统初始化成功（仅控制台）")
		}
		logger.Infof("配置来源: %s", cfg.Source)
	})
	return initError
}

// initQuiet 只读子命令使用：日志写到 stderr，不影响 stdout 上的输出
func initQuiet() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger.InitWriter(cfg.Log.Level, os.Stderr)
	globalConfig = cfg
	return cfg, nil
}

// GetConfig 当前配置
func GetConfig() *config.Config {
	return globalConfig
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "覆盖已存在的配置文件")
}
