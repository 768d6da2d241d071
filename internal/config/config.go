package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid 配置格式错误或前后矛盾，启动阶段致命
var ErrConfigInvalid = errors.New("配置无效")

// 存储后端
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Config 主配置结构
type Config struct {
	Services             []ServiceConfig `json:"services" yaml:"services"`
	CheckIntervalSeconds float64         `json:"check_interval_seconds" yaml:"check_interval_seconds"`
	TimeoutSeconds       float64         `json:"timeout_seconds" yaml:"timeout_seconds"`
	Storage              StorageConfig   `json:"storage" yaml:"storage"`
	Log                  LogConfig       `json:"log" yaml:"log"`
	API                  APIConfig       `json:"api" yaml:"api"`
	Stats                StatsConfig     `json:"stats" yaml:"stats"`
	Jobs                 JobsConfig      `json:"jobs" yaml:"jobs"`
	Archive              ArchiveConfig   `json:"archive" yaml:"archive"`
	ICMP                 ICMPConfig      `json:"icmp" yaml:"icmp"`

	// Source 配置来源（文件路径或 URL），不参与序列化
	Source string `json:"-" yaml:"-"`
}

// ServiceConfig 单个监控目标；ip 为旧格式字段，等价于 host
type ServiceConfig struct {
	Name     string `json:"name" yaml:"name"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	IP       string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Port     int    `json:"port" yaml:"port"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// Address 返回 host，缺省时回退到 ip
func (s ServiceConfig) Address() string {
	if h := strings.TrimSpace(s.Host); h != "" {
		return h
	}
	return strings.TrimSpace(s.IP)
}

// StorageConfig 持久化配置
type StorageConfig struct {
	Backend  string `json:"backend" yaml:"backend"`
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	EventLog string `json:"event_log" yaml:"event_log"`
	Snapshot string `json:"snapshot" yaml:"snapshot"`
}

// LogConfig 日志配置
type LogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Level   string `json:"level" yaml:"level"`
	Path    string `json:"path" yaml:"path"`
	MaxDays int    `json:"max_days" yaml:"max_days"`
}

// APIConfig 状态 API 配置
type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// StatsConfig 统计配置
type StatsConfig struct {
	Percentile float64 `json:"percentile" yaml:"percentile"`
}

// JobsConfig 定时任务配置，cron 表达式为空表示不启用
type JobsConfig struct {
	SummaryCron string `json:"summary_cron" yaml:"summary_cron"`
	ArchiveCron string `json:"archive_cron" yaml:"archive_cron"`
}

// ArchiveConfig S3 归档配置
type ArchiveConfig struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Prefix string `json:"prefix" yaml:"prefix"`
	Region string `json:"region" yaml:"region"`
}

// ICMPConfig ICMP 探测配置
type ICMPConfig struct {
	Privileged bool `json:"privileged" yaml:"privileged"`
}

// Default 返回默认配置（与旧版默认服务列表一致）
func Default() *Config {
	return &Config{
		Services: []ServiceConfig{
			{Name: "Chat App", Host: "127.0.0.1", Port: 5000},
			{Name: "FTP Server", Host: "127.0.0.1", Port: 2121},
			{Name: "Ollama API", Host: "127.0.0.1", Port: 11434},
			{Name: "PostgreSQL", Host: "127.0.0.1", Port: 5432},
			{Name: "Google DNS", Host: "8.8.8.8", Port: 53},
			{Name: "Cloudflare DNS", Host: "1.1.1.1", Port: 53},
		},
		CheckIntervalSeconds: 1,
		TimeoutSeconds:       5,
		Storage: StorageConfig{
			Backend:  BackendJSONL,
			DataDir:  "data",
			EventLog: "events.jsonl",
			Snapshot: "monitor_results.json",
		},
		Log: LogConfig{
			Enabled: true,
			Level:   "info",
			Path:    filepath.Join("logs", "monitor.log"),
			MaxDays: 30,
		},
		API:   APIConfig{Addr: ":8080"},
		Stats: StatsConfig{Percentile: 95},
		Archive: ArchiveConfig{
			Prefix: "svcmonitor/",
		},
		ICMP: ICMPConfig{Privileged: true},
	}
}

// Load 从文件或 http(s) URL 加载配置，并应用 .env / 环境变量覆盖
// 文件不存在时返回的错误满足 errors.Is(err, os.ErrNotExist)
func Load(source string) (*Config, error) {
	_ = godotenv.Load()

	var (
		data []byte
		err  error
	)
	if IsRemote(source) {
		data, err = FetchRemote(source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg, err := Parse(data, source)
	if err != nil {
		return nil, err
	}
	cfg.Source = source
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析配置内容；扩展名为 .yaml/.yml 时按 YAML 解析，否则按 JSON
func Parse(data []byte, name string) (*Config, error) {
	cfg := Default()
	// 服务列表不继承默认值
	cfg.Services = nil

	if isYAML(name) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: 解析 YAML 失败: %v", ErrConfigInvalid, err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: 解析 JSON 失败: %v", ErrConfigInvalid, err)
		}
	}

	fillDefaults(cfg)
	return cfg, nil
}

// Validate 校验与目标列表无关的配置项，目标本身由 registry 校验
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendJSONL, BackendSQLite:
	default:
		return fmt.Errorf("%w: 未知的存储后端 %q", ErrConfigInvalid, c.Storage.Backend)
	}
	if c.Stats.Percentile <= 0 || c.Stats.Percentile > 100 {
		return fmt.Errorf("%w: percentile 必须在 (0, 100] 范围内: %v", ErrConfigInvalid, c.Stats.Percentile)
	}
	return nil
}

// Interval 检测间隔
func (c *Config) Interval() time.Duration {
	return secondsToDuration(c.CheckIntervalSeconds)
}

// Timeout 单次探测超时
func (c *Config) Timeout() time.Duration {
	return secondsToDuration(c.TimeoutSeconds)
}

// EventLogPath 事件日志完整路径
func (c *Config) EventLogPath() string {
	return c.dataPath(c.Storage.EventLog)
}

// SnapshotPath 快照文件完整路径
func (c *Config) SnapshotPath() string {
	return c.dataPath(c.Storage.Snapshot)
}

func (c *Config) dataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// GenerateDefault 生成默认配置文件
func GenerateDefault(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(Default())
	} else {
		data, err = json.MarshalIndent(Default(), "", "  ")
	}
	if err != nil {
		return fmt.Errorf("序列化默认配置失败: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = def.Storage.Backend
	}
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = def.Storage.DataDir
	}
	if cfg.Storage.EventLog == "" {
		cfg.Storage.EventLog = def.Storage.EventLog
		if cfg.Storage.Backend == BackendSQLite {
			cfg.Storage.EventLog = "events.db"
		}
	}
	if cfg.Storage.Snapshot == "" {
		cfg.Storage.Snapshot = def.Storage.Snapshot
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Path == "" {
		cfg.Log.Path = def.Log.Path
	}
	if cfg.Log.MaxDays <= 0 {
		cfg.Log.MaxDays = def.Log.MaxDays
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = def.API.Addr
	}
	if cfg.Stats.Percentile == 0 {
		cfg.Stats.Percentile = def.Stats.Percentile
	}
}

func applyEnv(cfg *Config) {
	cfg.Storage.DataDir = getEnvString("MONITOR_DATA_DIR", cfg.Storage.DataDir)
	cfg.Log.Level = getEnvString("MONITOR_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Path = getEnvString("MONITOR_LOG_PATH", cfg.Log.Path)
	cfg.Log.Enabled = getEnvBool("MONITOR_LOG_ENABLED", cfg.Log.Enabled)
	cfg.API.Addr = getEnvString("MONITOR_API_ADDR", cfg.API.Addr)
	cfg.Archive.Bucket = getEnvString("MONITOR_ARCHIVE_BUCKET", cfg.Archive.Bucket)
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(stripQuery(name)))
	return ext == ".yaml" || ext == ".yml"
}

func stripQuery(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		return name[:i]
	}
	return name
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// GetEnvString 读取字符串环境变量，未设置时返回默认值
func GetEnvString(key, defaultVal string) string {
	return getEnvString(key, defaultVal)
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
