package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 ReportFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Queue     QueueConfig     `json:"queue"`
	Worker    WorkerConfig    `json:"worker"`
	Pipelines PipelinesConfig `json:"pipelines"`
	Reports   ReportsConfig   `json:"reports"`
	Profiles  ProfilesConfig  `json:"profiles"`
	Retention RetentionConfig `json:"retention"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StoreConfig 描述任务状态存储的后端。driver 支持 memory 与 mysql。
type StoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述任务队列的传输层。driver 支持 memory、redis 与 rabbitmq。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// WorkerConfig 控制报告生成工作协程的并发与限流行为。
type WorkerConfig struct {
	Concurrency       int `json:"concurrency"`
	MaxAttempts       int `json:"max_attempts"`
	BackoffSeconds    int `json:"backoff_seconds"`
	RateLimitJobs     int `json:"rate_limit_jobs"`
	RateLimitWindowSec int `json:"rate_limit_window_seconds"`
}

// PipelinesConfig 指定插件目录及可选的清单文件。
type PipelinesConfig struct {
	Dir      string `json:"dir"`
	Manifest string `json:"manifest"`
}

// ReportsConfig 指定报告产物的输出目录。
type ReportsConfig struct {
	OutputDir string `json:"output_dir"`
}

// ProfilesConfig 指定 LLM 档案目录及默认档案名。
type ProfilesConfig struct {
	Dir     string `json:"dir"`
	Default string `json:"default"`
}

// RetentionConfig 控制终态任务的保留策略。
type RetentionConfig struct {
	CompletedHours int `json:"completed_hours"`
	CompletedCount int `json:"completed_count"`
	FailedDays     int `json:"failed_days"`
}

// ShutdownConfig 控制优雅停机的宽限时间。
type ShutdownConfig struct {
	GraceSeconds int `json:"grace_seconds"`
}

// LoggingConfig 控制日志输出格式与审计日志。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的滚动行为。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回全部使用默认值的配置，基准目录为当前工作目录。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Redis.Addr == "" {
		c.Queue.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Queue.Redis.Key == "" {
		c.Queue.Redis.Key = "reportflow:jobs"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "reportflow.jobs"
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Worker.BackoffSeconds <= 0 {
		c.Worker.BackoffSeconds = 5
	}
	if c.Worker.RateLimitJobs <= 0 {
		c.Worker.RateLimitJobs = 5
	}
	if c.Worker.RateLimitWindowSec <= 0 {
		c.Worker.RateLimitWindowSec = 60
	}

	c.Pipelines.Dir = resolveDir(baseDir, c.Pipelines.Dir, "pipelines")
	c.Reports.OutputDir = resolveDir(baseDir, c.Reports.OutputDir, "reports")
	c.Profiles.Dir = resolveDir(baseDir, c.Profiles.Dir, "profiles")

	if c.Retention.CompletedHours <= 0 {
		c.Retention.CompletedHours = 24
	}
	if c.Retention.CompletedCount <= 0 {
		c.Retention.CompletedCount = 100
	}
	if c.Retention.FailedDays <= 0 {
		c.Retention.FailedDays = 7
	}

	if c.Shutdown.GraceSeconds <= 0 {
		c.Shutdown.GraceSeconds = 5
	}
}

func resolveDir(baseDir, value, fallback string) string {
	if value == "" {
		return filepath.Join(baseDir, fallback)
	}
	if !filepath.IsAbs(value) {
		return filepath.Join(baseDir, value)
	}
	return value
}
