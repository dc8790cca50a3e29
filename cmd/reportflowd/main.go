package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ReportFlow/internal/api"
	"ReportFlow/internal/config"
	"ReportFlow/internal/job"
	"ReportFlow/internal/llm"
	"ReportFlow/internal/pipeline"
	"ReportFlow/internal/profile"
	"ReportFlow/internal/report"
	"ReportFlow/internal/shutdown"
	"ReportFlow/pkg/logger"
)

// main 是 ReportFlow 守护进程的入口。
func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("reportflowd 运行失败: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("REPORTFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "reportflow.json")
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	guard := shutdown.NewCoordinator()
	ctx, stop := shutdown.Install(context.Background(), guard,
		time.Duration(cfg.Shutdown.GraceSeconds)*time.Second)
	defer stop()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}

	queue, err := buildQueue(cfg)
	if err != nil {
		return err
	}

	registry := pipeline.NewRegistry()
	loader := pipeline.NewLoader(cfg.Pipelines.Dir, cfg.Pipelines.Manifest)
	if loaded, err := loader.LoadInto(ctx, registry); err != nil {
		logger.L().Warn("加载流水线插件失败", slog.Any("error", err))
	} else {
		logger.L().Info("流水线插件加载完成", slog.Int("count", loaded))
	}

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		return err
	}

	engine := report.NewEngine(llmClient, guard)
	service := job.NewService(store, queue, cfg.Worker.MaxAttempts)
	defer func() { _ = service.Close() }()

	worker := job.NewWorker(engine, store, queue, queue, registry,
		job.WithConcurrency(cfg.Worker.Concurrency),
		job.WithBackoff(time.Duration(cfg.Worker.BackoffSeconds)*time.Second),
		job.WithRateLimit(cfg.Worker.RateLimitJobs,
			time.Duration(cfg.Worker.RateLimitWindowSec)*time.Second),
		job.WithRetention(job.Retention{
			CompletedHours: cfg.Retention.CompletedHours,
			CompletedCount: cfg.Retention.CompletedCount,
			FailedDays:     cfg.Retention.FailedDays,
		}),
		job.WithOutputDir(cfg.Reports.OutputDir),
		job.WithPipelineLoader(loader),
		job.WithShutdownGuard(guard),
		job.WithPauseCheck(service.Paused),
	)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	go func() {
		if err := worker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, service, registry, cfg.Reports.OutputDir)
	return server.Start(ctx)
}

func buildStore(cfg *config.Config) (job.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		return job.NewMySQLStore(cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Store.Driver)
	}
}

func buildQueue(cfg *config.Config) (job.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return job.NewMemoryQueue(), nil
	case "redis":
		return job.NewRedisQueue(job.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Key,
		})
	case "rabbitmq":
		return job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Worker.Concurrency,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	manager := profile.NewManager(cfg.Profiles.Dir)
	var prof *profile.Profile
	if cfg.Profiles.Default != "" {
		loaded, err := manager.Load(cfg.Profiles.Default)
		if err != nil {
			return nil, err
		}
		prof = loaded
	} else {
		loaded, err := manager.Default()
		if err != nil {
			return nil, err
		}
		prof = loaded
	}
	return profile.BuildClient(prof)
}
