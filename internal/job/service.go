package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/pkg/logger"
)

// 支持的报告输出格式。
var supportedFormats = map[string]struct{}{
	"html": {},
	"pdf":  {},
	"pptx": {},
	"mdx":  {},
}

// EnqueueOption 调整任务的排队参数。
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	id          string
	priority    int
	maxAttempts int
}

// WithJobID 指定任务 ID；同 ID 的重复提交是幂等的。
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.id = strings.TrimSpace(id) }
}

// WithPriority 设置任务优先级，数字越小越先执行。
func WithPriority(priority int) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = priority }
}

// WithMaxAttempts 设置任务的最大尝试次数。
func WithMaxAttempts(attempts int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = attempts }
}

// Service 负责任务的创建、查询与维护操作。
type Service struct {
	store       Store
	producer    Producer
	maxAttempts int
	paused      atomic.Bool
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{store: store, producer: producer, maxAttempts: maxAttempts}
}

func validateData(data Data) error {
	var problems []string
	if strings.TrimSpace(data.PipelineID) == "" {
		problems = append(problems, "pipeline_id 不能为空")
	}
	if strings.TrimSpace(data.ReportType) == "" {
		problems = append(problems, "report_type 不能为空")
	}
	format := strings.ToLower(strings.TrimSpace(data.OutputFormat))
	if format == "" {
		problems = append(problems, "output_format 不能为空")
	} else if _, ok := supportedFormats[format]; !ok {
		problems = append(problems, fmt.Sprintf("不支持的输出格式 %q", data.OutputFormat))
	}
	if err := xerrors.Aggregate("任务参数校验失败", problems); err != nil {
		return xerrors.Wrap(CodeJobValidation, err, "任务提交被拒绝")
	}
	return nil
}

// Enqueue 创建一个新的任务并按优先级推送到队列。
func (s *Service) Enqueue(ctx context.Context, data Data, opts ...EnqueueOption) (*Job, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "任务服务未初始化")
	}
	if err := validateData(data); err != nil {
		return nil, err
	}

	options := enqueueOptions{priority: DefaultPriority, maxAttempts: s.maxAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.priority <= 0 {
		options.priority = DefaultPriority
	}
	if options.maxAttempts <= 0 {
		options.maxAttempts = s.maxAttempts
	}

	jobID := options.id
	if jobID != "" {
		existing, err := s.store.Get(ctx, jobID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	data.OutputFormat = strings.ToLower(strings.TrimSpace(data.OutputFormat))
	j := &Job{
		ID:          jobID,
		Data:        data,
		Status:      StatusWaiting,
		Priority:    options.priority,
		MaxAttempts: options.maxAttempts,
	}
	if err := s.store.Create(ctx, j); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID, j.Priority); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", jobID),
		slog.String("pipeline_id", data.PipelineID),
		slog.String("report_type", data.ReportType),
		slog.String("output_format", data.OutputFormat),
		slog.Int("priority", j.Priority),
	)
	return s.store.Get(ctx, jobID)
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回全量任务的统计信息。
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeNotInitialized, "任务存储未初始化")
	}
	return s.store.Stats(ctx)
}

// Remove 删除单个任务；执行中的任务拒绝删除。
func (s *Service) Remove(ctx context.Context, id string) error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeNotInitialized, "任务存储未初始化")
	}
	return s.store.Remove(ctx, id)
}

// Clean 按状态与保留时长清理任务，返回清理数量。
func (s *Service) Clean(ctx context.Context, status Status, olderThan time.Duration, limit int) (int, error) {
	if s.store == nil {
		return 0, xerrors.New(xerrors.CodeNotInitialized, "任务存储未初始化")
	}
	return s.store.Clean(ctx, status, olderThan, limit)
}

// CleanCompleted 清理早于 hours 小时前完成的任务。
func (s *Service) CleanCompleted(ctx context.Context, hours int) (int, error) {
	if hours <= 0 {
		hours = 24
	}
	return s.Clean(ctx, StatusCompleted, time.Duration(hours)*time.Hour, 1000)
}

// CleanFailed 清理早于 days 天前失败的任务。
func (s *Service) CleanFailed(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = 7
	}
	return s.Clean(ctx, StatusFailed, time.Duration(days)*24*time.Hour, 500)
}

// Drain 丢弃全部等待中的任务，返回丢弃数量。
func (s *Service) Drain(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, xerrors.New(xerrors.CodeNotInitialized, "任务存储未初始化")
	}
	removed, err := s.store.Drain(ctx)
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("等待任务已清空", slog.Int("removed", removed))
	return removed, nil
}

// Obliterate 清空整个任务存储；存在执行中任务且未强制时拒绝。
func (s *Service) Obliterate(ctx context.Context, force bool) error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeNotInitialized, "任务存储未初始化")
	}
	if err := s.store.Obliterate(ctx, force); err != nil {
		return err
	}
	logger.Audit().Info("任务存储已清空", slog.Bool("force", force))
	return nil
}

// Pause 暂停新任务的执行；已在执行中的任务不受影响。
func (s *Service) Pause() {
	s.paused.Store(true)
	logger.L().Info("任务调度已暂停")
}

// Resume 恢复任务执行。
func (s *Service) Resume() {
	s.paused.Store(false)
	logger.L().Info("任务调度已恢复")
}

// Paused 返回当前是否处于暂停状态。
func (s *Service) Paused() bool {
	return s.paused.Load()
}

// WaitUntilDone 在上下文允许的时间内轮询任务直到进入终态。
func (s *Service) WaitUntilDone(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		j, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if Terminal(j.Status) {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放存储与队列资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
