package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/observability/alerting"
	"ReportFlow/internal/pipeline"
	"ReportFlow/internal/report"
	"ReportFlow/internal/shutdown"
	"ReportFlow/pkg/logger"
)

// Generator 定义执行任务所需的报告引擎能力。
type Generator interface {
	Generate(ctx context.Context, req report.Request) (*report.Result, error)
}

// Retention 约束终态任务的保留策略。
type Retention struct {
	CompletedHours int
	CompletedCount int
	FailedDays     int
}

// Worker 从队列消费任务并驱动报告引擎执行。
type Worker struct {
	generator   Generator
	store       Store
	consumer    Consumer
	producer    Producer
	registry    *pipeline.Registry
	loader      *pipeline.Loader
	guard       *shutdown.Coordinator
	alerter     alerting.Dispatcher
	limiter     *rate.Limiter
	paused      func() bool
	logger      *slog.Logger
	outputDir   string
	concurrency int
	backoff     time.Duration
	retention   Retention
}

// WorkerOption 定义可选配置。
type WorkerOption func(*Worker)

// WithWorkerLogger 指定日志输出。
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = log }
}

// WithConcurrency 设置消费协程数量。
func WithConcurrency(workers int) WorkerOption {
	return func(w *Worker) {
		if workers > 0 {
			w.concurrency = workers
		}
	}
}

// WithRateLimit 限制窗口期内执行的任务数量。
func WithRateLimit(jobs int, window time.Duration) WorkerOption {
	return func(w *Worker) {
		if jobs > 0 && window > 0 {
			w.limiter = rate.NewLimiter(rate.Every(window/time.Duration(jobs)), jobs)
		}
	}
}

// WithBackoff 设置重试退避的基准时长。
func WithBackoff(base time.Duration) WorkerOption {
	return func(w *Worker) {
		if base > 0 {
			w.backoff = base
		}
	}
}

// WithRetention 设置终态任务的保留策略。
func WithRetention(r Retention) WorkerOption {
	return func(w *Worker) { w.retention = r }
}

// WithPipelineLoader 在每个任务前同步插件目录中的流水线。
func WithPipelineLoader(l *pipeline.Loader) WorkerOption {
	return func(w *Worker) { w.loader = l }
}

// WithShutdownGuard 指定停机协调器。
func WithShutdownGuard(guard *shutdown.Coordinator) WorkerOption {
	return func(w *Worker) { w.guard = guard }
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) WorkerOption {
	return func(w *Worker) { w.alerter = dispatcher }
}

// WithPauseCheck 配置暂停探测函数；暂停期间不领取新任务。
func WithPauseCheck(paused func() bool) WorkerOption {
	return func(w *Worker) { w.paused = paused }
}

// WithOutputDir 设置报告产物的输出目录。
func WithOutputDir(dir string) WorkerOption {
	return func(w *Worker) { w.outputDir = dir }
}

// NewWorker 构造 Worker。
func NewWorker(generator Generator, store Store, consumer Consumer, producer Producer, registry *pipeline.Registry, opts ...WorkerOption) *Worker {
	w := &Worker{
		generator:   generator,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		registry:    registry,
		concurrency: 2,
		backoff:     5 * time.Second,
		outputDir:   "reports",
		retention: Retention{
			CompletedHours: 24,
			CompletedCount: 100,
			FailedDays:     7,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.guard == nil {
		w.guard = shutdown.NewCoordinator()
	}
	if w.logger == nil {
		w.logger = logger.Named("job_worker")
	}
	return w
}

// Start 启动任务处理循环，阻塞直至上下文取消。
func (w *Worker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return xerrors.New(xerrors.CodeNotInitialized, "未配置任务消费者")
	}
	return w.consumer.Consume(ctx, w.concurrency, w.handle)
}

func (w *Worker) handle(ctx context.Context, jobID string) error {
	if w.store == nil || w.generator == nil || w.registry == nil {
		return xerrors.New(xerrors.CodeNotInitialized, "任务处理器未初始化")
	}

	if err := w.waitUnpaused(ctx); err != nil {
		return err
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if w.loader != nil {
		if err := w.loader.Sync(ctx, w.registry); err != nil {
			w.logger.Warn("同步流水线插件失败", slog.Any("error", err))
		}
	}

	j, err := w.store.Claim(ctx, jobID)
	if err != nil {
		switch {
		case stdErrors.Is(err, ErrJobNotFound), stdErrors.Is(err, ErrJobCompleted), stdErrors.Is(err, ErrJobConflict):
			w.logger.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		case stdErrors.Is(err, ErrJobExhausted):
			if j != nil && !Terminal(j.Status) {
				_ = w.store.MarkFailed(ctx, jobID, CodeJobExhausted, "重试次数已耗尽", true)
				w.emitAlert(ctx, j, CodeJobExhausted, err, "exhausted")
			}
			return nil
		default:
			logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
			w.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
			return err
		}
	}

	_ = w.store.UpdateProgress(ctx, j.ID, Progress{Percent: 10, Stage: "loading-pipeline"})
	p, err := w.registry.Get(j.Data.PipelineID)
	if err != nil {
		return w.handleFailure(ctx, j, err)
	}

	_ = w.store.UpdateProgress(ctx, j.ID, Progress{Percent: 25, Stage: "validating"})
	_ = w.store.UpdateProgress(ctx, j.ID, Progress{Percent: 40, Stage: "generating"})

	result, genErr := w.generator.Generate(ctx, report.Request{
		Pipeline:     p,
		Inputs:       cloneInputs(j.Data.Inputs),
		ReportType:   j.Data.ReportType,
		OutputFormat: j.Data.OutputFormat,
		OutputDir:    w.outputDir,
		ReportName:   j.Data.ReportName,
		Title:        j.Data.Title,
		Author:       j.Data.Author,
	})
	if genErr != nil {
		if shutdown.Is(genErr) {
			// 停机取消不是业务失败，直接进入终态并停止重投。
			if storeErr := w.store.MarkFailed(ctx, j.ID, xerrors.CodeJobCancelled, "job cancelled: shutting down", true); storeErr != nil {
				logger.L().Error("记录取消状态失败", slog.Any("error", storeErr), slog.String("job_id", j.ID))
			}
			logger.Audit().Warn("任务因停机被取消",
				slog.String("job_id", j.ID),
				slog.String("pipeline_id", j.Data.PipelineID),
			)
			return nil
		}
		return w.handleFailure(ctx, j, genErr)
	}

	_ = w.store.UpdateProgress(ctx, j.ID, Progress{Percent: 90, Stage: "finalizing"})

	record := Result{
		OutputPath:  result.OutputPath,
		FileName:    result.FileName,
		FileSize:    result.FileSize,
		DurationMS:  result.Duration.Milliseconds(),
		GeneratedAt: result.GeneratedAt.Unix(),
	}
	if err := w.store.MarkCompleted(ctx, j.ID, record); err != nil {
		logger.L().Error("标记任务完成状态失败", slog.Any("error", err), slog.String("job_id", j.ID))
		if storeErr := w.store.MarkFailed(ctx, j.ID, CodeJobProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", j.ID))
			return storeErr
		}
		if pubErr := w.producer.Publish(ctx, j.ID, j.Priority); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 在标记完成失败后重投失败", j.ID))
		}
		return nil
	}
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", j.ID),
		slog.String("pipeline_id", j.Data.PipelineID),
		slog.String("report_type", j.Data.ReportType),
		slog.String("file", record.FileName),
		slog.Int64("duration_ms", record.DurationMS),
	)
	w.enforceRetention(ctx)
	return nil
}

// waitUnpaused 在暂停期间阻塞，直到恢复或上下文取消。
func (w *Worker) waitUnpaused(ctx context.Context) error {
	if w.paused == nil {
		return nil
	}
	for w.paused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil
}

func (w *Worker) handleFailure(ctx context.Context, j *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := j.Attempts >= j.MaxAttempts || !retryable

	if storeErr := w.store.MarkFailed(ctx, j.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", j.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", j.ID),
		slog.String("pipeline_id", j.Data.PipelineID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	w.emitAlert(ctx, j, code, execErr, stage)

	if terminal {
		w.enforceRetention(ctx)
		return nil
	}

	delay := w.retryDelay(j.Attempts)
	w.logger.Debug("任务将延迟重投",
		slog.String("job_id", j.ID),
		slog.Int("attempts", j.Attempts),
		slog.Duration("delay", delay))
	go w.republishAfter(ctx, j.ID, j.Priority, delay)
	return nil
}

// retryDelay 按尝试次数指数退避。
func (w *Worker) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return w.backoff * time.Duration(math.Pow(2, float64(attempts-1)))
}

func (w *Worker) republishAfter(ctx context.Context, jobID string, priority int, delay time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}
	if w.guard.Active() {
		return
	}
	if err := w.producer.Publish(ctx, jobID, priority); err != nil {
		logger.L().Error("任务重投失败", slog.Any("error", err), slog.String("job_id", jobID))
	}
}

// enforceRetention 清理过期的终态任务，并限制保留的完成任务数量。
func (w *Worker) enforceRetention(ctx context.Context) {
	if w.retention.CompletedHours > 0 {
		if _, err := w.store.Clean(ctx, StatusCompleted, time.Duration(w.retention.CompletedHours)*time.Hour, 1000); err != nil {
			w.logger.Warn("清理完成任务失败", slog.Any("error", err))
		}
	}
	if w.retention.FailedDays > 0 {
		if _, err := w.store.Clean(ctx, StatusFailed, time.Duration(w.retention.FailedDays)*24*time.Hour, 500); err != nil {
			w.logger.Warn("清理失败任务失败", slog.Any("error", err))
		}
	}
	if w.retention.CompletedCount > 0 {
		w.trimCompleted(ctx, w.retention.CompletedCount)
	}
}

// trimCompleted 只保留最近 keep 条完成任务，多余的从最老开始删除。
func (w *Worker) trimCompleted(ctx context.Context, keep int) {
	overflow, err := w.store.List(ctx, ListOptions{
		Statuses: []Status{StatusCompleted},
		Order:    SortByUpdatedDesc,
		Offset:   keep,
		Limit:    100,
	})
	if err != nil {
		w.logger.Warn("查询超额完成任务失败", slog.Any("error", err))
		return
	}
	for _, j := range overflow {
		if err := w.store.Remove(ctx, j.ID); err != nil {
			w.logger.Warn("删除超额完成任务失败", slog.Any("error", err), slog.String("job_id", j.ID))
		}
	}
}

func (w *Worker) emitAlert(ctx context.Context, j *Job, code xerrors.Code, cause error, stage string) {
	if w == nil || w.alerter == nil || j == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		JobID:       j.ID,
		PipelineID:  j.Data.PipelineID,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if err := w.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", j.ID),
			slog.String("stage", stage),
		)
	}
}
