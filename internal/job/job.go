package job

import (
	xerrors "ReportFlow/internal/errors"
)

// Status 表示报告任务在生命周期中的状态。
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDelayed   Status = "delayed"
)

// 默认的排队参数。优先级数字越小越先出队。
const (
	DefaultPriority    = 5
	DefaultMaxAttempts = 3
)

// Data 是提交任务时携带的业务载荷。
type Data struct {
	PipelineID   string         `json:"pipeline_id"`
	ReportType   string         `json:"report_type"`
	OutputFormat string         `json:"output_format"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	ReportName   string         `json:"report_name,omitempty"`
	Title        string         `json:"title,omitempty"`
	Author       string         `json:"author,omitempty"`
}

// Result 保存一次成功生成的产物信息。
type Result struct {
	OutputPath  string `json:"output_path"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	DurationMS  int64  `json:"duration_ms"`
	GeneratedAt int64  `json:"generated_at"`
}

// Progress 记录任务的执行进度。
type Progress struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// Job 描述了排队生成的报告任务。
type Job struct {
	ID            string   `json:"id"`
	Data          Data     `json:"data"`
	Status        Status   `json:"status"`
	Priority      int      `json:"priority"`
	Attempts      int      `json:"attempts"`
	MaxAttempts   int      `json:"max_attempts"`
	Progress      Progress `json:"progress"`
	FailureCode   string   `json:"failure_code,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Result        *Result  `json:"result,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
	FinishedAt    int64    `json:"finished_at,omitempty"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrQueueBusy 表示仍有任务在执行，清空操作被拒绝。
	ErrQueueBusy = xerrors.New(CodeQueueBusy, "active jobs present", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeQueueBusy     xerrors.Code = "QUEUE_BUSY"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:   "job not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:   "job conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:   "job already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:   "job retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:   "job validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeQueueBusy, xerrors.Attributes{
		Message:   "active jobs present",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusWaiting, StatusActive, StatusCompleted, StatusFailed, StatusDelayed:
		return true
	default:
		return false
	}
}

// Terminal 判断状态是否为终态。
func Terminal(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

func cloneInputs(inputs map[string]any) map[string]any {
	if inputs == nil {
		return nil
	}
	cloned := make(map[string]any, len(inputs))
	for key, value := range inputs {
		cloned[key] = value
	}
	return cloned
}

func cloneJob(j *Job) *Job {
	clone := *j
	if j.Result != nil {
		resultCopy := *j.Result
		clone.Result = &resultCopy
	}
	clone.Data.Inputs = cloneInputs(j.Data.Inputs)
	return &clone
}
