package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"ReportFlow/internal/bundle"
	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/spec"
	"ReportFlow/pkg/logger"
)

// Hooks 列出流水线各阶段的回调。LoadData 是唯一必填项，
// 其余为空时使用默认实现。
type Hooks struct {
	OnInit            func(ctx context.Context) error
	BeforeProcess     func(ctx context.Context, inputs map[string]any) error
	LoadData          func(ctx context.Context, inputs map[string]any) ([]map[string]any, error)
	TransformData     func(ctx context.Context, records []map[string]any, inputs map[string]any) ([]map[string]any, error)
	ComputeStatistics func(ctx context.Context, records []map[string]any, inputs map[string]any) (map[string]any, error)
	BuildBundle       func(ctx context.Context, records []map[string]any, stats, inputs map[string]any) (*bundle.Bundle, error)
	AfterProcess      func(ctx context.Context, b *bundle.Bundle) error
	OnError           func(err error, inputs map[string]any)
	OnCleanup         func(ctx context.Context) error
}

// Base 以模板方法的方式实现完整的流水线生命周期，
// 具体插件只需提供元数据与钩子。
type Base struct {
	info         Info
	hooks        Hooks
	inputFields  []InputField
	specs        spec.Map
	promptsDir   string
	templatesDir string
	log          *slog.Logger

	mu          sync.Mutex
	initialized bool
}

var _ Pipeline = (*Base)(nil)

// BaseOption 定义 Base 的可选配置。
type BaseOption func(*Base)

// WithInputFields 声明输入字段的校验规则。
func WithInputFields(fields ...InputField) BaseOption {
	return func(b *Base) { b.inputFields = fields }
}

// WithSpecifications 声明各报告类型的生成规格。
func WithSpecifications(specs spec.Map) BaseOption {
	return func(b *Base) { b.specs = specs }
}

// WithPromptsDir 指定提示词模板目录。
func WithPromptsDir(dir string) BaseOption {
	return func(b *Base) { b.promptsDir = dir }
}

// WithTemplatesDir 指定报告模板目录。
func WithTemplatesDir(dir string) BaseOption {
	return func(b *Base) { b.templatesDir = dir }
}

// WithBaseLogger 覆盖默认日志器。
func WithBaseLogger(log *slog.Logger) BaseOption {
	return func(b *Base) { b.log = log }
}

// NewBase 创建流水线骨架。
func NewBase(info Info, hooks Hooks, opts ...BaseOption) *Base {
	b := &Base{info: info, hooks: hooks}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.log == nil {
		b.log = logger.Named("pipeline").With(slog.String("pipeline_id", info.ID))
	}
	return b
}

// Info 返回插件元数据。
func (b *Base) Info() Info { return b.info }

// Specifications 返回报告类型到规格的映射。
func (b *Base) Specifications() spec.Map { return b.specs }

// PromptsDir 返回提示词目录。
func (b *Base) PromptsDir() string { return b.promptsDir }

// TemplatesDir 返回模板目录。
func (b *Base) TemplatesDir() string { return b.templatesDir }

// Initialized 返回当前是否处于已初始化状态。
func (b *Base) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// Initialize 校验元数据并执行初始化钩子。重复调用返回
// ErrAlreadyInitialized。元数据问题聚合在一个错误中报告。
func (b *Base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return xerrors.Wrap(xerrors.CodeAlreadyInitialized, ErrAlreadyInitialized,
			fmt.Sprintf("流水线 %s 已经初始化", b.info.ID))
	}

	problems := b.info.validate()
	if b.hooks.LoadData == nil {
		problems = append(problems, "缺少 LoadData 钩子")
	}
	if err := xerrors.Aggregate("流水线元数据校验失败", problems); err != nil {
		return err
	}
	if err := b.specs.Validate(); err != nil {
		return err
	}

	if b.hooks.OnInit != nil {
		if err := b.hooks.OnInit(ctx); err != nil {
			return xerrors.Wrap(xerrors.CodePipelineFailure, err, "初始化钩子失败")
		}
	}
	b.initialized = true
	b.log.Info("流水线初始化完成", slog.String("version", b.info.Version))
	return nil
}

// Process 按固定阶段顺序处理输入并产出数据包：
// BeforeProcess → 输入校验 → LoadData → TransformData →
// ComputeStatistics → BuildBundle → AfterProcess。
// 任意阶段出错时先调用 OnError 观察，再向上返回。
func (b *Base) Process(ctx context.Context, inputs map[string]any) (*bundle.Bundle, error) {
	if !b.Initialized() {
		return nil, xerrors.Wrap(xerrors.CodeNotInitialized, ErrNotInitialized,
			fmt.Sprintf("流水线 %s 尚未初始化", b.info.ID))
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	result, err := b.process(ctx, inputs)
	if err != nil {
		if b.hooks.OnError != nil {
			b.hooks.OnError(err, inputs)
		} else {
			b.log.Error("流水线处理失败", slog.Any("error", err))
		}
		return nil, err
	}
	return result, nil
}

func (b *Base) process(ctx context.Context, inputs map[string]any) (*bundle.Bundle, error) {
	if b.hooks.BeforeProcess != nil {
		if err := b.runStage(ctx, "before_process", func() error {
			return b.hooks.BeforeProcess(ctx, inputs)
		}); err != nil {
			return nil, err
		}
	}

	if err := b.validateInputs(inputs); err != nil {
		return nil, err
	}

	var records []map[string]any
	if err := b.runStage(ctx, "load_data", func() (err error) {
		records, err = b.hooks.LoadData(ctx, inputs)
		return err
	}); err != nil {
		return nil, err
	}

	if b.hooks.TransformData != nil {
		if err := b.runStage(ctx, "transform_data", func() (err error) {
			records, err = b.hooks.TransformData(ctx, records, inputs)
			return err
		}); err != nil {
			return nil, err
		}
	}

	var stats map[string]any
	if err := b.runStage(ctx, "compute_statistics", func() (err error) {
		if b.hooks.ComputeStatistics != nil {
			stats, err = b.hooks.ComputeStatistics(ctx, records, inputs)
			return err
		}
		stats = defaultStatistics(records)
		return nil
	}); err != nil {
		return nil, err
	}

	var result *bundle.Bundle
	if err := b.runStage(ctx, "build_bundle", func() (err error) {
		if b.hooks.BuildBundle != nil {
			result, err = b.hooks.BuildBundle(ctx, records, stats, inputs)
			return err
		}
		result, err = b.defaultBundle(records, stats, inputs)
		return err
	}); err != nil {
		return nil, err
	}

	if b.hooks.AfterProcess != nil {
		if err := b.runStage(ctx, "after_process", func() error {
			return b.hooks.AfterProcess(ctx, result)
		}); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// runStage 执行单个阶段并记录耗时；非统一错误会被包裹为阶段失败。
func (b *Base) runStage(ctx context.Context, stage string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodePipelineFailure, err, fmt.Sprintf("阶段 %s 被取消", stage))
	}
	start := time.Now()
	err := fn()
	b.log.Debug("流水线阶段完成",
		slog.String("stage", stage),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("ok", err == nil))
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodePipelineFailure, err, fmt.Sprintf("阶段 %s 失败", stage))
}

// validateInputs 按声明的字段规则校验输入，所有违例聚合报告。
func (b *Base) validateInputs(inputs map[string]any) error {
	var problems []string
	for _, field := range b.inputFields {
		value, present := inputs[field.Name]
		if !present || value == nil || value == "" {
			if field.Required {
				problems = append(problems, fmt.Sprintf("缺少必填输入 %s", field.Name))
			}
			continue
		}
		switch field.Type {
		case FieldEnum:
			s := fmt.Sprintf("%v", value)
			if !containsString(field.Enum, s) {
				problems = append(problems, fmt.Sprintf("输入 %s 的值 %q 不在枚举 %v 中", field.Name, s, field.Enum))
			}
		case FieldNumber:
			if !isNumeric(value) {
				problems = append(problems, fmt.Sprintf("输入 %s 的值 %v 不是数字", field.Name, value))
			}
		case FieldBoolean:
			if !isBoolean(value) {
				problems = append(problems, fmt.Sprintf("输入 %s 的值 %v 不是布尔", field.Name, value))
			}
		}
	}
	return xerrors.Aggregate("输入校验失败", problems)
}

// Cleanup 执行清理钩子并复位初始化标记，
// 使 Initialize 可以再次执行。
func (b *Base) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hooks.OnCleanup != nil {
		if err := b.hooks.OnCleanup(ctx); err != nil {
			return xerrors.Wrap(xerrors.CodePipelineFailure, err, "清理钩子失败")
		}
	}
	b.initialized = false
	return nil
}

func defaultStatistics(records []map[string]any) map[string]any {
	stats := map[string]any{"count": len(records)}
	if len(records) > 0 {
		stats["firstRecord"] = records[0]
		stats["lastRecord"] = records[len(records)-1]
	}
	return stats
}

func (b *Base) defaultBundle(records []map[string]any, stats, inputs map[string]any) (*bundle.Bundle, error) {
	source := "unknown"
	if v, ok := inputs["dataPath"].(string); ok && v != "" {
		source = v
	} else if v, ok := inputs["apiEndpoint"].(string); ok && v != "" {
		source = v
	}
	return bundle.NewBuilder().
		WithDatasetName(b.info.Name).
		WithRecords(records).
		WithStats(stats).
		WithSource(source).
		WithPluginInfo(b.info.ID, b.info.Version).
		Build()
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func isNumeric(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	default:
		return false
	}
}

func isBoolean(value any) bool {
	switch v := value.(type) {
	case bool:
		return true
	case string:
		_, err := strconv.ParseBool(v)
		return err == nil
	default:
		return false
	}
}
