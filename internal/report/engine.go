package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/llm"
	"ReportFlow/internal/pipeline"
	"ReportFlow/internal/render"
	"ReportFlow/internal/shutdown"
	"ReportFlow/internal/spec"
	"ReportFlow/pkg/logger"
)

const defaultAuthor = "Report Framework"

// Request 描述一次报告生成。
type Request struct {
	Pipeline     pipeline.Pipeline
	Inputs       map[string]any
	ReportType   string
	OutputFormat string
	OutputDir    string
	ReportName   string
	Title        string
	Author       string
}

// Result 记录生成产物的位置与耗时。
type Result struct {
	OutputPath  string            `json:"output_path"`
	FileName    string            `json:"file_name"`
	FileSize    int64             `json:"file_size"`
	Duration    time.Duration     `json:"duration"`
	GeneratedAt time.Time         `json:"generated_at"`
	Prompts     map[string]string `json:"-"`
}

// Engine 驱动完整的报告生成流程：前置校验、流水线处理、
// 提示词推理与产物渲染。停机协调器在每个阶段边界设检查点。
type Engine struct {
	client llm.Client
	guard  *shutdown.Coordinator
	log    *slog.Logger
}

// EngineOption 定义引擎的可选配置。
type EngineOption func(*Engine)

// WithEngineLogger 覆盖默认日志器。
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine 创建报告引擎。guard 为 nil 时使用永不触发的协调器。
func NewEngine(client llm.Client, guard *shutdown.Coordinator, opts ...EngineOption) *Engine {
	registerFilters()
	e := &Engine{client: client, guard: guard}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.guard == nil {
		e.guard = shutdown.NewCoordinator()
	}
	if e.log == nil {
		e.log = logger.Named("report_engine")
	}
	return e
}

// Generate 按请求生成报告。
// 格式与报告类型的前置校验在任何耗时工作之前完成。
func (e *Engine) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Pipeline == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少流水线实例")
	}
	info := req.Pipeline.Info()
	log := e.log.With(slog.String("pipeline_id", info.ID), slog.String("report_type", req.ReportType))

	if !info.SupportsFormat(req.OutputFormat) {
		return nil, xerrors.Newf(xerrors.CodeFormatUnsupported,
			"流水线 %s 不支持输出格式 %q（支持: %s）", info.ID, req.OutputFormat, strings.Join(info.OutputFormats, ", "))
	}
	specification, ok := req.Pipeline.Specifications()[req.ReportType]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeReportTypeUnknown,
			"流水线 %s 没有报告类型 %q 的规格", info.ID, req.ReportType)
	}

	if err := e.guard.Check(); err != nil {
		return nil, err
	}

	start := time.Now()
	log.Info("开始生成报告", slog.String("format", req.OutputFormat))

	b, err := req.Pipeline.Process(ctx, req.Inputs)
	if err != nil {
		return nil, err
	}
	bundleCtx := b.TemplateContext()

	if err := e.guard.Check(); err != nil {
		return nil, err
	}
	prompts, err := e.runPrompts(ctx, specification, bundleCtx, req.Pipeline.PromptsDir(), log)
	if err != nil {
		return nil, err
	}

	if err := e.guard.Check(); err != nil {
		return nil, err
	}

	// 数据包元数据优先于内置默认值，请求字段优先于两者。
	title := req.Title
	if title == "" {
		title = b.Metadata.Get("reportTitle")
	}
	if title == "" {
		title = info.Name + " Report"
	}
	author := req.Author
	if author == "" {
		author = b.Metadata.Get("author")
	}
	if author == "" {
		author = defaultAuthor
	}
	generatedAt := time.Now().UTC()

	renderCtx := pongo2.Context{}
	for k, v := range bundleCtx {
		renderCtx[k] = v
	}
	renderCtx["prompts"] = prompts
	renderCtx["reportTitle"] = title
	renderCtx["author"] = author
	renderCtx["generatedAt"] = generatedAt

	baseName := req.ReportName
	if baseName == "" {
		baseName = strings.ReplaceAll(info.ID, ".", "-")
	}
	fileName := artifactFileName(baseName, req.OutputFormat, generatedAt)
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建输出目录失败")
	}
	outputPath := filepath.Join(req.OutputDir, fileName)

	switch req.OutputFormat {
	case "pptx":
		// PPTX 不经过文本模板，直接由数据包构建。
		if err := render.WritePPTX(b, title, author, outputPath); err != nil {
			return nil, err
		}
	default:
		rendered, err := e.renderTemplate(req.Pipeline.TemplatesDir(), specification, renderCtx)
		if err != nil {
			return nil, err
		}
		if err := writeArtifact(req.OutputFormat, specification.Template.Type, rendered, title, outputPath); err != nil {
			return nil, err
		}
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取产物信息失败")
	}

	duration := time.Since(start)
	log.Info("报告生成完成",
		slog.String("file", fileName),
		slog.Int64("size", stat.Size()),
		slog.Duration("elapsed", duration))

	return &Result{
		OutputPath:  outputPath,
		FileName:    fileName,
		FileSize:    stat.Size(),
		Duration:    duration,
		GeneratedAt: generatedAt,
		Prompts:     prompts,
	}, nil
}

// runPrompts 依序执行声明的提示词。单个提示词的模板缺失或推理
// 失败都以空串兜底并继续；唯独停机取消会中止剩余提示词并上抛。
func (e *Engine) runPrompts(ctx context.Context, s spec.Specification, bundleCtx map[string]any, promptsDir string, log *slog.Logger) (map[string]string, error) {
	results := make(map[string]string, len(s.Prompts))
	for _, prompt := range s.Prompts {
		if err := e.guard.Check(); err != nil {
			return nil, err
		}

		promptCtx := pongo2.Context{}
		for _, name := range prompt.Inputs {
			if v, ok := bundleCtx[name]; ok {
				promptCtx[name] = v
			} else {
				// 未出现在数据包中的输入以空集合兜底。
				promptCtx[name] = []any{}
			}
		}

		text, err := renderPromptFile(filepath.Join(promptsDir, prompt.File), promptCtx)
		if err != nil {
			if xerrors.IsCode(err, xerrors.CodeNotFound) {
				log.Warn("提示词模板缺失，结果置空", slog.String("prompt", prompt.Name))
				results[prompt.Name] = ""
				continue
			}
			return nil, err
		}

		resp, err := e.client.Complete(ctx, text)
		if err != nil {
			if shutdown.Is(err) {
				return nil, err
			}
			log.Warn("提示词推理失败，结果置空",
				slog.String("prompt", prompt.Name), slog.Any("error", err))
			results[prompt.Name] = ""
			continue
		}
		results[prompt.Name] = resp.Content
		log.Debug("提示词完成",
			slog.String("prompt", prompt.Name),
			slog.Int("tokens", resp.Usage.TotalTokens))
	}
	return results, nil
}

// renderPromptFile 渲染单个提示词模板。MDX 提示词先剥离组件语法。
func renderPromptFile(path string, promptCtx pongo2.Context) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", xerrors.New(xerrors.CodeNotFound, "提示词模板不存在")
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取提示词模板失败")
	}
	source := string(raw)
	if strings.HasSuffix(path, ".mdx") {
		source = render.StripMDX(source)
	}
	tpl, err := pongo2.FromString(source)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTemplateFailure, err, "解析提示词模板失败")
	}
	out, err := tpl.Execute(promptCtx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTemplateFailure, err, "渲染提示词模板失败")
	}
	return out, nil
}

func (e *Engine) renderTemplate(templatesDir string, s spec.Specification, renderCtx pongo2.Context) (string, error) {
	path := filepath.Join(templatesDir, s.Template.File)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取报告模板失败")
	}
	tpl, err := pongo2.FromString(string(raw))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTemplateFailure, err, "解析报告模板失败")
	}
	out, err := tpl.Execute(renderCtx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTemplateFailure, err, "渲染报告模板失败")
	}
	return out, nil
}

// writeArtifact 把渲染结果落盘为目标格式。
func writeArtifact(format string, tplType spec.TemplateType, rendered, title, path string) error {
	switch format {
	case "html":
		var doc string
		if tplType == spec.TemplateMDX {
			doc = render.CompileMDX(rendered, title, true)
		} else {
			doc = render.Document(render.Fragment(rendered), title)
		}
		return writeFile(path, []byte(doc))
	case "pdf":
		source := rendered
		if tplType == spec.TemplateMDX {
			source = render.StripMDX(rendered)
		}
		return render.WritePDF(source, title, path)
	case "mdx":
		return writeFile(path, []byte(rendered))
	default:
		return xerrors.Newf(xerrors.CodeFormatUnsupported, "输出格式 %q 没有渲染器", format)
	}
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入报告产物失败")
	}
	return nil
}

// artifactFileName 形如 <base>-<时间戳>.<ext>，
// 时间戳为去掉冒号与点的 ISO8601。
func artifactFileName(base, format string, at time.Time) string {
	stamp := at.Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s-%s.%s", base, stamp, format)
}
