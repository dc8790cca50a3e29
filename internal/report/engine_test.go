package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"ReportFlow/internal/bundle"
	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/llm"
	"ReportFlow/internal/pipeline"
	"ReportFlow/internal/shutdown"
	"ReportFlow/internal/spec"
)

type stubClient struct {
	content string
	err     error
	prompts []string
}

func (c *stubClient) Complete(_ context.Context, prompt string) (*llm.Response, error) {
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: c.content, Usage: llm.Usage{TotalTokens: 10}}, nil
}

// testPipeline 构造一个带提示词与模板文件的已初始化流水线。
func testPipeline(t *testing.T) pipeline.Pipeline {
	t.Helper()
	return testPipelineWithHooks(t, pipeline.Hooks{
		LoadData: func(_ context.Context, _ map[string]any) ([]map[string]any, error) {
			return []map[string]any{{"amount": 10.0}, {"amount": 20.0}}, nil
		},
	})
}

func testPipelineWithHooks(t *testing.T, hooks pipeline.Hooks) pipeline.Pipeline {
	t.Helper()
	dir := t.TempDir()
	promptsDir := filepath.Join(dir, "prompts")
	templatesDir := filepath.Join(dir, "templates")
	for _, d := range []string{promptsDir, templatesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(promptsDir, "summary.njk"),
		[]byte("Summarize {{ datasetName }} with {{ stats.count }} records."), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(templatesDir, "monthly.njk"),
		[]byte("# {{ reportTitle }}\n\n{{ prompts.summary }}\n"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	p := pipeline.NewBase(pipeline.Info{
		ID:            "test.sales",
		Name:          "Sales",
		Version:       "1.0.0",
		OutputFormats: []string{"html", "mdx", "pdf", "pptx"},
		ReportTypes:   []string{"monthly"},
	}, hooks,
		pipeline.WithSpecifications(spec.Map{
			"monthly": {
				Prompts: []spec.Prompt{
					{File: "summary.njk", Name: "summary", Inputs: []string{"datasetName", "stats"}},
				},
				Template: spec.Template{File: "monthly.njk", Type: spec.TemplateNJK},
			},
		}),
		pipeline.WithPromptsDir(promptsDir),
		pipeline.WithTemplatesDir(templatesDir),
	)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize pipeline: %v", err)
	}
	return p
}

func TestGenerateFailFast(t *testing.T) {
	e := NewEngine(&stubClient{}, nil)
	p := testPipeline(t)

	_, err := e.Generate(context.Background(), Request{
		Pipeline:     p,
		ReportType:   "monthly",
		OutputFormat: "docx",
		OutputDir:    t.TempDir(),
	})
	if !xerrors.IsCode(err, xerrors.CodeFormatUnsupported) {
		t.Fatalf("expected unsupported format, got %v", err)
	}

	_, err = e.Generate(context.Background(), Request{
		Pipeline:     p,
		ReportType:   "yearly",
		OutputFormat: "html",
		OutputDir:    t.TempDir(),
	})
	if !xerrors.IsCode(err, xerrors.CodeReportTypeUnknown) {
		t.Fatalf("expected unknown report type, got %v", err)
	}
}

func TestGenerateHTML(t *testing.T) {
	client := &stubClient{content: "Revenue is up."}
	e := NewEngine(client, nil)
	outDir := t.TempDir()

	result, err := e.Generate(context.Background(), Request{
		Pipeline:     testPipeline(t),
		ReportType:   "monthly",
		OutputFormat: "html",
		OutputDir:    outDir,
		Title:        "Monthly Sales",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(client.prompts) != 1 || !strings.Contains(client.prompts[0], "Sales") {
		t.Fatalf("prompt not rendered from bundle context: %v", client.prompts)
	}
	if result.Prompts["summary"] != "Revenue is up." {
		t.Fatalf("prompt result missing: %+v", result.Prompts)
	}

	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	html := string(data)
	if !strings.Contains(html, "<!DOCTYPE html>") || !strings.Contains(html, "Revenue is up.") {
		t.Fatalf("unexpected artifact: %q", html)
	}
	if !strings.Contains(html, "Monthly Sales") {
		t.Fatalf("title missing from artifact")
	}
	if result.FileSize != int64(len(data)) {
		t.Fatalf("file size mismatch: %d vs %d", result.FileSize, len(data))
	}
}

func TestGenerateTitleFromBundleMetadata(t *testing.T) {
	p := testPipelineWithHooks(t, pipeline.Hooks{
		LoadData: func(_ context.Context, _ map[string]any) ([]map[string]any, error) {
			return []map[string]any{{"amount": 10.0}}, nil
		},
		BuildBundle: func(_ context.Context, records []map[string]any, stats, _ map[string]any) (*bundle.Bundle, error) {
			return bundle.NewBuilder().
				WithDatasetName("Sales").
				WithRecords(records).
				WithStats(stats).
				WithMetadata("reportTitle", "Quarterly Revenue").
				WithMetadata("author", "Finance Desk").
				Build()
		},
	})

	e := NewEngine(&stubClient{content: "ok"}, nil)
	result, err := e.Generate(context.Background(), Request{
		Pipeline:     p,
		ReportType:   "monthly",
		OutputFormat: "html",
		OutputDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(data), "Quarterly Revenue") {
		t.Fatalf("bundle metadata title must beat the built-in default: %q", string(data))
	}

	// 请求里显式给出的标题仍然优先于数据包元数据。
	result, err = e.Generate(context.Background(), Request{
		Pipeline:     p,
		ReportType:   "monthly",
		OutputFormat: "html",
		OutputDir:    t.TempDir(),
		Title:        "Board Briefing",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	data, err = os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(data), "Board Briefing") || strings.Contains(string(data), "Quarterly Revenue") {
		t.Fatalf("request title must win over bundle metadata: %q", string(data))
	}
}

func TestGenerateMissingPromptDefaultsEmpty(t *testing.T) {
	p := testPipeline(t)
	specs := p.Specifications()
	s := specs["monthly"]
	s.Prompts = append(s.Prompts, spec.Prompt{File: "missing.njk", Name: "extra"})
	specs["monthly"] = s

	client := &stubClient{content: "ok"}
	e := NewEngine(client, nil)
	result, err := e.Generate(context.Background(), Request{
		Pipeline:     p,
		ReportType:   "monthly",
		OutputFormat: "html",
		OutputDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Prompts["extra"] != "" {
		t.Fatalf("missing template must yield empty result, got %q", result.Prompts["extra"])
	}
	if result.Prompts["summary"] != "ok" {
		t.Fatalf("remaining prompts must still run: %+v", result.Prompts)
	}
}

func TestGeneratePromptInputDefaultsToEmptyCollection(t *testing.T) {
	p := testPipeline(t)
	if err := os.WriteFile(filepath.Join(p.PromptsDir(), "rows.njk"),
		[]byte("Rows: {{ sales|length }} end"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	specs := p.Specifications()
	s := specs["monthly"]
	s.Prompts = append(s.Prompts, spec.Prompt{File: "rows.njk", Name: "rows", Inputs: []string{"sales"}})
	specs["monthly"] = s

	client := &stubClient{content: "X"}
	e := NewEngine(client, nil)
	result, err := e.Generate(context.Background(), Request{
		Pipeline:     p,
		ReportType:   "monthly",
		OutputFormat: "html",
		OutputDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	rendered := false
	for _, prompt := range client.prompts {
		if prompt == "Rows: 0 end" {
			rendered = true
		}
	}
	if !rendered {
		t.Fatalf("declared input absent from the bundle must render as an empty collection: %v", client.prompts)
	}
	if result.Prompts["rows"] != "X" {
		t.Fatalf("prompt must still reach the model: %+v", result.Prompts)
	}
}

func TestGenerateLLMFailureDefaultsEmpty(t *testing.T) {
	client := &stubClient{err: errors.New("rate limited")}
	e := NewEngine(client, nil)

	result, err := e.Generate(context.Background(), Request{
		Pipeline:     testPipeline(t),
		ReportType:   "monthly",
		OutputFormat: "html",
		OutputDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("inference failure must not abort generation: %v", err)
	}
	if result.Prompts["summary"] != "" {
		t.Fatalf("failed prompt must yield empty result, got %q", result.Prompts["summary"])
	}
}

func TestGenerateShutdownAborts(t *testing.T) {
	guard := shutdown.NewCoordinator()
	guard.Trigger()
	e := NewEngine(&stubClient{content: "ok"}, guard)

	_, err := e.Generate(context.Background(), Request{
		Pipeline:     testPipeline(t),
		ReportType:   "monthly",
		OutputFormat: "html",
		OutputDir:    t.TempDir(),
	})
	if !shutdown.Is(err) {
		t.Fatalf("expected shutdown cancellation, got %v", err)
	}
}

func TestGenerateShutdownDuringInference(t *testing.T) {
	client := &stubClient{err: shutdown.ErrShuttingDown}
	e := NewEngine(client, nil)

	_, err := e.Generate(context.Background(), Request{
		Pipeline:     testPipeline(t),
		ReportType:   "monthly",
		OutputFormat: "html",
		OutputDir:    t.TempDir(),
	})
	if !shutdown.Is(err) {
		t.Fatalf("shutdown during inference must abort, got %v", err)
	}
}

func TestGenerateMDXPassThrough(t *testing.T) {
	e := NewEngine(&stubClient{content: "ok"}, nil)
	result, err := e.Generate(context.Background(), Request{
		Pipeline:     testPipeline(t),
		ReportType:   "monthly",
		OutputFormat: "mdx",
		OutputDir:    t.TempDir(),
		ReportName:   "sales-report",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(result.FileName, "sales-report-") || !strings.HasSuffix(result.FileName, ".mdx") {
		t.Fatalf("unexpected file name: %s", result.FileName)
	}
	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if strings.Contains(string(data), "<!DOCTYPE") {
		t.Fatalf("mdx output must stay raw, got %q", string(data))
	}
}

func TestArtifactFileName(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	name := artifactFileName("sales", "html", at)
	if name != "sales-2026-03-14T09-26-53-589Z.html" {
		t.Fatalf("unexpected file name: %s", name)
	}
	if !regexp.MustCompile(`^[a-z-]+-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z\.html$`).MatchString(name) {
		t.Fatalf("file name pattern mismatch: %s", name)
	}
}
