package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ReportFlow/internal/bundle"
	xerrors "ReportFlow/internal/errors"
)

func validInfo() Info {
	return Info{
		ID:            "test.alpha",
		Name:          "Alpha",
		Version:       "1.0.0",
		OutputFormats: []string{"html"},
		ReportTypes:   []string{"monthly"},
	}
}

func loadHook(records []map[string]any) Hooks {
	return Hooks{
		LoadData: func(_ context.Context, _ map[string]any) ([]map[string]any, error) {
			return records, nil
		},
	}
}

func TestBaseLifecycle(t *testing.T) {
	ctx := context.Background()
	b := NewBase(validInfo(), loadHook(nil))

	// 初始化之前禁止处理。
	if _, err := b.Process(ctx, nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not-initialized sentinel, got %v", err)
	}

	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !b.Initialized() {
		t.Fatalf("expected initialized state")
	}
	if err := b.Initialize(ctx); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already-initialized sentinel, got %v", err)
	}

	if _, err := b.Process(ctx, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Cleanup 之后可以重新初始化。
	if err := b.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if b.Initialized() {
		t.Fatalf("cleanup must reset initialized state")
	}
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
}

func TestBaseInitializeAggregatesProblems(t *testing.T) {
	b := NewBase(Info{ID: "BadID", Version: "1"}, Hooks{})
	err := b.Initialize(context.Background())
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation code, got %v", err)
	}
	for _, fragment := range []string{"BadID", "缺少 name", "LoadData"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("aggregated error missing %q: %v", fragment, err)
		}
	}
}

func TestBaseStageOrder(t *testing.T) {
	ctx := context.Background()
	var stages []string

	b := NewBase(validInfo(), Hooks{
		BeforeProcess: func(_ context.Context, _ map[string]any) error {
			stages = append(stages, "before")
			return nil
		},
		LoadData: func(_ context.Context, _ map[string]any) ([]map[string]any, error) {
			stages = append(stages, "load")
			return []map[string]any{{"amount": 1.0}}, nil
		},
		TransformData: func(_ context.Context, records []map[string]any, _ map[string]any) ([]map[string]any, error) {
			stages = append(stages, "transform")
			return records, nil
		},
		ComputeStatistics: func(_ context.Context, records []map[string]any, _ map[string]any) (map[string]any, error) {
			stages = append(stages, "stats")
			return map[string]any{"count": len(records)}, nil
		},
		BuildBundle: func(_ context.Context, records []map[string]any, stats, _ map[string]any) (*bundle.Bundle, error) {
			stages = append(stages, "bundle")
			return bundle.NewBuilder().
				WithDatasetName("alpha").
				WithRecords(records).
				WithStats(stats).
				WithPluginInfo("test.alpha", "1.0.0").
				Build()
		},
		AfterProcess: func(_ context.Context, _ *bundle.Bundle) error {
			stages = append(stages, "after")
			return nil
		},
	})
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := b.Process(ctx, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	want := []string{"before", "load", "transform", "stats", "bundle", "after"}
	if len(stages) != len(want) {
		t.Fatalf("unexpected stages: %v", stages)
	}
	for i, s := range want {
		if stages[i] != s {
			t.Fatalf("stage %d: expected %s, got %s", i, s, stages[i])
		}
	}
}

func TestBaseInputValidation(t *testing.T) {
	ctx := context.Background()
	b := NewBase(validInfo(), loadHook(nil), WithInputFields(
		InputField{Name: "dataPath", Type: FieldString, Required: true},
		InputField{Name: "currency", Type: FieldEnum, Enum: []string{"CNY", "USD"}},
		InputField{Name: "limit", Type: FieldNumber},
	))
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err := b.Process(ctx, map[string]any{
		"currency": "JPY",
		"limit":    "not-a-number",
	})
	if err == nil {
		t.Fatalf("expected aggregated input error")
	}
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation code, got %v", err)
	}
	for _, fragment := range []string{"dataPath", "currency", "limit"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("aggregated error missing %q: %v", fragment, err)
		}
	}

	// 合法输入可以通过。
	if _, err := b.Process(ctx, map[string]any{
		"dataPath": "data.csv",
		"currency": "CNY",
		"limit":    10,
	}); err != nil {
		t.Fatalf("valid inputs must pass: %v", err)
	}
}

func TestBaseDefaultBundle(t *testing.T) {
	ctx := context.Background()
	records := []map[string]any{{"a": 1.0}, {"a": 2.0}}
	b := NewBase(validInfo(), loadHook(records))
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	out, err := b.Process(ctx, map[string]any{"dataPath": "data.csv"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Metadata.TotalRecords != 2 {
		t.Fatalf("expected 2 records, got %d", out.Metadata.TotalRecords)
	}
	if out.Stats["count"] != 2 {
		t.Fatalf("default statistics missing count: %+v", out.Stats)
	}
	if out.Metadata.Source != "data.csv" {
		t.Fatalf("expected source from dataPath, got %q", out.Metadata.Source)
	}
	if out.Metadata.PluginID != "test.alpha" {
		t.Fatalf("plugin info not recorded: %+v", out.Metadata)
	}
}

func TestBaseOnErrorHook(t *testing.T) {
	ctx := context.Background()
	var observed error
	b := NewBase(validInfo(), Hooks{
		LoadData: func(_ context.Context, _ map[string]any) ([]map[string]any, error) {
			return nil, errors.New("source unavailable")
		},
		OnError: func(err error, _ map[string]any) { observed = err },
	})
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err := b.Process(ctx, nil)
	if err == nil {
		t.Fatalf("expected load failure")
	}
	if !xerrors.IsCode(err, xerrors.CodePipelineFailure) {
		t.Fatalf("expected pipeline failure code, got %v", err)
	}
	if observed == nil || !strings.Contains(observed.Error(), "source unavailable") {
		t.Fatalf("error hook did not observe failure: %v", observed)
	}
}
