package job

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/observability/alerting"
	"ReportFlow/internal/pipeline"
	"ReportFlow/internal/report"
	"ReportFlow/internal/shutdown"
)

type fakeGenerator struct {
	result *report.Result
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(_ context.Context, _ report.Request) (*report.Result, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type safeProducer struct {
	mu        sync.Mutex
	published []string
}

func (p *safeProducer) Publish(_ context.Context, jobID string, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, jobID)
	return nil
}

func (p *safeProducer) Close() error { return nil }

func (p *safeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) stages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	stages := make([]string, 0, len(d.events))
	for _, e := range d.events {
		stages = append(stages, e.Metadata["stage"])
	}
	return stages
}

func testRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	reg := pipeline.NewRegistry()
	p := pipeline.NewBase(pipeline.Info{
		ID:            "examples.sales",
		Name:          "Sales",
		Version:       "1.0.0",
		OutputFormats: []string{"html"},
		ReportTypes:   []string{"monthly"},
	}, pipeline.Hooks{
		LoadData: func(_ context.Context, _ map[string]any) ([]map[string]any, error) {
			return nil, nil
		},
	})
	if err := reg.Register(p, "manual"); err != nil {
		t.Fatalf("register pipeline: %v", err)
	}
	return reg
}

func TestWorkerHandleSuccess(t *testing.T) {
	store := NewMemoryStore()
	producer := &safeProducer{}
	gen := &fakeGenerator{result: &report.Result{
		OutputPath:  "/tmp/r.html",
		FileName:    "r.html",
		FileSize:    64,
		Duration:    120 * time.Millisecond,
		GeneratedAt: time.Now().UTC(),
	}}
	w := NewWorker(gen, store, NewMemoryQueue(), producer, testRegistry(t))

	ctx := context.Background()
	if err := store.Create(ctx, newTestJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.handle(ctx, "j1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	j, err := store.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", j.Status)
	}
	if j.Progress.Percent != 100 || j.Progress.Stage != "completed" {
		t.Fatalf("unexpected progress: %+v", j.Progress)
	}
	if j.Result == nil || j.Result.FileName != "r.html" {
		t.Fatalf("result missing: %+v", j.Result)
	}
	if gen.calls != 1 {
		t.Fatalf("expected one generate call, got %d", gen.calls)
	}
}

func TestWorkerHandleRetryableFailure(t *testing.T) {
	store := NewMemoryStore()
	producer := &safeProducer{}
	gen := &fakeGenerator{err: xerrors.New(xerrors.CodeLLMFailure, "llm down")}
	w := NewWorker(gen, store, NewMemoryQueue(), producer, testRegistry(t),
		WithBackoff(10*time.Millisecond))

	ctx := context.Background()
	if err := store.Create(ctx, newTestJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.handle(ctx, "j1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	j, _ := store.Get(ctx, "j1")
	if j.Status != StatusDelayed {
		t.Fatalf("expected delayed retry state, got %s", j.Status)
	}
	if j.FailureCode != string(xerrors.CodeLLMFailure) {
		t.Fatalf("unexpected failure code: %s", j.FailureCode)
	}

	// 退避之后任务会被重新投递。
	deadline := time.Now().Add(time.Second)
	for producer.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job was not republished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerHandleTerminalFailure(t *testing.T) {
	store := NewMemoryStore()
	producer := &safeProducer{}
	gen := &fakeGenerator{err: xerrors.New(xerrors.CodeFormatUnsupported, "pptx not declared")}
	alerts := &recordingDispatcher{}
	w := NewWorker(gen, store, NewMemoryQueue(), producer, testRegistry(t),
		WithBackoff(time.Millisecond), WithAlertDispatcher(alerts))

	ctx := context.Background()
	if err := store.Create(ctx, newTestJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.handle(ctx, "j1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	j, _ := store.Get(ctx, "j1")
	if j.Status != StatusFailed {
		t.Fatalf("expected failed terminal state, got %s", j.Status)
	}
	time.Sleep(20 * time.Millisecond)
	if producer.count() != 0 {
		t.Fatalf("non-retryable failure must not republish")
	}

	// 不可重试即终态，告警阶段只有 terminal 一种。
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "terminal" {
		t.Fatalf("expected a single terminal alert, got %v", stages)
	}
}

func TestWorkerHandleShutdownCancellation(t *testing.T) {
	store := NewMemoryStore()
	producer := &safeProducer{}
	guard := shutdown.NewCoordinator()
	gen := &fakeGenerator{err: shutdown.ErrShuttingDown}
	w := NewWorker(gen, store, NewMemoryQueue(), producer, testRegistry(t),
		WithShutdownGuard(guard))

	ctx := context.Background()
	if err := store.Create(ctx, newTestJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.handle(ctx, "j1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// 停机取消与业务失败不同：直接终态、带取消错误码、不再重投。
	j, _ := store.Get(ctx, "j1")
	if j.Status != StatusFailed {
		t.Fatalf("expected failed terminal state, got %s", j.Status)
	}
	if j.FailureCode != string(xerrors.CodeJobCancelled) {
		t.Fatalf("expected cancellation code, got %s", j.FailureCode)
	}
	if j.FailureReason != "job cancelled: shutting down" {
		t.Fatalf("unexpected reason: %q", j.FailureReason)
	}
	if producer.count() != 0 {
		t.Fatalf("cancelled job must not republish")
	}
}

func TestWorkerSkipsMissingJob(t *testing.T) {
	w := NewWorker(&fakeGenerator{}, NewMemoryStore(), NewMemoryQueue(), &safeProducer{}, testRegistry(t))
	if err := w.handle(context.Background(), "ghost"); err != nil {
		t.Fatalf("missing job must be skipped, got %v", err)
	}
}
