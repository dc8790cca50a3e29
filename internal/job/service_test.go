package job

import (
	"context"
	"errors"
	"testing"

	xerrors "ReportFlow/internal/errors"
)

type recordingProducer struct {
	published []string
	priority  []int
	fail      error
}

func (p *recordingProducer) Publish(_ context.Context, jobID string, priority int) error {
	if p.fail != nil {
		return p.fail
	}
	p.published = append(p.published, jobID)
	p.priority = append(p.priority, priority)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestServiceEnqueueDefaults(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	svc := NewService(store, producer, 0)

	j, err := svc.Enqueue(context.Background(), Data{
		PipelineID:   "examples.sales",
		ReportType:   "monthly",
		OutputFormat: "HTML",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.ID == "" {
		t.Fatalf("expected generated job id")
	}
	if j.Priority != DefaultPriority || j.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("unexpected defaults: %+v", j)
	}
	if j.Status != StatusWaiting {
		t.Fatalf("expected waiting status, got %s", j.Status)
	}
	if j.Data.OutputFormat != "html" {
		t.Fatalf("expected normalized format, got %q", j.Data.OutputFormat)
	}
	if len(producer.published) != 1 || producer.published[0] != j.ID {
		t.Fatalf("job was not published: %+v", producer.published)
	}
}

func TestServiceEnqueueValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(), &recordingProducer{}, 3)

	cases := []struct {
		name string
		data Data
	}{
		{"missing pipeline", Data{ReportType: "monthly", OutputFormat: "html"}},
		{"missing report type", Data{PipelineID: "examples.sales", OutputFormat: "html"}},
		{"bad format", Data{PipelineID: "examples.sales", ReportType: "monthly", OutputFormat: "docx"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Enqueue(context.Background(), tc.data)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !xerrors.IsCode(err, CodeJobValidation) {
				t.Fatalf("expected %s, got %v", CodeJobValidation, err)
			}
		})
	}
}

func TestServiceEnqueueIdempotentByID(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	svc := NewService(store, producer, 3)

	data := Data{PipelineID: "examples.sales", ReportType: "monthly", OutputFormat: "html"}
	first, err := svc.Enqueue(context.Background(), data, WithJobID("fixed"))
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	second, err := svc.Enqueue(context.Background(), data, WithJobID("fixed"))
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same job, got %s and %s", first.ID, second.ID)
	}
	if len(producer.published) != 1 {
		t.Fatalf("duplicate submit must not publish again, got %d", len(producer.published))
	}
}

func TestServiceEnqueuePublishFailure(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{fail: errors.New("broker down")}
	svc := NewService(store, producer, 3)

	_, err := svc.Enqueue(context.Background(), Data{
		PipelineID:   "examples.sales",
		ReportType:   "monthly",
		OutputFormat: "html",
	}, WithJobID("doomed"))
	if err == nil {
		t.Fatalf("expected publish failure")
	}
	if !xerrors.IsCode(err, CodeJobPublish) {
		t.Fatalf("expected %s, got %v", CodeJobPublish, err)
	}

	// 入队失败的任务立即进入失败终态，避免悬挂在 waiting。
	j, getErr := store.Get(context.Background(), "doomed")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if j.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", j.Status)
	}
}

func TestServicePauseResume(t *testing.T) {
	svc := NewService(NewMemoryStore(), &recordingProducer{}, 3)
	if svc.Paused() {
		t.Fatalf("service must start unpaused")
	}
	svc.Pause()
	if !svc.Paused() {
		t.Fatalf("pause did not take effect")
	}
	svc.Resume()
	if svc.Paused() {
		t.Fatalf("resume did not take effect")
	}
}

func TestServiceCleanHelpers(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &recordingProducer{}, 3)
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("done")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "done"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkCompleted(ctx, "done", Result{FileName: "r.html"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// 刚完成的任务未超过保留窗口，不会被清理。
	removed, err := svc.CleanCompleted(ctx, 24)
	if err != nil {
		t.Fatalf("clean completed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing removed, got %d", removed)
	}
}
