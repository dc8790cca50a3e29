package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ReportFlow/internal/job"
	"ReportFlow/internal/pipeline"
)

type noopProducer struct{}

func (noopProducer) Publish(_ context.Context, _ string, _ int) error { return nil }
func (noopProducer) Close() error                                     { return nil }

func testHandler(t *testing.T) (http.Handler, *job.Service) {
	handler, svc, _ := testHandlerWithReports(t)
	return handler, svc
}

func testHandlerWithReports(t *testing.T) (http.Handler, *job.Service, string) {
	t.Helper()
	svc := job.NewService(job.NewMemoryStore(), noopProducer{}, 0)

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

	reportsDir := t.TempDir()
	return NewServer("127.0.0.1:0", svc, reg, reportsDir).Routes(), svc, reportsDir
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueAndGetJob(t *testing.T) {
	handler, _ := testHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/jobs",
		`{"pipeline_id":"examples.sales","report_type":"monthly","output_format":"html","priority":2}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var created job.Job
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != job.StatusWaiting || created.Priority != 2 {
		t.Fatalf("unexpected job: %+v", created)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/jobs/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var fetched job.Job
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.ID != created.ID || fetched.Data.PipelineID != "examples.sales" {
		t.Fatalf("unexpected job: %+v", fetched)
	}
}

func TestEnqueueValidationErrors(t *testing.T) {
	handler, _ := testHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/jobs", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/jobs",
		`{"pipeline_id":"examples.sales","report_type":"monthly","output_format":"docx"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad format: expected 400, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("error payload missing: %v", payload)
	}
}

func TestGetMissingJob(t *testing.T) {
	handler, _ := testHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/jobs/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListJobsWithStatusFilter(t *testing.T) {
	handler, svc := testHandler(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Enqueue(ctx, job.Data{
			PipelineID:   "examples.sales",
			ReportType:   "monthly",
			OutputFormat: "html",
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/jobs?status=waiting", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var jobs []job.Job
	if err := json.NewDecoder(rec.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/jobs?status=failed", "")
	jobs = nil
	if err := json.NewDecoder(rec.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no failed jobs, got %d", len(jobs))
	}
}

func TestJobStats(t *testing.T) {
	handler, svc := testHandler(t)
	if _, err := svc.Enqueue(context.Background(), job.Data{
		PipelineID:   "examples.sales",
		ReportType:   "monthly",
		OutputFormat: "html",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/jobs/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats job.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Waiting != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRemoveJob(t *testing.T) {
	handler, svc := testHandler(t)
	created, err := svc.Enqueue(context.Background(), job.Data{
		PipelineID:   "examples.sales",
		ReportType:   "monthly",
		OutputFormat: "html",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/jobs/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/jobs/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestPauseResumeEndpoints(t *testing.T) {
	handler, svc := testHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/jobs/pause", "")
	if rec.Code != http.StatusOK || !svc.Paused() {
		t.Fatalf("pause failed: code=%d paused=%v", rec.Code, svc.Paused())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/jobs/resume", "")
	if rec.Code != http.StatusOK || svc.Paused() {
		t.Fatalf("resume failed: code=%d paused=%v", rec.Code, svc.Paused())
	}
}

func TestListPipelines(t *testing.T) {
	handler, _ := testHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/pipelines", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var infos []pipeline.Info
	if err := json.NewDecoder(rec.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "examples.sales" {
		t.Fatalf("unexpected pipelines: %+v", infos)
	}
}

func TestGetPipelineDetail(t *testing.T) {
	handler, _ := testHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/pipelines/examples.sales", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info pipeline.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ID != "examples.sales" || info.Version != "1.0.0" {
		t.Fatalf("unexpected pipeline: %+v", info)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/pipelines/examples.ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReportArtifacts(t *testing.T) {
	handler, _, reportsDir := testHandlerWithReports(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/reports", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty dir must list nothing: %d %s", rec.Code, rec.Body.String())
	}

	if err := os.WriteFile(filepath.Join(reportsDir, "sales.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports", "")
	var entries []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0]["file_name"] != "sales.html" {
		t.Fatalf("unexpected listing: %v", entries)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/sales.html", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("download failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/missing.html", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing artifact, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	handler, _ := testHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
