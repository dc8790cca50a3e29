package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ReportFlow/sdk/go/reportflow"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(reportflow.Job{
			ID:       "job-demo",
			Status:   "waiting",
			Priority: 2,
		})
	})
	mux.HandleFunc("GET /api/v1/jobs/job-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(reportflow.Job{
			ID:       "job-demo",
			Status:   "completed",
			Progress: reportflow.JobProgress{Percent: 100, Stage: "completed"},
			Result: &reportflow.JobResult{
				FileName:   "sales-2026-03-14T09-26-53-589Z.html",
				OutputPath: "reports/sales-2026-03-14T09-26-53-589Z.html",
				FileSize:   48213,
			},
		})
	})
	mux.HandleFunc("GET /api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]reportflow.PipelineInfo{{
			ID:            "examples.sales",
			Name:          "Sales",
			Version:       "1.0.0",
			OutputFormats: []string{"html", "pdf", "pptx", "mdx"},
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := reportflow.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipelines, err := client.ListPipelines(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("available pipelines: %d (first=%s)\n", len(pipelines), pipelines[0].ID)

	created, err := client.EnqueueJob(ctx, reportflow.JobSubmission{
		PipelineID:   "examples.sales",
		ReportType:   "monthly",
		OutputFormat: "html",
		Inputs:       map[string]any{"dataPath": "data/sales.csv"},
		Priority:     2,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("enqueued job %s (status=%s)\n", created.ID, created.Status)

	done, err := client.WaitForJob(ctx, created.ID, 200*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("job %s finished: status=%s artifact=%s\n", done.ID, done.Status, done.Result.FileName)
}
