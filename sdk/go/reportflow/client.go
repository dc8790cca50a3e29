package reportflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ReportFlow REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// JobSubmission represents the payload required to enqueue a report job.
type JobSubmission struct {
	PipelineID   string         `json:"pipeline_id"`
	ReportType   string         `json:"report_type"`
	OutputFormat string         `json:"output_format"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	ReportName   string         `json:"report_name,omitempty"`
	Title        string         `json:"title,omitempty"`
	Author       string         `json:"author,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	MaxAttempts  int            `json:"max_attempts,omitempty"`
}

// JobResult describes the artifact produced by a completed job.
type JobResult struct {
	OutputPath  string `json:"output_path"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	DurationMS  int64  `json:"duration_ms"`
	GeneratedAt int64  `json:"generated_at"`
}

// JobProgress reflects how far a job has advanced through the pipeline.
type JobProgress struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// Job is the API view of a queued report job.
type Job struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Priority      int         `json:"priority"`
	Attempts      int         `json:"attempts"`
	MaxAttempts   int         `json:"max_attempts"`
	Progress      JobProgress `json:"progress"`
	FailureCode   string      `json:"failure_code,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	Result        *JobResult  `json:"result,omitempty"`
	CreatedAt     int64       `json:"created_at"`
	UpdatedAt     int64       `json:"updated_at"`
	FinishedAt    int64       `json:"finished_at,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j != nil && (j.Status == "completed" || j.Status == "failed")
}

// QueueStats aggregates job counts per status.
type QueueStats struct {
	Total     int `json:"total"`
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// PipelineInfo is the API view of a registered pipeline.
type PipelineInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Description   string   `json:"description,omitempty"`
	OutputFormats []string `json:"output_formats,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("reportflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ReportFlow API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// EnqueueJob submits a new report job.
func (c *Client) EnqueueJob(ctx context.Context, submission JobSubmission) (*Job, error) {
	var job Job
	if err := c.post(ctx, "/api/v1/jobs", submission, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs filtered by the optional status list.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]Job, error) {
	endpoint := "/api/v1/jobs"
	if len(statuses) > 0 {
		query := url.Values{}
		for _, status := range statuses {
			query.Add("status", status)
		}
		endpoint += "?" + query.Encode()
	}
	var jobs []Job
	if err := c.get(ctx, endpoint, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Stats returns aggregated queue statistics.
func (c *Client) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	if err := c.get(ctx, "/api/v1/jobs/stats", &stats); err != nil {
		return QueueStats{}, err
	}
	return stats, nil
}

// RemoveJob deletes a job that is not currently running.
func (c *Client) RemoveJob(ctx context.Context, jobID string) error {
	return c.delete(ctx, "/api/v1/jobs/"+url.PathEscape(jobID))
}

// Pause stops workers from picking up new jobs.
func (c *Client) Pause(ctx context.Context) error {
	return c.post(ctx, "/api/v1/jobs/pause", nil, nil)
}

// Resume restores normal job scheduling.
func (c *Client) Resume(ctx context.Context) error {
	return c.post(ctx, "/api/v1/jobs/resume", nil, nil)
}

// ListPipelines returns all registered report pipelines.
func (c *Client) ListPipelines(ctx context.Context) ([]PipelineInfo, error) {
	var infos []PipelineInfo
	if err := c.get(ctx, "/api/v1/pipelines", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// WaitForJob polls until the job reaches a terminal state or ctx expires.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
