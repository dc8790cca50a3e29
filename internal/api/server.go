package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/job"
	"ReportFlow/internal/observability/metrics"
	"ReportFlow/internal/pipeline"
	"ReportFlow/pkg/logger"
)

// Server 暴露任务、流水线与报告产物的 REST 接口。
type Server struct {
	addr       string
	jobs       *job.Service
	registry   *pipeline.Registry
	reportsDir string
	log        *slog.Logger
}

// NewServer 构造 API 服务实例。reportsDir 是报告产物的输出目录。
func NewServer(addr string, jobs *job.Service, registry *pipeline.Registry, reportsDir string) *Server {
	return &Server{
		addr:       addr,
		jobs:       jobs,
		registry:   registry,
		reportsDir: reportsDir,
		log:        logger.Named("api"),
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Routes 注册全部路由，便于测试中直接挂载。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/jobs", s.instrument("jobs", http.HandlerFunc(s.handleEnqueueJob)))
	mux.Handle("GET /api/v1/jobs", s.instrument("jobs", http.HandlerFunc(s.handleListJobs)))
	mux.Handle("GET /api/v1/jobs/stats", s.instrument("job_stats", http.HandlerFunc(s.handleJobStats)))
	mux.Handle("GET /api/v1/jobs/{id}", s.instrument("job", http.HandlerFunc(s.handleGetJob)))
	mux.Handle("DELETE /api/v1/jobs/{id}", s.instrument("job", http.HandlerFunc(s.handleRemoveJob)))
	mux.Handle("POST /api/v1/jobs/pause", s.instrument("job_pause", http.HandlerFunc(s.handlePause)))
	mux.Handle("POST /api/v1/jobs/resume", s.instrument("job_resume", http.HandlerFunc(s.handleResume)))
	mux.Handle("POST /api/v1/jobs/drain", s.instrument("job_drain", http.HandlerFunc(s.handleDrain)))
	mux.Handle("POST /api/v1/jobs/clean", s.instrument("job_clean", http.HandlerFunc(s.handleClean)))
	mux.Handle("POST /api/v1/jobs/obliterate", s.instrument("job_obliterate", http.HandlerFunc(s.handleObliterate)))
	mux.Handle("GET /api/v1/pipelines", s.instrument("pipelines", http.HandlerFunc(s.handleListPipelines)))
	mux.Handle("GET /api/v1/pipelines/{id}", s.instrument("pipeline", http.HandlerFunc(s.handleGetPipeline)))
	mux.Handle("GET /api/v1/reports", s.instrument("reports", http.HandlerFunc(s.handleListReports)))
	mux.Handle("GET /api/v1/reports/{file}", s.instrument("report", http.HandlerFunc(s.handleDownloadReport)))
	mux.Handle("GET /healthz", http.HandlerFunc(s.handleHealth))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

type enqueueRequest struct {
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

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	opts := []job.EnqueueOption{}
	if req.Priority > 0 {
		opts = append(opts, job.WithPriority(req.Priority))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	created, err := s.jobs.Enqueue(r.Context(), job.Data{
		PipelineID:   req.PipelineID,
		ReportType:   req.ReportType,
		OutputFormat: req.OutputFormat,
		Inputs:       req.Inputs,
		ReportName:   req.ReportName,
		Title:        req.Title,
		Author:       req.Author,
	}, opts...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	query := r.URL.Query()
	opts := []job.ListOption{}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, job.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, job.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := []job.Status{}
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, job.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := query.Get("pipeline"); raw != "" {
		opts = append(opts, job.WithPipeline(raw))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	j, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	if err := s.jobs.Remove(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	s.jobs.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	s.jobs.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	removed, err := s.jobs.Drain(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type cleanRequest struct {
	Status     string `json:"status"`
	OlderThanS int64  `json:"older_than_seconds"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	var req cleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	removed, err := s.jobs.Clean(r.Context(), job.Status(req.Status),
		time.Duration(req.OlderThanS)*time.Second, req.Limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleObliterate(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := s.jobs.Obliterate(r.Context(), force); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "流水线注册表未初始化")
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "流水线注册表未初始化")
		return
	}
	p, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Info())
}

// reportEntry 是产物列表中的一项。
type reportEntry struct {
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	ModifiedAt int64  `json:"modified_at"`
}

func (s *Server) handleListReports(w http.ResponseWriter, _ *http.Request) {
	entries := []reportEntry{}
	dirEntries, err := os.ReadDir(s.reportsDir)
	if err != nil && !os.IsNotExist(err) {
		s.writeFailure(w, err)
		return
	}
	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		entries = append(entries, reportEntry{
			FileName:   entry.Name(),
			FileSize:   info.Size(),
			ModifiedAt: info.ModTime().Unix(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModifiedAt > entries[j].ModifiedAt })
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	// 只允许访问目录下的直接文件，拒绝任何路径穿越。
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, "非法的文件名")
		return
	}
	path := filepath.Join(s.reportsDir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "报告产物不存在")
			return
		}
		s.writeFailure(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeFailure 按错误码映射 HTTP 状态。
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound, job.CodeJobNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument, xerrors.CodeValidation, job.CodeJobValidation:
		status = http.StatusBadRequest
	case xerrors.CodeConflict, job.CodeJobConflict, job.CodeQueueBusy:
		status = http.StatusConflict
	case xerrors.CodeShutdown:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.log.Error("请求处理失败", slog.Any("error", err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusRecorder 捕获响应状态码用于指标统计。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求量与延迟指标。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
