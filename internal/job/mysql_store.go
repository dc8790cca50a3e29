package job

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ReportFlow/internal/errors"
)

// MySQLStore 使用 MySQL 记录任务状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

const jobColumns = `id, pipeline_id, report_type, output_format, inputs, report_name, title, author,
        status, priority, attempts, max_attempts, progress_percent, progress_stage,
        failure_code, failure_reason, result_path, result_file, result_size, result_duration_ms,
        result_generated_at, created_at, updated_at, finished_at`

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, j *Job) error {
	if j == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(j.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	j.CreatedAt = now
	j.UpdatedAt = now

	inputsValue, err := marshalInputs(j.Data.Inputs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 inputs 失败")
	}

	const stmt = `INSERT INTO job_states
        (id, pipeline_id, report_type, output_format, inputs, report_name, title, author,
         status, priority, attempts, max_attempts, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		j.ID,
		j.Data.PipelineID,
		j.Data.ReportType,
		j.Data.OutputFormat,
		inputsValue,
		j.Data.ReportName,
		j.Data.Title,
		j.Data.Author,
		j.Status,
		j.Priority,
		j.Attempts,
		j.MaxAttempts,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

func scanJob(scanner interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var result Result
	var inputs sql.NullString
	if err := scanner.Scan(
		&j.ID,
		&j.Data.PipelineID,
		&j.Data.ReportType,
		&j.Data.OutputFormat,
		&inputs,
		&j.Data.ReportName,
		&j.Data.Title,
		&j.Data.Author,
		&j.Status,
		&j.Priority,
		&j.Attempts,
		&j.MaxAttempts,
		&j.Progress.Percent,
		&j.Progress.Stage,
		&j.FailureCode,
		&j.FailureReason,
		&result.OutputPath,
		&result.FileName,
		&result.FileSize,
		&result.DurationMS,
		&result.GeneratedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.FinishedAt,
	); err != nil {
		return nil, err
	}
	decoded, err := unmarshalInputs(inputs)
	if err != nil {
		return nil, err
	}
	j.Data.Inputs = decoded
	if result.FileName != "" || result.OutputPath != "" {
		j.Result = &result
	}
	return &j, nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job_states WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return j, nil
}

// Claim 将任务标记为执行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const updateStmt = `UPDATE job_states
        SET status = ?, attempts = attempts + 1, updated_at = ?, failure_code = '', failure_reason = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_attempts`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusActive,
		now,
		id,
		StatusWaiting,
		StatusDelayed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		j, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch j.Status {
		case StatusCompleted:
			return j, ErrJobCompleted
		case StatusActive:
			return j, ErrJobConflict
		case StatusFailed:
			return j, ErrJobExhausted
		default:
			if j.Attempts >= j.MaxAttempts {
				return j, ErrJobExhausted
			}
			return j, ErrJobConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkCompleted 将任务标记为成功终态。
func (s *MySQLStore) MarkCompleted(ctx context.Context, id string, result Result) error {
	const stmt = `UPDATE job_states SET status = ?, result_path = ?, result_file = ?, result_size = ?,
        result_duration_ms = ?, result_generated_at = ?, progress_percent = 100, progress_stage = 'completed',
        failure_code = '', failure_reason = '', updated_at = ?, finished_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusCompleted,
		result.OutputPath,
		result.FileName,
		result.FileSize,
		result.DurationMS,
		result.GeneratedAt,
		now,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务完成失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 记录失败：终态进入 failed，可重试进入 delayed。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, reason string, terminal bool) error {
	status := StatusDelayed
	finished := int64(0)
	now := time.Now().Unix()
	if terminal {
		status = StatusFailed
		finished = now
	}

	const stmt = `UPDATE job_states SET status = ?, failure_code = ?, failure_reason = ?, updated_at = ?, finished_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, status, string(code), reason, now, finished, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// UpdateProgress 更新任务进度。
func (s *MySQLStore) UpdateProgress(ctx context.Context, id string, progress Progress) error {
	const stmt = `UPDATE job_states SET progress_percent = ?, progress_stage = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, progress.Percent, progress.Stage, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务进度失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT ` + jobColumns + ` FROM job_states`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Stats 返回全量任务的聚合信息。
func (s *MySQLStore) Stats(ctx context.Context) (Stats, error) {
	const query = `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS waiting,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS active,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS delayed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM job_states`

	row := s.db.QueryRowContext(ctx, query,
		string(StatusWaiting), string(StatusActive), string(StatusCompleted),
		string(StatusFailed), string(StatusDelayed))

	var stats Stats
	if err := row.Scan(
		&stats.Total,
		&stats.Waiting,
		&stats.Active,
		&stats.Completed,
		&stats.Failed,
		&stats.Delayed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Clean 删除指定状态下完成时间早于 olderThan 的任务。
func (s *MySQLStore) Clean(ctx context.Context, status Status, olderThan time.Duration, limit int) (int, error) {
	if !IsValidStatus(status) {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "无效的任务状态")
	}
	if limit <= 0 {
		limit = 1000
	}
	cutoff := time.Now().Add(-olderThan).Unix()

	const stmt = `DELETE FROM job_states WHERE status = ?
        AND (CASE WHEN finished_at > 0 THEN finished_at ELSE updated_at END) <= ?
        ORDER BY updated_at ASC LIMIT ?`
	res, err := s.db.ExecContext(ctx, stmt, string(status), cutoff, limit)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取清理行数失败")
	}
	return int(affected), nil
}

// Remove 删除单个任务；执行中的任务拒绝删除。
func (s *MySQLStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_states WHERE id = ? AND status <> ?`, id, string(StatusActive))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除任务失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		j, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if j.Status == StatusActive {
			return ErrJobConflict
		}
		return ErrJobNotFound
	}
	return nil
}

// Drain 丢弃全部 waiting 任务。
func (s *MySQLStore) Drain(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_states WHERE status = ?`, string(StatusWaiting))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空等待任务失败")
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// Obliterate 清空整个存储；存在 active 任务且未强制时拒绝。
func (s *MySQLStore) Obliterate(ctx context.Context, force bool) error {
	if !force {
		var active int
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM job_states WHERE status = ?`, string(StatusActive))
		if err := row.Scan(&active); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "检查执行中任务失败")
		}
		if active > 0 {
			return ErrQueueBusy
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_states`); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空任务表失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalInputs(inputs map[string]any) (sql.NullString, error) {
	if len(inputs) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(inputs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalInputs(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var inputs map[string]any
	if err := json.Unmarshal([]byte(raw.String), &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.PipelineID != "" {
		conditions = append(conditions, "pipeline_id = ?")
		args = append(args, opts.PipelineID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
