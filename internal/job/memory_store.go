package job

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ReportFlow/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，用于测试与单机部署。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, j *Job) error {
	if j == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if j.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return ErrJobConflict
	}
	now := time.Now().Unix()
	if j.CreatedAt == 0 {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	m.jobs[j.ID] = cloneJob(j)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(j), nil
}

// Claim 将 waiting/delayed 任务置为 active 并累加尝试次数。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch j.Status {
	case StatusCompleted:
		return cloneJob(j), ErrJobCompleted
	case StatusActive:
		return cloneJob(j), ErrJobConflict
	case StatusFailed:
		return cloneJob(j), ErrJobExhausted
	}
	if j.Attempts >= j.MaxAttempts {
		return cloneJob(j), ErrJobExhausted
	}
	j.Status = StatusActive
	j.Attempts++
	j.FailureCode = ""
	j.FailureReason = ""
	j.UpdatedAt = time.Now().Unix()
	return cloneJob(j), nil
}

// MarkCompleted 记录成功结果并进入终态。
func (m *MemoryStore) MarkCompleted(_ context.Context, id string, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now().Unix()
	j.Status = StatusCompleted
	j.Result = &result
	j.FailureCode = ""
	j.FailureReason = ""
	j.Progress = Progress{Percent: 100, Stage: "completed"}
	j.UpdatedAt = now
	j.FinishedAt = now
	return nil
}

// MarkFailed 标记任务失败；非终态失败进入 delayed 等待重试。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, reason string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now().Unix()
	j.FailureCode = string(code)
	j.FailureReason = reason
	j.UpdatedAt = now
	if terminal {
		j.Status = StatusFailed
		j.FinishedAt = now
	} else {
		j.Status = StatusDelayed
	}
	return nil
}

// UpdateProgress 更新执行进度。
func (m *MemoryStore) UpdateProgress(_ context.Context, id string, progress Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Progress = progress
	j.UpdatedAt = time.Now().Unix()
	return nil
}

func matchesListFilters(j *Job, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if j.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.PipelineID != "" && j.Data.PipelineID != opts.PipelineID {
		return false
	}
	if opts.UpdatedGTE > 0 && j.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && j.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

// List 返回符合过滤条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !matchesListFilters(j, opts) {
			continue
		}
		results = append(results, cloneJob(j))
	}

	sort.Slice(results, func(i, k int) bool {
		a, b := results[i], results[k]
		if opts.Order == SortByUpdatedAsc {
			if a.UpdatedAt == b.UpdatedAt {
				if a.CreatedAt == b.CreatedAt {
					return a.ID < b.ID
				}
				return a.CreatedAt < b.CreatedAt
			}
			return a.UpdatedAt < b.UpdatedAt
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID < b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Job{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计各状态的任务数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{}
	for _, j := range m.jobs {
		stats.Total++
		switch j.Status {
		case StatusWaiting:
			stats.Waiting++
		case StatusActive:
			stats.Active++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusDelayed:
			stats.Delayed++
		}
		if j.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = j.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (j.UpdatedAt != 0 && j.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = j.UpdatedAt
		}
	}
	return stats, nil
}

// Clean 删除指定终态下完成时间早于 olderThan 的任务。
func (m *MemoryStore) Clean(_ context.Context, status Status, olderThan time.Duration, limit int) (int, error) {
	if !IsValidStatus(status) {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "无效的任务状态")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).Unix()
	type candidate struct {
		id string
		at int64
	}
	var candidates []candidate
	for id, j := range m.jobs {
		if j.Status != status {
			continue
		}
		reference := j.FinishedAt
		if reference == 0 {
			reference = j.UpdatedAt
		}
		if reference > cutoff {
			continue
		}
		candidates = append(candidates, candidate{id: id, at: reference})
	}
	// 从最老的开始删。
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at < candidates[j].at })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, c := range candidates {
		delete(m.jobs, c.id)
	}
	return len(candidates), nil
}

// Remove 删除单个任务；执行中的任务拒绝删除。
func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status == StatusActive {
		return ErrJobConflict
	}
	delete(m.jobs, id)
	return nil
}

// Drain 丢弃全部 waiting 任务。
func (m *MemoryStore) Drain(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, j := range m.jobs {
		if j.Status == StatusWaiting {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Obliterate 清空存储；存在 active 任务且未强制时返回 ErrQueueBusy。
func (m *MemoryStore) Obliterate(_ context.Context, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !force {
		for _, j := range m.jobs {
			if j.Status == StatusActive {
				return ErrQueueBusy
			}
		}
	}
	m.jobs = make(map[string]*Job)
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
