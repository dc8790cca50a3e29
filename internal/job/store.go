package job

import (
	"context"
	"time"

	xerrors "ReportFlow/internal/errors"
)

// Store 抽象了任务状态的持久化接口。存储是任务状态的唯一权威，
// 队列只负责投递 ID。
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将 waiting/delayed 状态的任务置为 active 并累加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkCompleted(ctx context.Context, id string, result Result) error
	// MarkFailed 记录失败：terminal 为真时进入 failed 终态，
	// 否则进入 delayed 等待重试。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, reason string, terminal bool) error
	UpdateProgress(ctx context.Context, id string, progress Progress) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context) (Stats, error)
	// Clean 删除指定状态下、完成时间早于 olderThan 的任务，
	// 至多 limit 条，返回删除数量。
	Clean(ctx context.Context, status Status, olderThan time.Duration, limit int) (int, error)
	Remove(ctx context.Context, id string) error
	// Drain 丢弃全部 waiting 任务，返回丢弃数量。
	Drain(ctx context.Context) (int, error)
	// Obliterate 清空整个存储；存在 active 任务且未强制时拒绝。
	Obliterate(ctx context.Context, force bool) error
	Close() error
}
