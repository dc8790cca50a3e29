package job

// Stats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Waiting         int   `json:"waiting"`
	Active          int   `json:"active"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	Delayed         int   `json:"delayed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
