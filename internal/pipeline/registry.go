package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/pkg/logger"
)

// Registry 维护插件 ID 到实例的并发安全映射。
// 注册遵循先到先得：重复 ID 直接拒绝，由调用方决定告警方式。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     *slog.Logger
}

type entry struct {
	pipeline Pipeline
	source   string
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		log:     logger.Named("pipeline_registry"),
	}
}

// Register 注册一个插件实例。source 记录实例来源（.so 路径或 "manual"）。
func (r *Registry) Register(p Pipeline, source string) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "插件实例为空")
	}
	id := p.Info().ID
	if id == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "插件缺少 id")
	}
	if source == "" {
		source = "manual"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[id]; ok {
		return xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("插件 %s 已由 %s 注册", id, existing.source))
	}
	r.entries[id] = &entry{pipeline: p, source: source}
	r.log.Info("插件已注册", slog.String("pipeline_id", id), slog.String("source", source))
	return nil
}

// Get 按 ID 查找插件。
func (r *Registry) Get(id string) (Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.pipeline, nil
	}
	return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("插件 %s 未注册", id))
}

// Has 判断 ID 是否已注册。
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// List 返回全部插件元数据，按 ID 排序。
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.pipeline.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Remove 注销插件并执行其清理逻辑。
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("插件 %s 未注册", id))
	}
	if err := e.pipeline.Cleanup(ctx); err != nil {
		r.log.Warn("插件清理失败", slog.String("pipeline_id", id), slog.Any("error", err))
	}
	return nil
}

// sources 返回来源路径到 ID 的映射，供加载器做增量同步。
func (r *Registry) sources() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.entries))
	for id, e := range r.entries {
		out[e.source] = id
	}
	return out
}
