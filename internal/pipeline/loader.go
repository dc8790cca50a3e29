package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	goplugin "plugin"
	"sort"
	"strings"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/pkg/logger"
)

// Loader 扫描插件目录并把合格的流水线装入注册表。
// 加载是顺序且隔离的：单个插件失败只产生告警，不影响其余插件。
type Loader struct {
	dir          string
	manifestPath string
	log          *slog.Logger
	open         func(path string) (any, error)
}

// NewLoader 创建加载器。manifestPath 可为空。
func NewLoader(dir, manifestPath string) *Loader {
	return &Loader{
		dir:          dir,
		manifestPath: manifestPath,
		log:          logger.Named("pipeline_loader"),
		open:         openSymbol,
	}
}

// openSymbol 打开共享对象并取出 Pipeline 符号。
func openSymbol(path string) (any, error) {
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup("Pipeline")
	if err != nil {
		return nil, err
	}
	return symbol, nil
}

// Discover 返回目录下按文件名排序、且未被清单禁用的 .so 路径。
func (l *Loader) Discover() ([]string, error) {
	manifest, err := LoadManifest(l.manifestPath)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.so"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描插件目录失败")
	}
	var paths []string
	for _, path := range matches {
		name := filepath.Base(path)
		if !manifest.Enabled(name) {
			l.log.Info("插件被清单禁用，跳过", slog.String("file", name))
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadInto 把目录中的全部插件装入注册表，返回成功数量。
// 重复 ID 的插件在初始化之前就会被跳过并告警；
// 单个插件加载或初始化失败不会中断整体扫描。
func (l *Loader) LoadInto(ctx context.Context, reg *Registry) (int, error) {
	paths, err := l.Discover()
	if err != nil {
		return 0, err
	}
	manifest, err := LoadManifest(l.manifestPath)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, path := range paths {
		if l.loadOne(ctx, reg, manifest, path) {
			loaded++
		}
	}
	return loaded, nil
}

func (l *Loader) loadOne(ctx context.Context, reg *Registry, manifest *Manifest, path string) bool {
	file := filepath.Base(path)

	symbol, err := l.open(path)
	if err != nil {
		l.log.Warn("打开插件失败", slog.String("file", file), slog.Any("error", err))
		return false
	}

	p, ok := resolvePipeline(symbol)
	if !ok {
		missing := missingCapabilities(symbol)
		l.log.Warn("插件不满足契约，跳过",
			slog.String("file", file),
			slog.String("missing", strings.Join(missing, ", ")))
		return false
	}

	id := p.Info().ID
	if reg.Has(id) {
		l.log.Warn("插件 ID 重复，保留先注册者", slog.String("pipeline_id", id), slog.String("file", file))
		return false
	}

	if settings := manifest.Settings(file); len(settings) > 0 {
		if configurable, ok := p.(Configurable); ok {
			if err := configurable.Configure(settings); err != nil {
				l.log.Warn("插件配置失败，跳过", slog.String("pipeline_id", id), slog.Any("error", err))
				return false
			}
		}
	}

	if err := p.Initialize(ctx); err != nil {
		l.log.Warn("插件初始化失败，跳过", slog.String("pipeline_id", id), slog.Any("error", err))
		return false
	}
	if err := reg.Register(p, path); err != nil {
		l.log.Warn("插件注册失败", slog.String("pipeline_id", id), slog.Any("error", err))
		_ = p.Cleanup(ctx)
		return false
	}
	return true
}

// resolvePipeline 接受实现、指针或工厂函数三种符号形态。
func resolvePipeline(symbol any) (Pipeline, bool) {
	switch v := symbol.(type) {
	case Pipeline:
		return v, true
	case *Pipeline:
		if v == nil || *v == nil {
			return nil, false
		}
		return *v, true
	case func() Pipeline:
		return v(), true
	default:
		return nil, false
	}
}

// Sync 增量同步注册表与插件目录：装入新出现的文件，
// 注销来源文件已消失的插件。手工注册的实例不受影响。
func (l *Loader) Sync(ctx context.Context, reg *Registry) error {
	paths, err := l.Discover()
	if err != nil {
		return err
	}
	manifest, err := LoadManifest(l.manifestPath)
	if err != nil {
		return err
	}

	onDisk := make(map[string]bool, len(paths))
	registered := reg.sources()
	for _, path := range paths {
		onDisk[path] = true
		if _, ok := registered[path]; !ok {
			l.loadOne(ctx, reg, manifest, path)
		}
	}
	for source, id := range registered {
		if source == "manual" {
			continue
		}
		if !onDisk[source] {
			l.log.Info("插件文件已移除，注销", slog.String("pipeline_id", id))
			_ = reg.Remove(ctx, id)
		}
	}
	return nil
}
