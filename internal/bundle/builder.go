package bundle

import (
	"time"

	xerrors "ReportFlow/internal/errors"
)

// Builder 以链式方式构建数据包，Build 时统一补齐元数据并保证
// totalRecords 与主集合长度一致。
type Builder struct {
	bundle Bundle
}

// NewBuilder 创建一个空白构建器。
func NewBuilder() *Builder {
	return &Builder{
		bundle: Bundle{
			Samples: make(map[string][]map[string]any),
			Stats:   make(map[string]any),
		},
	}
}

// WithDatasetName 设置数据集名称。
func (bd *Builder) WithDatasetName(name string) *Builder {
	bd.bundle.DatasetName = name
	return bd
}

// WithRecords 设置主数据集合。
func (bd *Builder) WithRecords(records []map[string]any) *Builder {
	bd.bundle.Samples[MainSample] = records
	return bd
}

// WithSample 设置具名样本集合。
func (bd *Builder) WithSample(name string, records []map[string]any) *Builder {
	bd.bundle.Samples[name] = records
	return bd
}

// WithStats 合并统计指标。
func (bd *Builder) WithStats(stats map[string]any) *Builder {
	for k, v := range stats {
		bd.bundle.Stats[k] = v
	}
	return bd
}

// WithStat 设置单个统计指标。
func (bd *Builder) WithStat(key string, value any) *Builder {
	bd.bundle.Stats[key] = value
	return bd
}

// WithSource 设置数据来源描述。
func (bd *Builder) WithSource(source string) *Builder {
	bd.bundle.Metadata.Source = source
	return bd
}

// WithMetadata 设置自定义元数据键，报告引擎在解析标题、作者等
// 字段时会查询这些键。
func (bd *Builder) WithMetadata(key string, value any) *Builder {
	if bd.bundle.Metadata.Extra == nil {
		bd.bundle.Metadata.Extra = make(map[string]any)
	}
	bd.bundle.Metadata.Extra[key] = value
	return bd
}

// WithPluginInfo 记录产出数据包的插件身份。
func (bd *Builder) WithPluginInfo(id, version string) *Builder {
	bd.bundle.Metadata.PluginID = id
	bd.bundle.Metadata.PluginVersion = version
	return bd
}

// Build 补齐元数据并返回校验通过的数据包。
// 未设置数据集名称时返回错误。
func (bd *Builder) Build() (*Bundle, error) {
	if bd.bundle.DatasetName == "" {
		return nil, xerrors.New(xerrors.CodeBundleInvalid, "构建数据包前必须设置 datasetName")
	}
	if bd.bundle.Samples[MainSample] == nil {
		bd.bundle.Samples[MainSample] = []map[string]any{}
	}
	if bd.bundle.Metadata.Source == "" {
		bd.bundle.Metadata.Source = "unknown"
	}
	bd.bundle.Metadata.TotalRecords = len(bd.bundle.Samples[MainSample])
	bd.bundle.Metadata.IngestedAt = time.Now().UTC()

	result := bd.bundle
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}
