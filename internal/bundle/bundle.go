package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	xerrors "ReportFlow/internal/errors"
)

// MainSample 是主数据集合在 Samples 中的固定键名。
const MainSample = "main"

// Metadata 描述数据包的来源与规模。Extra 承载插件自定义的元数据键
// （如 reportTitle、author），序列化时与固定字段平铺在同一层。
type Metadata struct {
	TotalRecords  int            `json:"totalRecords"`
	IngestedAt    time.Time      `json:"ingestedAt"`
	Source        string         `json:"source"`
	PluginID      string         `json:"pluginId,omitempty"`
	PluginVersion string         `json:"pluginVersion,omitempty"`
	Extra         map[string]any `json:"-"`
}

// Get 返回自定义元数据键对应的字符串值，不存在或非字符串时返回空串。
func (m Metadata) Get(key string) string {
	if v, ok := m.Extra[key].(string); ok {
		return v
	}
	return ""
}

// MarshalJSON 将 Extra 与固定字段平铺输出，固定字段优先。
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["totalRecords"] = m.TotalRecords
	out["ingestedAt"] = m.IngestedAt
	out["source"] = m.Source
	if m.PluginID != "" {
		out["pluginId"] = m.PluginID
	}
	if m.PluginVersion != "" {
		out["pluginVersion"] = m.PluginVersion
	}
	return json.Marshal(out)
}

// UnmarshalJSON 把未知键收进 Extra。
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	var fixed plain
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range []string{"totalRecords", "ingestedAt", "source", "pluginId", "pluginVersion"} {
		delete(raw, key)
	}
	if len(raw) > 0 {
		fixed.Extra = raw
	}
	*m = Metadata(fixed)
	return nil
}

// Bundle 是流水线处理的产物：自描述的数据包，
// 供报告引擎的提示词与模板消费。
type Bundle struct {
	DatasetName string                      `json:"datasetName"`
	Samples     map[string][]map[string]any `json:"samples"`
	Stats       map[string]any              `json:"stats"`
	Metadata    Metadata                    `json:"metadata"`
}

// Main 返回主数据集合，不存在时返回 nil。
func (b *Bundle) Main() []map[string]any {
	if b == nil || b.Samples == nil {
		return nil
	}
	return b.Samples[MainSample]
}

// Validate 对数据包做结构校验，所有问题聚合在一个错误中返回。
func (b *Bundle) Validate() error {
	if b == nil {
		return xerrors.New(xerrors.CodeBundleInvalid, "数据包为空")
	}
	var problems []string
	if b.DatasetName == "" {
		problems = append(problems, "缺少 datasetName")
	}
	if b.Samples == nil {
		problems = append(problems, "缺少 samples")
	} else if _, ok := b.Samples[MainSample]; !ok {
		problems = append(problems, "samples 缺少 main 集合")
	}
	if main := b.Main(); b.Samples != nil && b.Metadata.TotalRecords != len(main) {
		problems = append(problems, fmt.Sprintf("metadata.totalRecords=%d 与 main 集合长度 %d 不一致",
			b.Metadata.TotalRecords, len(main)))
	}
	if err := xerrors.Aggregate("数据包校验失败", problems); err != nil {
		return xerrors.Wrap(xerrors.CodeBundleInvalid, err, "数据包校验失败")
	}
	return nil
}

// TemplateContext 将数据包展开为模板渲染上下文：
// 每个样本集合以自身名字可见，另附 stats、metadata 与 datasetName。
func (b *Bundle) TemplateContext() map[string]any {
	ctx := make(map[string]any)
	if b == nil {
		return ctx
	}
	for name, records := range b.Samples {
		ctx[name] = records
	}
	ctx["stats"] = b.Stats
	ctx["datasetName"] = b.DatasetName
	meta := make(map[string]any, len(b.Metadata.Extra)+5)
	for k, v := range b.Metadata.Extra {
		meta[k] = v
	}
	meta["totalRecords"] = b.Metadata.TotalRecords
	meta["ingestedAt"] = b.Metadata.IngestedAt
	meta["source"] = b.Metadata.Source
	meta["pluginId"] = b.Metadata.PluginID
	meta["pluginVersion"] = b.Metadata.PluginVersion
	ctx["metadata"] = meta
	return ctx
}

// Save 将数据包序列化为 JSON 写入磁盘。
func Save(path string, b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据包目录失败")
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeBundleInvalid, err, "序列化数据包失败")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入数据包失败")
	}
	return nil
}

// Load 从磁盘读取数据包并完成结构校验。
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取数据包失败")
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBundleInvalid, err, "解析数据包失败")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
