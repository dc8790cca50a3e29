package pipeline

import (
	"os"

	"gopkg.in/yaml.v3"

	xerrors "ReportFlow/internal/errors"
)

// Manifest 是插件目录的可选清单，按 .so 文件名控制启停并传递配置。
type Manifest struct {
	Pipelines map[string]ManifestEntry `yaml:"pipelines"`
}

// ManifestEntry 描述单个插件文件的加载策略。
type ManifestEntry struct {
	Enabled  *bool          `yaml:"enabled"`
	Settings map[string]any `yaml:"settings"`
}

// LoadManifest 解析 YAML 清单。路径为空或文件不存在时返回空清单，
// 即默认全部启用。
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{Pipelines: map[string]ManifestEntry{}}
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取插件清单失败")
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "解析插件清单失败")
	}
	if m.Pipelines == nil {
		m.Pipelines = map[string]ManifestEntry{}
	}
	return m, nil
}

// Enabled 判断指定插件文件是否允许加载。
func (m *Manifest) Enabled(file string) bool {
	if m == nil {
		return true
	}
	entry, ok := m.Pipelines[file]
	if !ok || entry.Enabled == nil {
		return true
	}
	return *entry.Enabled
}

// Settings 返回指定插件文件的配置片段。
func (m *Manifest) Settings(file string) map[string]any {
	if m == nil {
		return nil
	}
	return m.Pipelines[file].Settings
}
