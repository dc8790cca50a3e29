package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xerrors "ReportFlow/internal/errors"
)

const defaultMarker = ".default"

// Manager 管理磁盘上的档案目录：每个档案一个 JSON 文件，
// 默认档案名记录在 .default 标记文件中。
type Manager struct {
	dir string
}

// NewManager 创建档案管理器。
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) pathFor(name string) string {
	return filepath.Join(m.dir, name+".json")
}

// Save 持久化档案，覆盖同名文件。
func (m *Manager) Save(p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建档案目录失败")
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化档案失败")
	}
	if err := os.WriteFile(m.pathFor(p.Name), data, 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入档案失败")
	}
	return nil
}

// Load 读取指定档案。
func (m *Manager) Load(name string) (*Profile, error) {
	data, err := os.ReadFile(m.pathFor(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("档案 %s 不存在", name))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取档案失败")
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析档案失败")
	}
	return &p, nil
}

// List 返回全部档案，按名称排序。
func (m *Manager) List() ([]Profile, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*.json"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描档案目录失败")
	}
	var profiles []Profile
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		p, err := m.Load(name)
		if err != nil {
			continue
		}
		profiles = append(profiles, *p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// Delete 删除档案；若删除的是默认档案，同时清除默认标记。
func (m *Manager) Delete(name string) error {
	if err := os.Remove(m.pathFor(name)); err != nil {
		if os.IsNotExist(err) {
			return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("档案 %s 不存在", name))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除档案失败")
	}
	if current, _ := m.defaultName(); current == name {
		_ = os.Remove(filepath.Join(m.dir, defaultMarker))
	}
	return nil
}

// Use 将指定档案设为默认。
func (m *Manager) Use(name string) error {
	if _, err := m.Load(name); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.dir, defaultMarker), []byte(name), 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入默认档案标记失败")
	}
	return nil
}

func (m *Manager) defaultName() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, defaultMarker))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Default 返回默认档案。未设置默认且目录中只有一份档案时返回它。
func (m *Manager) Default() (*Profile, error) {
	if name, err := m.defaultName(); err == nil && name != "" {
		return m.Load(name)
	}
	profiles, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(profiles) == 1 {
		return &profiles[0], nil
	}
	return nil, xerrors.New(xerrors.CodeNotFound, "未设置默认档案")
}
