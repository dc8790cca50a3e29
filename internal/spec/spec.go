package spec

import (
	"fmt"

	xerrors "ReportFlow/internal/errors"
)

// TemplateType 标识最终模板的方言。
type TemplateType string

const (
	TemplateNJK TemplateType = "njk"
	TemplateMDX TemplateType = "mdx"
)

// Input 声明一个具名数据文件。
type Input struct {
	Path string `json:"path" yaml:"path"`
	Name string `json:"name" yaml:"name"`
}

// Prompt 声明一个提示词模板及其可见的输入名。
type Prompt struct {
	File   string   `json:"file" yaml:"file"`
	Name   string   `json:"name" yaml:"name"`
	Inputs []string `json:"inputs" yaml:"inputs"`
}

// Template 指定报告的最终模板文件。
type Template struct {
	File string       `json:"file" yaml:"file"`
	Type TemplateType `json:"type" yaml:"type"`
}

// Specification 描述一种报告类型的完整生成方案：
// 输入数据、提示词序列与最终模板。
type Specification struct {
	Inputs   []Input  `json:"inputs" yaml:"inputs"`
	Prompts  []Prompt `json:"prompts" yaml:"prompts"`
	Template Template `json:"template" yaml:"template"`
}

// Map 按报告类型索引规格。
type Map map[string]Specification

// Validate 对规格做结构校验，所有问题聚合返回。
// 提示词引用未声明的输入不是错误：引擎会以空集合兜底。
func (s Specification) Validate() error {
	var problems []string
	for i, in := range s.Inputs {
		if in.Name == "" {
			problems = append(problems, fmt.Sprintf("inputs[%d] 缺少 name", i))
		}
		if in.Path == "" {
			problems = append(problems, fmt.Sprintf("inputs[%d] 缺少 path", i))
		}
	}
	for i, p := range s.Prompts {
		if p.File == "" {
			problems = append(problems, fmt.Sprintf("prompts[%d] 缺少 file", i))
		}
		if p.Name == "" {
			problems = append(problems, fmt.Sprintf("prompts[%d] 缺少 name", i))
		}
	}
	if s.Template.File == "" {
		problems = append(problems, "template 缺少 file")
	}
	switch s.Template.Type {
	case TemplateNJK, TemplateMDX:
	default:
		problems = append(problems, fmt.Sprintf("template.type %q 不受支持", s.Template.Type))
	}
	return xerrors.Aggregate("规格校验失败", problems)
}

// Validate 校验全部报告类型的规格。
func (m Map) Validate() error {
	var problems []string
	for reportType, s := range m {
		if err := s.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", reportType, err))
		}
	}
	return xerrors.Aggregate("规格集合校验失败", problems)
}
