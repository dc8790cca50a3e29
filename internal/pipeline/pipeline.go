package pipeline

import (
	"context"
	"fmt"
	"regexp"

	"ReportFlow/internal/bundle"
	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/spec"
)

// 生命周期契约违例对应的哨兵错误，调用方通过 errors.Is 判断。
var (
	ErrNotInitialized     = xerrors.New(xerrors.CodeNotInitialized, "流水线尚未初始化")
	ErrAlreadyInitialized = xerrors.New(xerrors.CodeAlreadyInitialized, "流水线已经初始化")
)

// Info 描述一个流水线插件的元数据。
type Info struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Description   string   `json:"description"`
	OutputFormats []string `json:"output_formats"`
	ReportTypes   []string `json:"report_types"`
}

// Pipeline 是流水线插件必须实现的完整契约。
type Pipeline interface {
	Info() Info
	Initialize(ctx context.Context) error
	Process(ctx context.Context, inputs map[string]any) (*bundle.Bundle, error)
	Specifications() spec.Map
	PromptsDir() string
	TemplatesDir() string
	Cleanup(ctx context.Context) error
}

// Configurable 是可选能力：插件可接收清单中的配置片段。
type Configurable interface {
	Configure(settings map[string]any) error
}

// FieldType 标识输入字段的类型。
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldEnum    FieldType = "enum"
)

// InputField 声明流水线接受的一个输入字段及其校验规则。
type InputField struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"`
	Description string    `json:"description,omitempty"`
}

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*(\.[a-z0-9]+(-[a-z0-9]+)*)+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// SupportsFormat 判断插件是否声明了指定输出格式。
func (i Info) SupportsFormat(format string) bool {
	for _, f := range i.OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// validate 对元数据做聚合校验，一次性报告全部问题。
func (i Info) validate() []string {
	var problems []string
	if i.ID == "" {
		problems = append(problems, "缺少 id")
	} else if !idPattern.MatchString(i.ID) {
		problems = append(problems, fmt.Sprintf("id %q 不符合 <ns>.<name> 小写格式", i.ID))
	}
	if i.Name == "" {
		problems = append(problems, "缺少 name")
	}
	if i.Version == "" {
		problems = append(problems, "缺少 version")
	} else if !versionPattern.MatchString(i.Version) {
		problems = append(problems, fmt.Sprintf("version %q 不是 MAJOR.MINOR.PATCH 形式", i.Version))
	}
	if len(i.OutputFormats) == 0 {
		problems = append(problems, "至少需要声明一种输出格式")
	}
	return problems
}
