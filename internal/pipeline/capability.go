package pipeline

import "reflect"

// requiredCapabilities 是鸭子类型检查使用的方法清单：
// 缺少任意一个的符号都会被拒绝，并在告警中列出缺失项。
var requiredCapabilities = []string{
	"Info",
	"Initialize",
	"Process",
	"Specifications",
	"PromptsDir",
	"TemplatesDir",
	"Cleanup",
}

// missingCapabilities 返回 value 缺失的方法名，满足契约时返回空切片。
func missingCapabilities(value any) []string {
	if value == nil {
		return append([]string(nil), requiredCapabilities...)
	}
	t := reflect.TypeOf(value)
	var missing []string
	for _, name := range requiredCapabilities {
		if _, ok := t.MethodByName(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
