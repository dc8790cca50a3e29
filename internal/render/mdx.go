package render

import (
	"regexp"
	"strings"
)

var (
	esmLine      = regexp.MustCompile(`^\s*(import|export)\s`)
	jsxComponent = regexp.MustCompile(`</?[A-Z][A-Za-z0-9]*(\s[^<>]*)?/?>`)
	jsxExpr      = regexp.MustCompile(`^\s*\{[^{}]*\}\s*$`)
)

// StripMDX 去掉 MDX 文本中的 ESM 语句、JSX 组件标签与独立表达式行，
// 剩余部分即普通 Markdown。
func StripMDX(mdx string) string {
	lines := strings.Split(mdx, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if esmLine.MatchString(line) || jsxExpr.MatchString(line) {
			continue
		}
		kept = append(kept, jsxComponent.ReplaceAllString(line, ""))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// CompileMDX 把 MDX 文本编译为 HTML。styled 为 false 时返回
// 无样式片段，用于提示词预渲染；为 true 时返回完整页面。
func CompileMDX(mdx, title string, styled bool) string {
	fragment := Fragment(StripMDX(mdx))
	if !styled {
		return fragment
	}
	return Document(fragment, title)
}
