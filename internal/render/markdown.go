package render

import (
	"fmt"
	"html"

	"github.com/russross/blackfriday/v2"
)

// Fragment 将 Markdown 渲染为不带外壳的 HTML 片段。
func Fragment(markdown string) string {
	return string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions)))
}

// Document 将 HTML 片段包进带内嵌样式的完整页面。
func Document(fragment, title string) string {
	return fmt.Sprintf(documentShell, html.EscapeString(title), fragment)
}

const documentShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; color: #1f2937;
         max-width: 920px; margin: 0 auto; padding: 2rem 1.5rem; line-height: 1.6; }
  h1, h2, h3 { color: #111827; line-height: 1.25; }
  h1 { border-bottom: 3px solid #3b82f6; padding-bottom: .4rem; }
  h2 { border-bottom: 1px solid #e5e7eb; padding-bottom: .25rem; margin-top: 2rem; }
  table { border-collapse: collapse; width: 100%%; margin: 1rem 0; }
  th, td { border: 1px solid #e5e7eb; padding: .5rem .75rem; text-align: left; }
  th { background: #f3f4f6; }
  tr:nth-child(even) td { background: #f9fafb; }
  code { background: #f3f4f6; padding: .15rem .35rem; border-radius: 4px; font-size: .9em; }
  pre code { display: block; padding: 1rem; overflow-x: auto; }
  blockquote { border-left: 4px solid #3b82f6; margin: 1rem 0; padding: .25rem 1rem;
               color: #4b5563; background: #f8fafc; }
</style>
</head>
<body>
%s
</body>
</html>
`
