package render

import (
	"strings"

	"github.com/go-pdf/fpdf"

	xerrors "ReportFlow/internal/errors"
)

var inlineMarkup = strings.NewReplacer("**", "", "__", "", "`", "", "*", "", "_", " ")

// WritePDF 把渲染后的 Markdown 文本排版为 A4 PDF 并写入磁盘。
// 支持标题、列表与段落；行内强调标记被移除。
func WritePDF(markdown, title, path string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 20, 18)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Helvetica", "B", 18)
		pdf.SetTextColor(17, 24, 39)
		pdf.MultiCell(0, 9, title, "", "L", false)
		pdf.SetDrawColor(59, 130, 246)
		pdf.SetLineWidth(0.8)
		x, y := pdf.GetX(), pdf.GetY()+1
		pdf.Line(x, y, x+174, y)
		pdf.Ln(6)
	}

	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimRight(raw, " \t")
		switch {
		case line == "":
			pdf.Ln(3)
		case strings.HasPrefix(line, "### "):
			writeHeading(pdf, strings.TrimPrefix(line, "### "), 12)
		case strings.HasPrefix(line, "## "):
			writeHeading(pdf, strings.TrimPrefix(line, "## "), 14)
		case strings.HasPrefix(line, "# "):
			writeHeading(pdf, strings.TrimPrefix(line, "# "), 16)
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			pdf.SetFont("Helvetica", "", 10.5)
			pdf.SetTextColor(31, 41, 55)
			pdf.MultiCell(0, 5.5, "  -  "+cleanInline(line[2:]), "", "L", false)
		case strings.HasPrefix(line, "|"):
			pdf.SetFont("Courier", "", 9)
			pdf.SetTextColor(55, 65, 81)
			pdf.MultiCell(0, 5, line, "", "L", false)
		default:
			pdf.SetFont("Helvetica", "", 10.5)
			pdf.SetTextColor(31, 41, 55)
			pdf.MultiCell(0, 5.5, cleanInline(line), "", "L", false)
		}
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return xerrors.Wrap(xerrors.CodeRenderFailure, err, "写入 PDF 失败")
	}
	return nil
}

func writeHeading(pdf *fpdf.Fpdf, text string, size float64) {
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", size)
	pdf.SetTextColor(17, 24, 39)
	pdf.MultiCell(0, size*0.5, cleanInline(text), "", "L", false)
	pdf.Ln(1)
}

func cleanInline(text string) string {
	return inlineMarkup.Replace(strings.TrimSpace(text))
}
