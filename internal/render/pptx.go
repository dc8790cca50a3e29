package render

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"strings"

	"ReportFlow/internal/bundle"
	xerrors "ReportFlow/internal/errors"
)

// PPTX 输出不经过文本模板，直接从数据包构建三页演示文稿：
// 标题页、统计指标页（至多 6 个指标卡）、数据表页（至多 10 行）。
const (
	pptxMaxStats     = 6
	pptxMaxTableRows = 10
	pptxMaxTableCols = 5

	emuSlideWidth  = 12192000
	emuSlideHeight = 6858000
)

// WritePPTX 从数据包生成演示文稿并写入磁盘。
func WritePPTX(b *bundle.Bundle, title, author, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRenderFailure, err, "创建 PPTX 文件失败")
	}
	defer file.Close()

	zw := zip.NewWriter(file)
	slides := []string{
		titleSlide(title, author, b),
		statsSlide(b),
		tableSlide(b),
	}

	parts := map[string]string{
		"[Content_Types].xml":                       contentTypes(len(slides)),
		"_rels/.rels":                               rootRels,
		"ppt/presentation.xml":                      presentationXML(len(slides)),
		"ppt/_rels/presentation.xml.rels":           presentationRels(len(slides)),
		"ppt/slideMasters/slideMaster1.xml":         slideMasterXML,
		"ppt/slideMasters/_rels/slideMaster1.xml.rels": slideMasterRels,
		"ppt/slideLayouts/slideLayout1.xml":         slideLayoutXML,
		"ppt/slideLayouts/_rels/slideLayout1.xml.rels": slideLayoutRels,
	}
	for i, slideXML := range slides {
		parts[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] = slideXML
		parts[fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", i+1)] = slideRels
	}

	names := make([]string, 0, len(parts))
	for name := range parts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeRenderFailure, err, "写入 PPTX 分片失败")
		}
		if _, err := w.Write([]byte(parts[name])); err != nil {
			return xerrors.Wrap(xerrors.CodeRenderFailure, err, "写入 PPTX 分片失败")
		}
	}
	if err := zw.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeRenderFailure, err, "关闭 PPTX 文件失败")
	}
	return nil
}

func esc(s string) string {
	var buf strings.Builder
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// textBox 生成一个定位文本框。坐标与尺寸均为 EMU。
func textBox(id int, x, y, w, h int, text, color string, size int, bold bool) string {
	b := "0"
	if bold {
		b = "1"
	}
	return fmt.Sprintf(`<p:sp><p:nvSpPr><p:cNvPr id="%d" name="TextBox %d"/><p:cNvSpPr txBox="1"/><p:nvPr/></p:nvSpPr>`+
		`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm>`+
		`<a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr>`+
		`<p:txBody><a:bodyPr wrap="square"/><a:lstStyle/><a:p><a:r>`+
		`<a:rPr lang="en-US" sz="%d" b="%s" dirty="0"><a:solidFill><a:srgbClr val="%s"/></a:solidFill></a:rPr>`+
		`<a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>`,
		id, id, x, y, w, h, size*100, b, color, esc(text))
}

// colorRect 生成一个纯色矩形。
func colorRect(id int, x, y, w, h int, color string) string {
	return fmt.Sprintf(`<p:sp><p:nvSpPr><p:cNvPr id="%d" name="Rect %d"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>`+
		`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm>`+
		`<a:prstGeom prst="rect"><a:avLst/></a:prstGeom>`+
		`<a:solidFill><a:srgbClr val="%s"/></a:solidFill></p:spPr>`+
		`<p:txBody><a:bodyPr/><a:lstStyle/><a:p/></p:txBody></p:sp>`,
		id, id, x, y, w, h, color)
}

func slideShell(shapes ...string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
		` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
		` xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
		`<p:cSld><p:spTree><p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>` +
		`<p:grpSpPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="0" cy="0"/>` +
		`<a:chOff x="0" y="0"/><a:chExt cx="0" cy="0"/></a:xfrm></p:grpSpPr>` +
		strings.Join(shapes, "") +
		`</p:spTree></p:cSld><p:clrMapOvr><a:overrideClrMapping bg1="lt1" tx1="dk1" bg2="lt2" tx2="dk2"` +
		` accent1="accent1" accent2="accent2" accent3="accent3" accent4="accent4" accent5="accent5"` +
		` accent6="accent6" hlink="hlink" folHlink="folHlink"/></p:clrMapOvr></p:sld>`
}

func titleSlide(title, author string, b *bundle.Bundle) string {
	subtitle := fmt.Sprintf("%s - %d records", b.DatasetName, b.Metadata.TotalRecords)
	return slideShell(
		colorRect(2, 0, 0, emuSlideWidth, emuSlideHeight, "3B82F6"),
		textBox(3, 914400, 2400000, emuSlideWidth-1828800, 1000000, title, "FFFFFF", 40, true),
		textBox(4, 914400, 3500000, emuSlideWidth-1828800, 600000, subtitle, "DBEAFE", 20, false),
		textBox(5, 914400, 5600000, emuSlideWidth-1828800, 400000, author, "BFDBFE", 14, false),
	)
}

// statsSlide 以 3 列网格摆放统计指标卡。
func statsSlide(b *bundle.Bundle) string {
	shapes := []string{
		textBox(2, 685800, 365760, emuSlideWidth-1371600, 600000, "Key Metrics", "111827", 28, true),
	}

	keys := make([]string, 0, len(b.Stats))
	for k, v := range b.Stats {
		switch v.(type) {
		case map[string]any, []any, []map[string]any:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > pptxMaxStats {
		keys = keys[:pptxMaxStats]
	}

	const (
		tileW = 3474720
		tileH = 1600200
		gapX  = 274320
		gapY  = 274320
		left  = 685800
		top   = 1280160
	)
	id := 3
	for i, key := range keys {
		col, row := i%3, i/3
		x := left + col*(tileW+gapX)
		y := top + row*(tileH+gapY)
		shapes = append(shapes,
			colorRect(id, x, y, tileW, tileH, "EFF6FF"),
			textBox(id+1, x+182880, y+182880, tileW-365760, 500000, fmt.Sprintf("%v", b.Stats[key]), "1D4ED8", 26, true),
			textBox(id+2, x+182880, y+830000, tileW-365760, 400000, key, "6B7280", 13, false),
		)
		id += 3
	}
	return slideShell(shapes...)
}

// tableSlide 以等宽列呈现主集合的前若干行。
func tableSlide(b *bundle.Bundle) string {
	records := b.Main()
	shapes := []string{
		textBox(2, 685800, 365760, emuSlideWidth-1371600, 600000, "Data Sample", "111827", 28, true),
	}
	if len(records) == 0 {
		shapes = append(shapes, textBox(3, 685800, 1280160, emuSlideWidth-1371600, 500000, "No records available", "6B7280", 16, false))
		return slideShell(shapes...)
	}

	cols := make([]string, 0, pptxMaxTableCols)
	for k := range records[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	if len(cols) > pptxMaxTableCols {
		cols = cols[:pptxMaxTableCols]
	}
	if len(records) > pptxMaxTableRows {
		records = records[:pptxMaxTableRows]
	}

	const (
		left = 685800
		top  = 1280160
		rowH = 420000
	)
	colW := (emuSlideWidth - 2*left) / len(cols)

	id := 3
	for c, name := range cols {
		x := left + c*colW
		shapes = append(shapes,
			colorRect(id, x, top, colW, rowH, "1E40AF"),
			textBox(id+1, x+91440, top+50000, colW-182880, rowH-100000, name, "FFFFFF", 12, true),
		)
		id += 2
	}
	for r, record := range records {
		y := top + (r+1)*rowH
		bg := "FFFFFF"
		if r%2 == 1 {
			bg = "F3F4F6"
		}
		for c, name := range cols {
			x := left + c*colW
			shapes = append(shapes,
				colorRect(id, x, y, colW, rowH, bg),
				textBox(id+1, x+91440, y+50000, colW-182880, rowH-100000, fmt.Sprintf("%v", record[name]), "374151", 11, false),
			)
			id += 2
		}
	}
	return slideShell(shapes...)
}

func contentTypes(slides int) string {
	var overrides strings.Builder
	for i := 1; i <= slides; i++ {
		fmt.Fprintf(&overrides,
			`<Override PartName="/ppt/slides/slide%d.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slide+xml"/>`, i)
	}
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
		`<Default Extension="xml" ContentType="application/xml"/>` +
		`<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>` +
		`<Override PartName="/ppt/slideMasters/slideMaster1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slideMaster+xml"/>` +
		`<Override PartName="/ppt/slideLayouts/slideLayout1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slideLayout+xml"/>` +
		overrides.String() +
		`</Types>`
}

const rootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="ppt/presentation.xml"/>` +
	`</Relationships>`

func presentationXML(slides int) string {
	var ids strings.Builder
	for i := 1; i <= slides; i++ {
		fmt.Fprintf(&ids, `<p:sldId id="%d" r:id="rId%d"/>`, 255+i, i+1)
	}
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<p:presentation xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
		` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
		` xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
		`<p:sldMasterIdLst><p:sldMasterId id="2147483648" r:id="rId1"/></p:sldMasterIdLst>` +
		`<p:sldIdLst>` + ids.String() + `</p:sldIdLst>` +
		fmt.Sprintf(`<p:sldSz cx="%d" cy="%d"/><p:notesSz cx="%d" cy="%d"/>`,
			emuSlideWidth, emuSlideHeight, emuSlideHeight, emuSlideWidth) +
		`</p:presentation>`
}

func presentationRels(slides int) string {
	var rels strings.Builder
	rels.WriteString(`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>`)
	for i := 1; i <= slides; i++ {
		fmt.Fprintf(&rels,
			`<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`, i+1, i)
	}
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
		rels.String() + `</Relationships>`
}

const slideMasterXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<p:sldMaster xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
	` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
	` xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
	`<p:cSld><p:spTree><p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>` +
	`<p:grpSpPr/></p:spTree></p:cSld>` +
	`<p:clrMap bg1="lt1" tx1="dk1" bg2="lt2" tx2="dk2" accent1="accent1" accent2="accent2"` +
	` accent3="accent3" accent4="accent4" accent5="accent5" accent6="accent6" hlink="hlink" folHlink="folHlink"/>` +
	`<p:sldLayoutIdLst><p:sldLayoutId id="2147483649" r:id="rId1"/></p:sldLayoutIdLst>` +
	`</p:sldMaster>`

const slideMasterRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>` +
	`</Relationships>`

const slideLayoutXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<p:sldLayout xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
	` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
	` xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" type="blank">` +
	`<p:cSld><p:spTree><p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>` +
	`<p:grpSpPr/></p:spTree></p:cSld>` +
	`<p:clrMapOvr><a:masterClrMapping/></p:clrMapOvr></p:sldLayout>`

const slideLayoutRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="../slideMasters/slideMaster1.xml"/>` +
	`</Relationships>`

const slideRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>` +
	`</Relationships>`
