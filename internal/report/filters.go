package report

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"

	"ReportFlow/internal/ingest"
)

// registerFilters 注册报告模板的自定义过滤器集。
// safe/slice/title 覆盖内置实现，其余为新增；整个进程注册一次。
var registerFilters = sync.OnceFunc(func() {
	_ = pongo2.ReplaceFilter("safe", filterSafe)
	_ = pongo2.ReplaceFilter("slice", filterSlice)
	_ = pongo2.ReplaceFilter("title", filterTitle)
	_ = pongo2.RegisterFilter("json", filterJSON)
	_ = pongo2.RegisterFilter("truncate", filterTruncate)
	_ = pongo2.RegisterFilter("number_format", filterNumberFormat)
	_ = pongo2.RegisterFilter("round", filterRound)
	_ = pongo2.RegisterFilter("top_entries", filterTopEntries)
	_ = pongo2.RegisterFilter("percent", filterPercent)
	_ = pongo2.RegisterFilter("date_format", filterDateFormat)
	_ = pongo2.RegisterFilter("currency", filterCurrency)
})

func filterJSON(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	encoded, err := json.MarshalIndent(in.Interface(), "", "  ")
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:json", OrigError: err}
	}
	return pongo2.AsSafeValue(string(encoded)), nil
}

func filterSafe(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsSafeValue(in.String()), nil
}

func filterTruncate(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	limit := param.Integer()
	if limit <= 0 {
		limit = 255
	}
	text := in.String()
	runes := []rune(text)
	if len(runes) <= limit {
		return pongo2.AsValue(text), nil
	}
	return pongo2.AsValue(string(runes[:limit]) + "..."), nil
}

// filterNumberFormat 按千分位格式化数字，参数为小数位数。
func filterNumberFormat(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	decimals := 0
	if param != nil && !param.IsNil() {
		decimals = param.Integer()
	}
	return pongo2.AsValue(formatThousands(ingest.ToFloat(in.Interface()), decimals)), nil
}

func filterRound(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	digits := 0
	if param != nil && !param.IsNil() {
		digits = param.Integer()
	}
	factor := math.Pow10(digits)
	rounded := math.Round(ingest.ToFloat(in.Interface())*factor) / factor
	if digits <= 0 {
		return pongo2.AsValue(int64(rounded)), nil
	}
	// pongo2 以 %f 打印 float64，固定小数位需要自行格式化。
	return pongo2.AsValue(strconv.FormatFloat(rounded, 'f', digits, 64)), nil
}

// filterSlice 支持整数（取前 n 条）或 "a:b" 区间两种参数形态。
func filterSlice(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	length := in.Len()
	start, end := 0, length
	if param != nil && !param.IsNil() {
		if raw := param.String(); strings.Contains(raw, ":") {
			parts := strings.SplitN(raw, ":", 2)
			if v, err := strconv.Atoi(parts[0]); err == nil {
				start = v
			}
			if v, err := strconv.Atoi(parts[1]); err == nil {
				end = v
			}
		} else {
			end = param.Integer()
		}
	}
	if start < 0 {
		start = 0
	}
	if end > length {
		end = length
	}
	if start >= end {
		return pongo2.AsValue([]any{}), nil
	}
	return in.Slice(start, end), nil
}

// filterTopEntries 把 键→数值 的映射转换为按值降序的条目列表，
// 参数限制条数。
func filterTopEntries(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	limit := 0
	if param != nil && !param.IsNil() {
		limit = param.Integer()
	}

	var entries []ingest.Entry
	switch m := in.Interface().(type) {
	case map[string]int:
		entries = ingest.TopN(m, limit)
	case map[string]any:
		raw := make([]ingest.Entry, 0, len(m))
		for k, v := range m {
			raw = append(raw, ingest.Entry{Key: k, Value: ingest.ToFloat(v)})
		}
		sort.Slice(raw, func(i, j int) bool {
			if raw[i].Value != raw[j].Value {
				return raw[i].Value > raw[j].Value
			}
			return raw[i].Key < raw[j].Key
		})
		if limit > 0 && len(raw) > limit {
			raw = raw[:limit]
		}
		entries = raw
	default:
		entries = []ingest.Entry{}
	}
	return pongo2.AsValue(entries), nil
}

func filterTitle(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	words := strings.Fields(strings.ToLower(in.String()))
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
	}
	return pongo2.AsValue(strings.Join(words, " ")), nil
}

// filterPercent 把比值渲染为百分比，参数为小数位数，默认 1。
func filterPercent(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	decimals := 1
	if param != nil && !param.IsNil() {
		decimals = param.Integer()
	}
	value := ingest.ToFloat(in.Interface()) * 100
	return pongo2.AsValue(strconv.FormatFloat(value, 'f', decimals, 64) + "%"), nil
}

// filterDateFormat 支持 short/long/iso 三种风格，默认 short。
func filterDateFormat(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	style := "short"
	if param != nil && !param.IsNil() {
		style = param.String()
	}
	t, ok := asTime(in.Interface())
	if !ok {
		return pongo2.AsValue(in.String()), nil
	}
	switch style {
	case "long":
		return pongo2.AsValue(t.Format("January 2, 2006 15:04")), nil
	case "iso":
		return pongo2.AsValue(t.UTC().Format(time.RFC3339)), nil
	default:
		return pongo2.AsValue(t.Format("2006-01-02")), nil
	}
}

// filterCurrency 以货币符号加千分位渲染金额，参数为符号，默认 $。
func filterCurrency(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	symbol := "$"
	if param != nil && !param.IsNil() && param.String() != "" {
		symbol = param.String()
	}
	value := ingest.ToFloat(in.Interface())
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return pongo2.AsValue(sign + symbol + formatThousands(value, 2)), nil
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func formatThousands(value float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	text := strconv.FormatFloat(value, 'f', decimals, 64)
	sign := ""
	if strings.HasPrefix(text, "-") {
		sign = "-"
		text = text[1:]
	}
	intPart, fracPart := text, ""
	if i := strings.IndexByte(text, '.'); i >= 0 {
		intPart, fracPart = text[:i], text[i:]
	}
	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)
	return sign + strings.Join(groups, ",") + fracPart
}
