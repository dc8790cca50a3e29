package ingest

import (
	"fmt"
	"sort"
	"strconv"
)

// Frequency 统计指定字段各取值出现的次数。
func Frequency(records []map[string]any, field string) map[string]int {
	freq := make(map[string]int)
	for _, record := range records {
		v, ok := record[field]
		if !ok || v == nil {
			continue
		}
		freq[fmt.Sprintf("%v", v)]++
	}
	return freq
}

// Entry 是排序后的统计条目。
type Entry struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// TopN 返回频次最高的前 n 个取值，按频次降序、同频按键名升序。
func TopN(freq map[string]int, n int) []Entry {
	entries := make([]Entry, 0, len(freq))
	for k, v := range freq {
		entries = append(entries, Entry{Key: k, Value: float64(v)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].Key < entries[j].Key
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Sum 累加指定字段的数值，无法解析的值按 0 处理。
func Sum(records []map[string]any, field string) float64 {
	var total float64
	for _, record := range records {
		total += ToFloat(record[field])
	}
	return total
}

// Average 计算指定字段的平均值，空集合返回 0。
func Average(records []map[string]any, field string) float64 {
	if len(records) == 0 {
		return 0
	}
	return Sum(records, field) / float64(len(records))
}

// Median 计算指定字段的中位数，空集合返回 0。
func Median(records []map[string]any, field string) float64 {
	if len(records) == 0 {
		return 0
	}
	values := make([]float64, 0, len(records))
	for _, record := range records {
		values = append(values, ToFloat(record[field]))
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}

// GroupBy 按指定字段的取值对记录分组。
func GroupBy(records []map[string]any, field string) map[string][]map[string]any {
	groups := make(map[string][]map[string]any)
	for _, record := range records {
		key := fmt.Sprintf("%v", record[field])
		groups[key] = append(groups[key], record)
	}
	return groups
}

// CountBy 按指定字段的取值计数，等价于 Frequency 但保留语义别名。
func CountBy(records []map[string]any, field string) map[string]int {
	return Frequency(records, field)
}

// ToFloat 宽松地把任意值转换为 float64，失败返回 0。
func ToFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}
