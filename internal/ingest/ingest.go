package ingest

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"

	xerrors "ReportFlow/internal/errors"
)

// ReadCSV 读取带表头的 CSV 文件，每行映射为 列名→值 的记录。
func ReadCSV(path string) ([]map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 CSV 文件失败")
	}
	defer file.Close()
	return ParseCSV(file)
}

// ParseCSV 从流解析 CSV。首行作为表头，空文件返回空切片。
func ParseCSV(r io.Reader) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "解析 CSV 表头失败")
	}

	var records []map[string]any
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeValidation, err, "解析 CSV 行失败")
		}
		record := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		records = append(records, record)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return records, nil
}

// ReadJSON 读取 JSON 数组文件为记录切片。
func ReadJSON(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 JSON 文件失败")
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "解析 JSON 记录失败")
	}
	return records, nil
}
