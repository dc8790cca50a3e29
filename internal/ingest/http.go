package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	xerrors "ReportFlow/internal/errors"
)

const fetchUserAgent = "ReportFlow/1.0"

// FetchOptions 控制远端数据抓取的超时与重试。
type FetchOptions struct {
	Timeout time.Duration
	Retries int
	Headers map[string]string
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	return o
}

// FetchJSON 抓取远端 JSON 数组并解析为记录切片。
// 失败时按固定间隔重试，重试耗尽后返回最后一次错误。
func FetchJSON(ctx context.Context, url string, opts FetchOptions) ([]map[string]any, error) {
	opts = opts.withDefaults()
	client := &http.Client{Timeout: opts.Timeout}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
		records, err := fetchOnce(ctx, client, url, opts.Headers)
		if err == nil {
			return records, nil
		}
		lastErr = err
	}
	return nil, xerrors.Wrap(xerrors.CodeQueueFailure, lastErr, "抓取远端数据失败",
		xerrors.WithMetadata("url", url))
}

func fetchOnce(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var records []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
