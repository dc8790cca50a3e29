package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/llm"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModelName = "gemini-1.5-flash"
	defaultTimeout   = 60 * time.Second
)

// Client 调用 Google Gemini 的 generateContent 接口。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient 根据配置创建 Gemini 客户端。
func NewClient(cfg llm.Config) (*Client, error) {
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 Gemini API Key")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Complete 发送生成请求并拼接全部候选文本。
func (c *Client) Complete(ctx context.Context, prompt string) (*llm.Response, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": prompt}}},
		},
	}
	if c.maxTokens > 0 {
		body["generationConfig"] = map[string]any{"maxOutputTokens": c.maxTokens}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "序列化 Gemini 请求失败")
	}

	endpoint := c.baseURL + "/models/" + c.model + ":generateContent?key=" + c.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "构建 Gemini 请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "请求 Gemini 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.Newf(xerrors.CodeLLMFailure,
			"Gemini 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "解析 Gemini 响应失败")
	}
	if len(decoded.Candidates) == 0 {
		return nil, xerrors.New(xerrors.CodeLLMFailure, "Gemini 响应中没有候选内容")
	}

	var builder strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		builder.WriteString(part.Text)
	}

	return &llm.Response{
		Content: strings.TrimSpace(builder.String()),
		Model:   c.model,
		Usage: llm.Usage{
			PromptTokens:     decoded.UsageMetadata.PromptTokenCount,
			CompletionTokens: decoded.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      decoded.UsageMetadata.TotalTokenCount,
		},
	}, nil
}
