package profile

import (
	"fmt"
	"time"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/internal/llm"
	"ReportFlow/internal/llm/gemini"
	"ReportFlow/internal/llm/openai"
)

// Profile 是一份具名的大模型调用档案。
type Profile struct {
	Name           string  `json:"name"`
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	APIKey         string  `json:"api_key,omitempty"`
	BaseURL        string  `json:"base_url,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
}

// Validate 检查档案的必填字段。
func (p *Profile) Validate() error {
	var problems []string
	if p.Name == "" {
		problems = append(problems, "缺少 name")
	}
	switch llm.Provider(p.Provider) {
	case llm.ProviderOpenAI, llm.ProviderGemini, llm.ProviderDeepSeek:
	default:
		problems = append(problems, fmt.Sprintf("provider %q 不受支持", p.Provider))
	}
	return xerrors.Aggregate("档案校验失败", problems)
}

// LLMConfig 将档案转换为客户端配置。
func (p *Profile) LLMConfig() llm.Config {
	return llm.Config{
		Provider:    llm.Provider(p.Provider),
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     time.Duration(p.TimeoutSeconds) * time.Second,
	}
}

// BuildClient 按档案构建大模型客户端。
// DeepSeek 复用 OpenAI 兼容客户端，仅替换默认端点。
func BuildClient(p *Profile) (llm.Client, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cfg := p.LLMConfig()
	switch cfg.Provider {
	case llm.ProviderOpenAI:
		return openai.NewClient(cfg)
	case llm.ProviderDeepSeek:
		if cfg.BaseURL == "" {
			cfg.BaseURL = llm.DeepSeekBaseURL
		}
		return openai.NewClient(cfg)
	case llm.ProviderGemini:
		return gemini.NewClient(cfg)
	default:
		return nil, llm.ErrUnknownProvider
	}
}
