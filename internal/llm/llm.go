package llm

import (
	"context"
	"os"
	"strings"
	"time"

	xerrors "ReportFlow/internal/errors"
)

// Usage 记录一次补全消耗的 token 数。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response 是大模型生成的结果。
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Client 定义了调用大模型补全的统一接口。
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Provider 标识受支持的大模型供应商。
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderGemini   Provider = "gemini"
	ProviderDeepSeek Provider = "deepseek"
)

// DeepSeekBaseURL 是 DeepSeek 的 OpenAI 兼容端点。
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

// Config 描述构建客户端所需的全部参数。
type Config struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// envKeyFor 返回各供应商 API Key 的环境变量名。
func envKeyFor(provider Provider) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GOOGLE_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	default:
		return ""
	}
}

// ResolveAPIKey 返回配置中的 Key，缺省时回退到供应商对应的环境变量。
func (c Config) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if env := envKeyFor(c.Provider); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// ErrUnknownProvider 表示配置了不受支持的供应商。
var ErrUnknownProvider = xerrors.New(xerrors.CodeInvalidArgument, "不受支持的大模型供应商")
