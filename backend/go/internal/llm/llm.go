package llm

import (
	"DeepDistill/backend/go/internal/config"
	"context"
	"fmt"
	"time"
)

// Request 是一次补全调用的输入：系统提示词与待分析文本分开传递。
type Request struct {
	Prompt      string  // 系统提示词
	Text        string  // 待分析的文本
	Temperature float32 // 采样温度
	JSONMode    bool    // 要求模型输出 JSON
}

// Provider 定义了回退链中每个 LLM 提供商必须实现的统一接口。
// 失败时返回 *Error，调用方据此判断是否重试以及是否切换提供商。
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// NewProvider 是一个工厂函数，根据提供商配置创建客户端。
func NewProvider(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	switch cfg.Type {
	case "ollama":
		return NewOllama(cfg.Name, cfg.Model, cfg.BaseURL, timeout)
	case "openai":
		return NewOpenAI(cfg.Name, cfg.Model, cfg.APIKey, cfg.BaseURL, timeout)
	case "gemini":
		return NewGemini(ctx, cfg.Name, cfg.Model, cfg.APIKey)
	case "huggingface":
		return NewHuggingFace(cfg.Name, cfg.Model, cfg.APIKey, cfg.BaseURL, timeout)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Type)
	}
}

// NewChain 按配置顺序创建回退链。云端提供商缺少 API 密钥时跳过，
// 返回值 skipped 记录被跳过的提供商名称。
func NewChain(ctx context.Context, cfgs []config.ProviderConfig) (chain []Provider, skipped []string, err error) {
	for _, c := range cfgs {
		if c.Type != "ollama" && c.APIKey == "" {
			skipped = append(skipped, c.Name)
			continue
		}
		p, err := NewProvider(ctx, c)
		if err != nil {
			return nil, skipped, fmt.Errorf("创建 LLM 提供商 '%s' 失败: %w", c.Name, err)
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, skipped, fmt.Errorf("没有可用的 LLM 提供商")
	}
	return chain, skipped, nil
}

// Close 释放持有外部连接的提供商。
func Close(chain []Provider) {
	for _, p := range chain {
		if c, ok := p.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}
