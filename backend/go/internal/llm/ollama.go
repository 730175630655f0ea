package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是一个用于本地 Ollama 服务的提供商。
type Ollama struct {
	name   string
	client *olla.Client // Ollama 客户端实例。
	model  string       // 要使用的模型名称。
}

// NewOllama 创建一个新的 Ollama 客户端。
//
// 参数:
//
//	name: 提供商在回退链中的名称。
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
//	timeout: 单次请求的超时时间。
//
// 返回值:
//
//	*Ollama: 新创建的 Ollama 客户端实例。
//	error: 如果基准 URL 无效，则返回错误。
func NewOllama(name, model, baseURL string, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if name == "" {
		name = "ollama"
	}
	hc := &http.Client{Timeout: timeout}
	return &Ollama{name: name, client: olla.NewClient(parsedURL, hc), model: model}, nil
}

func (o *Ollama) Name() string { return o.name }

// Complete 以非流式方式调用 Generate，返回完整响应文本。
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	stream := false
	gr := &olla.GenerateRequest{
		Model:   o.model,
		System:  req.Prompt,
		Prompt:  req.Text,
		Stream:  &stream,
		Options: map[string]interface{}{"temperature": req.Temperature},
	}
	if req.JSONMode {
		gr.Format = json.RawMessage(`"json"`)
	}

	var out string
	err := o.client.Generate(ctx, gr, func(resp olla.GenerateResponse) error {
		out += resp.Response
		return nil
	})
	if err != nil {
		var se olla.StatusError
		if errors.As(err, &se) {
			return "", classify(o.name, se.StatusCode, err)
		}
		return "", classify(o.name, 0, err)
	}
	if out == "" {
		return "", &Error{Provider: o.name, Kind: ErrEmpty, Err: errors.New("empty response")}
	}
	return out, nil
}
