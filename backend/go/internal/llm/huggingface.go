package llm

import (
	"DeepDistill/backend/go/internal/config"
	httpclient "DeepDistill/backend/go/pkg/http"
	"context"
	"errors"
	"strings"
	"time"
)

// HuggingFace 是一个用于 Hugging Face Inference API 的提供商。
type HuggingFace struct {
	name    string
	client  *httpclient.Client
	model   string // 要使用的模型名称。
	apiKey  string // Hugging Face API 密钥。
	baseURL string // Inference API 的基准 URL。
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	Temperature    float32 `json:"temperature,omitempty"`
	ReturnFullText bool    `json:"return_full_text"`
	MaxNewTokens   int     `json:"max_new_tokens,omitempty"`
}

type hfResponse []struct {
	GeneratedText string `json:"generated_text"`
}

// NewHuggingFace 创建一个新的 HuggingFace 客户端。
// baseURL 为空时默认为 "https://api-inference.huggingface.co/models/"。
func NewHuggingFace(name, model, apiKey, baseURL string, timeout time.Duration) (*HuggingFace, error) {
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co/models/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if name == "" {
		name = "huggingface"
	}
	return &HuggingFace{
		name:    name,
		client:  httpclient.NewClient(name, config.CircuitBreakerConfig{}, timeout),
		model:   model,
		apiKey:  apiKey,
		baseURL: baseURL,
	}, nil
}

func (h *HuggingFace) Name() string { return h.name }

// Complete 把提示词与文本拼成单个输入，Inference API 不区分 system 消息。
func (h *HuggingFace) Complete(ctx context.Context, req Request) (string, error) {
	in := hfRequest{
		Inputs:     req.Prompt + "\n\n" + req.Text,
		Parameters: hfParameters{Temperature: req.Temperature, MaxNewTokens: 2048},
	}
	var out hfResponse
	if err := h.client.PostJSON(ctx, h.baseURL+h.model, h.apiKey, in, &out); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return "", classify(h.name, se.StatusCode, err)
		}
		return "", classify(h.name, 0, err)
	}
	if len(out) == 0 || out[0].GeneratedText == "" {
		return "", &Error{Provider: h.name, Kind: ErrEmpty, Err: errors.New("no generated text returned")}
	}
	return out[0].GeneratedText, nil
}
