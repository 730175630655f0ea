package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI 适用于所有兼容 OpenAI Chat Completions 协议的服务（DeepSeek、通义千问等）。
type OpenAI struct {
	name   string
	client *openai.Client // OpenAI 客户端实例。
	model  string         // 要使用的模型名称。
}

// NewOpenAI 创建一个新的 OpenAI 兼容客户端。baseURL 为空时使用官方地址。
func NewOpenAI(name, model, apiKey, baseURL string, timeout time.Duration) (*OpenAI, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if name == "" {
		name = "openai"
	}
	return &OpenAI{name: name, client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (o *OpenAI) Name() string { return o.name }

// Complete 将提示词作为 system 消息、文本作为 user 消息发送。
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	temperature := req.Temperature
	chatReq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Prompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		Temperature: &temperature,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", classify(o.name, apiErr.HTTPStatusCode, err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", classify(o.name, reqErr.HTTPStatusCode, err)
		}
		return "", classify(o.name, 0, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &Error{Provider: o.name, Kind: ErrEmpty, Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}
