package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini 是一个用于 Google Gemini API 的提供商。
type Gemini struct {
	name   string
	client *genai.Client
	model  string
}

// NewGemini 创建一个新的 Gemini 客户端。
//
// 参数:
//
//	ctx: 上下文，用于控制客户端的生命周期。
//	name: 提供商在回退链中的名称。
//	model: 要使用的 Gemini 模型名称。
//	apiKey: Gemini API 密钥。
//
// 返回值:
//
//	*Gemini: 新创建的 Gemini 客户端实例。
//	error: 如果无法创建 GenAI 客户端，则返回错误。
func NewGemini(ctx context.Context, name, model, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "gemini"
	}
	return &Gemini{name: name, client: client, model: model}, nil
}

func (g *Gemini) Name() string { return g.name }

// Complete 每次调用都创建新的 GenerativeModel，避免并发任务之间共享系统提示词。
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Prompt)}}
	m.SetTemperature(req.Temperature)
	if req.JSONMode {
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Text))
	if err != nil {
		return "", classify(g.name, 0, err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", &Error{Provider: g.name, Kind: ErrEmpty, Err: errors.New("no candidates returned")}
	}
	return sb.String(), nil
}

// Close 关闭底层 gRPC 连接。
func (g *Gemini) Close() error {
	return g.client.Close()
}
