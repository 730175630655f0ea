// Package analysis 把提取出的文本交给 LLM 回退链，产出结构化知识。
package analysis

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/llm"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/pkg/logger"
	"DeepDistill/backend/go/pkg/retry"
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxInput 是送入 LLM 的最大字符数。
const DefaultMaxInput = 8000

const stage = "analysis"

// Input 是一次分析的输入。
type Input struct {
	Text    string
	Intent  models.Intent
	DocType models.DocType
	Visual  *models.VisualFindings
}

// Analyzer 依次尝试回退链中的提供商：同一提供商内按策略重试瞬时错误，
// 重试用尽或遇到不可重试错误时切换到下一个。
type Analyzer struct {
	chain       []llm.Provider
	policy      retry.Policy
	callTimeout time.Duration
	maxInput    int
	temperature float32
	log         *logger.Logger
}

// Option 配置 Analyzer。
type Option func(*Analyzer)

// WithPolicy 替换重试策略，测试中用来跳过真实的退避等待。
func WithPolicy(p retry.Policy) Option {
	return func(a *Analyzer) { a.policy = p }
}

// WithCallTimeout 设置单次提供商调用的超时。
func WithCallTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.callTimeout = d }
}

// WithMaxInput 设置送入 LLM 的最大字符数。
func WithMaxInput(n int) Option {
	return func(a *Analyzer) { a.maxInput = n }
}

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option {
	return func(a *Analyzer) { a.log = l }
}

// New 创建一个 Analyzer。chain 的顺序即回退顺序。
func New(chain []llm.Provider, cfg config.LLMConfig, opts ...Option) *Analyzer {
	a := &Analyzer{
		chain:       chain,
		policy:      retry.FromConfig(cfg.Retry),
		maxInput:    DefaultMaxInput,
		temperature: cfg.Temperature,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.policy.Retryable = llm.Retryable
	return a
}

// Providers 返回回退链中提供商的名称。
func (a *Analyzer) Providers() []string {
	names := make([]string, 0, len(a.chain))
	for _, p := range a.chain {
		names = append(names, p.Name())
	}
	return names
}

// Analyze 执行 AI 分析。
//
// 返回值:
//
//	*models.Analysis: 结构化结果，Provider 字段记录最终成功的提供商。
//	error: 所有提供商都失败时为 AllProvidersExhausted，ctx 超时时为 Timeout。
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*models.Analysis, error) {
	text := in.Text
	if r := []rune(text); a.maxInput > 0 && len(r) > a.maxInput {
		text = string(r[:a.maxInput])
	}
	req := llm.Request{
		Prompt:      systemPrompt,
		Text:        buildPrompt(in, text),
		Temperature: a.temperature,
		JSONMode:    true,
	}

	candidates := make([]retry.Candidate[string], 0, len(a.chain))
	for _, p := range a.chain {
		p := p
		candidates = append(candidates, retry.Candidate[string]{
			Name: p.Name(),
			Call: func(ctx context.Context) (string, error) {
				return a.call(ctx, p, req)
			},
		})
	}

	policy := a.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		a.log.WithField("attempt", attempt).WithField("delay", delay.String()).
			Warn(fmt.Sprintf("LLM 调用失败，准备重试: %s", faults.Sanitize(err)))
	}

	raw, provider, err := retry.Fallback(ctx, policy, candidates)
	if err != nil {
		var exhausted *retry.ExhaustedError
		switch {
		case errors.As(err, &exhausted):
			return nil, faults.Wrapf(faults.KindAllProvidersExhausted, stage, err, "所有 LLM 提供商均不可用")
		case errors.Is(err, context.DeadlineExceeded):
			return nil, faults.Timeout(stage, err)
		default:
			return nil, faults.Wrap(faults.KindInternal, stage, err)
		}
	}

	result := ParseResponse(raw)
	result.Provider = provider
	if result.ParseError {
		a.log.WithField("provider", provider).Warn("LLM 响应不是有效 JSON，返回降级结果")
	}
	return result, nil
}

func (a *Analyzer) call(ctx context.Context, p llm.Provider, req llm.Request) (string, error) {
	if a.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
	}
	start := time.Now()
	out, err := p.Complete(ctx, req)
	l := a.log.WithField("provider", p.Name()).WithField("elapsed_ms", time.Since(start).Milliseconds())
	if err != nil {
		l.Debug("LLM 调用失败")
		return "", err
	}
	l.WithField("response_chars", len(out)).Debug("LLM 调用成功")
	return out, nil
}
