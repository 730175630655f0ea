// Package enhance 对视频和图片做可选的视觉分析。
// 该阶段失败不影响任务结果：错误记录在 EnhancementResult.Error 中。
package enhance

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/models"
	httpclient "DeepDistill/backend/go/pkg/http"
	"DeepDistill/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"time"
)

// VisualAnalyzer 分析媒体文件的视觉特征。
type VisualAnalyzer interface {
	AnalyzeVisual(ctx context.Context, path string, cat models.Category) (*models.VisualFindings, error)
}

// Stage 决定是否执行增强并吸收其失败。
type Stage struct {
	analyzer VisualAnalyzer
	cfg      config.EnhancementConfig
	timeout  time.Duration
	log      *logger.Logger
}

// NewStage 创建增强阶段，analyzer 为 nil 时总是跳过。
func NewStage(analyzer VisualAnalyzer, cfg config.EnhancementConfig, timeout time.Duration, log *logger.Logger) *Stage {
	if log == nil {
		log = logger.Nop()
	}
	return &Stage{analyzer: analyzer, cfg: cfg, timeout: timeout, log: log}
}

// ShouldRun 判断给定类别和意图是否需要增强。
func (s *Stage) ShouldRun(cat models.Category, intent models.Intent) bool {
	if s == nil || s.analyzer == nil || !s.cfg.Enabled || !cat.SupportsVisual() {
		return false
	}
	return !s.cfg.StyleIntentOnly || intent == models.IntentStyle
}

// Run 执行增强。返回值总是非 nil，整体超时（父 ctx 到期）时返回错误交由编排器处理。
func (s *Stage) Run(ctx context.Context, path string, cat models.Category, intent models.Intent) (*models.EnhancementResult, error) {
	if !s.ShouldRun(cat, intent) {
		return &models.EnhancementResult{Skipped: true}, nil
	}
	sub := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		sub, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	findings, err := s.analyzer.AnalyzeVisual(sub, path, cat)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &models.EnhancementResult{}, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = faults.Timeout("enhance", err)
		} else {
			err = faults.Wrap(faults.KindEnhancement, "enhance", err)
		}
		msg := faults.Sanitize(err)
		s.log.WithError(faults.Info(err)).Warn("视觉增强失败，继续后续阶段")
		return &models.EnhancementResult{Error: msg}, nil
	}
	return &models.EnhancementResult{Findings: findings}, nil
}

// HTTPVisionAnalyzer 调用外部视觉分析服务，服务直接返回 VisualFindings JSON。
type HTTPVisionAnalyzer struct {
	client   *httpclient.Client
	endpoint config.EndpointConfig
}

// NewHTTPVisionAnalyzer 创建视觉分析客户端。
func NewHTTPVisionAnalyzer(endpoint config.EndpointConfig, breaker config.CircuitBreakerConfig, timeout time.Duration) *HTTPVisionAnalyzer {
	return &HTTPVisionAnalyzer{client: httpclient.NewClient("vision", breaker, timeout), endpoint: endpoint}
}

func (v *HTTPVisionAnalyzer) AnalyzeVisual(ctx context.Context, path string, cat models.Category) (*models.VisualFindings, error) {
	var out models.VisualFindings
	fields := map[string]string{"category": string(cat)}
	if v.endpoint.Model != "" {
		fields["model"] = v.endpoint.Model
	}
	if err := v.client.PostFile(ctx, v.endpoint.URL, v.endpoint.APIKey, "file", path, fields, &out); err != nil {
		return nil, fmt.Errorf("vision analysis failed: %w", err)
	}
	for i := range out.Scenes {
		if out.Scenes[i].Duration == 0 && out.Scenes[i].End > out.Scenes[i].Start {
			out.Scenes[i].Duration = out.Scenes[i].End - out.Scenes[i].Start
		}
	}
	return &out, nil
}
