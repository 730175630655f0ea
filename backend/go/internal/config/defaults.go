package config

import (
	"fmt"
	"time"
)

// 默认资源边界。
const (
	DefaultMaxConcurrentPipelines = 3
	DefaultMaxFileSize            = int64(1) << 31 // 2 GiB
	DefaultMaxTasks               = 1000
	DefaultMaxBatchFiles          = 20
	DefaultCleanupInterval        = 10 * time.Minute
	DefaultRetention              = time.Hour
	DefaultPreviewLength          = 2000
	DefaultMaxAnalysisInput       = 8000
	DefaultPipelineTimeout        = 3600 * time.Second
)

// ApplyDefaults 为未配置的字段填充默认值。
func (c *AppConfig) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "DeepDistill"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}

	s := &c.Server
	if s.Address == "" {
		s.Address = ":8006"
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 5 * time.Second
	}
	if s.DefaultPageSize <= 0 {
		s.DefaultPageSize = 20
	}
	if s.MaxPageSize <= 0 {
		s.MaxPageSize = 100
	}

	p := &c.Pipeline
	if p.MaxConcurrentPipelines <= 0 {
		p.MaxConcurrentPipelines = DefaultMaxConcurrentPipelines
	}
	if p.MaxFileSize <= 0 {
		p.MaxFileSize = DefaultMaxFileSize
	}
	if p.MaxTasks <= 0 {
		p.MaxTasks = DefaultMaxTasks
	}
	if p.MaxBatchFiles <= 0 {
		p.MaxBatchFiles = DefaultMaxBatchFiles
	}
	if p.CleanupInterval <= 0 {
		p.CleanupInterval = DefaultCleanupInterval
	}
	if p.Retention <= 0 {
		p.Retention = DefaultRetention
	}
	if p.PreviewLength <= 0 {
		p.PreviewLength = DefaultPreviewLength
	}
	if p.MaxAnalysisInput <= 0 {
		p.MaxAnalysisInput = DefaultMaxAnalysisInput
	}
	if p.UploadDir == "" {
		p.UploadDir = "data/uploads"
	}
	if p.WorkDir == "" {
		p.WorkDir = "data/work"
	}
	t := &p.Timeouts
	if t.Pipeline <= 0 {
		t.Pipeline = DefaultPipelineTimeout
	}
	if t.Extract <= 0 {
		t.Extract = 10 * time.Minute
	}
	if t.Demux <= 0 {
		t.Demux = 10 * time.Minute
	}
	if t.Transcribe <= 0 {
		t.Transcribe = 30 * time.Minute
	}
	if t.Enhance <= 0 {
		t.Enhance = 15 * time.Minute
	}
	if t.Analysis <= 0 {
		t.Analysis = 2 * time.Minute
	}
	if t.Export <= 0 {
		t.Export = 5 * time.Minute
	}

	col := &c.Collaborators
	if col.FFmpegPath == "" {
		col.FFmpegPath = "ffmpeg"
	}
	if col.WebFetch.Timeout <= 0 {
		col.WebFetch.Timeout = 30 * time.Second
	}
	if col.WebFetch.UserAgent == "" {
		col.WebFetch.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	col.Retry.applyDefaults(1, time.Second)

	if len(c.LLM.Providers) == 0 {
		c.LLM.Providers = []ProviderConfig{{Name: "ollama", Type: "ollama", Model: "qwen2.5:14b", BaseURL: "http://localhost:11434"}}
	}
	for i := range c.LLM.Providers {
		pc := &c.LLM.Providers[i]
		if pc.Name == "" {
			pc.Name = pc.Type
		}
		if pc.Timeout <= 0 {
			pc.Timeout = t.Analysis
		}
	}
	c.LLM.Retry.applyDefaults(3, 2*time.Second)
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}

	if c.Export.Provider == "" {
		c.Export.Provider = "none"
	}
	c.Export.Retry.applyDefaults(3, 2*time.Second)
	if c.Export.Drive.RootFolderName == "" {
		c.Export.Drive.RootFolderName = "DeepDistill"
	}
	if c.Export.Mongo.Collection == "" {
		c.Export.Mongo.Collection = "exports"
	}

	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 256
	}
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "deepdistill.task-events"
	}
	if c.Events.Redis.Topic == "" {
		c.Events.Redis.Topic = "deepdistill:task-events"
	}

	if c.Middleware.RateLimiter.Rate <= 0 {
		c.Middleware.RateLimiter.Rate = 10
	}
	if c.Middleware.RateLimiter.Capacity <= 0 {
		c.Middleware.RateLimiter.Capacity = 20
	}
	cb := &c.Middleware.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.SuccessThreshold == 0 {
		cb.SuccessThreshold = 1
	}
	if cb.Timeout <= 0 {
		cb.Timeout = 30 * time.Second
	}
}

func (r *RetryConfig) applyDefaults(attempts int, base time.Duration) {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = attempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = base
	}
	if r.Multiplier <= 0 {
		r.Multiplier = 2
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 30 * time.Second
	}
}

// Validate 校验配置的合法性。
func (c *AppConfig) Validate() error {
	for i, p := range c.LLM.Providers {
		switch p.Type {
		case "ollama", "openai", "gemini", "huggingface":
		default:
			return fmt.Errorf("llm.providers[%d]: 未知的提供商类型 '%s'", i, p.Type)
		}
		if p.Model == "" {
			return fmt.Errorf("llm.providers[%d]: 缺少模型名称", i)
		}
	}
	switch c.Export.Provider {
	case "none", "drive", "minio", "mongo":
	default:
		return fmt.Errorf("export.provider: 未知的导出目标 '%s'", c.Export.Provider)
	}
	if c.Pipeline.Timeouts.Demux > c.Pipeline.Timeouts.Pipeline || c.Pipeline.Timeouts.Transcribe > c.Pipeline.Timeouts.Pipeline {
		return fmt.Errorf("pipeline.timeouts: 子阶段超时不能超过整体超时 %s", c.Pipeline.Timeouts.Pipeline)
	}
	return nil
}

// Sanitized 返回可对外展示的配置视图，不包含任何密钥。
func (c *AppConfig) Sanitized() map[string]interface{} {
	providers := make([]map[string]interface{}, 0, len(c.LLM.Providers))
	for _, p := range c.LLM.Providers {
		providers = append(providers, map[string]interface{}{
			"name":        p.Name,
			"type":        p.Type,
			"model":       p.Model,
			"has_api_key": p.APIKey != "",
		})
	}
	p := c.Pipeline
	return map[string]interface{}{
		"app":     c.App.Name,
		"version": c.App.Version,
		"pipeline": map[string]interface{}{
			"max_concurrent_pipelines": p.MaxConcurrentPipelines,
			"max_file_size":            p.MaxFileSize,
			"max_tasks":                p.MaxTasks,
			"max_batch_files":          p.MaxBatchFiles,
			"cleanup_interval_seconds": p.CleanupInterval.Seconds(),
			"retention_seconds":        p.Retention.Seconds(),
			"preview_length":           p.PreviewLength,
			"enhancement_enabled":      p.Enhancement.Enabled,
			"timeouts_seconds": map[string]float64{
				"pipeline":   p.Timeouts.Pipeline.Seconds(),
				"demux":      p.Timeouts.Demux.Seconds(),
				"transcribe": p.Timeouts.Transcribe.Seconds(),
			},
		},
		"llm_providers": providers,
		"export": map[string]interface{}{
			"provider": c.Export.Provider,
		},
		"collaborators": map[string]bool{
			"asr":    c.Collaborators.ASR.URL != "",
			"ocr":    c.Collaborators.OCR.URL != "",
			"vision": c.Collaborators.Vision.URL != "",
		},
	}
}
