// Package api 是 DeepDistill 的 HTTP 控制面：接收提交、查询任务、推送进度和触发导出。
package api

import (
	"DeepDistill/backend/go/internal/admission"
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/events"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/internal/orchestrator"
	"DeepDistill/backend/go/internal/registry"
	"DeepDistill/backend/go/pkg/logger"
	"context"
	"fmt"
	"time"

	"github.com/gobwas/glob"
)

// defaultHeartbeat 是事件流在没有新事件时回读注册表的间隔。
const defaultHeartbeat = 15 * time.Second

// Service 是控制面依赖的编排接口。
type Service interface {
	Submit(ctx context.Context, sub orchestrator.Submission) (string, error)
	SubmitBatch(ctx context.Context, subs []orchestrator.Submission) ([]string, error)
	GetStatus(id string) (*models.Task, error)
	ListTasks(f registry.Filter) []*models.Task
	ExportNow(ctx context.Context, id, category string, format models.ExportFormat) (*models.ExportReceipt, error)
	Limits() admission.Limits
}

// API 持有所有 HTTP 处理函数。
type API struct {
	service    Service
	hub        *events.Hub
	cfg        *config.AppConfig
	allow      []glob.Glob
	uploadDir  string
	previewLen int
	heartbeat  time.Duration
	logger     *logger.Logger
}

// Option 配置 API。
type Option func(*API)

// WithHub 启用 SSE 事件推送。未设置时事件流只靠定期回读注册表。
func WithHub(h *events.Hub) Option {
	return func(a *API) { a.hub = h }
}

// WithHeartbeat 修改事件流回读注册表的间隔。
func WithHeartbeat(d time.Duration) Option {
	return func(a *API) { a.heartbeat = d }
}

// NewAPI 创建 API。本地路径白名单中的模式在这里编译，模式非法时返回错误。
func NewAPI(service Service, cfg *config.AppConfig, logger *logger.Logger, opts ...Option) (*API, error) {
	a := &API{
		service:    service,
		cfg:        cfg,
		uploadDir:  cfg.Pipeline.UploadDir,
		previewLen: cfg.Pipeline.PreviewLength,
		heartbeat:  defaultHeartbeat,
		logger:     logger,
	}
	for _, pattern := range cfg.Pipeline.LocalAllowGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid local allow pattern %q: %w", pattern, err)
		}
		a.allow = append(a.allow, g)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}
