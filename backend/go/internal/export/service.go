package export

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/pkg/logger"
	"DeepDistill/backend/go/pkg/retry"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Request 是一次导出请求。
type Request struct {
	Source
	Category string              // 目标分类，为空或不合法时自动推断
	DocType  models.DocType      // 导出哪类文档
	Format   models.ExportFormat // 文件格式
}

// Exporter 是编排器依赖的导出协作方。
type Exporter interface {
	Export(ctx context.Context, req Request) (*models.ExportReceipt, error)
}

// Service 负责组装文档并通过 Backend 上传。
type Service struct {
	backend     Backend
	policy      retry.Policy
	wordEnabled bool
	log         *logger.Logger
	now         func() time.Time
}

// Option 配置 Service。
type Option func(*Service)

// WithPolicy 替换上传重试策略。
func WithPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithWord 声明 Word 渲染可用（已注册 unioffice 授权）。
func WithWord(enabled bool) Option {
	return func(s *Service) { s.wordEnabled = enabled }
}

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// retryClassifier 由能区分临时错误的后端实现。
type retryClassifier interface {
	Retryable(err error) bool
}

// NewService 创建导出服务。backend 为 nil 时所有导出都返回未配置错误。
func NewService(backend Backend, cfg config.ExportConfig, opts ...Option) *Service {
	if backend == nil {
		backend = Unavailable()
	}
	s := &Service{
		backend: backend,
		policy:  retry.FromConfig(cfg.Retry),
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	classifier, _ := backend.(retryClassifier)
	base := s.policy.Retryable
	s.policy.Retryable = func(err error) bool {
		if errors.Is(err, ErrNotConfigured) {
			return false
		}
		if base != nil && !base(err) {
			return false
		}
		if classifier != nil {
			return classifier.Retryable(err)
		}
		return true
	}
	return s
}

// Backend 返回当前使用的导出后端。
func (s *Service) Backend() Backend {
	return s.backend
}

// Export 生成文档并上传，返回回执。
//
// 文档按 DocType 生成：doc 为普通文档，skill 为 Skill 文档，both 两者都有；
// 只要存在提取文本，末尾总会追加一份 Markdown 格式的源文件文档。
// 各文件并发上传，每个文件独立按策略重试；任何一个最终失败则整次导出失败。
func (s *Service) Export(ctx context.Context, req Request) (*models.ExportReceipt, error) {
	if req.Result == nil || req.Result.Analysis == nil {
		return nil, faults.New(faults.KindExport, "export", "task has no result to export")
	}
	format := req.Format
	if !format.Valid() {
		format = models.ExportFormatDoc
	}
	if format == models.ExportFormatWord && !s.wordEnabled {
		return nil, faults.New(faults.KindExport, "export", "word export requires an unioffice license key")
	}

	category := ResolveCategory(req.Category, req.Result.Analysis)
	title := ShortTitle(req.Result.Analysis, req.Filename)
	now := s.now()

	files, err := s.files(req, format, category, title, now)
	if err != nil {
		return nil, faults.Wrap(faults.KindExport, "export", err)
	}

	log := s.log.WithPayload(map[string]interface{}{
		"backend": s.backend.Name(), "category": category, "format": string(format), "files": len(files),
	})
	log.Info("开始导出")

	docs := make([]models.ExportedDoc, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			p := s.policy
			p.OnRetry = func(attempt int, err error, delay time.Duration) {
				log.WithField("file", f.Name()).WithField("attempt", attempt).WithField("delay", delay.String()).
					Warn("上传失败，准备重试: " + faults.Sanitize(err))
			}
			doc, _, err := retry.Do(gctx, p, func(ctx context.Context) (models.ExportedDoc, error) {
				return s.backend.Upload(ctx, f)
			})
			if err != nil {
				return fmt.Errorf("upload %s: %w", f.Name(), err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(faults.Info(err)).Error("导出失败")
		return nil, faults.Wrap(faults.KindExport, "export", err)
	}

	folder, err := s.backend.FolderURL(ctx, category)
	if err != nil {
		log.Warn("获取分类目录链接失败: " + faults.Sanitize(err))
	}
	log.Info("导出完成")
	return &models.ExportReceipt{
		Provider:  s.backend.Name(),
		Category:  category,
		Format:    format,
		FolderURL: folder,
		Documents: docs,
	}, nil
}

// files 生成本次导出的所有文件，源文件文档固定放在最后。
func (s *Service) files(req Request, format models.ExportFormat, category, title string, now time.Time) ([]File, error) {
	var docs []Document
	switch req.DocType {
	case models.DocTypeBoth:
		docs = append(docs, BuildDoc(req.Source, title), BuildSkill(req.Source, title, now))
	case models.DocTypeSkill:
		docs = append(docs, BuildSkill(req.Source, title, now))
	default:
		docs = append(docs, BuildDoc(req.Source, title))
	}

	files := make([]File, 0, len(docs)+1)
	for _, d := range docs {
		f, err := s.render(req.Source, d, format, category)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if req.Result.Text != "" {
		raw := BuildRaw(req.Source, title, now)
		files = append(files, markdownFile(raw, category))
	}
	return files, nil
}

func (s *Service) render(src Source, d Document, format models.ExportFormat, category string) (File, error) {
	switch format {
	case models.ExportFormatWord:
		data, err := RenderWord(d.Markdown)
		if err != nil {
			return File{}, err
		}
		return File{Category: category, Title: d.Title, Ext: ".docx", MimeType: mimeDocx, Data: data}, nil
	case models.ExportFormatExcel:
		data, err := RenderExcel(src)
		if err != nil {
			return File{}, err
		}
		return File{Category: category, Title: d.Title, Ext: ".xlsx", MimeType: mimeXlsx, Data: data}, nil
	default:
		return markdownFile(d, category), nil
	}
}

func markdownFile(d Document, category string) File {
	return File{
		Category: category,
		Title:    d.Title,
		Ext:      ".md",
		MimeType: mimeMarkdown,
		Data:     []byte(d.Markdown),
		IsRaw:    d.IsRaw,
		Convert:  true,
	}
}
