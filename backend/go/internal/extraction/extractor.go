// Package extraction 把各类输入转换为纯文本。
//
// 文档与网页在进程内解析，音视频通过 ffmpeg 分离音轨后交给语音识别服务，
// 图片交给 OCR 服务。每个协作方调用都有独立的超时预算。
package extraction

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/models"
	httpclient "DeepDistill/backend/go/pkg/http"
	"DeepDistill/backend/go/pkg/logger"
	"DeepDistill/backend/go/pkg/retry"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const stage = "extract"

// Source 描述待提取的输入，Path 与 URL 至少提供一个。
type Source struct {
	Filename string
	Path     string
	URL      string
}

// Output 是提取结果。
type Output struct {
	Text      string
	LocalPath string   // 可供后续阶段读取的本地文件（URL 输入下载后的位置）
	TempFiles []string // 本次提取产生、需随任务清理的文件
}

// Transcriber 把音频文件转写为文本。
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// OCR 识别图片中的文字。
type OCR interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Fetcher 下载远程资源。
type Fetcher interface {
	Download(ctx context.Context, url, dst string, limit int64) (int64, error)
}

// Dispatcher 按类别把输入分发给对应的提取器。
type Dispatcher struct {
	docs        *DocumentExtractor
	demuxer     *Demuxer
	transcriber Transcriber
	ocr         OCR
	fetcher     Fetcher
	timeouts    config.TimeoutsConfig
	policy      retry.Policy
	workDir     string
	maxFetch    int64
	log         *logger.Logger
}

// Option 配置 Dispatcher。
type Option func(*Dispatcher)

// WithTranscriber 设置语音识别协作方。
func WithTranscriber(t Transcriber) Option { return func(d *Dispatcher) { d.transcriber = t } }

// WithOCR 设置文字识别协作方。
func WithOCR(o OCR) Option { return func(d *Dispatcher) { d.ocr = o } }

// WithFetcher 设置远程资源下载器。
func WithFetcher(f Fetcher) Option { return func(d *Dispatcher) { d.fetcher = f } }

// WithDemuxer 设置音轨分离器。
func WithDemuxer(m *Demuxer) Option { return func(d *Dispatcher) { d.demuxer = m } }

// WithDocumentExtractor 替换文档提取器，用于启用 unioffice 授权解析。
func WithDocumentExtractor(e *DocumentExtractor) Option { return func(d *Dispatcher) { d.docs = e } }

// WithPolicy 设置协作方调用的重试策略。
func WithPolicy(p retry.Policy) Option { return func(d *Dispatcher) { d.policy = p } }

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option { return func(d *Dispatcher) { d.log = l } }

// NewDispatcher 创建提取分发器。
func NewDispatcher(pipeline config.PipelineConfig, collab config.CollaboratorsConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		docs:     NewDocumentExtractor(false),
		demuxer:  NewDemuxer(collab.FFmpegPath),
		timeouts: pipeline.Timeouts,
		policy:   retry.FromConfig(collab.Retry),
		workDir:  pipeline.WorkDir,
		maxFetch: pipeline.MaxFileSize,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.policy.Retryable = httpclient.Retryable
	return d
}

// Extract 执行提取。返回的错误已分类：超时为 Timeout，其余为 Extraction。
func (d *Dispatcher) Extract(ctx context.Context, src Source, cat models.Category) (*Output, error) {
	out := &Output{LocalPath: src.Path}

	if src.Path == "" && src.URL != "" && cat != models.CategoryWebpage {
		p, err := d.download(ctx, src.URL)
		if err != nil {
			return nil, d.classify("download", ctx, err)
		}
		out.LocalPath = p
		out.TempFiles = append(out.TempFiles, p)
	}

	var (
		text string
		err  error
	)
	switch cat {
	case models.CategoryDocument:
		text, err = d.withTimeout(ctx, d.timeouts.Extract, stage, func(ctx context.Context) (string, error) {
			return d.docs.Extract(ctx, out.LocalPath, nameOf(src))
		})
	case models.CategoryWebpage:
		var files []string
		text, files, err = d.extractWebpage(ctx, src)
		out.TempFiles = append(out.TempFiles, files...)
	case models.CategoryImage:
		text, err = d.extractImage(ctx, out.LocalPath)
	case models.CategoryVideo, models.CategoryAudio:
		text, err = d.extractMedia(ctx, out.LocalPath)
	default:
		err = faults.New(faults.KindUnsupportedFormat, stage, fmt.Sprintf("no extractor for category %q", cat))
	}
	if err != nil {
		return out, err
	}
	out.Text = strings.TrimSpace(text)
	d.log.WithField("category", string(cat)).WithField("chars", len([]rune(out.Text))).Info("文本提取完成")
	return out, nil
}

func (d *Dispatcher) extractWebpage(ctx context.Context, src Source) (string, []string, error) {
	if src.Path != "" {
		text, err := d.withTimeout(ctx, d.timeouts.Extract, stage, func(ctx context.Context) (string, error) {
			return HTMLFileToText(src.Path)
		})
		return text, nil, err
	}
	if d.fetcher == nil {
		return "", nil, faults.New(faults.KindExtraction, stage, "web fetcher not configured")
	}
	dst := d.tempPath(urlFilename(src.URL, ".html"))
	text, err := d.withTimeout(ctx, d.timeouts.Extract, "fetch", func(ctx context.Context) (string, error) {
		if _, err := retryDo(ctx, d.policy, func(ctx context.Context) (int64, error) {
			return d.fetcher.Download(ctx, src.URL, dst, d.maxFetch)
		}); err != nil {
			return "", err
		}
		return HTMLFileToText(dst)
	})
	if err != nil {
		os.Remove(dst)
		return "", nil, err
	}
	return text, []string{dst}, nil
}

func (d *Dispatcher) extractImage(ctx context.Context, p string) (string, error) {
	if d.ocr == nil {
		return "", faults.New(faults.KindExtraction, "ocr", "OCR service not configured")
	}
	return d.withTimeout(ctx, d.timeouts.Extract, "ocr", func(ctx context.Context) (string, error) {
		return retryDo(ctx, d.policy, func(ctx context.Context) (string, error) {
			return d.ocr.Recognize(ctx, p)
		})
	})
}

// extractMedia 分两步执行，分离与转写各自有独立的超时预算。
func (d *Dispatcher) extractMedia(ctx context.Context, p string) (string, error) {
	if d.transcriber == nil {
		return "", faults.New(faults.KindExtraction, "transcribe", "ASR service not configured")
	}
	wav, err := d.withTimeout(ctx, d.timeouts.Demux, "demux", func(ctx context.Context) (string, error) {
		return d.demuxer.ExtractAudio(ctx, p, d.workDir)
	})
	if err != nil {
		return "", err
	}
	if wav != p {
		defer os.Remove(wav)
	}
	return d.withTimeout(ctx, d.timeouts.Transcribe, "transcribe", func(ctx context.Context) (string, error) {
		return retryDo(ctx, d.policy, func(ctx context.Context) (string, error) {
			return d.transcriber.Transcribe(ctx, wav)
		})
	})
}

func (d *Dispatcher) download(ctx context.Context, rawURL string) (string, error) {
	if d.fetcher == nil {
		return "", errors.New("web fetcher not configured")
	}
	dst := d.tempPath(urlFilename(rawURL, ""))
	ctx, cancel := withOptionalTimeout(ctx, d.timeouts.Extract)
	defer cancel()
	_, err := retryDo(ctx, d.policy, func(ctx context.Context) (int64, error) {
		return d.fetcher.Download(ctx, rawURL, dst, d.maxFetch)
	})
	if err != nil {
		return "", err
	}
	return dst, nil
}

// withTimeout 在子超时内执行 fn，并把错误归类到 name 阶段。
func (d *Dispatcher) withTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (string, error)) (string, error) {
	sub, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()
	text, err := fn(sub)
	if err != nil {
		return "", d.classify(name, sub, err)
	}
	return text, nil
}

func (d *Dispatcher) classify(name string, ctx context.Context, err error) error {
	var fe *faults.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return faults.Timeout(name, err)
	}
	return faults.Wrap(faults.KindExtraction, name, err)
}

func (d *Dispatcher) tempPath(name string) string {
	dir := d.workDir
	if dir == "" {
		dir = os.TempDir()
	}
	_ = os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, uuid.NewString()[:8]+"_"+name)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func retryDo[T any](ctx context.Context, p retry.Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	v, _, err := retry.Do(ctx, p, fn)
	return v, err
}

func nameOf(src Source) string {
	if src.Filename != "" {
		return src.Filename
	}
	if src.Path != "" {
		return filepath.Base(src.Path)
	}
	return path.Base(src.URL)
}
