// Package orchestrator 把路由、提取、增强、AI 分析、融合与导出串成一条任务管线，
// 并负责任务的准入、并发控制和状态推进。
package orchestrator

import (
	"DeepDistill/backend/go/internal/admission"
	"DeepDistill/backend/go/internal/analysis"
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/export"
	"DeepDistill/backend/go/internal/extraction"
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/fusion"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/internal/registry"
	"DeepDistill/backend/go/internal/router"
	"DeepDistill/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// 各阶段结束时的进度。
const (
	progressRoute    = 5
	progressExtract  = 50
	progressEnhance  = 65
	progressAnalysis = 90
	progressExport   = 95
	progressDone     = 100
)

// ErrShuttingDown 在服务关闭后提交任务时返回。
var ErrShuttingDown = faults.New(faults.KindAdmissionRejected, "shutdown", "service is shutting down")

// Classifier 识别输入类别。
type Classifier interface {
	Classify(in router.Input) (models.Category, error)
}

// Extractor 从输入中提取文本。
type Extractor interface {
	Extract(ctx context.Context, src extraction.Source, cat models.Category) (*extraction.Output, error)
}

// Enhancer 执行可选的视觉增强。Run 只在整体超时时返回错误。
type Enhancer interface {
	ShouldRun(cat models.Category, intent models.Intent) bool
	Run(ctx context.Context, path string, cat models.Category, intent models.Intent) (*models.EnhancementResult, error)
}

// Analyzer 对文本做结构化 AI 分析。
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*models.Analysis, error)
}

// Submission 是一次提交：Path 与 URL 至少提供一个。
type Submission struct {
	Filename string
	Path     string
	URL      string
	Size     int64
	// Owned 表示 Path 是为本任务保存的上传文件，任务被清理时一并删除。
	Owned   bool
	Options models.Options
}

// Deps 是编排器的协作方。Enhancer 与 Exporter 可以为 nil。
type Deps struct {
	Registry  *registry.Registry
	Gate      *admission.Gate
	Router    Classifier
	Extractor Extractor
	Enhancer  Enhancer
	Analyzer  Analyzer
	Exporter  export.Exporter
}

// Orchestrator 管理任务的完整生命周期。
type Orchestrator struct {
	reg       *registry.Registry
	gate      *admission.Gate
	limits    admission.Limits
	router    Classifier
	extractor Extractor
	enhancer  Enhancer
	analyzer  Analyzer
	exporter  export.Exporter
	timeouts  config.TimeoutsConfig
	log       *logger.Logger
	now       func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option 配置 Orchestrator。
type Option func(*Orchestrator)

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock 替换时间来源，用于计算耗时。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New 创建编排器。
func New(deps Deps, cfg config.PipelineConfig, opts ...Option) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		reg:       deps.Registry,
		gate:      deps.Gate,
		limits:    admission.LimitsFromConfig(cfg),
		router:    deps.Router,
		extractor: deps.Extractor,
		enhancer:  deps.Enhancer,
		analyzer:  deps.Analyzer,
		exporter:  deps.Exporter,
		timeouts:  cfg.Timeouts,
		log:       logger.Nop(),
		now:       time.Now,
		base:      base,
		cancel:    cancel,
	}
	if o.gate == nil {
		o.gate = admission.NewGate(cfg.MaxConcurrentPipelines)
	}
	if o.router == nil {
		o.router = router.New()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Limits 返回当前的准入限制。
func (o *Orchestrator) Limits() admission.Limits { return o.limits }

// Submit 接收单个输入，立即返回任务 ID，管线在后台运行。
// 超过大小上限或注册表已满时返回 AdmissionRejected，不创建任务。
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (string, error) {
	ids, err := o.submit(ctx, []Submission{sub})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SubmitBatch 接收一批输入。任何一项不合格时整批拒绝，不创建任何任务。
func (o *Orchestrator) SubmitBatch(ctx context.Context, subs []Submission) ([]string, error) {
	sizes := make([]int64, len(subs))
	for i, s := range subs {
		sizes[i] = s.Size
	}
	if err := o.limits.CheckBatch(sizes); err != nil {
		return nil, err
	}
	return o.submit(ctx, subs)
}

func (o *Orchestrator) submit(ctx context.Context, subs []Submission) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tasks := make([]*models.Task, 0, len(subs))
	for i, s := range subs {
		if err := o.limits.CheckFile(s.Size); err != nil {
			return nil, err
		}
		if s.Path == "" && s.URL == "" {
			return nil, faults.Rejected("item %d has neither a file nor a URL", i+1)
		}
		t := &models.Task{
			Filename:   s.Filename,
			SourceURL:  s.URL,
			Size:       s.Size,
			Options:    s.Options.Normalize(),
			SourcePath: s.Path,
		}
		if t.Filename == "" {
			t.Filename = displayName(s)
		}
		if s.Owned && s.Path != "" {
			t.TempFiles = []string{s.Path}
		}
		tasks = append(tasks, t)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShuttingDown
	}
	created, err := o.reg.CreateBatch(tasks)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(created))
	for i, t := range created {
		ids[i] = t.ID
		o.wg.Add(1)
		go o.run(t.ID)
	}
	return ids, nil
}

// GetStatus 返回任务快照，任务不存在时返回 NotFound。
func (o *Orchestrator) GetStatus(id string) (*models.Task, error) {
	return o.reg.Get(id)
}

// ListTasks 按创建时间倒序列出任务。
func (o *Orchestrator) ListTasks(f registry.Filter) []*models.Task {
	return o.reg.List(f)
}

// ExportNow 对已完成的任务执行一次导出，结果同时写入任务的 export_result。
// category 与 format 为空时沿用提交时的选项。
func (o *Orchestrator) ExportNow(ctx context.Context, id, category string, format models.ExportFormat) (*models.ExportReceipt, error) {
	t, err := o.reg.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusCompleted || t.Result == nil {
		return nil, faults.New(faults.KindExport, "export", fmt.Sprintf("task is %s, only completed tasks can be exported", t.Status))
	}
	if category == "" {
		category = t.Options.Category
	}
	if format == "" {
		format = t.Options.ExportFormat
	}
	receipt, res := o.export(ctx, t, category, format)
	if _, err := o.reg.SetExportResult(id, res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, faults.New(faults.KindExport, "export", res.Error.Message)
	}
	return receipt, nil
}

// Shutdown 停止接收新任务并等待运行中的管线结束。
// ctx 到期后取消剩余管线，排队与处理中的任务以失败结束。
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// run 是单个任务的后台执行体。任何路径退出都会释放并发槽位并让任务进入终态。
func (o *Orchestrator) run(id string) {
	defer o.wg.Done()
	log := o.log.WithTask(id)
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("管线异常: %v", r))
			o.fail(id, faults.New(faults.KindInternal, "pipeline", fmt.Sprintf("unexpected panic: %v", r)), log)
		}
	}()

	release, err := o.gate.Acquire(o.base)
	if err != nil {
		o.fail(id, faults.New(faults.KindInternal, "admission", "service is shutting down"), log)
		return
	}
	defer release()

	ctx, cancel := withOptionalTimeout(o.base, o.timeouts.Pipeline)
	defer cancel()

	t, err := o.reg.Update(id, func(t *models.Task) error {
		t.Status = models.StatusProcessing
		t.StepLabel = "识别格式"
		return nil
	})
	if err != nil {
		log.WithError(models.ErrorInfo{Message: err.Error()}).Warn("任务无法开始")
		return
	}
	log.WithField("filename", t.Filename).Info("任务开始处理")

	started := o.now()
	result, exported, err := o.process(ctx, t, started, log)
	if err != nil {
		o.fail(id, o.classify(ctx, err), log)
		return
	}

	_, err = o.reg.Update(id, func(t *models.Task) error {
		t.Status = models.StatusCompleted
		t.Progress = progressDone
		t.StepLabel = "完成"
		t.Result = result
		t.ExportResult = exported
		return nil
	})
	if err != nil {
		log.WithError(models.ErrorInfo{Message: err.Error()}).Error("无法记录任务结果")
		return
	}
	log.WithField("elapsed", result.ElapsedSeconds).Info("任务处理完成")
}

// process 依次执行各阶段，返回处理结果与自动导出的结果。
func (o *Orchestrator) process(ctx context.Context, t *models.Task, started time.Time, log *logger.Logger) (*models.ProcessingResult, *models.ExportResult, error) {
	opts := t.Options

	cat, err := o.router.Classify(router.Input{Filename: t.Filename, Path: t.SourcePath, URL: t.SourceURL})
	if err != nil {
		return nil, nil, err
	}
	if err := o.step(t.ID, progressRoute, "提取内容", func(t *models.Task) { t.Category = cat }); err != nil {
		return nil, nil, err
	}

	out, err := o.extractor.Extract(ctx, extraction.Source{Filename: t.Filename, Path: t.SourcePath, URL: t.SourceURL}, cat)
	if out != nil && len(out.TempFiles) > 0 {
		o.track(t.ID, out.TempFiles)
	}
	if err != nil {
		return nil, nil, err
	}
	log.WithField("chars", len([]rune(out.Text))).Info("文本提取完成")

	enh := &models.EnhancementResult{Skipped: true}
	if o.enhancer != nil && o.enhancer.ShouldRun(cat, opts.Intent) {
		if err := o.step(t.ID, progressExtract, "视觉分析", nil); err != nil {
			return nil, nil, err
		}
		enh, err = o.enhancer.Run(ctx, out.LocalPath, cat, opts.Intent)
		if err != nil {
			return nil, nil, err
		}
		if enh == nil {
			enh = &models.EnhancementResult{Skipped: true}
		}
	}
	if out.Text == "" && enh.Findings == nil {
		return nil, nil, faults.New(faults.KindExtraction, "extract", "no content could be extracted from the input")
	}
	if err := o.step(t.ID, progressEnhance, "AI 分析", nil); err != nil {
		return nil, nil, err
	}

	a, err := o.analyzer.Analyze(ctx, analysis.Input{
		Text:    out.Text,
		Intent:  opts.Intent,
		DocType: opts.DocType,
		Visual:  enh.Findings,
	})
	if err != nil {
		return nil, nil, err
	}
	fused := fusion.Process(a, out.Text, enh.Findings)
	if err := o.step(t.ID, progressAnalysis, "生成结果", nil); err != nil {
		return nil, nil, err
	}

	result := &models.ProcessingResult{
		Category:    cat,
		Text:        out.Text,
		TextLength:  len([]rune(out.Text)),
		Analysis:    fused,
		Enhancement: enh,
	}
	if err := render(result, t, opts.OutputFormat, started, o.now()); err != nil {
		return nil, nil, err
	}

	var exported *models.ExportResult
	if opts.AutoExport {
		if err := o.step(t.ID, progressAnalysis, "导出文档", nil); err != nil {
			return nil, nil, err
		}
		withResult := t.Clone()
		withResult.Result = result
		_, exported = o.export(ctx, withResult, opts.Category, opts.ExportFormat)
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := o.step(t.ID, progressExport, "导出完成", nil); err != nil {
			return nil, nil, err
		}
	}
	result.ElapsedSeconds = o.now().Sub(started).Seconds()
	return result, exported, nil
}

// export 调用导出协作方。导出失败不影响任务状态，只记录在返回的 ExportResult 中。
func (o *Orchestrator) export(ctx context.Context, t *models.Task, category string, format models.ExportFormat) (*models.ExportReceipt, *models.ExportResult) {
	log := o.log.WithTask(t.ID)
	if o.exporter == nil {
		err := faults.New(faults.KindExport, "export", "no export target is configured")
		return nil, &models.ExportResult{Error: ptr(faults.Info(err))}
	}
	ctx, cancel := withOptionalTimeout(ctx, o.timeouts.Export)
	defer cancel()

	receipt, err := o.exporter.Export(ctx, export.Request{
		Source:   export.Source{Filename: t.Filename, Result: t.Result},
		Category: category,
		DocType:  t.Options.DocType,
		Format:   format,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !faults.Is(err, faults.KindTimeout) {
			err = faults.Timeout("export", err)
		}
		info := faults.Info(err)
		log.WithError(info).Warn("导出失败，任务结果保持不变")
		return nil, &models.ExportResult{Error: &info}
	}
	log.WithField("documents", len(receipt.Documents)).WithField("category", receipt.Category).Info("导出完成")
	return receipt, &models.ExportResult{Success: true, Receipt: receipt}
}

// step 推进进度与步骤标签，mutate 可以顺带修改其他字段。
func (o *Orchestrator) step(id string, progress int, label string, mutate func(t *models.Task)) error {
	_, err := o.reg.Update(id, func(t *models.Task) error {
		if progress > t.Progress {
			t.Progress = progress
		}
		t.StepLabel = label
		if mutate != nil {
			mutate(t)
		}
		return nil
	})
	return err
}

// track 把阶段产生的临时文件登记到任务上。
func (o *Orchestrator) track(id string, files []string) {
	_, err := o.reg.Update(id, func(t *models.Task) error {
		t.TempFiles = append(t.TempFiles, files...)
		return nil
	})
	if err != nil {
		for _, f := range files {
			removeQuietly(f)
		}
	}
}

// fail 让任务以失败结束。排队中的任务先进入 processing 以满足状态机。
func (o *Orchestrator) fail(id string, err error, log *logger.Logger) {
	info := faults.Info(err)
	_, uerr := o.reg.Update(id, func(t *models.Task) error {
		if t.Status == models.StatusQueued {
			t.Status = models.StatusProcessing
		}
		return nil
	})
	if uerr != nil && !errors.Is(uerr, registry.ErrTerminal) {
		log.WithError(models.ErrorInfo{Message: uerr.Error()}).Error("无法标记任务失败")
		return
	}
	_, uerr = o.reg.Update(id, func(t *models.Task) error {
		t.Status = models.StatusFailed
		t.StepLabel = "失败"
		t.Error = info.Message
		t.ErrorKind = info.Kind
		return nil
	})
	if uerr != nil {
		if !errors.Is(uerr, registry.ErrTerminal) {
			log.WithError(models.ErrorInfo{Message: uerr.Error()}).Error("无法标记任务失败")
		}
		return
	}
	log.WithError(info).Warn("任务处理失败")
}

// classify 把管线错误归类：整体超时优先于阶段错误，关闭时取消的任务记为 internal。
func (o *Orchestrator) classify(ctx context.Context, err error) error {
	if o.base.Err() != nil {
		return faults.New(faults.KindInternal, "pipeline", "service is shutting down")
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if faults.Is(err, faults.KindTimeout) && faults.StageOf(err) == "pipeline" {
			return err
		}
		return faults.Timeout("pipeline", err)
	}
	var fe *faults.Error
	if !errors.As(err, &fe) {
		return faults.Wrap(faults.KindInternal, "pipeline", err)
	}
	return err
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func displayName(s Submission) string {
	if s.URL != "" {
		return s.URL
	}
	return filepath.Base(s.Path)
}

func ptr[T any](v T) *T { return &v }
