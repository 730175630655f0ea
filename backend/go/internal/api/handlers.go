package api

import (
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/internal/orchestrator"
	"DeepDistill/backend/go/internal/registry"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// multipartOverhead 是 multipart 编码在文件内容之外的额外字节预算。
const multipartOverhead = 1 << 20

type submitResponse struct {
	TaskID   string            `json:"task_id"`
	Status   models.TaskStatus `json:"status"`
	Filename string            `json:"filename"`
}

type urlRequest struct {
	URL string `json:"url" binding:"required"`
	models.Options
}

type localRequest struct {
	Path string `json:"path"`
	models.Options
}

type exportRequest struct {
	Category string              `json:"category"`
	Format   models.ExportFormat `json:"format"`
}

// HealthHandler 返回服务存活状态。
func (a *API) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": a.cfg.App.Version})
}

// ConfigHandler 返回脱敏后的运行配置。
func (a *API) ConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, a.cfg.Sanitized())
}

// ProcessFileHandler 接收单个上传文件并启动处理。
func (a *API) ProcessFileHandler(c *gin.Context) {
	if !a.checkContentLength(c) {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "缺少上传文件字段 file")
		return
	}
	if err := a.service.Limits().CheckFile(fh.Size); err != nil {
		a.respondError(c, err)
		return
	}
	opts, err := optionsFromForm(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	sub, err := a.save(c, fh, opts)
	if err != nil {
		a.respondError(c, err)
		return
	}
	id, err := a.service.Submit(c.Request.Context(), sub)
	if err != nil {
		os.Remove(sub.Path)
		a.respondError(c, err)
		return
	}
	a.logger.WithTask(id).WithField("filename", sub.Filename).Info("收到上传任务")
	c.JSON(http.StatusAccepted, submitResponse{TaskID: id, Status: models.StatusQueued, Filename: sub.Filename})
}

// ProcessBatchHandler 接收一批上传文件。任何一个文件不合格时整批拒绝。
func (a *API) ProcessBatchHandler(c *gin.Context) {
	limits := a.service.Limits()
	if !a.checkContentLength(c) {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "无法解析 multipart 表单")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		badRequest(c, "缺少上传文件字段 files")
		return
	}
	sizes := make([]int64, len(files))
	for i, fh := range files {
		sizes[i] = fh.Size
	}
	if err := limits.CheckBatch(sizes); err != nil {
		a.respondError(c, err)
		return
	}
	opts, err := optionsFromForm(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	subs := make([]orchestrator.Submission, 0, len(files))
	cleanup := func() {
		for _, s := range subs {
			os.Remove(s.Path)
		}
	}
	for _, fh := range files {
		sub, err := a.save(c, fh, opts)
		if err != nil {
			cleanup()
			a.respondError(c, err)
			return
		}
		subs = append(subs, sub)
	}
	ids, err := a.service.SubmitBatch(c.Request.Context(), subs)
	if err != nil {
		cleanup()
		a.respondError(c, err)
		return
	}

	out := make([]submitResponse, len(ids))
	for i, id := range ids {
		out[i] = submitResponse{TaskID: id, Status: models.StatusQueued, Filename: subs[i].Filename}
	}
	a.logger.WithField("count", len(ids)).Info("收到批量任务")
	c.JSON(http.StatusAccepted, gin.H{"tasks": out})
}

// ProcessURLHandler 提交一个远程地址，网页或媒体文件都可以。
func (a *API) ProcessURLHandler(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体必须包含 url")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		badRequest(c, "只支持 http 和 https 地址")
		return
	}
	if err := validateOptions(req.Options); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := a.service.Submit(c.Request.Context(), orchestrator.Submission{URL: req.URL, Options: req.Options})
	if err != nil {
		a.respondError(c, err)
		return
	}
	a.logger.WithTask(id).WithField("url", req.URL).Info("收到 URL 任务")
	c.JSON(http.StatusAccepted, submitResponse{TaskID: id, Status: models.StatusQueued, Filename: req.URL})
}

// ProcessLocalHandler 处理服务器本机上的文件，路径必须命中白名单。
func (a *API) ProcessLocalHandler(c *gin.Context) {
	var req localRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "无法解析请求体")
			return
		}
	}
	if req.Path == "" {
		req.Path = c.Query("path")
	}
	if req.Path == "" {
		badRequest(c, "缺少 path 参数")
		return
	}
	if err := validateOptions(req.Options); err != nil {
		badRequest(c, err.Error())
		return
	}

	path, err := filepath.Abs(req.Path)
	if err != nil || !a.allowed(path) {
		c.JSON(http.StatusForbidden, gin.H{"error": "路径不在允许的范围内"})
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在: " + filepath.Base(path)})
		return
	}

	id, err := a.service.Submit(c.Request.Context(), orchestrator.Submission{
		Filename: filepath.Base(path),
		Path:     path,
		Size:     info.Size(),
		Options:  req.Options,
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{TaskID: id, Status: models.StatusQueued, Filename: filepath.Base(path)})
}

// GetTaskHandler 返回单个任务的对外视图。
func (a *API) GetTaskHandler(c *gin.Context) {
	task, err := a.service.GetStatus(c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task.View(a.previewLen))
}

// GetTasksHandler 按创建时间倒序列出任务，支持 status 与 limit 参数。
func (a *API) GetTasksHandler(c *gin.Context) {
	limit := a.cfg.Server.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "limit 必须是正整数")
			return
		}
		limit = n
	}
	if maxSize := a.cfg.Server.MaxPageSize; maxSize > 0 && limit > maxSize {
		limit = maxSize
	}
	status := models.TaskStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "未知的任务状态 "+string(status))
		return
	}

	tasks := a.service.ListTasks(registry.Filter{Status: status, Limit: limit})
	views := make([]models.TaskView, len(tasks))
	for i, t := range tasks {
		views[i] = t.View(a.previewLen)
	}
	c.JSON(http.StatusOK, views)
}

// ExportTaskHandler 对已完成的任务执行一次导出。
func (a *API) ExportTaskHandler(c *gin.Context) {
	var req exportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "无法解析请求体")
			return
		}
	}
	if req.Format != "" && !req.Format.Valid() {
		badRequest(c, "未知的导出格式 "+string(req.Format))
		return
	}
	id := c.Param("id")
	task, err := a.service.GetStatus(id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	if task.Status != models.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "任务尚未完成，当前状态 " + string(task.Status)})
		return
	}
	receipt, err := a.service.ExportNow(c.Request.Context(), id, req.Category, req.Format)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// checkContentLength 在解析表单前拒绝明显超限的请求体。
func (a *API) checkContentLength(c *gin.Context) bool {
	maxSize := a.service.Limits().MaxFileSize
	if maxSize > 0 && c.Request.ContentLength > maxSize+multipartOverhead {
		a.respondError(c, a.service.Limits().CheckFile(c.Request.ContentLength))
		return false
	}
	return true
}

// save 把上传文件保存到上传目录。保存的文件归任务所有，任务清理时删除。
func (a *API) save(c *gin.Context, fh *multipart.FileHeader, opts models.Options) (orchestrator.Submission, error) {
	if err := os.MkdirAll(a.uploadDir, 0o755); err != nil {
		return orchestrator.Submission{}, err
	}
	name := filepath.Base(fh.Filename)
	dst := filepath.Join(a.uploadDir, uuid.NewString()[:8]+"_"+name)
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		return orchestrator.Submission{}, err
	}
	return orchestrator.Submission{
		Filename: name,
		Path:     dst,
		Size:     fh.Size,
		Owned:    true,
		Options:  opts,
	}, nil
}

// allowed 判断本地路径是否命中白名单。没有配置白名单时拒绝所有本地路径。
func (a *API) allowed(path string) bool {
	path = filepath.ToSlash(filepath.Clean(path))
	for _, g := range a.allow {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// optionsFromForm 从 multipart 表单字段读取处理选项。
func optionsFromForm(c *gin.Context) (models.Options, error) {
	opts := models.Options{
		Intent:       models.Intent(c.PostForm("intent")),
		OutputFormat: c.PostForm("output_format"),
		DocType:      models.DocType(c.PostForm("doc_type")),
		ExportFormat: models.ExportFormat(c.PostForm("export_format")),
		Category:     strings.TrimSpace(c.PostForm("category")),
	}
	if raw := c.PostForm("auto_export"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errInvalid("auto_export 必须是布尔值")
		}
		opts.AutoExport = v
	}
	return opts, validateOptions(opts)
}

func validateOptions(o models.Options) error {
	switch o.Intent {
	case "", models.IntentContent, models.IntentStyle:
	default:
		return errInvalid("未知的 intent " + string(o.Intent))
	}
	switch o.OutputFormat {
	case "", "markdown", "json":
	default:
		return errInvalid("未知的 output_format " + o.OutputFormat)
	}
	switch o.DocType {
	case "", models.DocTypeDoc, models.DocTypeSkill, models.DocTypeBoth:
	default:
		return errInvalid("未知的 doc_type " + string(o.DocType))
	}
	if o.ExportFormat != "" && !o.ExportFormat.Valid() {
		return errInvalid("未知的 export_format " + string(o.ExportFormat))
	}
	return nil
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }
