package api

import (
	"DeepDistill/backend/go/internal/admission"
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/events"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/internal/orchestrator"
	"DeepDistill/backend/go/internal/registry"
	"DeepDistill/backend/go/pkg/logger"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeService struct {
	mu       sync.Mutex
	limits   admission.Limits
	subs     []orchestrator.Submission
	tasks    map[string]*models.Task
	exported []string
}

func newFakeService() *fakeService {
	return &fakeService{
		limits: admission.Limits{MaxFileSize: 1 << 20, MaxBatchFiles: 20},
		tasks:  make(map[string]*models.Task),
	}
}

func (f *fakeService) Submit(ctx context.Context, sub orchestrator.Submission) (string, error) {
	ids, err := f.SubmitBatch(ctx, []orchestrator.Submission{sub})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (f *fakeService) SubmitBatch(ctx context.Context, subs []orchestrator.Submission) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, s := range subs {
		id := fmt.Sprintf("task-%d", len(f.subs)+1)
		f.subs = append(f.subs, s)
		f.tasks[id] = &models.Task{ID: id, Filename: s.Filename, Status: models.StatusQueued, CreatedAt: time.Now()}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeService) GetStatus(id string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return t.Clone(), nil
}

func (f *fakeService) ListTasks(flt registry.Filter) []*models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Task
	for _, t := range f.tasks {
		if flt.Status != "" && t.Status != flt.Status {
			continue
		}
		out = append(out, t.Clone())
		if flt.Limit > 0 && len(out) == flt.Limit {
			break
		}
	}
	return out
}

func (f *fakeService) ExportNow(ctx context.Context, id, category string, format models.ExportFormat) (*models.ExportReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, id)
	return &models.ExportReceipt{Provider: "fake", Category: category, Format: format}, nil
}

func (f *fakeService) Limits() admission.Limits { return f.limits }

func (f *fakeService) put(t *models.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

func (f *fakeService) submissions() []orchestrator.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.Submission(nil), f.subs...)
}

func testAppConfig(t *testing.T) *config.AppConfig {
	cfg := &config.AppConfig{}
	cfg.ApplyDefaults()
	cfg.App.Version = "test"
	cfg.Pipeline.UploadDir = t.TempDir()
	cfg.Pipeline.PreviewLength = 10
	cfg.LLM.Providers = []config.ProviderConfig{{Name: "deepseek", Type: "openai", Model: "deepseek-chat", APIKey: "sk-secret-value-123456"}}
	return cfg
}

func setupRouter(t *testing.T, svc Service, cfg *config.AppConfig, opts ...Option) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := NewAPI(svc, cfg, logger.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewAPI() error = %v", err)
	}
	router := gin.New()
	RegisterRoutes(router, a, RateLimitMiddleware(cfg.Middleware.RateLimiter))
	return router
}

func multipartBody(t *testing.T, field string, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		part.Write([]byte(content))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHealthAndConfig(t *testing.T) {
	cfg := testAppConfig(t)
	router := setupRouter(t, newFakeService(), cfg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("Unexpected health response %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sk-secret") {
		t.Errorf("Config leaked an API key: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"has_api_key":true`) {
		t.Errorf("Expected has_api_key flag, got %s", w.Body.String())
	}
}

func TestUploadCreatesOwnedSubmission(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	router := setupRouter(t, svc, cfg)

	body, ctype := multipartBody(t, "file", map[string]string{"notes.txt": "hello"}, map[string]string{"intent": "style", "auto_export": "true"})
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp submitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TaskID == "" || resp.Status != models.StatusQueued || resp.Filename != "notes.txt" {
		t.Errorf("Unexpected response %+v", resp)
	}

	subs := svc.submissions()
	if len(subs) != 1 {
		t.Fatalf("Expected 1 submission, got %d", len(subs))
	}
	s := subs[0]
	if !s.Owned || s.Size != 5 || s.Options.Intent != models.IntentStyle || !s.Options.AutoExport {
		t.Errorf("Unexpected submission %+v", s)
	}
	if filepath.Dir(s.Path) != cfg.Pipeline.UploadDir {
		t.Errorf("Expected upload under %s, got %s", cfg.Pipeline.UploadDir, s.Path)
	}
	if data, err := os.ReadFile(s.Path); err != nil || string(data) != "hello" {
		t.Errorf("Expected saved upload, got %q (%v)", data, err)
	}
}

func TestOversizedUploadIsRejectedBeforeSaving(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	svc.limits.MaxFileSize = 4
	router := setupRouter(t, svc, cfg)

	body, ctype := multipartBody(t, "file", map[string]string{"big.txt": "0123456789"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if n := len(svc.submissions()); n != 0 {
		t.Errorf("Expected no submission, got %d", n)
	}
	entries, _ := os.ReadDir(cfg.Pipeline.UploadDir)
	if len(entries) != 0 {
		t.Errorf("Expected nothing saved, got %d files", len(entries))
	}
}

func TestBatchOverLimitIsRejected(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	router := setupRouter(t, svc, cfg)

	files := make(map[string]string)
	for i := 0; i < 25; i++ {
		files[fmt.Sprintf("f%02d.txt", i)] = "x"
	}
	body, ctype := multipartBody(t, "files", files, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/process/batch", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if n := len(svc.submissions()); n != 0 {
		t.Errorf("Expected no submission, got %d", n)
	}

	body, ctype = multipartBody(t, "files", map[string]string{"a.txt": "a", "b.txt": "b"}, nil)
	req = httptest.NewRequest(http.MethodPost, "/api/process/batch", body)
	req.Header.Set("Content-Type", ctype)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted || len(svc.submissions()) != 2 {
		t.Errorf("Expected 2 accepted tasks, got %d: %s", w.Code, w.Body.String())
	}
}

func TestEmptyBatchIsBadRequest(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	router := setupRouter(t, svc, cfg)

	body, ctype := multipartBody(t, "files", nil, map[string]string{"intent": "content"})
	req := httptest.NewRequest(http.MethodPost, "/api/process/batch", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if n := len(svc.submissions()); n != 0 {
		t.Errorf("Expected no submission, got %d", n)
	}
}

func TestProcessURL(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	router := setupRouter(t, svc, cfg)

	tests := []struct {
		body string
		want int
	}{
		{`{"url":"ftp://example.com/a"}`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`{"url":"https://example.com/post","doc_type":"essay"}`, http.StatusBadRequest},
		{`{"url":"https://example.com/post","auto_export":true,"doc_type":"both"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/process/url", strings.NewReader(tt.body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.body, tt.want, w.Code)
		}
	}
	subs := svc.submissions()
	if len(subs) != 1 || subs[0].URL != "https://example.com/post" || !subs[0].Options.AutoExport || subs[0].Options.DocType != models.DocTypeBoth {
		t.Errorf("Unexpected submissions %+v", subs)
	}
}

func TestProcessLocalAllowList(t *testing.T) {
	inbox := t.TempDir()
	allowed := filepath.Join(inbox, "report.txt")
	os.WriteFile(allowed, []byte("report"), 0o600)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	os.WriteFile(outside, []byte("secret"), 0o600)

	cfg := testAppConfig(t)
	cfg.Pipeline.LocalAllowGlobs = []string{filepath.ToSlash(inbox) + "/**"}
	svc := newFakeService()
	router := setupRouter(t, svc, cfg)

	tests := []struct {
		path string
		want int
	}{
		{allowed, http.StatusAccepted},
		{outside, http.StatusForbidden},
		{filepath.Join(inbox, "missing.txt"), http.StatusNotFound},
	}
	for _, tt := range tests {
		body, _ := json.Marshal(map[string]string{"path": tt.path})
		req := httptest.NewRequest(http.MethodPost, "/api/process/local", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", filepath.Base(tt.path), tt.want, w.Code)
		}
	}
	subs := svc.submissions()
	if len(subs) != 1 || subs[0].Owned || subs[0].Size != 6 {
		t.Errorf("Expected one non-owned local submission, got %+v", subs)
	}
}

func TestGetAndListTasks(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	svc.put(&models.Task{
		ID:     "done",
		Status: models.StatusCompleted,
		Result: &models.ProcessingResult{Text: strings.Repeat("长", 50), Analysis: &models.Analysis{Summary: "s"}},
	})
	svc.put(&models.Task{ID: "waiting", Status: models.StatusQueued})
	router := setupRouter(t, svc, cfg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/done", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var view models.TaskView
	json.Unmarshal(w.Body.Bytes(), &view)
	if view.Result == nil || !view.Result.TextTruncated || len([]rune(view.Result.Text)) != 13 {
		t.Errorf("Expected preview-truncated text, got %+v", view.Result)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks?status=queued", nil))
	var views []models.TaskView
	json.Unmarshal(w.Body.Bytes(), &views)
	if len(views) != 1 || views[0].ID != "waiting" {
		t.Errorf("Expected only the queued task, got %+v", views)
	}

	for _, q := range []string{"status=bogus", "limit=0", "limit=abc"} {
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks?"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestExportTask(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	svc.put(&models.Task{ID: "running", Status: models.StatusProcessing})
	svc.put(&models.Task{ID: "done", Status: models.StatusCompleted, Result: &models.ProcessingResult{}})
	router := setupRouter(t, svc, cfg)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	if w := post("/api/tasks/running/export", ""); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for unfinished task, got %d", w.Code)
	}
	if w := post("/api/tasks/done/export", `{"format":"pdf"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown format, got %d", w.Code)
	}
	w := post("/api/tasks/done/export", `{"category":"技术文档","format":"excel"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var receipt models.ExportReceipt
	json.Unmarshal(w.Body.Bytes(), &receipt)
	if receipt.Category != "技术文档" || receipt.Format != models.ExportFormatExcel {
		t.Errorf("Unexpected receipt %+v", receipt)
	}
}

func readEvents(t *testing.T, url string, n int) []events.Event {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Expected event stream, got %q", ct)
	}

	var out []events.Event
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			t.Fatalf("Failed to decode event %q: %v", line, err)
		}
		out = append(out, ev)
		if len(out) == n {
			break
		}
	}
	return out
}

func TestTaskEventsStreamsUntilTerminal(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	running := &models.Task{ID: "t1", Status: models.StatusProcessing, Progress: 50, StepLabel: "AI 分析"}
	svc.put(running)
	hub := events.NewHub(cfg.Pipeline.PreviewLength, 16)
	defer hub.Close()
	router := setupRouter(t, svc, cfg, WithHub(hub), WithHeartbeat(time.Hour))
	ts := httptest.NewServer(router)
	defer ts.Close()

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for hub.Subscribers("t1") == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		done := &models.Task{ID: "t1", Status: models.StatusCompleted, Progress: 100, StepLabel: "完成", Result: &models.ProcessingResult{}}
		svc.put(done)
		hub.PublishTask(done)
	}()

	got := readEvents(t, ts.URL+"/api/tasks/t1/events", 2)
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].Progress != 50 || got[0].Terminal {
		t.Errorf("Expected initial snapshot first, got %+v", got[0])
	}
	if got[1].Status != models.StatusCompleted || !got[1].Terminal {
		t.Errorf("Expected terminal snapshot last, got %+v", got[1])
	}
}

func TestTaskEventsFallsBackToPolling(t *testing.T) {
	cfg := testAppConfig(t)
	svc := newFakeService()
	svc.put(&models.Task{ID: "t2", Status: models.StatusProcessing, Progress: 10})
	router := setupRouter(t, svc, cfg, WithHeartbeat(20*time.Millisecond))
	ts := httptest.NewServer(router)
	defer ts.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		svc.put(&models.Task{ID: "t2", Status: models.StatusFailed, Progress: 10, Error: "boom"})
	}()

	got := readEvents(t, ts.URL+"/api/tasks/t2/events", 100)
	last := got[len(got)-1]
	if last.Status != models.StatusFailed || !last.Terminal {
		t.Errorf("Expected stream to end on the failed snapshot, got %+v", last)
	}
}

func TestRateLimitOnSubmissions(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Middleware.RateLimiter = config.RateLimiterConfig{Enabled: true, Rate: 0.001, Capacity: 1}
	router := setupRouter(t, newFakeService(), cfg)

	codes := make([]int, 2)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/api/process/url", strings.NewReader(`{"url":"https://example.com"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected 202 then 429, got %v", codes)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected reads to bypass the limiter, got %d", w.Code)
	}
}
